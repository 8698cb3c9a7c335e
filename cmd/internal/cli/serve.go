package cli

import (
	"github.com/spf13/cobra"

	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/app"
)

// NewServeCommand creates the serve command.
func NewServeCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane server",
		Long: `Run the HTTP server and the WebSocket gateway until SIGINT or SIGTERM.

All configuration is read from COWORK_* environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return app.Run()
		},
	}
}
