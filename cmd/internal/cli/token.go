package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/auth"
	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/controlplane"
	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/env"
)

// TokenIssueOptions holds flags for token issue.
type TokenIssueOptions struct {
	SecretKeyHex string
	Subject      string
	Role         string
	Scopes       []string
	DeviceID     string
	TTL          time.Duration
}

type issuedToken struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	Role      string    `json:"role"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewTokenCommand creates the token command group.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage access tokens",
	}
	cmd.AddCommand(newTokenIssueCommand(rootOpts, time.Now))
	return cmd
}

func newTokenIssueCommand(rootOpts *RootOptions, now func() time.Time) *cobra.Command {
	opts := &TokenIssueOptions{}

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a signed access token",
		Long: `Issue a PASETO v4.public token for an operator or node.

The signing key comes from --secret-key or COWORK_PASETO_V4_SECRET_KEY_HEX; the issuer
from COWORK_AUTH_ISSUER.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTokenIssue(rootOpts, opts, cmd, now())
		},
	}

	cmd.Flags().StringVar(&opts.SecretKeyHex, "secret-key", "", "PASETO v4 secret key (hex)")
	cmd.Flags().StringVar(&opts.Subject, "sub", "", "token subject (required)")
	cmd.Flags().StringVar(&opts.Role, "role", "operator", "role (operator|node)")
	cmd.Flags().StringSliceVar(&opts.Scopes, "scopes", nil, "comma-separated scopes")
	cmd.Flags().StringVar(&opts.DeviceID, "device-id", "", "bind the token to a device id")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 0, "token lifetime (default COWORK_AUTH_TOKEN_TTL)")
	_ = cmd.MarkFlagRequired("sub")

	return cmd
}

func runTokenIssue(rootOpts *RootOptions, opts *TokenIssueOptions, cmd *cobra.Command, now time.Time) error {
	if _, err := controlplane.ParseRole(opts.Role); err != nil {
		return err
	}

	cfg := auth.DefaultConfig()
	cfg.Issuer = env.String("COWORK_AUTH_ISSUER", cfg.Issuer)
	cfg.TokenTTL = env.Duration("COWORK_AUTH_TOKEN_TTL", cfg.TokenTTL)
	cfg.SecretKeyHex = strings.TrimSpace(opts.SecretKeyHex)
	if cfg.SecretKeyHex == "" {
		cfg.SecretKeyHex = env.String("COWORK_PASETO_V4_SECRET_KEY_HEX", "")
	}
	if cfg.SecretKeyHex == "" {
		return fmt.Errorf("%w: no secret key (use --secret-key or COWORK_PASETO_V4_SECRET_KEY_HEX)", auth.ErrConfig)
	}

	tm, err := auth.NewTokenManager(cfg)
	if err != nil {
		return err
	}

	scopes := make([]string, 0, len(opts.Scopes))
	for _, s := range opts.Scopes {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}

	tok, exp, err := tm.Issue(auth.Claims{
		Subject:  opts.Subject,
		Role:     opts.Role,
		Scopes:   scopes,
		DeviceID: opts.DeviceID,
	}, now, opts.TTL)
	if err != nil {
		return err
	}

	return printResult(cmd.OutOrStdout(), rootOpts, issuedToken{
		Token:     tok,
		Subject:   opts.Subject,
		Role:      opts.Role,
		Scopes:    scopes,
		ExpiresAt: exp.UTC(),
	}, [][2]string{
		{"token", tok},
		{"expires_at", exp.UTC().Format(time.RFC3339)},
	})
}
