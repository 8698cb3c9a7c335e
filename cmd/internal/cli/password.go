package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/psyberpunk/CoWork-OS-sub010/cmd/security/password"
)

var errNoPassword = errors.New("no password given")

type hashOutput struct {
	Hash string `json:"hash"`
	Env  string `json:"env"`
}

// NewHashPasswordCommand creates the hash-password command.
func NewHashPasswordCommand(rootOpts *RootOptions) *cobra.Command {
	var plain string

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash an operator password with Argon2id",
		Long: `Hash an operator password for COWORK_OPERATOR_PASSWORD_HASH.

The password is read from --password or, when absent, from the first line of stdin.
Argon2id cost follows COWORK_PASSWORD_* settings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHashPassword(rootOpts, cmd, plain)
		},
	}

	cmd.Flags().StringVar(&plain, "password", "", "password to hash (default: read stdin)")
	return cmd
}

func runHashPassword(opts *RootOptions, cmd *cobra.Command, plain string) error {
	if plain == "" {
		line, err := readLine(cmd.InOrStdin())
		if err != nil {
			return err
		}
		plain = line
	}
	if plain == "" {
		return errNoPassword
	}

	cfg, err := password.FromEnv()
	if err != nil {
		return err
	}
	hash, err := cfg.Hash(plain)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return printResult(cmd.OutOrStdout(), opts,
		hashOutput{Hash: hash, Env: "COWORK_OPERATOR_PASSWORD_HASH"},
		[][2]string{{"hash", hash}},
	)
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
