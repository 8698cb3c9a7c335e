package cli

import (
	paseto "aidanwoods.dev/go-paseto"
	"github.com/spf13/cobra"
)

type keyPair struct {
	SecretKeyHex string `json:"secret_key_hex"`
	PublicKeyHex string `json:"public_key_hex"`
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a PASETO v4 signing key pair",
		Long: `Generate an Ed25519 key pair for PASETO v4.public tokens.

Set the secret as COWORK_PASETO_V4_SECRET_KEY_HEX on the issuing gateway and the public
key as COWORK_PASETO_V4_PUBLIC_KEY_HEX on verify-only gateways.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := paseto.NewV4AsymmetricSecretKey()
			kp := keyPair{
				SecretKeyHex: secret.ExportHex(),
				PublicKeyHex: secret.Public().ExportHex(),
			}
			return printResult(cmd.OutOrStdout(), rootOpts, kp, [][2]string{
				{"secret_key_hex", kp.SecretKeyHex},
				{"public_key_hex", kp.PublicKeyHex},
			})
		},
	}
}
