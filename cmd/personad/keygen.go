package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NethermindEth/chaoschain-persona/config"
	"github.com/NethermindEth/chaoschain-persona/crypto"
	da "github.com/NethermindEth/chaoschain-persona/da_layer"
)

var keygenEigenDA bool

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate snapshot keys as .env lines",
	RunE: func(cmd *cobra.Command, _ []string) error {
		box, err := crypto.GenerateSecretBoxKey()
		if err != nil {
			return err
		}
		signer := crypto.GenerateSigner()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s=%s\n", config.KeySecretBoxKey, hex.EncodeToString(box))
		fmt.Fprintf(out, "%s=%s\n", config.KeySigningKey, signer.PrivKeyHex())
		fmt.Fprintf(out, "# public key: %s\n", hex.EncodeToString(signer.PubKey()))

		if keygenEigenDA {
			authKey, err := da.GenerateAuthKey()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s=%s\n", config.KeyEigenDAAuthKey, authKey)
		}
		return nil
	},
}

func init() {
	keygenCmd.Flags().BoolVar(&keygenEigenDA, "eigenda", false, "Also generate an EigenDA auth key")
}
