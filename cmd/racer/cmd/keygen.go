package cmd

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/racer-mesh/racer/pkg/crypto"
	"github.com/racer-mesh/racer/pkg/peer"
)

var keygenOut string

func init() {
	RootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "", "file to write the hex-encoded private key to (defaults to stdout)")
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new Ed25519 node identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, priv, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("keygen: %w", err)
		}
		id, _ := peer.FromPublicKey(pub)
		fmt.Fprintf(cmd.ErrOrStderr(), "node identity: %s\n", id.String())

		if keygenOut == "" {
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(priv))
			return nil
		}
		if err := os.WriteFile(keygenOut, []byte(hex.EncodeToString(priv)), 0o600); err != nil {
			return fmt.Errorf("keygen: writing %s: %w", keygenOut, err)
		}
		return nil
	},
}

func loadSigner(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity file %s: %w", path, err)
	}
	decoded, err := hex.DecodeString(string(trimNewline(raw)))
	if err != nil {
		return nil, fmt.Errorf("identity file %s is not valid hex: %w", path, err)
	}
	if len(decoded) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity file %s: expected %d bytes, got %d", path, ed25519.PrivateKeySize, len(decoded))
	}
	return ed25519.PrivateKey(decoded), nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
