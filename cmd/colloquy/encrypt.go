package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"colloquy/internal/infra/config"
)

// secretPrefix marks an encrypted api_key value in the config file.
const secretPrefix = "enc:"

func newEncryptCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt-secret [value]",
		Short: "Encrypt an API key for the config file with $COLLOQUY_CONFIG_KEY",
		Long: `Encrypt-secret prints an "enc:..." value to paste into a provider's
api_key. colloquy decrypts it at startup when COLLOQUY_CONFIG_KEY holds the
same passphrase. Without an argument the value is read from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase := os.Getenv("COLLOQUY_CONFIG_KEY")
			if passphrase == "" {
				return errors.New("COLLOQUY_CONFIG_KEY is not set")
			}
			value, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			out, err := encryptSecret(strings.TrimSpace(value), passphrase)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func encryptSecret(value, passphrase string) (string, error) {
	if value == "" {
		return "", errors.New("nothing to encrypt")
	}
	enc, err := config.EncryptValue(value, passphrase)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return secretPrefix + enc, nil
}
