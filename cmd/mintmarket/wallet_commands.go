package main

import (
	"fmt"
	"io"
	"os"

	"github.com/brojonat/mintmarket/service/wallet"
	"github.com/urfave/cli/v2"
)

func walletCommands() *cli.Command {
	return &cli.Command{
		Name:  "wallet",
		Usage: "Local signing key commands",
		Subcommands: []*cli.Command{
			walletNewCommand(),
			walletAddressCommand(),
		},
	}
}

func walletNewCommand() *cli.Command {
	return &cli.Command{
		Name:  "new",
		Usage: "Generate a new wallet",
		Description: `Generate a fresh signing key. By default the raw private key is printed;
--mnemonic prints a 12-word recovery phrase instead and --keystore writes an
encrypted key file.

Examples:
  mintmarket wallet new
  mintmarket wallet new --mnemonic
  mintmarket wallet new --keystore ./key.json --passphrase hunter2`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "mnemonic",
				Usage: "Derive the key from a new BIP-39 mnemonic",
			},
			&cli.StringFlag{
				Name:  "keystore",
				Usage: "Write an encrypted keystore file to this path",
			},
			&cli.StringFlag{
				Name:    "passphrase",
				Usage:   "Keystore passphrase, or the optional mnemonic passphrase",
				EnvVars: []string{"WALLET_PASSPHRASE"},
			},
		},
		Action: func(c *cli.Context) error {
			out := struct {
				Address    string `json:"address"`
				PrivateKey string `json:"private_key,omitempty"`
				Mnemonic   string `json:"mnemonic,omitempty"`
				Keystore   string `json:"keystore,omitempty"`
			}{}

			var (
				w   *wallet.Wallet
				err error
			)
			if c.Bool("mnemonic") {
				out.Mnemonic, err = wallet.NewMnemonic()
				if err != nil {
					return fmt.Errorf("failed to generate mnemonic: %w", err)
				}
				w, err = wallet.FromMnemonic(out.Mnemonic, c.String("passphrase"))
			} else {
				w, err = wallet.Generate()
			}
			if err != nil {
				return err
			}
			out.Address = w.Address().Hex()

			switch path := c.String("keystore"); {
			case path != "":
				if c.String("passphrase") == "" {
					return fmt.Errorf("--passphrase is required with --keystore")
				}
				data, err := w.EncryptKeystore(c.String("passphrase"), false)
				if err != nil {
					return fmt.Errorf("failed to encrypt keystore: %w", err)
				}
				if err := os.WriteFile(path, data, 0o600); err != nil {
					return fmt.Errorf("failed to write keystore: %w", err)
				}
				out.Keystore = path
			case out.Mnemonic == "":
				out.PrivateKey = w.PrivateKeyHex()
			}

			return emit(c, out, func(wr io.Writer) {
				fmt.Fprintf(wr, "Address:      %s\n", out.Address)
				if out.Mnemonic != "" {
					fmt.Fprintf(wr, "Mnemonic:     %s\n", out.Mnemonic)
				}
				if out.PrivateKey != "" {
					fmt.Fprintf(wr, "Private key:  %s\n", out.PrivateKey)
				}
				if out.Keystore != "" {
					fmt.Fprintf(wr, "Keystore:     %s\n", out.Keystore)
				}
				fmt.Fprintln(wr, "\nStore the secret above safely; it is not shown again.")
			})
		},
	}
}

func walletAddressCommand() *cli.Command {
	return &cli.Command{
		Name:  "address",
		Usage: "Show the address of the configured wallet",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "private-key", EnvVars: []string{"WALLET_PRIVATE_KEY"}, Usage: "Hex private key"},
			&cli.StringFlag{Name: "keystore", EnvVars: []string{"WALLET_KEYSTORE"}, Usage: "Encrypted keystore path"},
			&cli.StringFlag{Name: "passphrase", EnvVars: []string{"WALLET_PASSPHRASE"}, Usage: "Keystore or mnemonic passphrase"},
			&cli.StringFlag{Name: "mnemonic", EnvVars: []string{"WALLET_MNEMONIC"}, Usage: "BIP-39 mnemonic"},
		},
		Action: func(c *cli.Context) error {
			w, err := wallet.Load(wallet.Source{
				PrivateKey:   c.String("private-key"),
				KeystorePath: c.String("keystore"),
				Passphrase:   c.String("passphrase"),
				Mnemonic:     c.String("mnemonic"),
			})
			if err != nil {
				return err
			}
			out := map[string]string{"address": w.Address().Hex()}
			return emit(c, out, func(wr io.Writer) { fmt.Fprintln(wr, out["address"]) })
		},
	}
}
