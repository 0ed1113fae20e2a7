// Package main is the knockctl command line tool.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"doorknock/internal/config"
	"doorknock/internal/secmem"
)

const version = "0.3.0"

var output string

func main() {
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "knockctl",
		Short:        "Inspect knock sequences and secrets",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")

	root.AddCommand(doorsCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(digestCmd())
	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "knockctl version %s\n", version)
		},
	}
}

// digestCmd prints the secret_digest for a password, so configs need not
// carry the password itself.
func digestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "digest [password]",
		Short: "Print the SHA-512 secret digest of a password (reads stdin without an argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pw []byte
			if len(args) == 1 {
				pw = []byte(args[0])
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && err != io.EOF {
					return fmt.Errorf("reading password: %w", err)
				}
				pw = []byte(strings.TrimRight(line, "\r\n"))
			}
			if len(pw) == 0 {
				return fmt.Errorf("empty password")
			}
			buf := secmem.Wrap(config.HashSecret(pw))
			defer buf.Close()
			secmem.Zero(pw)

			if output == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"secret_digest": string(buf.Bytes())})
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(buf.Bytes()))
			return nil
		},
	}
}
