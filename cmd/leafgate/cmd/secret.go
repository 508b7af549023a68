package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/leafgate/internal/util"
)

var secretBytes int

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Signing secret utilities",
}

var secretGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Print a new random session signing secret",
	Long: `Prints a random URL-safe secret for session.secret / LEAFGATE_SESSION_SECRET.
Changing the secret invalidates every session issued under the old one.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := util.RandomSecret(secretBytes)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), s)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(secretCmd)
	secretCmd.AddCommand(secretGenerateCmd)
	secretGenerateCmd.Flags().IntVar(&secretBytes, "bytes", 48, "Random bytes of entropy (minimum 32)")
}
