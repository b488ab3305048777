package main

import (
	"fmt"
	"os"

	"github.com/Abraxas-365/bastion/pkg/config"
	"github.com/Abraxas-365/bastion/pkg/logx"
	"github.com/spf13/cobra"
)

var (
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "bastion",
		Short: "Bastion issues and verifies per-token signed JWT sessions",
		Long: `Bastion is an identity service: password and OAuth2 login, refresh and
access token sessions, API tokens and user, role and right administration.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			cfg = loaded
			// .env may have changed LOG_* after the package level logger was built.
			logx.SetDefaultLogger(logx.NewLogger(logx.LoadFromEnv()))
			return nil
		},
	}
)

func main() {
	err := rootCmd.Execute()
	_ = logx.GetDefaultLogger().Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd, cleanupCmd, seedCmd, migrateCmd)
}
