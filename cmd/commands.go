package main

import (
	"github.com/Abraxas-365/bastion/migrations"
	"github.com/Abraxas-365/bastion/pkg/logx"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup-sessions",
	Short: "Delete expired session tokens and expire overdue API tokens",
	Long: `Run one cleanup pass and exit. Intended for cron style deployments where
the in-process cleanup worker of "serve" is not wanted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		container, err := NewContainer(cmd.Context(), cfg, containerOptions{})
		if err != nil {
			return err
		}
		defer container.Cleanup()

		sessions, apiTokens := container.IAM.Sweep(cmd.Context())
		logx.Infof("🧹 Removed %d expired sessions, expired %d API tokens", sessions, apiTokens)
		return nil
	},
}

var (
	seedAdminEmail    string
	seedAdminPassword string

	seedCmd = &cobra.Command{
		Use:   "seed",
		Short: "Create baseline rights, the ADMIN role, the default role and optionally an admin user",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := NewContainer(cmd.Context(), cfg, containerOptions{migrate: true})
			if err != nil {
				return err
			}
			defer container.Cleanup()

			res, err := container.IAM.Seed(cmd.Context(), seedAdminEmail, seedAdminPassword)
			if err != nil {
				return err
			}
			logx.WithFields(logx.Fields{
				"rights":        res.Rights,
				"roles":         res.Roles,
				"admin_created": res.AdminCreated,
			}).Info("🌱 Seed complete")
			return nil
		},
	}
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		container, err := NewContainer(cmd.Context(), cfg, containerOptions{})
		if err != nil {
			return err
		}
		defer container.Cleanup()
		return migrations.Apply(cmd.Context(), container.DB)
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedAdminEmail, "admin-email", "", "email of the admin user to create")
	seedCmd.Flags().StringVar(&seedAdminPassword, "admin-password", "", "password of the admin user to create")
	seedCmd.MarkFlagsRequiredTogether("admin-email", "admin-password")
}
