package main

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	configPath string
	userID     string
	statePath  string
	stale      bool
	olderThan  time.Duration

	rootCmd = &cobra.Command{
		Use:           "billingctl",
		Short:         "Operator tool for the PropIQ billing store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create the billing tables if they do not exist",
		RunE:  runMigrate,
	}

	reconcileCmd = &cobra.Command{
		Use:   "reconcile",
		Short: "Re-derive subscription state from Stripe for one user or every stale user",
		Example: `  billingctl reconcile --user 6f1c...
  billingctl reconcile --user 6f1c... --state state.json
  billingctl reconcile --stale --older-than 30m`,
		RunE: runReconcile,
	}

	accessCmd = &cobra.Command{
		Use:   "access",
		Short: "Explain whether a user currently has paid access",
		RunE:  runAccess,
	}

	usageCmd = &cobra.Command{
		Use:   "usage",
		Short: "Show a user's analysis quota",
		RunE:  runUsage,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: configs/config.yaml lookup)")

	reconcileCmd.Flags().StringVar(&userID, "user", "", "user id to reconcile")
	reconcileCmd.Flags().StringVar(&statePath, "state", "", "JSON provider state to apply instead of fetching from Stripe")
	reconcileCmd.Flags().BoolVar(&stale, "stale", false, "reconcile every paying user with a stale verification")
	reconcileCmd.Flags().DurationVar(&olderThan, "older-than", 0, "staleness threshold (default: billing.stale_after)")
	reconcileCmd.MarkFlagsMutuallyExclusive("user", "stale")
	reconcileCmd.MarkFlagsOneRequired("user", "stale")

	accessCmd.Flags().StringVar(&userID, "user", "", "user id")
	_ = accessCmd.MarkFlagRequired("user")

	usageCmd.Flags().StringVar(&userID, "user", "", "user id")
	_ = usageCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(migrateCmd, reconcileCmd, accessCmd, usageCmd)
}
