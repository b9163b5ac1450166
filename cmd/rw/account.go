package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/relaywire/relaywire/internal/admission"
	"github.com/relaywire/relaywire/internal/models"
	"github.com/relaywire/relaywire/internal/session"
)

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Platform account management commands",
	}

	cmd.AddCommand(newAccountAddCmd())
	cmd.AddCommand(newAccountListCmd())
	cmd.AddCommand(newAccountRemoveCmd())
	return cmd
}

func newAccountAddCmd() *cobra.Command {
	var (
		configPath string
		tenant     string
		platName   string
		label      string
		credsRef   string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a platform account",
		Long:  "Creates the account record in pending state. The daemon authenticates it on next start; credentials-ref names the environment variable holding the token.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountAdd(cmd, configPath, tenant, platName, label, credsRef)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relaywire.yaml", "path to RelayWire config file")
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant ID (required)")
	cmd.Flags().StringVar(&platName, "platform", "", "platform: telegram, discord, slack")
	cmd.Flags().StringVar(&label, "label", "", "display label")
	cmd.Flags().StringVar(&credsRef, "credentials-ref", "", "environment variable holding the token (required)")
	cmd.MarkFlagRequired("tenant")
	cmd.MarkFlagRequired("credentials-ref")
	return cmd
}

func runAccountAdd(cmd *cobra.Command, configPath, tenant, platName, label, credsRef string) error {
	out := cmd.OutOrStdout()

	switch platName {
	case "telegram", "discord", "slack":
	default:
		return fmt.Errorf("--platform must be one of telegram, discord, slack")
	}

	gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	acct := models.PlatformAccount{
		ID:             strings.ReplaceAll(uuid.NewString(), "-", ""),
		TenantID:       tenant,
		Platform:       platName,
		Label:          label,
		CredentialsRef: credsRef,
		State:          session.StatePending,
	}

	ctrl, err := admission.NewController(gormDB)
	if err != nil {
		return err
	}
	if err := ctrl.ValidateAccount(tenant, acct); err != nil {
		return err
	}

	if err := gormDB.Create(&acct).Error; err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	fmt.Fprintf(out, "Created %s account %s (pending until the daemon authenticates it)\n", platName, acct.ID)
	return nil
}

func newAccountListCmd() *cobra.Command {
	var (
		configPath string
		tenant     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List platform accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountList(cmd, configPath, tenant)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relaywire.yaml", "path to RelayWire config file")
	cmd.Flags().StringVar(&tenant, "tenant", "", "filter by tenant ID")
	return cmd
}

func runAccountList(cmd *cobra.Command, configPath, tenant string) error {
	out := cmd.OutOrStdout()

	gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	q := gormDB.Order("tenant_id, platform, created_at")
	if tenant != "" {
		q = q.Where("tenant_id = ?", tenant)
	}
	var accounts []models.PlatformAccount
	if err := q.Find(&accounts).Error; err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	if len(accounts) == 0 {
		fmt.Fprintln(out, "No accounts found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTENANT\tPLATFORM\tLABEL\tSTATE\tLAST ERROR")
	for _, a := range accounts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.TenantID, a.Platform, a.Label, a.State, truncate(a.LastError, 48))
	}
	return w.Flush()
}

func newAccountRemoveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "remove <account-id>",
		Short: "Remove a platform account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountRemove(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relaywire.yaml", "path to RelayWire config file")
	return cmd
}

func runAccountRemove(cmd *cobra.Command, configPath, accountID string) error {
	out := cmd.OutOrStdout()

	gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	res := gormDB.Where("id = ?", accountID).Delete(&models.PlatformAccount{})
	if res.Error != nil {
		return fmt.Errorf("remove account %s: %w", accountID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("account %s not found", accountID)
	}
	fmt.Fprintf(out, "Account %s removed\n", accountID)
	return nil
}

// truncate shortens s for table display.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
