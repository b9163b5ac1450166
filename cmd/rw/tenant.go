package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/relaywire/relaywire/internal/models"
	"github.com/relaywire/relaywire/internal/plan"
)

func newTenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Tenant management commands",
	}

	cmd.AddCommand(newTenantAddCmd())
	cmd.AddCommand(newTenantListCmd())
	cmd.AddCommand(newTenantSetPlanCmd())
	return cmd
}

func newTenantAddCmd() *cobra.Command {
	var (
		configPath string
		name       string
		email      string
		tier       string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTenantAdd(cmd, configPath, name, email, tier)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relaywire.yaml", "path to RelayWire config file")
	cmd.Flags().StringVar(&name, "name", "", "tenant display name (required)")
	cmd.Flags().StringVar(&email, "email", "", "tenant contact email (required)")
	cmd.Flags().StringVar(&tier, "plan", "free", "plan tier: free, pro, elite")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("email")
	return cmd
}

func runTenantAdd(cmd *cobra.Command, configPath, name, email, tier string) error {
	out := cmd.OutOrStdout()

	gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	tenant := models.Tenant{
		ID:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		Name:   name,
		Email:  email,
		Plan:   string(plan.ParseTier(tier)),
		Status: "active",
	}
	if err := gormDB.Create(&tenant).Error; err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	fmt.Fprintf(out, "Created tenant %s on the %s plan\n", tenant.ID, tenant.Plan)
	return nil
}

func newTenantListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTenantList(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relaywire.yaml", "path to RelayWire config file")
	return cmd
}

func runTenantList(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	var tenants []models.Tenant
	if err := gormDB.Order("created_at").Find(&tenants).Error; err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}

	if len(tenants) == 0 {
		fmt.Fprintln(out, "No tenants found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEMAIL\tPLAN\tSTATUS\tEXPIRES")
	for _, t := range tenants {
		expires := "-"
		if t.PlanExpiresAt != nil {
			expires = t.PlanExpiresAt.Format("2006-01-02")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.Name, t.Email, t.Plan, t.Status, expires)
	}
	return w.Flush()
}

func newTenantSetPlanCmd() *cobra.Command {
	var (
		configPath string
		expires    string
	)

	cmd := &cobra.Command{
		Use:   "set-plan <tenant-id> <tier>",
		Short: "Change a tenant's plan",
		Long:  "Sets the tier (free, pro, elite) and optional expiry. Downgrades take effect on the next admission check; existing pairs above the new limit stop admitting new messages.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTenantSetPlan(cmd, configPath, args[0], args[1], expires)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relaywire.yaml", "path to RelayWire config file")
	cmd.Flags().StringVar(&expires, "expires", "", "plan expiry date (YYYY-MM-DD, empty for none)")
	return cmd
}

func runTenantSetPlan(cmd *cobra.Command, configPath, tenantID, tier, expires string) error {
	out := cmd.OutOrStdout()

	gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"plan":            string(plan.ParseTier(tier)),
		"plan_expires_at": nil,
	}
	if expires != "" {
		when, err := time.Parse("2006-01-02", expires)
		if err != nil {
			return fmt.Errorf("parse --expires: %w", err)
		}
		updates["plan_expires_at"] = when
	}

	res := gormDB.Model(&models.Tenant{}).Where("id = ?", tenantID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update tenant %s: %w", tenantID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("tenant %s not found", tenantID)
	}
	fmt.Fprintf(out, "Tenant %s moved to the %s plan\n", tenantID, updates["plan"])
	return nil
}
