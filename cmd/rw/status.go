package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/relaywire/relaywire/internal/models"
)

func newStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show forwarding status",
		Long:  "Summarizes tenants, pairs, sessions, recent deliveries, and unresolved alerts from the database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relaywire.yaml", "path to RelayWire config file")
	return cmd
}

func runStatus(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	var tenants, pairs, activePairs int64
	gormDB.Model(&models.Tenant{}).Count(&tenants)
	gormDB.Model(&models.ForwardingPair{}).Count(&pairs)
	gormDB.Model(&models.ForwardingPair{}).Where("is_active = ?", true).Count(&activePairs)
	fmt.Fprintf(out, "Tenants: %d   Pairs: %d (%d active)\n\n", tenants, pairs, activePairs)

	if err := printSessionTable(out, gormDB); err != nil {
		return err
	}
	if err := printDeliverySummary(out, gormDB); err != nil {
		return err
	}
	return printRecentAlerts(out, gormDB)
}

func printSessionTable(out io.Writer, gormDB *gorm.DB) error {
	type row struct {
		Platform string
		State    string
		Count    int
	}
	var rows []row
	err := gormDB.Model(&models.PlatformAccount{}).
		Select("platform, state, count(*) as count").
		Group("platform, state").
		Find(&rows).Error
	if err != nil {
		return fmt.Errorf("session summary: %w", err)
	}

	fmt.Fprintln(out, "Sessions:")
	if len(rows) == 0 {
		fmt.Fprintln(out, "  none")
		fmt.Fprintln(out)
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  PLATFORM\tSTATE\tCOUNT")
	for _, r := range rows {
		fmt.Fprintf(w, "  %s\t%s\t%d\n", r.Platform, r.State, r.Count)
	}
	w.Flush()
	fmt.Fprintln(out)
	return nil
}

func printDeliverySummary(out io.Writer, gormDB *gorm.DB) error {
	since := time.Now().Add(-24 * time.Hour)

	var delivered, failed int64
	gormDB.Model(&models.MessageLog{}).
		Where("status = ? AND forwarded_at > ?", "success", since).Count(&delivered)
	gormDB.Model(&models.MessageLog{}).
		Where("status = ? AND forwarded_at > ?", "failed", since).Count(&failed)

	fmt.Fprintf(out, "Last 24h: %d delivered, %d failed\n\n", delivered, failed)
	return nil
}

func printRecentAlerts(out io.Writer, gormDB *gorm.DB) error {
	var alerts []models.AlertLog
	err := gormDB.Order("created_at DESC").Limit(10).Find(&alerts).Error
	if err != nil {
		return fmt.Errorf("recent alerts: %w", err)
	}

	fmt.Fprintln(out, "Recent alerts:")
	if len(alerts) == 0 {
		fmt.Fprintln(out, "  none")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  WHEN\tKIND\tTENANT\tREF\tDETAIL")
	for _, a := range alerts {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			a.CreatedAt.Format("01-02 15:04"), a.Kind, a.TenantID, a.RefID, truncate(a.Detail, 60))
	}
	return w.Flush()
}
