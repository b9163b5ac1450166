package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/relaywire/relaywire/internal/admission"
	"github.com/relaywire/relaywire/internal/config"
	"github.com/relaywire/relaywire/internal/db"
	"github.com/relaywire/relaywire/internal/models"
)

func newPairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Forwarding pair management commands",
	}

	cmd.AddCommand(newPairAddCmd())
	cmd.AddCommand(newPairListCmd())
	cmd.AddCommand(newPairEnableCmd())
	cmd.AddCommand(newPairDisableCmd())
	return cmd
}

// pairFlags holds the flag set shared by pair add.
type pairFlags struct {
	tenant     string
	source     string
	sourceChat string
	sourceAcct string
	dest       string
	destChat   string
	destAcct   string
	delay      int
	copyMode   bool
	silent     bool
}

func newPairAddCmd() *cobra.Command {
	var (
		configPath string
		f          pairFlags
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a forwarding pair",
		Long:  "Validates the pair against the tenant's plan (pair count, route, delay) and creates it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPairAdd(cmd, configPath, f)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relaywire.yaml", "path to RelayWire config file")
	cmd.Flags().StringVar(&f.tenant, "tenant", "", "tenant ID (required)")
	cmd.Flags().StringVar(&f.source, "source", "", "source platform: telegram, discord, slack")
	cmd.Flags().StringVar(&f.sourceChat, "source-chat", "", "source chat/channel reference")
	cmd.Flags().StringVar(&f.sourceAcct, "source-account", "", "source platform account ID")
	cmd.Flags().StringVar(&f.dest, "dest", "", "destination platform: telegram, discord, slack")
	cmd.Flags().StringVar(&f.destChat, "dest-chat", "", "destination chat/channel reference")
	cmd.Flags().StringVar(&f.destAcct, "dest-account", "", "destination platform account ID")
	cmd.Flags().IntVar(&f.delay, "delay", 0, "per-message delay in seconds")
	cmd.Flags().BoolVar(&f.copyMode, "copy", false, "send copies instead of forwards (Elite plans)")
	cmd.Flags().BoolVar(&f.silent, "silent", false, "suppress notifications on delivery")
	cmd.MarkFlagRequired("tenant")
	return cmd
}

func runPairAdd(cmd *cobra.Command, configPath string, f pairFlags) error {
	out := cmd.OutOrStdout()

	for name, v := range map[string]string{
		"source": f.source, "source-chat": f.sourceChat, "source-account": f.sourceAcct,
		"dest": f.dest, "dest-chat": f.destChat, "dest-account": f.destAcct,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("--%s is required", name)
		}
	}

	gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	pair := models.ForwardingPair{
		ID:              strings.ReplaceAll(uuid.NewString(), "-", ""),
		TenantID:        f.tenant,
		SourcePlatform:  f.source,
		SourceChatRef:   f.sourceChat,
		SourceAccountID: f.sourceAcct,
		DestPlatform:    f.dest,
		DestChatRef:     f.destChat,
		DestAccountID:   f.destAcct,
		DelaySeconds:    f.delay,
		IsActive:        true,
		CopyMode:        f.copyMode,
		SilentMode:      f.silent,
	}

	ctrl, err := admission.NewController(gormDB)
	if err != nil {
		return err
	}
	if err := ctrl.ValidatePair(f.tenant, pair); err != nil {
		return err
	}

	if err := gormDB.Create(&pair).Error; err != nil {
		return fmt.Errorf("create pair: %w", err)
	}
	fmt.Fprintf(out, "Created pair %s (%s)\n", pair.ID, pair.Route())
	return nil
}

func newPairListCmd() *cobra.Command {
	var (
		configPath string
		tenant     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List forwarding pairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPairList(cmd, configPath, tenant)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relaywire.yaml", "path to RelayWire config file")
	cmd.Flags().StringVar(&tenant, "tenant", "", "filter by tenant ID")
	return cmd
}

func runPairList(cmd *cobra.Command, configPath, tenant string) error {
	out := cmd.OutOrStdout()

	gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	q := gormDB.Order("tenant_id, created_at")
	if tenant != "" {
		q = q.Where("tenant_id = ?", tenant)
	}
	var pairs []models.ForwardingPair
	if err := q.Find(&pairs).Error; err != nil {
		return fmt.Errorf("list pairs: %w", err)
	}

	if len(pairs) == 0 {
		fmt.Fprintln(out, "No pairs found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTENANT\tROUTE\tSOURCE\tDEST\tDELAY\tACTIVE\tFAILURES")
	for _, p := range pairs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%ds\t%v\t%d\n",
			p.ID, p.TenantID, p.Route(), p.SourceChatRef, p.DestChatRef, p.DelaySeconds, p.IsActive, p.ConsecutiveFailures)
	}
	return w.Flush()
}

func newPairEnableCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "enable <pair-id>",
		Short: "Re-enable a paused pair",
		Long:  "Re-validates the pair against the tenant's current plan, then clears its failure count and reactivates it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPairEnable(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relaywire.yaml", "path to RelayWire config file")
	return cmd
}

func runPairEnable(cmd *cobra.Command, configPath, pairID string) error {
	out := cmd.OutOrStdout()

	gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	var pair models.ForwardingPair
	if err := gormDB.Where("id = ?", pairID).First(&pair).Error; err != nil {
		return fmt.Errorf("load pair %s: %w", pairID, err)
	}

	ctrl, err := admission.NewController(gormDB)
	if err != nil {
		return err
	}
	if err := ctrl.ValidatePair(pair.TenantID, pair); err != nil {
		return err
	}

	err = gormDB.Model(&models.ForwardingPair{}).
		Where("id = ?", pairID).
		Updates(map[string]interface{}{"is_active": true, "consecutive_failures": 0}).Error
	if err != nil {
		return fmt.Errorf("enable pair %s: %w", pairID, err)
	}
	fmt.Fprintf(out, "Pair %s enabled\n", pairID)
	return nil
}

func newPairDisableCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "disable <pair-id>",
		Short: "Pause a pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPairDisable(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relaywire.yaml", "path to RelayWire config file")
	return cmd
}

func runPairDisable(cmd *cobra.Command, configPath, pairID string) error {
	out := cmd.OutOrStdout()

	gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	res := gormDB.Model(&models.ForwardingPair{}).
		Where("id = ?", pairID).
		Update("is_active", false)
	if res.Error != nil {
		return fmt.Errorf("disable pair %s: %w", pairID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("pair %s not found", pairID)
	}
	fmt.Fprintf(out, "Pair %s disabled\n", pairID)
	return nil
}

// connectFromConfig loads the config file and opens the database.
func connectFromConfig(configPath string) (*gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Database.Database, err)
	}
	return gormDB, nil
}
