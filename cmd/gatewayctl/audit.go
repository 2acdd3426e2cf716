package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mcpgateway/pkg/audit"
	"mcpgateway/pkg/store"
)

var openAuditDB = store.NewPostgresPool

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Manage the Postgres audit trail",
	}
	cmd.AddCommand(auditMigrateCmd())
	cmd.AddCommand(auditShowCmd())
	return cmd
}

func withAuditSink(ctx context.Context, fn func(*audit.PostgresSink) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.AuditDatabaseURL == "" {
		return errors.New("AUDIT_DATABASE_URL is not set")
	}
	pool, err := openAuditDB(ctx, cfg.AuditDatabaseURL, cfg.AuditDatabaseTLS)
	if err != nil {
		return fmt.Errorf("audit db: %w", err)
	}
	defer pool.Close()
	return fn(&audit.PostgresSink{DB: pool, Timeout: 5 * time.Second})
}

func auditMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the audit table and indexes if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuditSink(cmd.Context(), func(sink *audit.PostgresSink) error {
				if err := sink.EnsureSchema(cmd.Context()); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "audit schema ready")
				return nil
			})
		},
	}
}

func auditShowCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print one audit record by id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return errors.New("--id is required")
			}
			return withAuditSink(cmd.Context(), func(sink *audit.PostgresSink) error {
				rec, err := sink.Get(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("audit record %s: %w", id, err)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "audit record id")
	return cmd
}
