// Command schemasync reconciles a database schema with its declared form.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"schemasync/internal/config"
	"schemasync/internal/ledger"
	"schemasync/internal/logging"
	"schemasync/internal/report"
	"schemasync/internal/syncer"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var configPath string
	var backend string

	root := &cobra.Command{
		Use:           "schemasync",
		Short:         "Reconcile database schemas with their declared form",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	root.PersistentFlags().StringVar(&backend, "backend", "", "override the configured backend")

	loadConfig := func() (config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return cfg, err
		}
		if backend != "" {
			cfg.Backend = backend
			if err := cfg.Validate(); err != nil {
				return cfg, err
			}
		}
		return cfg, nil
	}

	newSyncer := func() (*syncer.Syncer, config.Config, error) {
		cfg, err := loadConfig()
		if err != nil {
			return nil, cfg, err
		}
		log := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
		s, err := syncer.New(cfg, nil, log)
		return s, cfg, err
	}

	root.AddCommand(&cobra.Command{
		Use:   "analyze",
		Short: "Show the pending change set without generating SQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := newSyncer()
			if err != nil {
				return err
			}
			defer s.Close()
			changes, err := s.Analyze(cmd.Context())
			if err != nil {
				return err
			}
			if len(changes) == 0 {
				fmt.Println("schemas in sync")
				return nil
			}
			for _, ch := range changes {
				fmt.Println(ch.String())
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Print the migration SQL without executing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := newSyncer()
			if err != nil {
				return err
			}
			defer s.Close()
			p, err := s.Generate(cmd.Context())
			if err != nil {
				return err
			}
			for _, stmt := range p.StatementText() {
				fmt.Println(stmt + ";")
			}
			return nil
		},
	})

	var dryRun, allowColumnRemoval, allowTableRemoval bool
	applyCmd := &cobra.Command{
		Use:     "apply",
		Aliases: []string{"sync"},
		Short:   "Plan and execute the migration under the writer lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if dryRun {
				cfg.DryRun = true
			}
			if allowColumnRemoval {
				cfg.AllowColumnRemoval = true
			}
			if allowTableRemoval {
				cfg.AllowTableRemoval = true
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
			s, err := syncer.New(cfg, nil, log)
			if err != nil {
				return err
			}
			defer s.Close()
			rep, err := s.Sync(cmd.Context())
			if err != nil {
				return err
			}
			if rep.DryRun {
				fmt.Printf("dry run: %d statements\n", len(rep.Statements))
				return nil
			}
			fmt.Printf("applied %d statements\n", rep.ExecutedThrough)
			return nil
		},
	}
	applyCmd.Flags().BoolVar(&dryRun, "dry-run", false, "log statements without executing")
	applyCmd.Flags().BoolVar(&allowColumnRemoval, "allow-column-removal", false, "permit dropping columns this run")
	applyCmd.Flags().BoolVar(&allowTableRemoval, "allow-table-removal", false, "permit dropping tables this run")
	root.AddCommand(applyCmd)

	var statusFilter string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "List migration records, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := newSyncer()
			if err != nil {
				return err
			}
			defer s.Close()
			records, err := s.Status(cmd.Context(), ledger.Status(statusFilter))
			if err != nil {
				return err
			}
			for _, rec := range records {
				line := fmt.Sprintf("%s  %-11s  %s  %d statements",
					rec.CreatedAt.Format("2006-01-02 15:04:05"),
					rec.Status, rec.ID, len(rec.Statements))
				if rec.ErrorDetail != "" {
					line += "  " + rec.ErrorDetail
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	statusCmd.Flags().StringVar(&statusFilter, "status", "", "filter by status")
	root.AddCommand(statusCmd)

	var addr string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only ledger API",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cfg, err := newSyncer()
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.Store().Ensure(cmd.Context()); err != nil {
				return err
			}
			if addr != "" {
				cfg.ListenAddr = addr
			}
			log := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
			srv := report.NewServer(s.Store(), log)
			log.Info("serving ledger API", "addr", cfg.ListenAddr)
			return http.ListenAndServe(cfg.ListenAddr, srv.Router())
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides config")
	root.AddCommand(serveCmd)

	root.AddCommand(&cobra.Command{
		Use:   "init-config",
		Short: "Print a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(starterConfig)
			return nil
		},
	})

	return root
}

const starterConfig = `backend: sqlite
dsn: file:app.db
schema_file: schema.yaml

strict_mode: false
allow_column_removal: false
allow_table_removal: false

default_nullable: false
pluralize_tables: true
index_foreign_keys: true
timestamps: true

transaction_per_migration: true
dry_run: false
backup_before_migrate: false

history_table: schemasync_history
lock_ttl: 10m

log_level: info
log_format: json
listen_addr: ":8080"
`
