package main

import (
	"fmt"

	"github.com/claboran/orchestrator-worker-poc/internal/config"
	"github.com/claboran/orchestrator-worker-poc/internal/store"
	"github.com/claboran/orchestrator-worker-poc/pkg/migrations"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type MigrateOptions struct {
	MigrationFolder string

	cfg *config.Config
}

func DefaultMigrateOptions() *MigrateOptions {
	return &MigrateOptions{}
}

func NewCmdMigrate() *cobra.Command {
	o := DefaultMigrateOptions()
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the db",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			return o.Run()
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *MigrateOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.MigrationFolder, "migrations", o.MigrationFolder, "Folder holding the goose migrations. Defaults to the embedded ones.")
}

func (o *MigrateOptions) Complete(cmd *cobra.Command, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("reading configuration: %w", err)
	}
	if o.MigrationFolder == "" {
		o.MigrationFolder = cfg.Service.MigrationFolder
	}
	o.cfg = cfg
	return nil
}

func (o *MigrateOptions) Run() error {
	flush, err := initLogging(o.cfg)
	if err != nil {
		return err
	}
	defer flush()

	zap.S().Named("migrate").Info("Starting migration")
	defer zap.S().Named("migrate").Info("Db migrated")

	db, err := store.InitDB(o.cfg)
	if err != nil {
		return fmt.Errorf("initializing data store: %w", err)
	}

	s := store.NewStore(db)
	defer s.Close()

	if o.cfg.Database.Type != "pgsql" {
		if err := s.InitialMigration(); err != nil {
			return fmt.Errorf("running initial migration: %w", err)
		}
		return nil
	}

	if err := migrations.MigrateStore(db, o.MigrationFolder); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	version, err := migrations.Version(db)
	if err != nil {
		return fmt.Errorf("reading migration version: %w", err)
	}
	zap.S().Named("migrate").Infow("schema is up to date", "version", version)
	return nil
}
