// Command conductord runs the core reconciler and configuration generator
// sweeps described in spec.md: periodic (via "serve") or one-shot (via
// "sweep"/"generate"), triggered by an operator or an external scheduler
// (spec §2 "Data flow").
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fabricwright/conductor/internal/bmc"
	"github.com/fabricwright/conductor/internal/generator"
	"github.com/fabricwright/conductor/internal/inventory"
	"github.com/fabricwright/conductor/internal/reconcile"
	"github.com/fabricwright/conductor/internal/store"
	"github.com/fabricwright/conductor/internal/taskfabric"
	"github.com/fabricwright/conductor/internal/vault"
	"github.com/fabricwright/conductor/pkg/audit"
	"github.com/fabricwright/conductor/pkg/settings"
	"github.com/fabricwright/conductor/pkg/util"
	"github.com/fabricwright/conductor/pkg/version"
)

// errPartialFailure maps to a distinct exit code so scheduler wrappers can
// distinguish "some devices failed" from a hard operational error.
var errPartialFailure = errors.New("partial failure")

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "conductord",
		Short: "DCIM/BMC reconciler and SONiC configuration generator",
		Long: `conductord converges a bare-metal lifecycle service and a DCIM
inventory, and renders SONiC switch configuration from the same inventory.

  conductord sweep      # run one inbound + outbound reconciler pass
  conductord generate   # render and publish configuration for the managed switches
  conductord serve      # run both on a timer until signaled to stop`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to settings.yaml (default: "+settings.DefaultConfigDir+"/settings.yaml)")

	rootCmd.AddCommand(
		newSweepCmd(),
		newGenerateCmd(),
		newServeCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				if version.Version == "dev" {
					fmt.Println("conductord dev build (use 'make build' for version info)")
				} else {
					fmt.Printf("conductord %s (%s)\n", version.Version, version.GitCommit)
				}
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errPartialFailure) {
			os.Exit(3)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadSettings() (*settings.Settings, error) {
	if configPath != "" {
		return settings.LoadFrom(configPath)
	}
	return settings.Load()
}

func setupLogger(s *settings.Settings) *logrus.Entry {
	if s.LogLevel != "" {
		if err := util.SetLogLevel(s.LogLevel); err != nil {
			util.WithField("level", s.LogLevel).Warn("invalid log level, keeping default")
		}
	}
	if s.LogJSON {
		util.SetJSONFormat()
	}
	return util.WithField("component", "conductord")
}

// setupAudit wires the file-backed audit.Logger every mutating reconciler
// or generator call records to (spec §9 "Operational stance"). A failure
// here is non-fatal: callers fall back to audit's no-op default logger.
func setupAudit(s *settings.Settings, log *logrus.Entry) {
	l, err := audit.NewFileLogger(s.GetAuditLogPath(), audit.RotationConfig{
		MaxSize:    int64(s.GetAuditMaxSizeMB()) * 1024 * 1024,
		MaxBackups: s.GetAuditMaxBackups(),
	})
	if err != nil {
		log.WithField("error", err).Warn("audit log unavailable, continuing without it")
		return
	}
	audit.SetDefaultLogger(l)
}

// buildReconciler wires a Reconciler from settings. Inventory/BMC here are
// the in-memory Fakes: no Redfish/NetBox HTTP transport ships with this
// module (spec's HTTP façade Non-goal) - a production deployment supplies
// its own inventory.Client/bmc.Client implementations behind these same
// interfaces.
func buildReconciler(s *settings.Settings, st *taskfabric.Fabric, invCli inventory.Client, bmcCli bmc.Client) (*reconcile.Reconciler, error) {
	v, err := vault.Load(s.VaultKeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading vault key: %w", err)
	}
	cfg := reconcile.Config{
		Queries:              s.Queries,
		ManagedByTag:         s.ManagedByTag,
		BaseIronicParameters: s.BaseIronicParameters,
	}
	return reconcile.New(invCli, bmcCli, st, v, cfg), nil
}

func buildGenerator(s *settings.Settings, invCli inventory.Client) *generator.Generator {
	cfg := generator.Config{
		DefaultHWSKU:   s.Generator.DefaultHWSKU,
		RoleHWSKU:      s.Generator.RoleHWSKU,
		PortConfigDirs: s.Generator.PortConfigDirs,
		ExportDir:      s.Generator.ExportDir,
		FilePrefix:     s.Generator.FilePrefix,
		FileSuffix:     s.Generator.FileSuffix,
	}
	return generator.New(invCli, cfg)
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one inbound + outbound reconciler pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			log := setupLogger(s)
			setupAudit(s, log)

			st, invCli, bmcCli, err := wireClients(cmd.Context(), s)
			if err != nil {
				return err
			}
			r, err := buildReconciler(s, st, invCli, bmcCli)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			inResult, err := r.InboundSweep(ctx)
			if err != nil && len(inResult.Failed) == 0 {
				return err
			}
			log.WithField("created", inResult.Created).WithField("updated", inResult.Updated).
				WithField("deleted", inResult.Deleted).WithField("failed", len(inResult.Failed)).
				Info("inbound sweep complete")

			outResult, err := r.OutboundSweep(ctx)
			if err != nil && len(outResult.Failed) == 0 {
				return err
			}
			log.WithField("updated", outResult.Updated).WithField("failed", len(outResult.Failed)).
				Info("outbound sweep complete")

			if len(inResult.Failed) > 0 || len(outResult.Failed) > 0 {
				return errPartialFailure
			}
			return nil
		},
	}
}

func newGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Render and publish SONiC configuration for the managed switches",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			log := setupLogger(s)
			setupAudit(s, log)

			_, invCli, _, err := wireClients(cmd.Context(), s)
			if err != nil {
				return err
			}
			g := buildGenerator(s, invCli)

			result, err := g.Sync(cmd.Context(), s.Queries, generator.ASAssignment{})
			if err != nil && len(result.Failed) == 0 {
				return err
			}
			log.WithField("published", result.Published).WithField("unchanged", result.Unchanged).
				WithField("failed", len(result.Failed)).Info("generate complete")

			if len(result.Failed) > 0 {
				return errPartialFailure
			}
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run sweep and generate on a timer until signaled to stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			log := setupLogger(s)
			setupAudit(s, log)

			st, invCli, bmcCli, err := wireClients(cmd.Context(), s)
			if err != nil {
				return err
			}
			r, err := buildReconciler(s, st, invCli, bmcCli)
			if err != nil {
				return err
			}
			g := buildGenerator(s, invCli)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				if err := r.ConsumeEvents(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.WithField("error", err).Warn("event consumer stopped")
				}
			}()

			interval := time.Duration(s.GetSweepIntervalSeconds()) * time.Second
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			log.WithField("interval", interval).Info("conductord serving")
			runOnce(ctx, log, r, g, s)
			for {
				select {
				case <-ctx.Done():
					log.Info("shutting down")
					return nil
				case <-ticker.C:
					runOnce(ctx, log, r, g, s)
				}
			}
		},
	}
}

func runOnce(ctx context.Context, log *logrus.Entry, r *reconcile.Reconciler, g *generator.Generator, s *settings.Settings) {
	if _, err := r.InboundSweep(ctx); err != nil {
		log.WithField("error", err).Warn("inbound sweep reported failures")
	}
	if _, err := r.OutboundSweep(ctx); err != nil {
		log.WithField("error", err).Warn("outbound sweep reported failures")
	}
	if _, err := g.Sync(ctx, s.Queries, generator.ASAssignment{}); err != nil {
		log.WithField("error", err).Warn("generate reported failures")
	}
}

// wireClients builds the Store-backed Task Fabric plus the configured
// Inventory/BMC clients. See buildReconciler's doc comment on the Fake
// boundary.
func wireClients(ctx context.Context, s *settings.Settings) (*taskfabric.Fabric, inventory.Client, bmc.Client, error) {
	backing, err := store.Dial(ctx, s.Store, s.StoreDB)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("dialing store: %w", err)
	}
	fabric := taskfabric.New(backing, nil)
	invCli := inventory.NewFake(s.Secondaries)
	bmcCli := bmc.NewFake()
	return fabric, invCli, bmcCli, nil
}
