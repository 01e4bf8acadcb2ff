package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/pabawi/pkg/applier"
	"github.com/openfroyo/pabawi/pkg/config"
	"github.com/openfroyo/pabawi/pkg/engine"
	"github.com/openfroyo/pabawi/pkg/policy"
	"github.com/openfroyo/pabawi/pkg/stores"
	"github.com/openfroyo/pabawi/pkg/telemetry"
	"github.com/openfroyo/pabawi/pkg/transports"
	"github.com/openfroyo/pabawi/pkg/transports/ssh"
)

// errRunFailed is returned when a fatal resource halted the run.
var errRunFailed = errors.New("run failed")

type applyOptions struct {
	target          string
	identity        string
	insecure        bool
	policyDirs      []string
	noPolicy        bool
	history         string
	watch           bool
	metricsAddr     string
	resourceTimeout time.Duration
}

func newApplyCommand() *cobra.Command {
	var opts applyOptions

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Converge a host to the configuration",
		Long: `Compile the configuration and converge the target host.

This command:
  - Validates and compiles the configuration
  - Checks the catalog against the built-in and --policy-dir policies
  - Applies each resource in order on the local host or over SSH
  - Restarts services whose subscribed files changed
  - Prints the run report and optionally appends it to --history

A failing fatal resource halts the run. Failing non-fatal resources are
reported and the run continues.`,
		Example: `  # Converge the local host
  sudo pabawi apply -c pabawi.yaml

  # Converge a remote host with extra policies and history
  pabawi apply --target ssh://root@web01 --identity ~/.ssh/id_ed25519 \
    --policy-dir ./policies --history /var/lib/pabawi/runs.db

  # Re-apply whenever the configuration changes
  pabawi apply --watch --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.target, "target", "t", "", "remote target as ssh://user@host[:port] (default: local host)")
	cmd.Flags().StringVarP(&opts.identity, "identity", "i", "", "SSH private key for --target")
	cmd.Flags().BoolVar(&opts.insecure, "insecure-ignore-host-key", false, "skip SSH host key verification")
	cmd.Flags().StringSliceVar(&opts.policyDirs, "policy-dir", nil, "directory of additional .rego or .json policies")
	cmd.Flags().BoolVar(&opts.noPolicy, "no-policy", false, "skip the policy gate")
	cmd.Flags().StringVar(&opts.history, "history", "", "SQLite database to append the run report to")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "re-apply when the configuration file changes")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().DurationVar(&opts.resourceTimeout, "resource-timeout", 0, "deadline for each resource (0 means none)")

	return cmd
}

func runApply(ctx context.Context, out io.Writer, opts applyOptions) error {
	tel, err := newTelemetry(telemetryOptions{metricsAddr: opts.metricsAddr})
	if err != nil {
		return err
	}
	logger := tel.Logger.Zerolog()
	defer shutdown(tel, logger)

	if err := tel.StartMetricsServer(ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	var gate engine.CatalogGate
	if !opts.noPolicy {
		eng, err := newPolicyEngine(ctx, tel, opts)
		if err != nil {
			return err
		}
		defer eng.Close()
		gate = eng
	}

	host, err := connect(ctx, opts)
	if err != nil {
		return err
	}
	defer host.Close()

	app := applier.New(host, applier.WithLogger(logger))
	defer app.Close()

	var runLog stores.RunLog
	if opts.history != "" {
		store, err := stores.Open(ctx, stores.Config{Path: opts.history})
		if err != nil {
			return fmt.Errorf("failed to open run history: %w", err)
		}
		defer store.Close()
		runLog = store
	}

	a := &applyRun{
		out:          out,
		logger:       logger,
		tel:          tel,
		orchestrator: newOrchestrator(tel, gate),
		applier:      app,
		target:       host.Name(),
		runLog:       runLog,
		opts:         engine.ApplyOptions{ResourceTimeout: opts.resourceTimeout},
	}

	err = a.once(ctx)
	if !opts.watch {
		return err
	}
	if err != nil {
		logger.Error().Err(err).Msg("Initial apply failed, waiting for changes")
	}

	watcher := config.NewWatcher(logger, 0)
	err = watcher.Watch(ctx, []string{configPath}, func(path string) {
		reloadErr := a.once(ctx)
		_ = tel.Events.PublishConfigReloaded(path, reloadErr == nil)
		if reloadErr != nil {
			logger.Error().Err(reloadErr).Str("path", path).Msg("Apply after change failed")
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newPolicyEngine(ctx context.Context, tel *telemetry.Telemetry, opts applyOptions) (*policy.Engine, error) {
	eng, err := policy.NewEngine(tel.Logger.Zerolog(),
		policy.WithMetrics(tel.Metrics),
		policy.WithEvents(tel.Events),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if len(opts.policyDirs) == 0 {
		return eng, nil
	}

	if err := eng.LoadPolicies(ctx, opts.policyDirs); err != nil {
		_ = eng.Close()
		return nil, err
	}
	if opts.watch {
		if err := eng.Watch(ctx, opts.policyDirs); err != nil {
			_ = eng.Close()
			return nil, err
		}
	}
	return eng, nil
}

// connect opens the local host or an SSH session to opts.target.
func connect(ctx context.Context, opts applyOptions) (transports.Host, error) {
	if opts.target == "" {
		return transports.NewLocalHost(), nil
	}

	cfg, err := ssh.ParseTarget(opts.target)
	if err != nil {
		return nil, err
	}
	cfg.KeyPath = opts.identity
	cfg.InsecureIgnoreHostKey = opts.insecure

	return ssh.NewHost(ctx, *cfg)
}

// applyRun is one configured apply, repeated on every change in watch mode.
type applyRun struct {
	mu sync.Mutex

	out          io.Writer
	logger       zerolog.Logger
	tel          *telemetry.Telemetry
	orchestrator *engine.Orchestrator
	applier      engine.ResourceApplier
	target       string
	runLog       stores.RunLog
	opts         engine.ApplyOptions
}

func (a *applyRun) once(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cfg, err := loadConfig(ctx, configPath)
	if err != nil {
		return err
	}

	plan, err := a.orchestrator.Compile(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to compile %s: %w", configPath, err)
	}
	a.tel.Metrics.SetCatalogSize(plan.Catalog.Len())
	a.tel.Metrics.RecordUnresolvedReferences(len(plan.Catalog.Warnings))

	a.tel.Metrics.RecordRunStarted()
	report, err := a.orchestrator.Apply(ctx, plan, a.applier, a.opts)
	if err != nil {
		if engine.HasCode(err, engine.ErrCodePolicyDenied) {
			printDenied(a.out, err)
		}
		return err
	}

	if a.runLog != nil {
		if err := a.runLog.SaveReport(ctx, report, a.target); err != nil {
			a.logger.Error().Err(err).Str("run_id", report.RunID).Msg("Failed to record run")
		}
	}

	if jsonOutput {
		if err := writeJSON(a.out, report); err != nil {
			return err
		}
	} else {
		fmt.Fprint(a.out, renderReport(report))
	}

	if report.Status == engine.RunStatusFailed {
		return fmt.Errorf("%w: %s", errRunFailed, report.FirstFailure.ResourceID)
	}
	return nil
}

func printDenied(out io.Writer, err error) {
	var denied *policy.DeniedError
	if !errors.As(err, &denied) {
		return
	}
	fmt.Fprintln(out, errorMsg("catalog rejected by policy"))
	for _, v := range denied.Violations {
		fmt.Fprintln(out, "  - "+v.String())
	}
}
