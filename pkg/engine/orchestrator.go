package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/openfroyo/pabawi/pkg/config"
)

// Plan is everything compiled for one run. It is immutable once returned.
type Plan struct {
	Config        *config.Config
	Instantiation *Instantiation
	Graph         *DependencyGraph
	Catalog       *Catalog
}

// Orchestrator threads one validated configuration through instantiation,
// graph building, compilation, the optional policy gate and execution.
type Orchestrator struct {
	registry *Registry
	rules    []OrderingRule
	compiler *Compiler
	executor *Executor
	gate     CatalogGate
	tracer   Tracer
	logger   zerolog.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrderingRules replaces the default kind ordering rules.
func WithOrderingRules(rules []OrderingRule) OrchestratorOption {
	return func(o *Orchestrator) {
		o.rules = rules
	}
}

// WithGate installs a gate consulted before every non-dry-run apply.
func WithGate(gate CatalogGate) OrchestratorOption {
	return func(o *Orchestrator) {
		o.gate = gate
	}
}

// WithExecutor replaces the default executor.
func WithExecutor(executor *Executor) OrchestratorOption {
	return func(o *Orchestrator) {
		o.executor = executor
	}
}

// WithOrchestratorTracer sets the tracer for compile spans.
func WithOrchestratorTracer(t Tracer) OrchestratorOption {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// NewOrchestrator creates an orchestrator over registry.
func NewOrchestrator(registry *Registry, logger zerolog.Logger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		rules:    DefaultOrderingRules(),
		tracer:   noopTracer(),
		logger:   logger.With().Str("component", "orchestrator").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.compiler = NewCompiler(logger, o.tracer)
	if o.executor == nil {
		o.executor = NewExecutor(logger, WithTracer(o.tracer))
	}
	return o
}

// Registry returns the component registry.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Compile instantiates cfg against the registry, builds the dependency
// graph and compiles the catalog. No resource is touched.
func (o *Orchestrator) Compile(ctx context.Context, cfg *config.Config) (*Plan, error) {
	if cfg == nil {
		return nil, NewPermanentError("config is nil", nil).WithCode(ErrCodeValidation)
	}

	ctx, span := o.tracer.Start(ctx, "plan.compile")
	defer span.End()

	plan, err := o.compile(ctx, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.StringSlice("plan.components", plan.Graph.Order()),
		attribute.Int("plan.resources", plan.Catalog.Len()),
	)
	o.logger.Info().
		Strs("components", plan.Graph.Order()).
		Int("resources", plan.Catalog.Len()).
		Int("warnings", len(plan.Catalog.Warnings)).
		Msg("Plan compiled")
	return plan, nil
}

func (o *Orchestrator) compile(ctx context.Context, cfg *config.Config) (*Plan, error) {
	inst, err := Instantiate(cfg, o.registry)
	if err != nil {
		return nil, err
	}
	for _, w := range inst.Warnings {
		o.logger.Warn().
			Str("field", w.Field).
			Str("name", w.Name).
			Str("component", w.Component).
			Msg("Unresolved integration, skipping")
	}

	graph, err := BuildGraph(inst, o.rules)
	if err != nil {
		return nil, err
	}

	catalog, err := o.compiler.Compile(ctx, graph)
	if err != nil {
		return nil, err
	}

	return &Plan{
		Config:        cfg,
		Instantiation: inst,
		Graph:         graph,
		Catalog:       catalog,
	}, nil
}

// Apply runs the gate and then converges the plan's catalog. A gate
// rejection returns an error and no report; every other outcome is in the
// report.
func (o *Orchestrator) Apply(ctx context.Context, plan *Plan, applier ResourceApplier, opts ApplyOptions) (*RunReport, error) {
	if plan == nil || plan.Catalog == nil {
		return nil, NewPermanentError("plan has no catalog", nil).WithCode(ErrCodeValidation)
	}

	if o.gate != nil && !opts.DryRun {
		if err := o.gate.Check(ctx, plan.Catalog); err != nil {
			o.logger.Error().Err(err).Msg("Catalog rejected by policy")
			var engineErr *EngineError
			if errors.As(err, &engineErr) {
				return nil, err
			}
			return nil, NewPermanentError("catalog rejected by policy", err).WithCode(ErrCodePolicyDenied)
		}
	}

	return o.executor.Apply(ctx, plan.Catalog, applier, opts), nil
}

// Run compiles cfg and applies it in one step.
func (o *Orchestrator) Run(ctx context.Context, cfg *config.Config, applier ResourceApplier, opts ApplyOptions) (*RunReport, error) {
	plan, err := o.Compile(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to compile: %w", err)
	}
	return o.Apply(ctx, plan, applier, opts)
}
