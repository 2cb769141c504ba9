package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/planforgelabs/planforged/internal/assemble"
	"github.com/planforgelabs/planforged/internal/completion"
	"github.com/planforgelabs/planforged/internal/events"
	"github.com/planforgelabs/planforged/internal/logging"
	"github.com/planforgelabs/planforged/internal/plan"
	"github.com/planforgelabs/planforged/internal/sectionplan"
)

const instrumentationName = "github.com/planforgelabs/planforged/internal/orchestrator"

var (
	// ErrNotEligible means start-generation was called on a plan that is
	// not paid (and not already running or finished).
	ErrNotEligible = errors.New("plan is not eligible for generation")

	// ErrNoActiveRun means cancel was requested for a plan with no run in
	// flight.
	ErrNoActiveRun = errors.New("no active generation run")
)

// Config configures the orchestrator.
type Config struct {
	// SectionTimeout bounds a single provider call. A timeout counts as a
	// section-level failure, not a run abort.
	SectionTimeout time.Duration

	// MinSuccessRatio is the fraction of sections that must generate
	// successfully for the run to end Completed rather than
	// PartiallyFailed.
	MinSuccessRatio float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SectionTimeout:  3 * time.Minute,
		MinSuccessRatio: 0.5,
	}
}

// Orchestrator starts, tracks, and cancels generation runs. Safe for
// concurrent use; at most one run is active per plan.
type Orchestrator struct {
	config    *Config
	store     plan.Store
	provider  completion.Provider
	publisher events.Publisher
	logger    *zap.Logger

	tracer          trace.Tracer
	meter           metric.Meter
	runsStarted     metric.Int64Counter
	runsFinished    metric.Int64Counter
	sectionFailures metric.Int64Counter
	runDuration     metric.Float64Histogram

	mu     sync.Mutex
	active map[uuid.UUID]context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Orchestrator.
func New(cfg *Config, store plan.Store, provider completion.Provider, publisher events.Publisher, logger *zap.Logger) (*Orchestrator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if store == nil {
		return nil, errors.New("plan store is required")
	}
	if provider == nil {
		return nil, errors.New("completion provider is required")
	}
	if publisher == nil {
		publisher = events.NewNop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		config:    cfg,
		store:     store,
		provider:  provider,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
		active:    make(map[uuid.UUID]context.CancelFunc),
	}
	o.initMetrics()
	return o, nil
}

func (o *Orchestrator) initMetrics() {
	var err error

	o.runsStarted, err = o.meter.Int64Counter(
		"planforged.generation.runs_started_total",
		metric.WithDescription("Generation runs started"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		o.logger.Warn("failed to create runs started counter", zap.Error(err))
	}

	o.runsFinished, err = o.meter.Int64Counter(
		"planforged.generation.runs_finished_total",
		metric.WithDescription("Generation runs finished, labeled by terminal state"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		o.logger.Warn("failed to create runs finished counter", zap.Error(err))
	}

	o.sectionFailures, err = o.meter.Int64Counter(
		"planforged.generation.section_failures_total",
		metric.WithDescription("Section provider calls that fell back to a placeholder"),
		metric.WithUnit("{section}"),
	)
	if err != nil {
		o.logger.Warn("failed to create section failures counter", zap.Error(err))
	}

	o.runDuration, err = o.meter.Float64Histogram(
		"planforged.generation.run_duration_seconds",
		metric.WithDescription("Wall time of a full generation run"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(5, 15, 30, 60, 120, 300, 600, 1200),
	)
	if err != nil {
		o.logger.Warn("failed to create run duration histogram", zap.Error(err))
	}
}

// Start is the gate in front of generation. It advances paid -> generating
// with a single conditional update and detaches the run from the caller's
// request. Idempotent: a plan already generating or finished with output
// returns nil without starting a second run; anything before paid returns
// ErrNotEligible.
func (o *Orchestrator) Start(ctx context.Context, planID uuid.UUID) error {
	p, err := o.store.Get(ctx, planID)
	if err != nil {
		return err
	}
	ctx = logging.WithPlanID(logging.WithUserID(ctx, p.UserID), planID)

	specs := sectionplan.Resolve(p.Tier)

	if err := o.store.StartRun(ctx, planID, len(specs)); err != nil {
		if !errors.Is(err, plan.ErrInvalidTransition) {
			return err
		}
		// Lost the conditional update: either a duplicate request or an
		// ineligible state. Re-read to tell them apart.
		current, gerr := o.store.Get(ctx, planID)
		if gerr != nil {
			return gerr
		}
		switch current.State {
		case plan.StateGenerating, plan.StateCompleted:
			return nil
		default:
			return fmt.Errorf("plan %s is %s: %w", planID, current.State, ErrNotEligible)
		}
	}

	// Detach from the request: the run must survive the caller's context.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	o.mu.Lock()
	o.active[planID] = cancel
	o.mu.Unlock()

	if o.runsStarted != nil {
		o.runsStarted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tier", string(p.Tier)),
		))
	}

	o.logger.Info("generation started", append(logging.ContextFields(ctx),
		zap.String("tier", string(p.Tier)),
		zap.Int("sections", len(specs)),
	)...)

	o.publisher.Publish(ctx, events.Event{
		Type:   events.TypeGenerationStarted,
		PlanID: planID.String(),
		State:  string(plan.StateGenerating),
		Total:  len(specs),
	})

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		defer func() {
			o.mu.Lock()
			delete(o.active, planID)
			o.mu.Unlock()
		}()
		o.run(runCtx, p, specs)
	}()

	return nil
}

// Cancel aborts a plan's active run. The run observes the cancellation at
// the next section boundary and terminates Failed.
func (o *Orchestrator) Cancel(planID uuid.UUID) error {
	o.mu.Lock()
	cancel, ok := o.active[planID]
	o.mu.Unlock()

	if !ok {
		return ErrNoActiveRun
	}
	cancel()
	o.logger.Info("generation cancel requested", zap.String("plan_id", planID.String()))
	return nil
}

// ActiveRuns returns the number of runs currently in flight.
func (o *Orchestrator) ActiveRuns() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// Shutdown cancels every active run and waits for them to settle, bounded
// by ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	for _, cancel := range o.active {
		cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out waiting for runs: %w", ctx.Err())
	}
}

// run executes the section loop. Store write failures and cancellation are
// orchestration-fatal; a provider failure for one section is not.
func (o *Orchestrator) run(ctx context.Context, p *plan.Plan, specs []sectionplan.SectionSpec) {
	start := time.Now()

	ctx, span := o.tracer.Start(ctx, "generation.run", trace.WithAttributes(
		attribute.String("plan_id", p.ID.String()),
		attribute.String("tier", string(p.Tier)),
		attribute.Int("sections", len(specs)),
	))
	defer span.End()

	total := len(specs)
	sections := make([]assemble.Section, 0, total)
	failed := 0

	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			o.fail(ctx, p.ID, span, fmt.Errorf("run cancelled: %w", err))
			return
		}

		text, err := o.generateSection(ctx, p, spec, total)
		if err != nil {
			if ctx.Err() != nil {
				// The run was cancelled, not the section.
				o.fail(ctx, p.ID, span, fmt.Errorf("run cancelled: %w", ctx.Err()))
				return
			}
			failed++
			text = assemble.Placeholder(spec.Title)

			if o.sectionFailures != nil {
				o.sectionFailures.Add(ctx, 1, metric.WithAttributes(
					attribute.String("tier", string(p.Tier)),
				))
			}
			o.logger.Warn("section generation failed, continuing with placeholder", append(logging.ContextFields(ctx),
				zap.Int("section", spec.Index+1),
				zap.String("title", spec.Title),
				zap.Error(err),
			)...)
			o.publisher.Publish(ctx, events.Event{
				Type:    events.TypeSectionFailed,
				PlanID:  p.ID.String(),
				Section: spec.Index + 1,
				Total:   total,
				Error:   err.Error(),
			})
		} else {
			o.publisher.Publish(ctx, events.Event{
				Type:    events.TypeSectionCompleted,
				PlanID:  p.ID.String(),
				Section: spec.Index + 1,
				Total:   total,
			})
		}

		sections = append(sections, assemble.Section{
			Title:  spec.Title,
			Body:   text,
			Failed: err != nil,
		})

		done := spec.Index + 1
		progress := done * 100 / total
		if err := o.store.UpdateProgress(ctx, p.ID, progress, stageForProgress(progress)); err != nil {
			o.fail(ctx, p.ID, span, fmt.Errorf("progress write failed: %w", err))
			return
		}
	}

	doc := assemble.Document(assemble.Meta{
		BusinessName: p.Intake.BusinessName,
		Industry:     p.Intake.Industry,
		Tier:         p.Tier,
		GeneratedAt:  time.Now(),
	}, sections)
	ref := assemble.ArtifactRef(p.ID)

	final := plan.StateCompleted
	if successRatio(total, failed) < o.config.MinSuccessRatio {
		final = plan.StatePartiallyFailed
	}

	if err := o.store.FinishGeneration(ctx, p.ID, final, doc, ref, failed); err != nil {
		o.fail(ctx, p.ID, span, fmt.Errorf("completion write failed: %w", err))
		return
	}

	duration := time.Since(start)
	if o.runsFinished != nil {
		o.runsFinished.Add(ctx, 1, metric.WithAttributes(
			attribute.String("state", string(final)),
		))
	}
	if o.runDuration != nil {
		o.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
			attribute.String("state", string(final)),
		))
	}

	o.logger.Info("generation finished", append(logging.ContextFields(ctx),
		zap.String("state", string(final)),
		zap.Int("sections_failed", failed),
		zap.Duration("duration", duration),
	)...)

	o.publisher.Publish(ctx, events.Event{
		Type:   events.TypeGenerationCompleted,
		PlanID: p.ID.String(),
		State:  string(final),
		Total:  total,
	})

	span.SetAttributes(attribute.String("final_state", string(final)))
}

// generateSection performs one provider call under its own deadline.
func (o *Orchestrator) generateSection(ctx context.Context, p *plan.Plan, spec sectionplan.SectionSpec, total int) (string, error) {
	ctx, span := o.tracer.Start(ctx, "generation.section", trace.WithAttributes(
		attribute.Int("section", spec.Index+1),
		attribute.String("title", spec.Title),
	))
	defer span.End()

	prompt := sectionplan.BuildPrompt(spec, total, p.Tier, p.Intake)

	callCtx, cancel := context.WithTimeout(ctx, o.config.SectionTimeout)
	defer cancel()

	text, err := o.provider.Complete(callCtx, prompt, spec.MaxTokens)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return text, nil
}

// fail marks the plan failed. Writes use a detached context so a cancelled
// run can still record its terminal state.
func (o *Orchestrator) fail(ctx context.Context, planID uuid.UUID, span trace.Span, cause error) {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := o.store.Transition(writeCtx, planID, plan.StateGenerating, plan.StateFailed); err != nil {
		o.logger.Error("failed to mark plan failed", append(logging.ContextFields(writeCtx),
			zap.Error(err),
		)...)
	}

	if o.runsFinished != nil {
		o.runsFinished.Add(writeCtx, 1, metric.WithAttributes(
			attribute.String("state", string(plan.StateFailed)),
		))
	}

	o.logger.Error("generation failed", append(logging.ContextFields(ctx),
		zap.Error(cause),
	)...)

	o.publisher.Publish(writeCtx, events.Event{
		Type:   events.TypeGenerationFailed,
		PlanID: planID.String(),
		State:  string(plan.StateFailed),
		Error:  cause.Error(),
	})
}

// successRatio is the fraction of sections that generated successfully.
func successRatio(total, failed int) float64 {
	if total == 0 {
		return 0
	}
	return float64(total-failed) / float64(total)
}

// stageForProgress derives the human-readable stage label from numeric
// progress (percent). The number is the source of truth; the label is
// presentation only.
func stageForProgress(progress int) string {
	switch {
	case progress < 30:
		return "analyzing"
	case progress < 70:
		return "building"
	case progress < 90:
		return "proofreading"
	default:
		return "finalizing"
	}
}
