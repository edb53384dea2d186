/*
Package ingest pulls indicator observations from external sources.

PURPOSE:
  Periodically fetches observations from registered sources (statistical
  service feeds, bulk files) and writes them through the engine so
  derived indicators recompute and every change lands in the audit log.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Sources fetch concurrently; one failing source never blocks another
  - Each cycle is recorded as a run with per-source outcomes
  - Writes are attributed to the system actor

USAGE:
  runner := ingest.NewRunner(engine, store, logger)
  runner.Register(source)
  runner.Start()
  // ... later
  runner.Stop()

SEE ALSO:
  - core/engine.go: WriteDataPoints applies observations
*/
package ingest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/indicator-engine/core"
)

// Observation is one raw value from a source, keyed by indicator code.
type Observation struct {
	Code       core.Code
	Period     core.Period
	Value      core.Value
	IsEstimate bool
}

// Source supplies observations for one external feed.
type Source interface {
	// Name identifies the source in run records and logs.
	Name() string

	// Fetch returns all currently available observations. Fetch must be
	// safe to call repeatedly; the runner deduplicates via the engine's
	// unchanged-value check.
	Fetch(ctx context.Context) ([]Observation, error)
}

// =============================================================================
// RUN RECORDS
// =============================================================================

type SourceResult struct {
	Source  string `json:"source"`
	Fetched int    `json:"fetched"`
	Applied int    `json:"applied"`
	Skipped int    `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

// Run is the record of one ingestion cycle.
type Run struct {
	ID          string         `json:"id"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Status      string         `json:"status"` // "completed" or "failed"
	Results     []SourceResult `json:"results"`
}

// =============================================================================
// RUNNER
// =============================================================================

const keepRuns = 50

type Runner struct {
	Engine   *core.Engine
	Store    core.Store
	Interval time.Duration
	Log      *zap.Logger

	sources []Source

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	runsMu sync.Mutex
	runs   []Run
}

func NewRunner(engine *core.Engine, store core.Store, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		Engine:   engine,
		Store:    store,
		Interval: time.Hour,
		Log:      log,
		stop:     make(chan struct{}),
	}
}

// Register adds a source. Not safe to call after Start.
func (r *Runner) Register(src Source) {
	r.sources = append(r.sources, src)
}

// Start begins periodic ingestion. The first cycle runs immediately.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sources) == 0 {
		r.Log.Info("ingest: no sources registered, not starting")
		return
	}

	r.ticker = time.NewTicker(r.Interval)
	r.wg.Add(1)
	go r.loop()

	r.Log.Info("ingest: started", zap.Duration("interval", r.Interval), zap.Int("sources", len(r.sources)))
}

// Stop halts the runner and waits for an in-flight cycle to finish.
// Safe to call more than once and on a runner that never started.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ticker == nil {
		return
	}
	r.ticker.Stop()
	r.ticker = nil
	close(r.stop)
	r.wg.Wait()
	r.Log.Info("ingest: stopped")
}

func (r *Runner) loop() {
	defer r.wg.Done()

	r.RunOnce(context.Background())

	for {
		select {
		case <-r.ticker.C:
			r.RunOnce(context.Background())
		case <-r.stop:
			return
		}
	}
}

// RunOnce fetches every source concurrently, applies the observations,
// and records the cycle. Also used by the manual-trigger endpoint.
func (r *Runner) RunOnce(ctx context.Context) Run {
	run := Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Status:    "completed",
	}

	results := make([]SourceResult, len(r.sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range r.sources {
		i, src := i, src
		g.Go(func() error {
			results[i] = r.runSource(gctx, src)
			return nil
		})
	}
	g.Wait()

	for _, res := range results {
		if res.Error != "" {
			run.Status = "failed"
		}
	}
	run.Results = results
	run.CompletedAt = time.Now().UTC()

	r.record(run)
	r.Log.Info("ingest: cycle complete",
		zap.String("run", run.ID),
		zap.String("status", run.Status),
		zap.Duration("took", run.CompletedAt.Sub(run.StartedAt)))
	return run
}

func (r *Runner) runSource(ctx context.Context, src Source) SourceResult {
	res := SourceResult{Source: src.Name()}

	obs, err := src.Fetch(ctx)
	if err != nil {
		res.Error = err.Error()
		r.Log.Warn("ingest: fetch failed", zap.String("source", src.Name()), zap.Error(err))
		return res
	}
	res.Fetched = len(obs)

	for code, inputs := range groupByCode(obs) {
		ind, err := r.Store.GetIndicatorByCode(ctx, code)
		if err != nil {
			if core.IsNotFound(err) {
				res.Skipped += len(inputs)
				r.Log.Debug("ingest: unknown code", zap.String("source", src.Name()), zap.String("code", string(code)))
				continue
			}
			res.Error = err.Error()
			return res
		}
		events, err := r.Engine.WriteDataPoints(ctx, ind.ID, inputs, core.SystemActor())
		if err != nil {
			res.Error = err.Error()
			r.Log.Warn("ingest: write failed",
				zap.String("source", src.Name()),
				zap.String("code", string(code)),
				zap.Error(err))
			return res
		}
		if len(events) > 0 {
			res.Applied += len(inputs)
		} else {
			res.Skipped += len(inputs)
		}
	}
	return res
}

// groupByCode batches observations so each indicator gets one write and
// therefore at most one audit event per cycle.
func groupByCode(obs []Observation) map[core.Code][]core.DataPointInput {
	grouped := map[core.Code][]core.DataPointInput{}
	for _, o := range obs {
		grouped[o.Code] = append(grouped[o.Code], core.DataPointInput{
			Period:     o.Period,
			Value:      o.Value,
			IsEstimate: o.IsEstimate,
		})
	}
	for _, inputs := range grouped {
		sort.Slice(inputs, func(i, j int) bool { return inputs[i].Period < inputs[j].Period })
	}
	return grouped
}

func (r *Runner) record(run Run) {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()
	r.runs = append(r.runs, run)
	if len(r.runs) > keepRuns {
		r.runs = r.runs[len(r.runs)-keepRuns:]
	}
}

// Runs returns recent ingestion runs, newest first.
func (r *Runner) Runs() []Run {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()
	out := make([]Run, len(r.runs))
	for i, run := range r.runs {
		out[len(r.runs)-1-i] = run
	}
	return out
}
