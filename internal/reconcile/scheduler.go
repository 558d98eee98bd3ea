package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/inventory-sync/internal/event"
	"github.com/example/inventory-sync/internal/infrastructure/store"
	"github.com/example/inventory-sync/internal/report"
)

var ErrCycleInProgress = errors.New("reconciliation cycle already running")

// State is the scheduler's observable cycle phase
type State string

const (
	StateIdle     State = "idle"
	StateFetching State = "fetching"
	StateDiffing  State = "diffing"
	StateEmitting State = "emitting"
)

// Snapshotter fetches authoritative quantities from the platform
type Snapshotter interface {
	FetchInventorySnapshot(ctx context.Context, itemIDs []string) (map[string]int, error)
}

// Publisher enqueues drift corrections onto the same queue as every other
// inventory event
type Publisher interface {
	Publish(ctx context.Context, key string, payload any) error
}

// Reporter mails cycle summaries
type Reporter interface {
	SendCycleSummary(s report.CycleSummary) error
}

// Config holds the daily schedule and retry policy
type Config struct {
	DailyHour     int
	DailyMinute   int
	CheckInterval time.Duration
	RetryBackoff  time.Duration
	MaxBackoff    time.Duration
	BatchSize     int
}

func DefaultConfig() Config {
	return Config{
		DailyHour:     2,
		DailyMinute:   0,
		CheckInterval: time.Minute,
		RetryBackoff:  5 * time.Minute,
		MaxBackoff:    time.Hour,
		BatchSize:     250,
	}
}

// CycleResult summarizes one reconciliation cycle
type CycleResult struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Checked    int       `json:"checked"`
	Drifted    int       `json:"drifted"`
	Skipped    int       `json:"skipped"`
}

// Scheduler runs the nightly drift reconciliation. It compares authoritative
// platform quantities against local state and enqueues correction events; it
// never writes product rows itself. Correction keys are derived from the
// product and the UTC cycle date, so a retried or overlapping cycle on the
// same day cannot double-apply.
type Scheduler struct {
	products  store.ProductStore
	snapshots Snapshotter
	producer  Publisher
	reporter  Reporter // optional
	logger    *zap.Logger
	cfg       Config

	mu         sync.Mutex
	running    bool
	state      State
	lastRunDay string // UTC yyyy-mm-dd of the last completed cycle
	backoff    time.Duration
	retryAt    time.Time
}

func New(
	products store.ProductStore,
	snapshots Snapshotter,
	producer Publisher,
	logger *zap.Logger,
	cfg Config,
) *Scheduler {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultConfig().CheckInterval
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	if cfg.MaxBackoff < cfg.RetryBackoff {
		cfg.MaxBackoff = DefaultConfig().MaxBackoff
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Scheduler{
		products:  products,
		snapshots: snapshots,
		producer:  producer,
		logger:    logger,
		cfg:       cfg,
		state:     StateIdle,
	}
}

// WithReporter enables cycle summary emails
func (s *Scheduler) WithReporter(reporter Reporter) *Scheduler {
	s.reporter = reporter
	return s
}

// State returns the current cycle phase
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run drives the daily schedule until the context is cancelled. A minute
// ticker checks whether the configured time has passed and today's cycle has
// not run yet; a failed cycle is retried with growing backoff instead of
// waiting for tomorrow.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("reconciliation scheduler started",
		zap.Int("daily_hour", s.cfg.DailyHour),
		zap.Int("daily_minute", s.cfg.DailyMinute))

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if !s.due(now) {
				continue
			}
			if _, err := s.RunCycle(ctx); err != nil {
				if errors.Is(err, ErrCycleInProgress) || ctx.Err() != nil {
					continue
				}
				s.scheduleRetry(now)
				s.logger.Error("reconciliation cycle failed", zap.Error(err),
					zap.Time("retry_at", s.retryAt))
			}
		}
	}
}

// due reports whether a cycle should start now
func (s *Scheduler) due(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}
	if !s.retryAt.IsZero() {
		return !now.Before(s.retryAt)
	}

	today := now.UTC().Format("2006-01-02")
	if s.lastRunDay == today {
		return false
	}
	target := time.Date(now.Year(), now.Month(), now.Day(),
		s.cfg.DailyHour, s.cfg.DailyMinute, 0, 0, now.Location())
	return !now.Before(target)
}

func (s *Scheduler) scheduleRetry(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backoff == 0 {
		s.backoff = s.cfg.RetryBackoff
	} else {
		s.backoff *= 2
		if s.backoff > s.cfg.MaxBackoff {
			s.backoff = s.cfg.MaxBackoff
		}
	}
	s.retryAt = now.Add(s.backoff)
}

// RunCycle executes one full reconciliation cycle. Only one cycle runs at a
// time; a second caller gets ErrCycleInProgress.
func (s *Scheduler) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !s.begin() {
		return nil, ErrCycleInProgress
	}
	defer s.end()

	result := &CycleResult{StartedAt: time.Now()}
	cycleDate := result.StartedAt.UTC()

	s.setState(StateFetching)
	linked, err := s.products.GetAllLinked(ctx)
	if err != nil {
		return nil, s.abort(result, fmt.Errorf("failed to list linked products: %w", err))
	}
	if len(linked) == 0 {
		s.logger.Info("no linked products, nothing to reconcile")
		s.complete(result, cycleDate)
		return result, nil
	}

	snapshot, err := s.fetchSnapshot(ctx, linked)
	if err != nil {
		return nil, s.abort(result, err)
	}

	s.setState(StateDiffing)
	var corrections []*event.InventoryEvent
	for i := range linked {
		p := &linked[i]
		authoritative, ok := snapshot[*p.PlatformID]
		if !ok {
			// Absent from an otherwise healthy snapshot: skip, do not
			// treat missing data as zero
			result.Skipped++
			s.logger.Warn("product missing from snapshot",
				zap.String("product_id", p.ID.String()),
				zap.String("platform_id", *p.PlatformID))
			continue
		}
		result.Checked++
		if authoritative == p.InventoryQuantity {
			continue
		}

		quantity := authoritative
		corrections = append(corrections, &event.InventoryEvent{
			Source:         event.SourceReconciliation,
			ProductID:      p.ID,
			PlatformID:     *p.PlatformID,
			SKU:            p.SKU,
			NewQuantity:    &quantity,
			IdempotencyKey: event.ReconciliationKey(p.ID, cycleDate),
			OccurredAt:     time.Now(),
			Notes: fmt.Sprintf("drift correction: local %d, authoritative %d",
				p.InventoryQuantity, authoritative),
		})
	}

	s.setState(StateEmitting)
	for _, ev := range corrections {
		if err := s.producer.Publish(ctx, ev.ProductID.String(), ev); err != nil {
			// Safe to rerun: already-published corrections carry today's
			// key and will be discarded as duplicates
			return nil, s.abort(result, fmt.Errorf("failed to enqueue correction: %w", err))
		}
		result.Drifted++
	}

	s.complete(result, cycleDate)
	s.logger.Info("reconciliation cycle finished",
		zap.Int("checked", result.Checked),
		zap.Int("drifted", result.Drifted),
		zap.Int("skipped", result.Skipped),
		zap.Duration("duration", result.FinishedAt.Sub(result.StartedAt)))
	return result, nil
}

// fetchSnapshot pulls authoritative quantities in batches. Any batch failure
// aborts the whole cycle; a partial snapshot would make missing products
// indistinguishable from unlinked ones.
func (s *Scheduler) fetchSnapshot(ctx context.Context, linked []store.Product) (map[string]int, error) {
	ids := make([]string, 0, len(linked))
	for i := range linked {
		ids = append(ids, *linked[i].PlatformID)
	}

	snapshot := make(map[string]int, len(ids))
	for start := 0; start < len(ids); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch, err := s.snapshots.FetchInventorySnapshot(ctx, ids[start:end])
		if err != nil {
			return nil, fmt.Errorf("snapshot batch %d-%d failed: %w", start, end, err)
		}
		for id, quantity := range batch {
			snapshot[id] = quantity
		}
	}
	return snapshot, nil
}

func (s *Scheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Scheduler) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.state = StateIdle
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Scheduler) complete(result *CycleResult, cycleDate time.Time) {
	result.FinishedAt = time.Now()

	s.mu.Lock()
	s.lastRunDay = cycleDate.Format("2006-01-02")
	s.backoff = 0
	s.retryAt = time.Time{}
	s.mu.Unlock()

	s.report(report.CycleSummary{
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
		Checked:    result.Checked,
		Drifted:    result.Drifted,
		Skipped:    result.Skipped,
	})
}

func (s *Scheduler) abort(result *CycleResult, err error) error {
	result.FinishedAt = time.Now()
	s.report(report.CycleSummary{
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
		Checked:    result.Checked,
		Drifted:    result.Drifted,
		Skipped:    result.Skipped,
		Aborted:    true,
		Reason:     err.Error(),
	})
	return err
}

func (s *Scheduler) report(summary report.CycleSummary) {
	if s.reporter == nil {
		return
	}
	if err := s.reporter.SendCycleSummary(summary); err != nil {
		s.logger.Warn("failed to send cycle summary", zap.Error(err))
	}
}
