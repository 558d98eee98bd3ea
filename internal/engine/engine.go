package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/inventory-sync/internal/event"
	"github.com/example/inventory-sync/internal/infrastructure/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrConcurrentModification means the optimistic retry budget was
	// exhausted. The message stays uncommitted and is retried later.
	ErrConcurrentModification = errors.New("concurrent modification retry budget exhausted")

	errDeadLetterFailed = errors.New("failed to record dead letter")
)

// LedgerArchive mirrors committed log entries to secondary storage
type LedgerArchive interface {
	Archive(ctx context.Context, entry *store.LogEntry) error
}

// Config holds retry budgets for the engine
type Config struct {
	MaxVersionRetries int
	MaxStorageRetries int
	RetryBackoff      time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxVersionRetries: 3,
		MaxStorageRetries: 5,
		RetryBackoff:      500 * time.Millisecond,
	}
}

// Engine applies inventory events to products. It is the only writer of
// product quantities; every applied event produces exactly one log entry and
// one idempotency marker in the same transaction.
type Engine struct {
	products    store.ProductStore
	mutations   store.MutationStore
	processed   store.ProcessedEventStore
	deadLetters store.DeadLetterStore
	archive     LedgerArchive // optional
	logger      *zap.Logger
	cfg         Config
}

func New(
	products store.ProductStore,
	mutations store.MutationStore,
	processed store.ProcessedEventStore,
	deadLetters store.DeadLetterStore,
	logger *zap.Logger,
	cfg Config,
) *Engine {
	if cfg.MaxVersionRetries <= 0 {
		cfg.MaxVersionRetries = DefaultConfig().MaxVersionRetries
	}
	if cfg.MaxStorageRetries <= 0 {
		cfg.MaxStorageRetries = DefaultConfig().MaxStorageRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	return &Engine{
		products:    products,
		mutations:   mutations,
		processed:   processed,
		deadLetters: deadLetters,
		logger:      logger,
		cfg:         cfg,
	}
}

// WithArchive enables post-commit mirroring of log entries
func (e *Engine) WithArchive(archive LedgerArchive) *Engine {
	e.archive = archive
	return e
}

// HandleMessage implements kafka.MessageHandler. Terminal failures are
// dead-lettered and acknowledged so they never block the partition; a
// returned error leaves the message uncommitted and the consumer retries it
// in place before touching anything behind it.
func (e *Engine) HandleMessage(ctx context.Context, key, value []byte) error {
	var ev event.InventoryEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		e.logger.Warn("dropping undecodable event", zap.Error(err))
		return e.deadLetter(ctx, "", "", fmt.Sprintf("undecodable event: %v", err), value)
	}

	if !ev.Source.Valid() || ev.ProductID == uuid.Nil {
		e.logger.Warn("dropping malformed event",
			zap.String("source", string(ev.Source)),
			zap.String("idempotency_key", ev.IdempotencyKey))
		return e.deadLetter(ctx, ev.IdempotencyKey, string(ev.Source), "malformed event", value)
	}

	entry, err := e.applyWithRetry(ctx, &ev, value)
	if err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			e.logger.Error("version conflicts exhausted, leaving event for retry",
				zap.String("product_id", ev.ProductID.String()),
				zap.String("idempotency_key", ev.IdempotencyKey))
			return err
		}
		if errors.Is(err, errDeadLetterFailed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		// Terminal and already dead-lettered: acknowledge
		return nil
	}

	if entry == nil {
		e.logger.Debug("duplicate event acknowledged",
			zap.String("idempotency_key", ev.IdempotencyKey))
		return nil
	}

	e.logger.Info("applied inventory event",
		zap.String("product_id", entry.ProductID.String()),
		zap.String("change_type", entry.ChangeType),
		zap.Int("previous_quantity", entry.PreviousQuantity),
		zap.Int("new_quantity", entry.NewQuantity),
		zap.Int("change", entry.Change))

	if e.archive != nil {
		if err := e.archive.Archive(ctx, entry); err != nil {
			// Postgres is the system of record; archive failures only log
			e.logger.Warn("failed to archive log entry",
				zap.String("entry_id", entry.ID.String()), zap.Error(err))
		}
	}
	return nil
}

// applyWithRetry wraps Apply with the transient-error backoff loop. Terminal
// failures are dead-lettered here; the returned error is nil in that case so
// the caller acknowledges.
func (e *Engine) applyWithRetry(ctx context.Context, ev *event.InventoryEvent, raw []byte) (*store.LogEntry, error) {
	backoff := e.cfg.RetryBackoff
	var lastErr error

	for attempt := 0; attempt < e.cfg.MaxStorageRetries; attempt++ {
		entry, err := e.Apply(ctx, ev)
		if err == nil {
			return entry, nil
		}
		if errors.Is(err, ErrConcurrentModification) {
			return nil, err
		}
		if isTerminal(err) {
			if dlErr := e.deadLetter(ctx, ev.IdempotencyKey, string(ev.Source), err.Error(), raw); dlErr != nil {
				return nil, dlErr
			}
			return nil, err
		}

		lastErr = err
		e.logger.Warn("transient failure applying event, backing off",
			zap.String("product_id", ev.ProductID.String()),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	reason := fmt.Sprintf("storage retries exhausted: %v", lastErr)
	if dlErr := e.deadLetter(ctx, ev.IdempotencyKey, string(ev.Source), reason, raw); dlErr != nil {
		return nil, dlErr
	}
	return nil, lastErr
}

// Apply applies a single event. A nil entry with nil error means the event
// was a duplicate and nothing changed. Version conflicts are retried from a
// fresh read up to the configured budget.
func (e *Engine) Apply(ctx context.Context, ev *event.InventoryEvent) (*store.LogEntry, error) {
	if ev.IdempotencyKey != "" {
		seen, err := e.processed.Exists(ctx, ev.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if seen {
			return nil, nil
		}
	}

	for attempt := 0; attempt <= e.cfg.MaxVersionRetries; attempt++ {
		product, err := e.products.GetByID(ctx, ev.ProductID)
		if err != nil {
			if errors.Is(err, store.ErrProductNotFound) {
				return nil, fmt.Errorf("%w: product %s", event.ErrUnknownProduct, ev.ProductID)
			}
			return nil, err
		}

		newQuantity, notes, err := resolveQuantity(ev, product)
		if err != nil {
			return nil, err
		}

		result, err := e.mutations.ApplyMutation(ctx, store.Mutation{
			ProductID:        product.ID,
			ExpectedVersion:  product.Version,
			PreviousQuantity: product.InventoryQuantity,
			NewQuantity:      newQuantity,
			ChangeType:       string(ev.Source),
			IdempotencyKey:   ev.IdempotencyKey,
			Notes:            notes,
		})
		if err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				continue
			}
			return nil, err
		}
		if result.Duplicate {
			return nil, nil
		}
		return result.Entry, nil
	}

	return nil, ErrConcurrentModification
}

// resolveQuantity computes the target quantity for the event against the
// product's current state. Results below zero are clamped to zero and the
// clamp is flagged in the notes; authoritative platforms occasionally report
// inconsistent negative deltas and losing the whole update over them would
// be worse than recording a floor.
func resolveQuantity(ev *event.InventoryEvent, product *store.Product) (int, string, error) {
	var target int
	switch ev.Source {
	case event.SourceWebhook, event.SourceImport, event.SourceReconciliation:
		if ev.NewQuantity == nil {
			return 0, "", fmt.Errorf("%w: %s event without quantity", event.ErrMalformedEvent, ev.Source)
		}
		target = *ev.NewQuantity
	case event.SourceManual:
		if ev.Delta == nil {
			return 0, "", fmt.Errorf("%w: manual event without delta", event.ErrMalformedEvent)
		}
		target = product.InventoryQuantity + *ev.Delta
	default:
		return 0, "", fmt.Errorf("%w: unknown source %q", event.ErrMalformedEvent, ev.Source)
	}

	notes := ev.Notes
	if target < 0 {
		clampNote := fmt.Sprintf("clamped negative quantity %d to 0", target)
		if notes != "" {
			notes += "; " + clampNote
		} else {
			notes = clampNote
		}
		target = 0
	}
	return target, notes, nil
}

func isTerminal(err error) bool {
	return errors.Is(err, event.ErrUnknownProduct) || errors.Is(err, event.ErrMalformedEvent)
}

func (e *Engine) deadLetter(ctx context.Context, key, source, reason string, payload []byte) error {
	err := e.deadLetters.Add(ctx, &store.DeadLetter{
		IdempotencyKey: key,
		Source:         source,
		Reason:         reason,
		Payload:        payload,
	})
	if err != nil {
		e.logger.Error("failed to record dead letter", zap.Error(err))
		// Keep the message uncommitted rather than silently dropping it
		return fmt.Errorf("%w: %v", errDeadLetterFailed, err)
	}
	return nil
}
