// ABOUTME: RecallExecutor deletes sent messages through the platform capability
// ABOUTME: Deletes the earlier message first, waits a settle delay, then the next

package recall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/coven-recall/internal/ledger"
	"github.com/2389/coven-recall/internal/metrics"
)

// Default timings.
const (
	DefaultSettleDelay   = 500 * time.Millisecond
	DefaultDeleteTimeout = 10 * time.Second
)

var (
	// ErrNotSupported means the conversation's platform cannot delete messages.
	ErrNotSupported = errors.New("recall: platform does not support message deletion")
	// ErrInsufficientHistory means the ledger holds fewer entries than needed.
	ErrInsufficientHistory = errors.New("recall: not enough recorded messages")
	// ErrTailMismatch means the newest ledger entry is not the expected message.
	ErrTailMismatch = errors.New("recall: latest recorded message is not the expected one")
	// ErrPartialFailure means some but not all deletions failed.
	ErrPartialFailure = errors.New("recall: some deletions failed")
	// ErrRecallFailed means every deletion failed.
	ErrRecallFailed = errors.New("recall: deletion failed")
)

// Trigger names what started a recall. It is used in logs and metrics.
type Trigger string

const (
	TriggerManual  Trigger = "manual"
	TriggerInbound Trigger = "inbound"
	TriggerMarker  Trigger = "marker"
	TriggerSelf    Trigger = "self"
)

// Outcome classifies a recall execution.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomePartialFailure
	OutcomeFailure
	OutcomeNotSupported
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePartialFailure:
		return "partial_failure"
	case OutcomeFailure:
		return "failure"
	case OutcomeNotSupported:
		return "not_supported"
	default:
		return "unknown"
	}
}

// Failure is one deletion that did not succeed.
type Failure struct {
	MessageID string
	Err       error
}

// Result describes what a recall execution did.
type Result struct {
	Outcome  Outcome
	Deleted  []string
	Failures []Failure
}

// Err converts the outcome into an error, nil on success.
func (r *Result) Err() error {
	if r == nil {
		return nil
	}
	switch r.Outcome {
	case OutcomeSuccess:
		return nil
	case OutcomeNotSupported:
		return ErrNotSupported
	}

	msgs := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		msgs = append(msgs, fmt.Sprintf("%s: %v", f.MessageID, f.Err))
	}
	base := ErrRecallFailed
	if r.Outcome == OutcomePartialFailure {
		base = ErrPartialFailure
	}
	return fmt.Errorf("%w (%s)", base, strings.Join(msgs, "; "))
}

// ExecutorConfig holds executor settings.
type ExecutorConfig struct {
	SettleDelay   time.Duration
	DeleteTimeout time.Duration
	// SupportedPlatforms restricts deletion to these platform identifiers.
	// Empty means every registered platform that reports SupportsDeletion.
	SupportedPlatforms []string

	Clock   Clock
	Metrics *metrics.Metrics
}

// Executor performs recalls. Executions for the same conversation are
// serialized; different conversations run independently.
type Executor struct {
	registry  *ledger.Registry
	platforms map[string]Platform
	allowed   map[string]bool
	settle    time.Duration
	timeout   time.Duration
	clock     Clock
	metrics   *metrics.Metrics
	logger    *slog.Logger

	locks sync.Map // conversation key -> *sync.Mutex
}

// NewExecutor creates an executor over registry using the given platforms.
func NewExecutor(registry *ledger.Registry, platforms []Platform, cfg ExecutorConfig, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.DeleteTimeout <= 0 {
		cfg.DeleteTimeout = DefaultDeleteTimeout
	}

	e := &Executor{
		registry:  registry,
		platforms: make(map[string]Platform, len(platforms)),
		settle:    cfg.SettleDelay,
		timeout:   cfg.DeleteTimeout,
		clock:     cfg.Clock,
		metrics:   cfg.Metrics,
		logger:    logger.With("component", "recall"),
	}
	for _, p := range platforms {
		e.platforms[p.Name()] = p
	}
	if len(cfg.SupportedPlatforms) > 0 {
		e.allowed = make(map[string]bool, len(cfg.SupportedPlatforms))
		for _, name := range cfg.SupportedPlatforms {
			e.allowed[name] = true
		}
	}
	return e
}

// Supports reports whether messages on platform can be recalled.
func (e *Executor) Supports(platform string) bool {
	if e.allowed != nil && !e.allowed[platform] {
		return false
	}
	p, ok := e.platforms[platform]
	return ok && p.SupportsDeletion()
}

// SupportsConversation reports whether messages in the conversation can be
// recalled.
func (e *Executor) SupportsConversation(key string) bool {
	platform, _, ok := SplitConversationKey(key)
	return ok && e.Supports(platform)
}

// Recall deletes ids, given oldest first, from the conversation. ids must
// hold one or two identifiers. Successfully deleted ids are removed from the
// ledger; failed ones stay for a later manual retry.
func (e *Executor) Recall(ctx context.Context, key string, ids []string, trigger Trigger) (*Result, error) {
	if len(ids) == 0 || len(ids) > 2 {
		return nil, fmt.Errorf("recall: expected 1 or 2 message ids, got %d", len(ids))
	}
	platform, chatID, ok := e.resolve(key)
	if !ok {
		e.metrics.ObserveRecall(string(trigger), OutcomeNotSupported.String())
		return &Result{Outcome: OutcomeNotSupported}, ErrNotSupported
	}

	unlock := e.lock(key)
	defer unlock()

	return e.execute(ctx, key, platform, chatID, ids, trigger), nil
}

// RecallTail deletes the n most recent ledger entries of the conversation,
// oldest first. The entries are only inspected, never popped, before the
// deletions run; each is removed once its deletion succeeds. If expectTail is
// not empty the newest entry must carry that id.
func (e *Executor) RecallTail(ctx context.Context, key string, n int, expectTail string, trigger Trigger) (*Result, error) {
	if n < 1 || n > 2 {
		return nil, fmt.Errorf("recall: expected to recall 1 or 2 messages, got %d", n)
	}
	platform, chatID, ok := e.resolve(key)
	if !ok {
		e.metrics.ObserveRecall(string(trigger), OutcomeNotSupported.String())
		return &Result{Outcome: OutcomeNotSupported}, ErrNotSupported
	}

	unlock := e.lock(key)
	defer unlock()

	l, ok := e.registry.Lookup(key)
	if !ok || l.Len() < n {
		return nil, ErrInsufficientHistory
	}
	recent := l.LastN(n) // newest first
	if expectTail != "" && recent[0].MessageID != expectTail {
		return nil, ErrTailMismatch
	}

	ids := make([]string, 0, n)
	for i := len(recent) - 1; i >= 0; i-- {
		ids = append(ids, recent[i].MessageID)
	}
	return e.execute(ctx, key, platform, chatID, ids, trigger), nil
}

func (e *Executor) resolve(key string) (Platform, string, bool) {
	name, chatID, ok := SplitConversationKey(key)
	if !ok || !e.Supports(name) {
		e.logger.Warn("message recall not supported",
			"conversation", key,
			"platform", name,
		)
		return nil, "", false
	}
	return e.platforms[name], chatID, true
}

// execute runs the deletions. Must be called with the conversation lock held.
func (e *Executor) execute(ctx context.Context, key string, platform Platform, chatID string, ids []string, trigger Trigger) *Result {
	res := &Result{}

	for i, id := range ids {
		if i > 0 {
			if err := sleep(ctx, e.clock, e.settle); err != nil {
				for _, rest := range ids[i:] {
					res.Failures = append(res.Failures, Failure{MessageID: rest, Err: err})
				}
				break
			}
		}

		if err := e.deleteOne(ctx, key, platform, chatID, id); err != nil {
			res.Failures = append(res.Failures, Failure{MessageID: id, Err: err})
			continue
		}
		res.Deleted = append(res.Deleted, id)
	}

	switch {
	case len(res.Failures) == 0:
		res.Outcome = OutcomeSuccess
	case len(res.Deleted) == 0:
		res.Outcome = OutcomeFailure
	default:
		res.Outcome = OutcomePartialFailure
	}

	e.metrics.ObserveRecall(string(trigger), res.Outcome.String())
	e.logger.Info("recall finished",
		"conversation", key,
		"trigger", string(trigger),
		"outcome", res.Outcome.String(),
		"deleted", len(res.Deleted),
		"failed", len(res.Failures),
	)
	return res
}

func (e *Executor) deleteOne(ctx context.Context, key string, platform Platform, chatID, id string) error {
	dctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := e.clock.Now()
	err := platform.Delete(dctx, chatID, id)
	e.metrics.ObserveDeletion(platform.Name(), err == nil, e.clock.Now().Sub(start).Seconds())
	if err != nil {
		e.logger.Error("failed to delete message",
			"conversation", key,
			"message_id", id,
			"error", err,
		)
		return err
	}

	if l, ok := e.registry.Lookup(key); ok {
		l.Remove(id)
	}
	e.logger.Info("deleted message", "conversation", key, "message_id", id)
	return nil
}

func (e *Executor) lock(key string) func() {
	v, _ := e.locks.LoadOrStore(key, &sync.Mutex{})
	mu, _ := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
