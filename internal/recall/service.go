// ABOUTME: Recall service wiring the send hooks and the inbound marker command
// ABOUTME: Records sent message ids and fires self/target recalls asynchronously

package recall

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/coven-recall/internal/dedupe"
	"github.com/2389/coven-recall/internal/ledger"
	"github.com/2389/coven-recall/internal/marker"
	"github.com/2389/coven-recall/internal/metrics"
)

// DefaultIntentTTL bounds how long an intent waits for its post-send hook.
const DefaultIntentTTL = 5 * time.Minute

var (
	// ErrUnresolvedID means no identifier was available for a sent message.
	ErrUnresolvedID = errors.New("recall: sent message id could not be resolved")
	// ErrUnknownIntent means PostSend was called with an id PreSend never issued
	// (or one that already expired).
	ErrUnknownIntent = errors.New("recall: unknown intent")
)

// ServiceConfig holds service settings.
type ServiceConfig struct {
	Marker    string
	DedupeTTL time.Duration
	Clock     Clock
	Metrics   *metrics.Metrics
}

// Service implements the pre-send, post-send and inbound hooks.
type Service struct {
	exec     *Executor
	registry *ledger.Registry
	detector *marker.Detector
	claims   *dedupe.Cache
	intents  *intentTable
	clock    Clock
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// ctx outlives individual events so background recalls are not cut short
	// when the hook that started them returns.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewService creates the hook service.
func NewService(exec *Executor, registry *ledger.Registry, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = DefaultIntentTTL
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		exec:     exec,
		registry: registry,
		detector: marker.New(cfg.Marker),
		claims:   dedupe.New(cfg.DedupeTTL, 10_000, dedupe.WithClock(cfg.Clock.Now)),
		intents:  newIntentTable(cfg.DedupeTTL),
		clock:    cfg.Clock,
		metrics:  cfg.Metrics,
		logger:   logger.With("component", "recall-service"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Marker returns the marker token in use.
func (s *Service) Marker() string {
	return s.detector.Token()
}

// Outgoing is the pre-send decision for one message.
type Outgoing struct {
	// Text is what should be transmitted.
	Text string
	// Send is false when the message must be dropped entirely.
	Send bool
	// IntentID must be passed to PostSend (or Discard) once the send is done.
	IntentID string
	Kind     marker.Kind
}

// PreSend inspects the final text segment of an outgoing message. Markers are
// stripped; marker-only text is sent unchanged so that it can be recorded and
// recalled together with the message before it.
func (s *Service) PreSend(key, text string) Outgoing {
	res := s.detector.Detect(text)
	if res.Stripped() {
		s.metrics.ObserveMarker(res.Kind.String())
	}

	switch res.Kind {
	case marker.KindSuppressed:
		s.logger.Debug("outgoing message was only markers, suppressing", "conversation", key)
		return Outgoing{Send: false, Kind: res.Kind}
	case marker.KindTarget:
		text = strings.TrimSpace(text)
	case marker.KindSelf:
		text = res.Residual
	}

	in := s.intents.add(key, res.Kind, s.clock.Now())
	return Outgoing{Text: text, Send: true, IntentID: in.ID, Kind: res.Kind}
}

// PostSend records the identifier of a sent message and starts any recall
// its intent asked for. Candidates are the identifier sources the transport
// offers, in order; the first non-empty one wins. The returned id is the
// resolved one.
func (s *Service) PostSend(ctx context.Context, intentID string, candidates ...string) (string, error) {
	in, ok := s.intents.take(intentID)
	if !ok {
		s.logger.Warn("post-send for unknown intent", "intent_id", intentID)
		return "", ErrUnknownIntent
	}

	platform, _, _ := SplitConversationKey(in.ConversationKey)
	if !s.exec.Supports(platform) {
		// Nothing on this platform can be recalled, so nothing is recorded.
		return firstNonEmpty(candidates), nil
	}

	id := firstNonEmpty(candidates)
	if id == "" {
		s.metrics.ObserveUnresolved(platform)
		s.logger.Warn("could not resolve sent message id, message cannot be recalled",
			"conversation", in.ConversationKey,
			"marker", in.Kind.String(),
		)
		return "", ErrUnresolvedID
	}
	in.ResolvedMessageID = id

	l := s.registry.Get(in.ConversationKey)
	l.Append(id, s.clock.Now())
	s.metrics.ObserveRecorded(platform)
	s.logger.Debug("recorded sent message", "conversation", in.ConversationKey, "message_id", id)

	switch in.Kind {
	case marker.KindSelf:
		s.spawn(func(ctx context.Context) {
			if _, err := s.exec.Recall(ctx, in.ConversationKey, []string{id}, TriggerSelf); err != nil {
				s.logger.Warn("self recall not attempted", "conversation", in.ConversationKey, "message_id", id, "error", err)
			}
		})
	case marker.KindTarget:
		// The target is fixed now; messages sent before the recall runs must
		// not shift it.
		target, err := l.Before(id)
		if err != nil {
			s.logger.Warn("recall marker sent without a previous message", "conversation", in.ConversationKey, "message_id", id)
			break
		}
		if !s.claims.Claim(recallClaimKey(in.ConversationKey, id)) {
			s.logger.Debug("marker already being recalled", "conversation", in.ConversationKey, "message_id", id)
			break
		}
		s.spawn(func(ctx context.Context) {
			ids := []string{target.MessageID, id}
			if _, err := s.exec.Recall(ctx, in.ConversationKey, ids, TriggerMarker); err != nil {
				s.logger.Warn("marker recall not attempted", "conversation", in.ConversationKey, "message_id", id, "error", err)
			}
		})
	}
	return id, nil
}

// Discard drops an intent whose message was never sent.
func (s *Service) Discard(intentID string) {
	s.intents.take(intentID)
}

// InboundState is a step of the inbound marker command.
type InboundState int

const (
	StateIdle InboundState = iota
	StateMarkerSeen
	StateResolving
	StateExecuting
)

func (st InboundState) String() string {
	switch st {
	case StateIdle:
		return "idle"
	case StateMarkerSeen:
		return "marker_seen"
	case StateResolving:
		return "resolving"
	case StateExecuting:
		return "executing"
	default:
		return "unknown"
	}
}

// Inbound is a message received from a conversation.
type Inbound struct {
	ConversationKey string
	// MessageID is the platform id of the inbound message, if known. When it
	// is set the marker only fires once that message has been recorded.
	MessageID string
	Text      string
}

// InboundResult reports how far the marker command got.
type InboundResult struct {
	// Reached is the furthest state entered before returning to idle.
	Reached InboundState
	// Stop tells the host not to hand the event to any other handler.
	Stop   bool
	Reason string
	Result *Result
}

// Reasons reported when the marker command stays idle.
const (
	ReasonNotMarker       = "not a marker"
	ReasonUnsupported     = "platform does not support recall"
	ReasonHistory         = "not enough recorded messages"
	ReasonNotRecorded     = "marker message not recorded yet"
	ReasonAlreadyRecalled = "marker already being recalled"
)

// HandleInbound runs the stand-alone marker command for one inbound event:
// idle -> marker seen -> resolving -> executing -> idle. It blocks until the
// deletions finish.
func (s *Service) HandleInbound(ctx context.Context, msg Inbound) InboundResult {
	if !s.detector.IsMarker(msg.Text) {
		return InboundResult{Reached: StateIdle, Reason: ReasonNotMarker}
	}

	log := s.logger.With("conversation", msg.ConversationKey)

	if !s.exec.SupportsConversation(msg.ConversationKey) {
		log.Warn("recall marker received on unsupported platform")
		return InboundResult{Reached: StateIdle, Reason: ReasonUnsupported}
	}
	l, ok := s.registry.Lookup(msg.ConversationKey)
	if !ok || l.Len() < 2 {
		log.Warn("recall marker received without enough message history")
		return InboundResult{Reached: StateIdle, Reason: ReasonHistory}
	}

	// Resolving: the marker is the given message, or the tail when the
	// platform gave no id; the entry recorded before it is the target.
	markerID := msg.MessageID
	if markerID == "" {
		tail, err := l.Last()
		if err != nil {
			return InboundResult{Reached: StateMarkerSeen, Reason: ReasonHistory}
		}
		markerID = tail.MessageID
	}
	if !l.Contains(markerID) {
		log.Debug("recall marker not yet recorded, leaving it to the send path", "message_id", markerID)
		return InboundResult{Reached: StateResolving, Reason: ReasonNotRecorded}
	}
	target, err := l.Before(markerID)
	if err != nil {
		log.Warn("recall marker has no previous message", "message_id", markerID)
		return InboundResult{Reached: StateResolving, Reason: ReasonHistory}
	}

	claim := recallClaimKey(msg.ConversationKey, markerID)
	if !s.claims.Claim(claim) {
		return InboundResult{Reached: StateResolving, Stop: true, Reason: ReasonAlreadyRecalled}
	}

	res, err := s.exec.Recall(ctx, msg.ConversationKey, []string{target.MessageID, markerID}, TriggerInbound)
	if err != nil {
		// Nothing was deleted; let a later event try again.
		s.claims.Release(claim)
		log.Warn("recall marker could not be executed", "error", err)
		return InboundResult{Reached: StateResolving, Reason: err.Error()}
	}
	if err := res.Err(); err != nil {
		log.Error("recall marker failed", "error", err)
	}
	return InboundResult{Reached: StateExecuting, Stop: true, Result: res}
}

// Wait blocks until background recalls started so far have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close waits for background recalls, then forgets all conversations.
func (s *Service) Close() {
	s.once.Do(func() {
		s.wg.Wait()
		s.cancel()
		s.claims.Close()
		s.registry.Clear()
		s.logger.Info("recall service stopped")
	})
}

// PendingIntents returns the number of intents waiting for post-send.
func (s *Service) PendingIntents() int {
	return s.intents.len()
}

func (s *Service) spawn(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

func recallClaimKey(conversation, messageID string) string {
	return "recall:" + conversation + ":" + messageID
}

func firstNonEmpty(candidates []string) string {
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return ""
}
