// ABOUTME: Tests for the recall service hooks
// ABOUTME: End-to-end marker scenarios, identifier resolution and the inbound state machine

package recall

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-recall/internal/marker"
	"github.com/2389/coven-recall/internal/metrics"
)

// fakeTransport stands in for a chat transport: it hands out sequential ids.
type fakeTransport struct {
	mu   sync.Mutex
	sent []string
	next int
	ids  []string
}

func (t *fakeTransport) Send(text string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, text)
	id := t.ids[t.next]
	t.next++
	return id
}

func newServiceFixture(t *testing.T) (*fixture, *Service, *metrics.Metrics) {
	t.Helper()
	f := newFixture()
	m := metrics.New()
	svc := NewService(f.exec, f.registry, ServiceConfig{
		Marker:  marker.DefaultToken,
		Clock:   f.clock,
		Metrics: m,
	}, nil)
	t.Cleanup(svc.Close)
	return f, svc, m
}

func send(t *testing.T, svc *Service, tr *fakeTransport, key, text string) (Outgoing, string) {
	t.Helper()
	out := svc.PreSend(key, text)
	if !out.Send {
		return out, ""
	}
	id := tr.Send(out.Text)
	resolved, err := svc.PostSend(context.Background(), out.IntentID, id)
	require.NoError(t, err)
	return out, resolved
}

func TestService_SelfRecall(t *testing.T) {
	f, svc, m := newServiceFixture(t)
	tr := &fakeTransport{ids: []string{"M1", "M2"}}

	send(t, svc, tr, roomKey, "first answer")
	out, id := send(t, svc, tr, roomKey, "done[recall]")
	svc.Wait()

	assert.Equal(t, marker.KindSelf, out.Kind)
	assert.Equal(t, []string{"first answer", "done"}, tr.sent)
	assert.Equal(t, "M2", id)
	assert.Equal(t, []string{"M2"}, f.platform.DeletedIDs())
	assert.Equal(t, []string{"M1"}, entryIDs(f.registry.Get(roomKey)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Markers.WithLabelValues("self")))
	assert.Equal(t, 0, svc.PendingIntents())
}

func TestService_TargetRecallFromOutgoingMarker(t *testing.T) {
	f, svc, _ := newServiceFixture(t)
	tr := &fakeTransport{ids: []string{"M1", "M2", "M3"}}

	send(t, svc, tr, roomKey, "one")
	send(t, svc, tr, roomKey, "1+1=3")
	out, _ := send(t, svc, tr, roomKey, " [RECALL] ")
	svc.Wait()

	assert.Equal(t, marker.KindTarget, out.Kind)
	assert.Equal(t, "[RECALL]", tr.sent[2], "marker-only message is sent as is")
	assert.Equal(t, []string{"M2", "M3"}, f.platform.DeletedIDs())
	assert.Equal(t, []time.Duration{DefaultSettleDelay}, f.clock.Waits())
	assert.Equal(t, []string{"M1"}, entryIDs(f.registry.Get(roomKey)))
}

func TestService_MarkerTargetFixedWhenSent(t *testing.T) {
	f, svc, _ := newServiceFixture(t)
	tr := &fakeTransport{ids: []string{"A", "B", "M", "C"}}

	// The self recall of A holds the conversation while more messages go out.
	entered, release := f.platform.BlockOn("A")
	defer release()

	send(t, svc, tr, roomKey, "oops[recall]")
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("self recall never started")
	}
	send(t, svc, tr, roomKey, "wrong answer")
	send(t, svc, tr, roomKey, "[recall]")
	send(t, svc, tr, roomKey, "next answer")
	release()
	svc.Wait()

	assert.Equal(t, []string{"A", "B", "M"}, f.platform.DeletedIDs())
	assert.Equal(t, []string{"C"}, entryIDs(f.registry.Get(roomKey)))
}

func TestService_SuppressedMessage(t *testing.T) {
	f, svc, _ := newServiceFixture(t)

	out := svc.PreSend(roomKey, "[recall] [recall]")

	assert.False(t, out.Send)
	assert.Empty(t, out.Text)
	assert.Empty(t, out.IntentID)
	assert.Equal(t, 0, svc.PendingIntents())
	assert.Empty(t, f.registry.Keys())
}

func TestService_PlainMessageIsRecorded(t *testing.T) {
	f, svc, m := newServiceFixture(t)
	tr := &fakeTransport{ids: []string{"M1"}}

	out, id := send(t, svc, tr, roomKey, "hello")
	svc.Wait()

	assert.Equal(t, marker.KindNone, out.Kind)
	assert.Equal(t, "hello", out.Text)
	assert.Equal(t, "M1", id)
	assert.Equal(t, []string{"M1"}, entryIDs(f.registry.Get(roomKey)))
	assert.Empty(t, f.platform.Calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Recorded.WithLabelValues("matrix")))
}

func TestService_PostSend_FirstCandidateWins(t *testing.T) {
	f, svc, _ := newServiceFixture(t)

	out := svc.PreSend(roomKey, "hello")
	id, err := svc.PostSend(context.Background(), out.IntentID, "", "  ", "$fallback", "$later")

	require.NoError(t, err)
	assert.Equal(t, "$fallback", id)
	assert.Equal(t, []string{"$fallback"}, entryIDs(f.registry.Get(roomKey)))
}

func TestService_PostSend_Unresolved(t *testing.T) {
	f, svc, m := newServiceFixture(t)

	out := svc.PreSend(roomKey, "oops [recall]")
	_, err := svc.PostSend(context.Background(), out.IntentID, "")
	svc.Wait()

	assert.ErrorIs(t, err, ErrUnresolvedID)
	assert.Empty(t, f.platform.Calls(), "self recall is skipped")
	_, ok := f.registry.Lookup(roomKey)
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnresolvedIDs.WithLabelValues("matrix")))
}

func TestService_PostSend_UnknownIntent(t *testing.T) {
	_, svc, _ := newServiceFixture(t)

	_, err := svc.PostSend(context.Background(), "nope", "M1")
	assert.ErrorIs(t, err, ErrUnknownIntent)

	out := svc.PreSend(roomKey, "hi")
	svc.Discard(out.IntentID)
	_, err = svc.PostSend(context.Background(), out.IntentID, "M1")
	assert.ErrorIs(t, err, ErrUnknownIntent)
}

func TestService_PostSend_UnsupportedPlatformNotRecorded(t *testing.T) {
	f, svc, _ := newServiceFixture(t)
	key := ConversationKey("irc", "#chan")

	out := svc.PreSend(key, "bye [recall]")
	id, err := svc.PostSend(context.Background(), out.IntentID, "42")
	svc.Wait()

	require.NoError(t, err)
	assert.Equal(t, "42", id)
	assert.Equal(t, "bye", out.Text)
	_, ok := f.registry.Lookup(key)
	assert.False(t, ok)
	assert.Empty(t, f.platform.Calls())
}

func TestService_StaleIntentsExpire(t *testing.T) {
	f, svc, _ := newServiceFixture(t)

	svc.PreSend(roomKey, "never sent")
	f.clock.Advance(DefaultIntentTTL + time.Second)
	svc.PreSend(roomKey, "sent")

	assert.Equal(t, 1, svc.PendingIntents())
}

func TestService_HandleInbound_EndToEnd(t *testing.T) {
	f, svc, _ := newServiceFixture(t)
	f.record(roomKey, "M1", "M2")

	// The marker message is echoed back and recorded before the inbound hook runs.
	f.record(roomKey, "M3")
	res := svc.HandleInbound(context.Background(), Inbound{ConversationKey: roomKey, MessageID: "M3", Text: "[Recall]"})

	assert.Equal(t, StateExecuting, res.Reached)
	assert.True(t, res.Stop)
	require.NotNil(t, res.Result)
	assert.Equal(t, OutcomeSuccess, res.Result.Outcome)
	assert.Equal(t, []string{"M2", "M3"}, f.platform.DeletedIDs())
	assert.Equal(t, []string{"M1"}, entryIDs(f.registry.Get(roomKey)))
}

func TestService_HandleInbound_MarkerNotNewest(t *testing.T) {
	f, svc, _ := newServiceFixture(t)
	f.record(roomKey, "M1", "M2", "M3")

	res := svc.HandleInbound(context.Background(), Inbound{ConversationKey: roomKey, MessageID: "M2", Text: "[recall]"})

	assert.Equal(t, StateExecuting, res.Reached)
	assert.True(t, res.Stop)
	assert.Equal(t, []string{"M1", "M2"}, f.platform.DeletedIDs())
	assert.Equal(t, []string{"M3"}, entryIDs(f.registry.Get(roomKey)))
}

func TestService_HandleInbound_StaysIdle(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		history []string
		text    string
		id      string
		reached InboundState
		reason  string
	}{
		{"ordinary text", roomKey, []string{"M1", "M2"}, "hello", "", StateIdle, ReasonNotMarker},
		{"unsupported platform", "irc:#chan", []string{"M1", "M2"}, "[recall]", "", StateIdle, ReasonUnsupported},
		{"no history", roomKey, nil, "[recall]", "", StateIdle, ReasonHistory},
		{"one entry", roomKey, []string{"M1"}, "[recall]", "", StateIdle, ReasonHistory},
		{"marker not recorded", roomKey, []string{"M1", "M2"}, "[recall]", "M3", StateResolving, ReasonNotRecorded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, svc, _ := newServiceFixture(t)
			if len(tt.history) > 0 {
				f.record(tt.key, tt.history...)
			}

			res := svc.HandleInbound(context.Background(), Inbound{ConversationKey: tt.key, MessageID: tt.id, Text: tt.text})

			assert.Equal(t, tt.reached, res.Reached)
			assert.Equal(t, tt.reason, res.Reason)
			assert.False(t, res.Stop)
			assert.Empty(t, f.platform.Calls())
		})
	}
}

func TestService_MarkerRecalledOnlyOnce(t *testing.T) {
	f, svc, _ := newServiceFixture(t)
	tr := &fakeTransport{ids: []string{"M1", "M2"}}

	send(t, svc, tr, roomKey, "wrong answer")

	// Hold the conversation so the background recall cannot start yet.
	unlock := f.exec.lock(roomKey)
	_, markerID := send(t, svc, tr, roomKey, "[recall]")

	// The echo of our own marker message arrives while the send path owns it.
	res := svc.HandleInbound(context.Background(), Inbound{ConversationKey: roomKey, MessageID: markerID, Text: "[recall]"})
	unlock()
	svc.Wait()

	assert.True(t, res.Stop)
	assert.Equal(t, ReasonAlreadyRecalled, res.Reason)
	assert.Equal(t, []string{"M1", "M2"}, f.platform.DeletedIDs())
}

func TestService_ConcurrentConversations(t *testing.T) {
	f, svc, _ := newServiceFixture(t)
	keys := []string{roomKey, "matrix:!other:example.org"}
	for _, k := range keys {
		f.record(k, k+"-1", k+"-2")
	}

	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			svc.HandleInbound(context.Background(), Inbound{ConversationKey: k, Text: "[recall]"})
		}(k)
	}
	wg.Wait()

	assert.Len(t, f.platform.Calls(), 4)
	for _, k := range keys {
		assert.Empty(t, entryIDs(f.registry.Get(k)))
	}
}

func TestService_CloseClearsRegistry(t *testing.T) {
	f := newFixture()
	svc := NewService(f.exec, f.registry, ServiceConfig{Clock: f.clock}, nil)
	f.record(roomKey, "M1")

	svc.Close()
	svc.Close()

	assert.Empty(t, f.registry.Keys())
	assert.Equal(t, marker.DefaultToken, svc.Marker())
}
