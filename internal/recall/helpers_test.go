// ABOUTME: Test doubles for the recall package
// ABOUTME: Fake clock that advances on After and a recording fake platform

package recall

import (
	"context"
	"sync"
	"time"

	"github.com/2389/coven-recall/internal/ledger"
)

var epoch = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

// fakeClock advances its own time whenever After is called, so settle delays
// complete instantly but remain measurable.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	waits  []time.Duration
	blocks bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.waits = append(f.waits, d)
	ch := make(chan time.Time, 1)
	if f.blocks {
		return ch
	}
	f.now = f.now.Add(d)
	ch <- f.now
	return ch
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fakeClock) Waits() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.waits...)
}

type deleteCall struct {
	ChatID      string
	MessageID   string
	At          time.Time
	HadDeadline bool
}

// fakePlatform records delete calls.
type fakePlatform struct {
	name     string
	supports bool
	clock    *fakeClock

	mu    sync.Mutex
	fail  map[string]error
	gates map[string]*deleteGate
	calls []deleteCall
}

// deleteGate holds a delete call until it is released.
type deleteGate struct {
	entered chan struct{}
	release chan struct{}
}

func newFakePlatform(name string, clock *fakeClock) *fakePlatform {
	return &fakePlatform{
		name:     name,
		supports: true,
		clock:    clock,
		fail:     make(map[string]error),
		gates:    make(map[string]*deleteGate),
	}
}

func (p *fakePlatform) Name() string           { return p.name }
func (p *fakePlatform) SupportsDeletion() bool { return p.supports }

func (p *fakePlatform) Delete(ctx context.Context, chatID, messageID string) error {
	_, hasDeadline := ctx.Deadline()

	p.mu.Lock()
	p.calls = append(p.calls, deleteCall{
		ChatID:      chatID,
		MessageID:   messageID,
		At:          p.clock.Now(),
		HadDeadline: hasDeadline,
	})
	gate := p.gates[messageID]
	delete(p.gates, messageID)
	err := p.fail[messageID]
	p.mu.Unlock()

	if gate != nil {
		close(gate.entered)
		select {
		case <-gate.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// BlockOn makes the next delete of messageID wait until release is called.
// entered is closed once that delete has started.
func (p *fakePlatform) BlockOn(messageID string) (entered <-chan struct{}, release func()) {
	gate := &deleteGate{entered: make(chan struct{}), release: make(chan struct{})}
	p.mu.Lock()
	p.gates[messageID] = gate
	p.mu.Unlock()

	var once sync.Once
	return gate.entered, func() { once.Do(func() { close(gate.release) }) }
}

func (p *fakePlatform) FailOn(messageID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail[messageID] = err
}

func (p *fakePlatform) Calls() []deleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]deleteCall(nil), p.calls...)
}

func (p *fakePlatform) DeletedIDs() []string {
	var out []string
	for _, c := range p.Calls() {
		out = append(out, c.MessageID)
	}
	return out
}

func entryIDs(l *ledger.Ledger) []string {
	out := []string{}
	for _, e := range l.Entries() {
		out = append(out, e.MessageID)
	}
	return out
}

type fixture struct {
	clock    *fakeClock
	platform *fakePlatform
	registry *ledger.Registry
	exec     *Executor
}

const (
	room    = "!room:example.org"
	roomKey = "matrix:" + room
)

func newFixture() *fixture {
	clock := newFakeClock()
	platform := newFakePlatform("matrix", clock)
	registry := ledger.NewRegistry(ledger.DefaultCapacity)
	exec := NewExecutor(registry, []Platform{platform}, ExecutorConfig{
		SettleDelay:   DefaultSettleDelay,
		DeleteTimeout: time.Second,
		Clock:         clock,
	}, nil)
	return &fixture{clock: clock, platform: platform, registry: registry, exec: exec}
}

func (f *fixture) record(key string, ids ...string) {
	l := f.registry.Get(key)
	for _, id := range ids {
		l.Append(id, f.clock.Now())
		f.clock.Advance(time.Second)
	}
}
