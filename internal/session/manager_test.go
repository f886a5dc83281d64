package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mkoren-dev/voicebridge/internal/memory"
	"github.com/mkoren-dev/voicebridge/internal/upstream"
)

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	fail  bool
}

func (d *fakeDialer) Dial(context.Context) (upstream.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, errors.New("dial refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func testManager(dialer upstream.Dialer, max int) *Manager {
	return NewManager(ManagerConfig{
		Dialer:      dialer,
		Executor:    &fakeExecutor{},
		MaxSessions: max,
		IdleTimeout: time.Hour,
		Defaults: Defaults{
			Voice:       "Sal",
			Language:    "en",
			AudioFormat: "audio/pcm",
			SampleRate:  24000,
		},
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached before deadline")
}

func TestManagerCreateAndClose(t *testing.T) {
	d := &fakeDialer{}
	m := testManager(d, 10)

	sess, err := m.CreateSession(context.Background(), "e1", Config{ToolsEnabled: true})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d, want 1", m.ActiveCount())
	}
	if len(d.conns) != 1 || d.conns[0].configures != 1 {
		t.Fatalf("upstream should be configured once, conns=%d", len(d.conns))
	}

	m.CloseSession(sess.ID, StateEnded, "test")
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d, want 0", m.ActiveCount())
	}

	// Closing again, or closing an unknown id, is a no-op.
	m.CloseSession(sess.ID, StateEnded, "again")
	m.CloseSession("no-such-session", StateEnded, "unknown")
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d, want 0", m.ActiveCount())
	}
}

func TestManagerGet(t *testing.T) {
	d := &fakeDialer{}
	m := testManager(d, 10)

	sess, err := m.CreateSession(context.Background(), "e1", Config{})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	got, err := m.Get(sess.ID)
	if err != nil || got.ID != sess.ID {
		t.Fatalf("Get(%s) = %v, %v", sess.ID, got, err)
	}
	if _, err := m.Get("no-such-session"); err != ErrNotFound {
		t.Fatalf("Get(unknown) = %v, want ErrNotFound", err)
	}
}

func TestManagerDialFailureRegistersNothing(t *testing.T) {
	d := &fakeDialer{fail: true}
	m := testManager(d, 10)

	if _, err := m.CreateSession(context.Background(), "e1", Config{}); err == nil {
		t.Fatalf("CreateSession() should fail when the dial fails")
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d, want 0", m.ActiveCount())
	}
	if _, err := m.GetByEntity("e1"); err != ErrNotFound {
		t.Fatalf("GetByEntity = %v, want ErrNotFound", err)
	}
}

func TestManagerCapacity(t *testing.T) {
	d := &fakeDialer{}
	m := testManager(d, 1)

	if _, err := m.CreateSession(context.Background(), "e1", Config{}); err != nil {
		t.Fatalf("first CreateSession() error = %v", err)
	}
	if _, err := m.CreateSession(context.Background(), "e2", Config{}); !errors.Is(err, ErrCapacity) {
		t.Fatalf("second CreateSession() = %v, want ErrCapacity", err)
	}
}

func TestManagerSupersedesEntitySession(t *testing.T) {
	d := &fakeDialer{}
	m := testManager(d, 10)
	ctx := context.Background()

	first, err := m.CreateSession(ctx, "e1", Config{})
	if err != nil {
		t.Fatalf("first CreateSession() error = %v", err)
	}
	second, err := m.CreateSession(ctx, "e1", Config{})
	if err != nil {
		t.Fatalf("second CreateSession() error = %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("expected a fresh session")
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d, want 1", m.ActiveCount())
	}
	if first.State() != StateEnded {
		t.Fatalf("first session state = %s, want ended", first.State())
	}
	got, err := m.GetByEntity("e1")
	if err != nil {
		t.Fatalf("GetByEntity() error = %v", err)
	}
	if got.ID != second.ID {
		t.Fatalf("GetByEntity = %s, want %s", got.ID, second.ID)
	}
}

// barrierDialer holds every Dial until release closes, lining concurrent
// creations up past their initial registry lookup.
type barrierDialer struct {
	mu      sync.Mutex
	arrived chan struct{}
	release chan struct{}
	conns   []*fakeConn
}

func (d *barrierDialer) Dial(context.Context) (upstream.Conn, error) {
	d.arrived <- struct{}{}
	<-d.release
	d.mu.Lock()
	defer d.mu.Unlock()
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func TestManagerConcurrentCreateSingleEntity(t *testing.T) {
	d := &barrierDialer{arrived: make(chan struct{}), release: make(chan struct{})}
	m := testManager(d, 10)

	results := make(chan *Session, 2)
	for i := 0; i < 2; i++ {
		go func() {
			sess, err := m.CreateSession(context.Background(), "e1", Config{})
			if err != nil {
				t.Errorf("CreateSession() error = %v", err)
				results <- nil
				return
			}
			results <- sess
		}()
	}
	// Both creations have passed the registry lookup once both dials arrive.
	<-d.arrived
	<-d.arrived
	close(d.release)

	a, b := <-results, <-results
	if a == nil || b == nil {
		t.Fatalf("both creations should succeed")
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d, want 1", m.ActiveCount())
	}
	live, err := m.GetByEntity("e1")
	if err != nil {
		t.Fatalf("GetByEntity() error = %v", err)
	}
	if live.ID != a.ID && live.ID != b.ID {
		t.Fatalf("live session %s is neither creation", live.ID)
	}
	loser := a
	if live.ID == a.ID {
		loser = b
	}
	waitFor(t, func() bool { return loser.State() == StateEnded })
}

func TestManagerUpstreamDropEndsSession(t *testing.T) {
	d := &fakeDialer{}
	m := testManager(d, 10)

	sess, err := m.CreateSession(context.Background(), "e1", Config{})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	// Upstream connection drops: the events channel closes.
	_ = d.conns[0].Close()

	waitFor(t, func() bool { return m.ActiveCount() == 0 })
	waitFor(t, func() bool { return sess.State() == StateError })
}

func TestManagerEvictsIdleSessions(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(ManagerConfig{
		Dialer:      d,
		Executor:    &fakeExecutor{},
		MaxSessions: 10,
		IdleTimeout: 20 * time.Millisecond,
	})

	sess, err := m.CreateSession(context.Background(), "e1", Config{})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartEvictionLoop(ctx, 10*time.Millisecond)

	waitFor(t, func() bool { return m.ActiveCount() == 0 })
	waitFor(t, func() bool { return sess.State() == StateEnded })
}

func TestManagerFlushArchivesConversation(t *testing.T) {
	d := &fakeDialer{}
	archive := memory.NewInMemoryStore()
	m := NewManager(ManagerConfig{
		Dialer:      d,
		Executor:    &fakeExecutor{},
		Archive:     archive,
		MaxSessions: 10,
		IdleTimeout: time.Hour,
	})
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, "e1", Config{})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	sess.HandleUpstreamEvent(ctx, upstream.Event{Type: upstream.EventSessionReady})
	sess.HandleUpstreamEvent(ctx, upstream.Event{Type: upstream.EventTranscriptDone, Transcript: "remember the milk"})

	m.CloseSession(sess.ID, StateEnded, "test")

	waitFor(t, func() bool {
		summaries, err := archive.RecentSummaries(ctx, "e1", 5)
		return err == nil && len(summaries) == 1 && summaries[0] == "remember the milk"
	})
}
