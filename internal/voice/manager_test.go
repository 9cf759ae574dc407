package voice

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/MrWong99/voxbridge/pkg/audio"
	audiomock "github.com/MrWong99/voxbridge/pkg/audio/mock"
)

type endRecorder struct {
	mu     sync.Mutex
	guilds []string
}

func (r *endRecorder) record(guildID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guilds = append(r.guilds, guildID)
}

func (r *endRecorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.guilds)
}

// connPlatform hands out a fresh mock connection per Connect.
type connPlatform struct {
	mu    sync.Mutex
	conns []*audiomock.Connection
	err   error
}

func (p *connPlatform) Connect(_ context.Context, _, _ string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	c := &audiomock.Connection{}
	p.conns = append(p.conns, c)
	return c, nil
}

func (p *connPlatform) conn(i int) *audiomock.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns[i]
}

func newTestManager(p audio.Platform, ends *endRecorder) *Manager {
	return NewManager(ManagerConfig{
		Platform:     p,
		Handler:      &recordingHandler{},
		OnSessionEnd: ends.record,
	})
}

func TestManager_JoinAndLeave(t *testing.T) {
	t.Parallel()

	p := &connPlatform{}
	ends := &endRecorder{}
	m := newTestManager(p, ends)

	sess, err := m.Join(context.Background(), "g1", "voice-1")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if got, ok := m.Session("g1"); !ok || got != sess {
		t.Fatal("Session(g1) does not return the joined session")
	}
	if ch, _ := m.ChannelID("g1"); ch != "voice-1" {
		t.Errorf("ChannelID = %q, want voice-1", ch)
	}
	if m.Count() != 1 {
		t.Errorf("Count = %d, want 1", m.Count())
	}

	if err := m.Leave("g1"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if sess.Alive() {
		t.Error("session alive after Leave")
	}
	if n := p.conn(0).DisconnectCount(); n != 1 {
		t.Errorf("Disconnect calls = %d, want 1", n)
	}
	if got := ends.list(); !slices.Equal(got, []string{"g1"}) {
		t.Errorf("OnSessionEnd = %v, want [g1]", got)
	}
	if err := m.Leave("g1"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("second Leave: err = %v, want ErrNotConnected", err)
	}
}

func TestManager_JoinReplacesExistingSession(t *testing.T) {
	t.Parallel()

	p := &connPlatform{}
	ends := &endRecorder{}
	m := newTestManager(p, ends)

	first, err := m.Join(context.Background(), "g1", "voice-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Listen("user-1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "subscription", func() bool { return p.conn(0).Subscription("user-1") != nil })

	second, err := m.Join(context.Background(), "g1", "voice-2")
	if err != nil {
		t.Fatal(err)
	}
	if first.Alive() {
		t.Error("replaced session still alive")
	}
	if got := p.conn(0).Subscription("user-1").CloseCalls(); got != 1 {
		t.Errorf("old subscription Close calls = %d, want 1", got)
	}
	if n := p.conn(0).DisconnectCount(); n != 1 {
		t.Errorf("old connection Disconnect calls = %d, want 1", n)
	}
	if got, _ := m.Session("g1"); got != second {
		t.Error("manager does not hold the new session")
	}
	if m.Count() != 1 {
		t.Errorf("Count = %d, want 1", m.Count())
	}
	if got := ends.list(); !slices.Equal(got, []string{"g1"}) {
		t.Errorf("OnSessionEnd = %v, want [g1]", got)
	}
}

func TestManager_JoinConnectError(t *testing.T) {
	t.Parallel()

	m := newTestManager(&connPlatform{err: errors.New("no permission")}, &endRecorder{})
	if _, err := m.Join(context.Background(), "g1", "voice-1"); err == nil {
		t.Fatal("expected error")
	}
	if m.Count() != 0 {
		t.Errorf("Count = %d, want 0", m.Count())
	}
}

func TestManager_TransportLoss(t *testing.T) {
	t.Parallel()

	p := &connPlatform{}
	ends := &endRecorder{}
	m := newTestManager(p, ends)

	sess, err := m.Join(context.Background(), "g1", "voice-1")
	if err != nil {
		t.Fatal(err)
	}
	p.conn(0).EmitState(audio.StateDestroyed)

	waitFor(t, "session removal", func() bool { return m.Count() == 0 })
	waitFor(t, "end notification", func() bool { return len(ends.list()) == 1 })
	if sess.Alive() {
		t.Error("session alive after transport loss")
	}
}

func TestManager_Close(t *testing.T) {
	t.Parallel()

	p := &connPlatform{}
	ends := &endRecorder{}
	m := newTestManager(p, ends)
	for _, g := range []string{"g1", "g2", "g3"} {
		if _, err := m.Join(context.Background(), g, "voice"); err != nil {
			t.Fatal(err)
		}
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if m.Count() != 0 {
		t.Errorf("Count = %d, want 0", m.Count())
	}
	got := ends.list()
	slices.Sort(got)
	if !slices.Equal(got, []string{"g1", "g2", "g3"}) {
		t.Errorf("OnSessionEnd = %v", got)
	}
}
