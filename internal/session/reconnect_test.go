package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/voxbridge/pkg/audio"
	audiomock "github.com/MrWong99/voxbridge/pkg/audio/mock"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestReconnector_Defaults(t *testing.T) {
	t.Parallel()

	r := NewReconnector(ReconnectorConfig{Conn: &audiomock.Connection{}})
	if r.timeout != 5*time.Second {
		t.Errorf("expected default timeout=5s, got %v", r.timeout)
	}
}

func TestReconnector_RecoveryRace(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		next audio.State
	}{
		{name: "signalling wins", next: audio.StateSignalling},
		{name: "connecting wins", next: audio.StateConnecting},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			conn := &audiomock.Connection{}
			var destroyed atomic.Bool
			r := NewReconnector(ReconnectorConfig{
				Conn:      conn,
				GuildID:   "g1",
				Timeout:   50 * time.Millisecond,
				OnDestroy: func() { destroyed.Store(true) },
			})
			r.Monitor(t.Context())
			defer r.Stop()

			conn.EmitState(audio.StateDisconnected)
			conn.EmitState(tt.next)

			// Well past the timeout: the race must already have been won.
			time.Sleep(150 * time.Millisecond)
			if destroyed.Load() {
				t.Error("OnDestroy called although the transport recovered")
			}
			if n := conn.DisconnectCount(); n != 0 {
				t.Errorf("Disconnect calls = %d, want 0", n)
			}
		})
	}
}

func TestReconnector_TimeoutDestroys(t *testing.T) {
	t.Parallel()

	conn := &audiomock.Connection{}
	var destroyed atomic.Int32
	r := NewReconnector(ReconnectorConfig{
		Conn:      conn,
		Timeout:   20 * time.Millisecond,
		OnDestroy: func() { destroyed.Add(1) },
	})
	r.Monitor(t.Context())
	defer r.Stop()

	start := time.Now()
	conn.EmitState(audio.StateDisconnected)

	waitFor(t, func() bool { return destroyed.Load() == 1 })
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("destroyed after %v, before the timeout", elapsed)
	}
	waitFor(t, func() bool { return conn.DisconnectCount() == 1 })

	// The loop has exited; further states are ignored.
	conn.EmitState(audio.StateDisconnected)
	time.Sleep(60 * time.Millisecond)
	if got := destroyed.Load(); got != 1 {
		t.Errorf("OnDestroy calls = %d, want 1", got)
	}
}

func TestReconnector_RecoversRepeatedly(t *testing.T) {
	t.Parallel()

	conn := &audiomock.Connection{}
	var destroyed atomic.Bool
	r := NewReconnector(ReconnectorConfig{
		Conn:      conn,
		Timeout:   30 * time.Millisecond,
		OnDestroy: func() { destroyed.Store(true) },
	})
	r.Monitor(t.Context())
	defer r.Stop()

	conn.EmitState(audio.StateDisconnected)
	conn.EmitState(audio.StateConnecting)
	conn.EmitState(audio.StateReady)
	time.Sleep(60 * time.Millisecond)
	if destroyed.Load() {
		t.Fatal("destroyed after first recovery")
	}

	conn.EmitState(audio.StateDisconnected)
	waitFor(t, destroyed.Load)
}

func TestReconnector_PlatformDestroyed(t *testing.T) {
	t.Parallel()

	conn := &audiomock.Connection{}
	var destroyed atomic.Bool
	r := NewReconnector(ReconnectorConfig{
		Conn:      conn,
		OnDestroy: func() { destroyed.Store(true) },
	})
	r.Monitor(t.Context())
	defer r.Stop()

	conn.EmitState(audio.StateDestroyed)
	waitFor(t, destroyed.Load)
	if n := conn.DisconnectCount(); n != 0 {
		t.Errorf("Disconnect calls = %d, want 0 for an already destroyed connection", n)
	}
}

func TestReconnector_DisconnectErrorStillNotifies(t *testing.T) {
	t.Parallel()

	conn := &audiomock.Connection{DisconnectError: errors.New("already gone")}
	var destroyed atomic.Bool
	r := NewReconnector(ReconnectorConfig{
		Conn:      conn,
		Timeout:   10 * time.Millisecond,
		OnDestroy: func() { destroyed.Store(true) },
	})
	r.Monitor(t.Context())
	defer r.Stop()

	conn.EmitState(audio.StateDisconnected)
	waitFor(t, destroyed.Load)
}

func TestReconnector_StopEndsMonitoring(t *testing.T) {
	t.Parallel()

	conn := &audiomock.Connection{}
	var destroyed atomic.Bool
	r := NewReconnector(ReconnectorConfig{
		Conn:      conn,
		Timeout:   10 * time.Millisecond,
		OnDestroy: func() { destroyed.Store(true) },
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Monitor(ctx)

	r.Stop()
	r.Stop()
	conn.EmitState(audio.StateDisconnected)
	time.Sleep(50 * time.Millisecond)
	if destroyed.Load() {
		t.Error("OnDestroy called after Stop")
	}
}
