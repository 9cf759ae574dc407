package settings

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// countingStore wraps a FileStore, counts reads and can stall them.
type countingStore struct {
	*FileStore
	serverGets atomic.Int32
	userGets   atomic.Int32
	stall      chan struct{}
	putErr     error
}

func (c *countingStore) GetServer(ctx context.Context, guildID string) (*ServerSettings, error) {
	c.serverGets.Add(1)
	if c.stall != nil {
		<-c.stall
	}
	return c.FileStore.GetServer(ctx, guildID)
}

func (c *countingStore) GetUser(ctx context.Context, userID string) (*UserPreferences, error) {
	c.userGets.Add(1)
	return c.FileStore.GetUser(ctx, userID)
}

func (c *countingStore) PutServer(ctx context.Context, s *ServerSettings) error {
	if c.putErr != nil {
		return c.putErr
	}
	return c.FileStore.PutServer(ctx, s)
}

func newCountingStore(t *testing.T) *countingStore {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return &countingStore{FileStore: fs}
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestService_ConcurrentMissesLoadOnce(t *testing.T) {
	t.Parallel()

	store := newCountingStore(t)
	store.stall = make(chan struct{})
	svc := NewService(store)

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			if _, err := svc.Server(t.Context(), "g1"); err != nil {
				t.Errorf("Server: %v", err)
			}
		})
	}
	// Let the goroutines pile up on the in-flight load.
	time.Sleep(20 * time.Millisecond)
	close(store.stall)
	wg.Wait()

	if n := store.serverGets.Load(); n != 1 {
		t.Errorf("store reads = %d, want 1", n)
	}
	if _, err := svc.Server(t.Context(), "g1"); err != nil {
		t.Fatal(err)
	}
	if n := store.serverGets.Load(); n != 1 {
		t.Errorf("store reads after cache hit = %d, want 1", n)
	}
}

func TestService_DefaultsPersistedOnFirstUse(t *testing.T) {
	t.Parallel()

	store := newCountingStore(t)
	svc := NewService(store)

	s, err := svc.Server(t.Context(), "g1")
	if err != nil {
		t.Fatalf("Server: %v", err)
	}
	if s.GuildID != "g1" || s.Voice.Language != "en" {
		t.Errorf("defaults = %+v", s)
	}
	stored, err := store.FileStore.GetServer(t.Context(), "g1")
	if err != nil || stored == nil {
		t.Errorf("defaults not persisted: %v, %v", stored, err)
	}
}

func TestService_UpdateServer(t *testing.T) {
	t.Parallel()

	store := newCountingStore(t)
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	svc := NewService(store)
	svc.now = clk.now

	clk.advance(time.Hour)
	got, err := svc.UpdateServer(t.Context(), "g1", func(s *ServerSettings) error {
		s.AdminID = "admin"
		s.AddAllowedUser("u1")
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateServer: %v", err)
	}
	if !got.LastActive.Equal(clk.now()) {
		t.Errorf("LastActive = %v, want %v", got.LastActive, clk.now())
	}

	// Mutating the returned copy must not leak into the cache.
	got.AddAllowedUser("sneaky")
	again, _ := svc.Server(t.Context(), "g1")
	if again.IsUserAllowed("sneaky") {
		t.Error("returned settings alias the cache")
	}

	stored, _ := store.FileStore.GetServer(t.Context(), "g1")
	if stored.AdminID != "admin" || !stored.IsUserAllowed("u1") {
		t.Errorf("update not persisted: %+v", stored)
	}
}

func TestService_UpdateServerAborts(t *testing.T) {
	t.Parallel()

	store := newCountingStore(t)
	svc := NewService(store)

	abort := errors.New("not allowed")
	if _, err := svc.UpdateServer(t.Context(), "g1", func(s *ServerSettings) error {
		s.Muted = true
		return abort
	}); !errors.Is(err, abort) {
		t.Fatalf("err = %v, want %v", err, abort)
	}
	s, _ := svc.Server(t.Context(), "g1")
	if s.Muted {
		t.Error("aborted update was applied")
	}

	store.putErr = errors.New("disk full")
	if _, err := svc.UpdateServer(t.Context(), "g1", func(s *ServerSettings) error {
		s.Muted = true
		return nil
	}); err == nil {
		t.Fatal("expected persistence error")
	}
	s, _ = svc.Server(t.Context(), "g1")
	if s.Muted {
		t.Error("cache updated although persisting failed")
	}
}

func TestService_ConcurrentUpdatesNotLost(t *testing.T) {
	t.Parallel()

	svc := NewService(newCountingStore(t))
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			user := string(rune('a' + i))
			if _, err := svc.UpdateServer(t.Context(), "g1", func(s *ServerSettings) error {
				s.AddAllowedUser(user)
				return nil
			}); err != nil {
				t.Errorf("UpdateServer: %v", err)
			}
		})
	}
	wg.Wait()

	s, _ := svc.Server(t.Context(), "g1")
	if len(s.AllowedUsers) != 20 {
		t.Errorf("allowed users = %d, want 20", len(s.AllowedUsers))
	}
}

func TestService_UserPreferences(t *testing.T) {
	t.Parallel()

	store := newCountingStore(t)
	svc := NewService(store)

	p, err := svc.User(t.Context(), "u1")
	if err != nil {
		t.Fatalf("User: %v", err)
	}
	if p.Tier != "free" || p.Model != "gpt35" || p.TTSProvider != "" {
		t.Errorf("defaults = %+v", p)
	}
	if stored, _ := store.FileStore.GetUser(t.Context(), "u1"); stored != nil {
		t.Error("defaults persisted before first update")
	}

	if _, err := svc.UpdateUser(t.Context(), "u1", func(p *UserPreferences) error {
		p.Tier = "premium"
		return nil
	}); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	stored, _ := store.FileStore.GetUser(t.Context(), "u1")
	if stored == nil || stored.Tier != "premium" {
		t.Errorf("stored = %+v", stored)
	}
	if n := store.userGets.Load(); n != 1 {
		t.Errorf("store reads = %d, want 1", n)
	}
}

func TestService_ExpireAdmins(t *testing.T) {
	t.Parallel()

	store := newCountingStore(t)
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	svc := NewService(store)
	svc.now = clk.now

	for _, g := range []string{"stale", "fresh", "adminless"} {
		if _, err := svc.UpdateServer(t.Context(), g, func(s *ServerSettings) error {
			if g != "adminless" {
				s.AdminID = "admin-" + g
			}
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}

	clk.advance(23 * time.Hour)
	if _, err := svc.UpdateServer(t.Context(), "fresh", func(*ServerSettings) error { return nil }); err != nil {
		t.Fatal(err)
	}
	clk.advance(2 * time.Hour)

	n, err := svc.ExpireAdmins(t.Context())
	if err != nil {
		t.Fatalf("ExpireAdmins: %v", err)
	}
	if n != 1 {
		t.Errorf("cleared = %d, want 1", n)
	}

	stale, _ := svc.Server(t.Context(), "stale")
	fresh, _ := svc.Server(t.Context(), "fresh")
	if stale.AdminID != "" {
		t.Errorf("stale admin = %q, want cleared", stale.AdminID)
	}
	if fresh.AdminID != "admin-fresh" {
		t.Errorf("fresh admin = %q, want kept", fresh.AdminID)
	}
}

func TestService_ForgetServer(t *testing.T) {
	t.Parallel()

	store := newCountingStore(t)
	svc := NewService(store)
	if _, err := svc.UpdateServer(t.Context(), "g1", func(s *ServerSettings) error {
		s.AdminID = "admin"
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := svc.ForgetServer(t.Context(), "g1"); err != nil {
		t.Fatalf("ForgetServer: %v", err)
	}

	s, err := svc.Server(t.Context(), "g1")
	if err != nil {
		t.Fatal(err)
	}
	if s.AdminID != "" {
		t.Errorf("AdminID = %q after forget, want defaults", s.AdminID)
	}
}

func TestService_RunStopsWithContext(t *testing.T) {
	t.Parallel()

	svc := NewService(newCountingStore(t))
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx, 5*time.Millisecond) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
