package settings

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultAdminInactivity is how long a guild may stay untouched before its
// admin is cleared.
const DefaultAdminInactivity = 24 * time.Hour

// ServiceOption configures a [Service].
type ServiceOption func(*Service)

// WithAdminInactivity overrides [DefaultAdminInactivity].
func WithAdminInactivity(d time.Duration) ServiceOption {
	return func(s *Service) { s.inactivity = d }
}

// Service caches settings in front of a [Store]. Reads return copies;
// changes go through the Update methods, which persist before updating the
// cache.
type Service struct {
	store      Store
	inactivity time.Duration
	now        func() time.Time
	loads      singleflight.Group

	// writeMu serialises read-modify-write cycles.
	writeMu sync.Mutex

	mu      sync.RWMutex
	servers map[string]*ServerSettings
	users   map[string]*UserPreferences
}

// NewService creates a Service on store.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		inactivity: DefaultAdminInactivity,
		now:        time.Now,
		servers:    make(map[string]*ServerSettings),
		users:      make(map[string]*UserPreferences),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Server returns the guild's settings, creating and persisting defaults on
// first use.
func (s *Service) Server(ctx context.Context, guildID string) (ServerSettings, error) {
	ss, err := s.server(ctx, guildID)
	if err != nil {
		return ServerSettings{}, err
	}
	return *ss.Clone(), nil
}

func (s *Service) server(ctx context.Context, guildID string) (*ServerSettings, error) {
	s.mu.RLock()
	ss, ok := s.servers[guildID]
	s.mu.RUnlock()
	if ok {
		return ss, nil
	}

	v, err, _ := s.loads.Do("server:"+guildID, func() (any, error) {
		loaded, err := s.store.GetServer(ctx, guildID)
		if err != nil {
			return nil, err
		}
		if loaded == nil {
			loaded = NewServerSettings(guildID, s.now())
			if err := s.store.PutServer(ctx, loaded); err != nil {
				return nil, err
			}
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if cached, ok := s.servers[guildID]; ok {
			return cached, nil
		}
		s.servers[guildID] = loaded
		return loaded, nil
	})
	if err != nil {
		return nil, fmt.Errorf("settings: load guild %s: %w", guildID, err)
	}
	return v.(*ServerSettings), nil
}

// UpdateServer applies fn to a copy of the guild's settings, refreshes
// LastActive, persists the result and caches it. An error from fn aborts
// the update.
func (s *Service) UpdateServer(ctx context.Context, guildID string, fn func(*ServerSettings) error) (ServerSettings, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur, err := s.server(ctx, guildID)
	if err != nil {
		return ServerSettings{}, err
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return ServerSettings{}, err
	}
	next.LastActive = s.now()
	if err := s.store.PutServer(ctx, next); err != nil {
		return ServerSettings{}, fmt.Errorf("settings: save guild %s: %w", guildID, err)
	}

	s.mu.Lock()
	s.servers[guildID] = next
	s.mu.Unlock()
	return *next.Clone(), nil
}

// ForgetServer deletes the guild's record.
func (s *Service) ForgetServer(ctx context.Context, guildID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.store.DeleteServer(ctx, guildID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.servers, guildID)
	s.mu.Unlock()
	return nil
}

// User returns the user's preferences, or defaults if none are stored.
// Defaults are not persisted until the first update.
func (s *Service) User(ctx context.Context, userID string) (UserPreferences, error) {
	p, err := s.user(ctx, userID)
	if err != nil {
		return UserPreferences{}, err
	}
	return *p, nil
}

func (s *Service) user(ctx context.Context, userID string) (*UserPreferences, error) {
	s.mu.RLock()
	p, ok := s.users[userID]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	v, err, _ := s.loads.Do("user:"+userID, func() (any, error) {
		loaded, err := s.store.GetUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if loaded == nil {
			loaded = NewUserPreferences(userID)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if cached, ok := s.users[userID]; ok {
			return cached, nil
		}
		s.users[userID] = loaded
		return loaded, nil
	})
	if err != nil {
		return nil, fmt.Errorf("settings: load user %s: %w", userID, err)
	}
	return v.(*UserPreferences), nil
}

// UpdateUser applies fn to a copy of the user's preferences and persists it.
func (s *Service) UpdateUser(ctx context.Context, userID string, fn func(*UserPreferences) error) (UserPreferences, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur, err := s.user(ctx, userID)
	if err != nil {
		return UserPreferences{}, err
	}
	next := *cur
	if err := fn(&next); err != nil {
		return UserPreferences{}, err
	}
	if err := s.store.PutUser(ctx, &next); err != nil {
		return UserPreferences{}, fmt.Errorf("settings: save user %s: %w", userID, err)
	}

	s.mu.Lock()
	s.users[userID] = &next
	s.mu.Unlock()
	return next, nil
}

// ExpireAdmins clears the admin of every guild inactive for longer than the
// inactivity window and returns how many were cleared.
func (s *Service) ExpireAdmins(ctx context.Context) (int, error) {
	all, err := s.store.ListServers(ctx)
	if err != nil {
		return 0, err
	}

	cleared := 0
	for _, stored := range all {
		// The cache may be newer than the store listing.
		cur, err := s.server(ctx, stored.GuildID)
		if err != nil {
			return cleared, err
		}
		if cur.AdminID == "" || s.now().Sub(cur.LastActive) <= s.inactivity {
			continue
		}
		if _, err := s.UpdateServer(ctx, stored.GuildID, func(ss *ServerSettings) error {
			slog.Info("settings: clearing inactive admin", "guild_id", ss.GuildID, "admin_id", ss.AdminID, "last_active", ss.LastActive)
			ss.AdminID = ""
			return nil
		}); err != nil {
			return cleared, err
		}
		cleared++
	}
	return cleared, nil
}

// Run calls ExpireAdmins once per interval until ctx ends. A non-positive
// interval uses the inactivity window.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = s.inactivity
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := s.ExpireAdmins(ctx); err != nil {
				slog.Warn("settings: admin expiry failed", "err", err)
			} else if n > 0 {
				slog.Info("settings: expired inactive admins", "count", n)
			}
		}
	}
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
