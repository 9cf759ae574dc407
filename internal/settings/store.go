package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

// Store persists settings. Implementations must be safe for concurrent use.
type Store interface {
	// GetServer returns (nil, nil) when the guild has no record.
	GetServer(ctx context.Context, guildID string) (*ServerSettings, error)

	// PutServer creates or replaces a guild record.
	PutServer(ctx context.Context, s *ServerSettings) error

	// DeleteServer removes a guild record. Missing records are not an error.
	DeleteServer(ctx context.Context, guildID string) error

	// ListServers returns every guild record.
	ListServers(ctx context.Context) ([]*ServerSettings, error)

	// GetUser returns (nil, nil) when the user has no record.
	GetUser(ctx context.Context, userID string) (*UserPreferences, error)

	// PutUser creates or replaces a user record.
	PutUser(ctx context.Context, p *UserPreferences) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// Discord snowflakes are decimal; anything else never becomes a file name.
var idPattern = regexp.MustCompile(`^[0-9A-Za-z_-]{1,64}$`)

// FileStore keeps one JSON file per record under a directory:
// guilds/<guildID>.json and users/<userID>.json.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the directory layout under dir.
func NewFileStore(dir string) (*FileStore, error) {
	for _, sub := range []string{"guilds", "users"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("settings: create %s dir: %w", sub, err)
		}
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(kind, id string) (string, error) {
	if !idPattern.MatchString(id) {
		return "", fmt.Errorf("settings: invalid id %q", id)
	}
	return filepath.Join(f.dir, kind, id+".json"), nil
}

// GetServer implements [Store].
func (f *FileStore) GetServer(_ context.Context, guildID string) (*ServerSettings, error) {
	var s ServerSettings
	ok, err := f.read("guilds", guildID, &s)
	if err != nil || !ok {
		return nil, err
	}
	s.normalize()
	return &s, nil
}

// PutServer implements [Store].
func (f *FileStore) PutServer(_ context.Context, s *ServerSettings) error {
	return f.write("guilds", s.GuildID, s)
}

// DeleteServer implements [Store].
func (f *FileStore) DeleteServer(_ context.Context, guildID string) error {
	path, err := f.path("guilds", guildID)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("settings: delete guild %s: %w", guildID, err)
	}
	return nil
}

// ListServers implements [Store].
func (f *FileStore) ListServers(ctx context.Context) ([]*ServerSettings, error) {
	f.mu.Lock()
	entries, err := os.ReadDir(filepath.Join(f.dir, "guilds"))
	f.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("settings: list guilds: %w", err)
	}

	var out []*ServerSettings
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		s, err := f.GetServer(ctx, name[:len(name)-len(".json")])
		if err != nil {
			return nil, err
		}
		if s != nil {
			out = append(out, s)
		}
	}
	return out, nil
}

// GetUser implements [Store].
func (f *FileStore) GetUser(_ context.Context, userID string) (*UserPreferences, error) {
	var p UserPreferences
	ok, err := f.read("users", userID, &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

// PutUser implements [Store].
func (f *FileStore) PutUser(_ context.Context, p *UserPreferences) error {
	return f.write("users", p.UserID, p)
}

// Ping checks that the directory is still writable.
func (f *FileStore) Ping(context.Context) error {
	tmp, err := os.CreateTemp(f.dir, ".ping-*")
	if err != nil {
		return fmt.Errorf("settings: store not writable: %w", err)
	}
	name := tmp.Name()
	_ = tmp.Close()
	return os.Remove(name)
}

func (f *FileStore) read(kind, id string, v any) (bool, error) {
	path, err := f.path(kind, id)
	if err != nil {
		return false, err
	}
	f.mu.Lock()
	data, err := os.ReadFile(path)
	f.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("settings: read %s/%s: %w", kind, id, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("settings: decode %s/%s: %w", kind, id, err)
	}
	return true, nil
}

// write replaces the record atomically via a temp file and rename.
func (f *FileStore) write(kind, id string, v any) error {
	path, err := f.path(kind, id)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: encode %s/%s: %w", kind, id, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+id+"-*.tmp")
	if err != nil {
		return fmt.Errorf("settings: write %s/%s: %w", kind, id, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("settings: write %s/%s: %w", kind, id, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("settings: write %s/%s: %w", kind, id, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("settings: write %s/%s: %w", kind, id, err)
	}
	return nil
}
