package health

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrGatewayClosed is reported while the Discord gateway session is down.
var ErrGatewayClosed = errors.New("gateway not connected")

// Gateway reports whether the bot's gateway connection is open.
func Gateway(open func() bool) Checker {
	return Checker{
		Name: "discord",
		Check: func(context.Context) error {
			if !open() {
				return ErrGatewayClosed
			}
			return nil
		},
	}
}

// ScratchDir verifies that temporary audio files can be created in dir.
func ScratchDir(dir string) Checker {
	return Checker{
		Name: "scratch_dir",
		Check: func(context.Context) error {
			f, err := os.CreateTemp(dir, ".readyz-*")
			if err != nil {
				return fmt.Errorf("not writable: %w", err)
			}
			name := f.Name()
			f.Close()
			return os.Remove(name)
		},
	}
}

// Pinger is anything with a context-aware liveness probe, such as the
// settings service or a pgx pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping wraps p as a checker called name.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}
