// Package mock provides in-memory mock implementations of the [audio.Platform],
// [audio.Connection] and [audio.Subscription] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	conn := &mock.Connection{}
//	platform := &mock.Platform{ConnectResult: conn}
//	got, _ := platform.Connect(ctx, "guild-1", "channel-42")
//	sub, _ := got.Subscribe("user-1", time.Second)
//	conn.Subscription("user-1").Push(audio.AudioFrame{...})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

// ─── Subscription ─────────────────────────────────────────────────────────────

// Subscription is a mock implementation of [audio.Subscription]. Tests feed
// frames with [Subscription.Push] and simulate the platform ending the stream
// with [Subscription.End].
type Subscription struct {
	userID string
	frames chan audio.AudioFrame

	mu         sync.Mutex
	ended      bool
	closeCalls int
}

// NewSubscription returns a Subscription for userID whose frame channel has
// the given buffer size.
func NewSubscription(userID string, buffer int) *Subscription {
	return &Subscription{userID: userID, frames: make(chan audio.AudioFrame, buffer)}
}

// UserID implements [audio.Subscription].
func (s *Subscription) UserID() string { return s.userID }

// Frames implements [audio.Subscription].
func (s *Subscription) Frames() <-chan audio.AudioFrame { return s.frames }

// Close implements [audio.Subscription]. Every call is counted; the channel
// is closed once.
func (s *Subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	s.endLocked()
	return nil
}

// Push delivers a frame. Frames pushed after the stream ended are dropped.
func (s *Subscription) Push(f audio.AudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.frames <- f
}

// End closes the frame channel the way a platform does after the
// end-after-silence period. It does not count as a Close call.
func (s *Subscription) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked()
}

// CloseCalls reports how many times Close was called.
func (s *Subscription) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// Ended reports whether the frame channel has been closed.
func (s *Subscription) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *Subscription) endLocked() {
	if s.ended {
		return
	}
	s.ended = true
	close(s.frames)
}

// ─── Connection ───────────────────────────────────────────────────────────────

// SubscribeCall records the arguments of a single [Connection.Subscribe] call.
type SubscribeCall struct {
	UserID          string
	EndAfterSilence time.Duration
}

// Connection is a mock implementation of [audio.Connection].
// Set the exported error fields before use; inspect the recorded calls after.
type Connection struct {
	mu sync.Mutex

	// SubscribeError is returned by [Connection.Subscribe] when non-nil.
	SubscribeError error

	// AttachError is returned by [Connection.Attach] when non-nil.
	AttachError error

	// DisconnectError is returned by [Connection.Disconnect].
	DisconnectError error

	// SubscriptionBuffer sizes the frame channel of new subscriptions.
	// Defaults to 64.
	SubscriptionBuffer int

	// SubscribeCalls records all Subscribe invocations.
	SubscribeCalls []SubscribeCall

	// CallCountAttach records how many times Attach succeeded.
	CallCountAttach int

	// CallCountRelease records how many players released the sink.
	CallCountRelease int

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	subs     []*Subscription
	played   []audio.AudioFrame
	attached bool
	changeCb func(audio.Event)
	stateCb  func(audio.State)
}

// Subscribe implements [audio.Connection]. Each call creates a fresh
// [Subscription] retrievable with [Connection.Subscription].
func (c *Connection) Subscribe(userID string, endAfterSilence time.Duration) (audio.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SubscribeCalls = append(c.SubscribeCalls, SubscribeCall{UserID: userID, EndAfterSilence: endAfterSilence})
	if c.SubscribeError != nil {
		return nil, c.SubscribeError
	}
	buf := c.SubscriptionBuffer
	if buf <= 0 {
		buf = 64
	}
	sub := NewSubscription(userID, buf)
	c.subs = append(c.subs, sub)
	return sub, nil
}

// Subscribes returns a copy of SubscribeCalls.
func (c *Connection) Subscribes() []SubscribeCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SubscribeCall(nil), c.SubscribeCalls...)
}

// Subscription returns the most recent subscription opened for userID, or
// nil if there is none.
func (c *Connection) Subscription(userID string) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.subs) - 1; i >= 0; i-- {
		if c.subs[i].userID == userID {
			return c.subs[i]
		}
	}
	return nil
}

// Subscriptions returns every subscription opened so far, in order.
func (c *Connection) Subscriptions() []*Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Subscription, len(c.subs))
	copy(out, c.subs)
	return out
}

// Attach implements [audio.Sink]. Frames written by the player are recorded
// and available from [Connection.Played] once release returns.
func (c *Connection) Attach() (chan<- audio.AudioFrame, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.AttachError != nil {
		return nil, nil, c.AttachError
	}
	if c.attached {
		return nil, nil, audio.ErrSinkBusy
	}
	c.attached = true
	c.CallCountAttach++

	frames := make(chan audio.AudioFrame, 64)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case f := <-frames:
				c.record(f)
			case <-stop:
				return
			}
		}
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done
			for {
				select {
				case f := <-frames:
					c.record(f)
				default:
					c.mu.Lock()
					c.attached = false
					c.CallCountRelease++
					c.mu.Unlock()
					return
				}
			}
		})
	}
	return frames, release, nil
}

func (c *Connection) record(f audio.AudioFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.played = append(c.played, f)
}

// Played returns every frame written by attached players.
func (c *Connection) Played() []audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audio.AudioFrame, len(c.played))
	copy(out, c.played)
	return out
}

// Attached reports whether a player currently owns the sink.
func (c *Connection) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attached
}

// OnParticipantChange implements [audio.Connection].
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changeCb = cb
}

// OnStateChange implements [audio.Connection].
func (c *Connection) OnStateChange(cb func(audio.State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateCb = cb
}

// Disconnect implements [audio.Connection]. Ends all subscriptions and
// returns DisconnectError.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.CallCountDisconnect++
	subs := make([]*Subscription, len(c.subs))
	copy(subs, c.subs)
	err := c.DisconnectError
	c.mu.Unlock()
	for _, s := range subs {
		s.End()
	}
	return err
}

// DisconnectCount returns CallCountDisconnect under the lock.
func (c *Connection) DisconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountDisconnect
}

// EmitEvent synchronously calls the registered participant callback.
func (c *Connection) EmitEvent(ev audio.Event) {
	c.mu.Lock()
	cb := c.changeCb
	c.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// EmitState synchronously calls the registered state callback.
func (c *Connection) EmitState(st audio.State) {
	c.mu.Lock()
	cb := c.stateCb
	c.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	GuildID   string
	ChannelID string
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is the [audio.Connection] returned by Connect.
	ConnectResult audio.Connection

	// ConnectFunc, when set, is called instead of returning ConnectResult.
	ConnectFunc func(ctx context.Context, guildID, channelID string) (audio.Connection, error)

	// ConnectError is the error returned by Connect.
	ConnectError error

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall
}

// Connect implements [audio.Platform].
func (p *Platform) Connect(ctx context.Context, guildID, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{GuildID: guildID, ChannelID: channelID})
	fn, res, err := p.ConnectFunc, p.ConnectResult, p.ConnectError
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, guildID, channelID)
	}
	return res, err
}
