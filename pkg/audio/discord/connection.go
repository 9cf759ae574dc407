package discord

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

const outputChannelBuffer = 64

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface. Incoming Opus packets are attributed to users
// through speaking updates (SSRC → user ID) and routed to that user's
// [audio.Subscription], which owns its decoder. Outgoing PCM frames from the
// attached player are encoded to Opus and sent.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc        *discordgo.VoiceConnection
	session   *discordgo.Session
	guildID   string
	botUserID string

	mu       sync.Mutex
	subs     map[string]*subscription // keyed by user ID
	ssrcUser map[uint32]string

	output   chan audio.AudioFrame
	flushed  chan struct{}
	attached atomic.Bool

	cbMu     sync.Mutex
	changeCb func(audio.Event)
	stateCb  func(audio.State)

	done      chan struct{}
	closeOnce sync.Once

	removeHandlers []func()

	// disconnectVC tears down the voice connection. Defaults to
	// vc.Disconnect; overridden in tests.
	disconnectVC func() error

	// newDecoder creates the per-subscription decoder. Overridden in tests.
	newDecoder func() (frameDecoder, error)
}

// newConnection initialises a Connection for an already-joined voice channel
// and starts the receive and send loops.
func newConnection(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID, botUserID string) *Connection {
	c := &Connection{
		vc:           vc,
		session:      session,
		guildID:      guildID,
		botUserID:    botUserID,
		subs:         make(map[string]*subscription),
		ssrcUser:     make(map[uint32]string),
		output:       make(chan audio.AudioFrame, outputChannelBuffer),
		flushed:      make(chan struct{}, 1),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
		newDecoder:   newOpusDecoder,
	}

	c.removeHandlers = append(c.removeHandlers,
		session.AddHandler(c.handleVoiceStateUpdate),
		session.AddHandler(c.handleVoiceServerUpdate),
	)
	vc.AddHandler(c.handleSpeakingUpdate)

	go c.recvLoop()
	go c.sendLoop()
	return c
}

// Subscribe opens a decoded audio stream for userID. An existing stream for
// the same user is ended first so a user never has two live decoders.
func (c *Connection) Subscribe(userID string, endAfterSilence time.Duration) (audio.Subscription, error) {
	select {
	case <-c.done:
		return nil, audio.ErrClosed
	default:
	}

	dec, err := c.newDecoder()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	prev := c.subs[userID]
	c.mu.Unlock()
	if prev != nil {
		prev.end()
	}

	sub := newSubscription(userID, dec, endAfterSilence, c.forget)
	c.mu.Lock()
	c.subs[userID] = sub
	c.mu.Unlock()
	return sub, nil
}

// forget removes sub from the routing table if it is still the current
// subscription for its user.
func (c *Connection) forget(sub *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs[sub.userID] == sub {
		delete(c.subs, sub.userID)
	}
}

// Attach implements [audio.Sink].
func (c *Connection) Attach() (chan<- audio.AudioFrame, func(), error) {
	select {
	case <-c.done:
		return nil, nil, audio.ErrClosed
	default:
	}
	if !c.attached.CompareAndSwap(false, true) {
		return nil, nil, audio.ErrSinkBusy
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			defer c.attached.Store(false)
			// A zero frame marks the end of this player's audio so the send
			// loop flushes its partial frame and stops speaking. release
			// returns once every buffered frame has gone to the transport.
			select {
			case c.output <- audio.AudioFrame{}:
			case <-c.done:
				return
			}
			select {
			case <-c.flushed:
			case <-c.done:
			}
		})
	}
	return c.output, release, nil
}

// OnParticipantChange registers cb for participant join/leave events.
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.changeCb = cb
}

// OnStateChange registers cb for transport state changes.
func (c *Connection) OnStateChange(cb func(audio.State)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.stateCb = cb
}

// Disconnect tears down the voice connection, ends all subscriptions and
// stops the background loops. Subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		for _, remove := range c.removeHandlers {
			remove()
		}

		if c.disconnectVC != nil {
			if dErr := c.disconnectVC(); dErr != nil {
				err = fmt.Errorf("discord: disconnect voice: %w", dErr)
			}
		}

		c.mu.Lock()
		subs := make([]*subscription, 0, len(c.subs))
		for _, s := range c.subs {
			subs = append(subs, s)
		}
		c.mu.Unlock()
		for _, s := range subs {
			s.end()
		}

		c.emitState(audio.StateDestroyed)
	})
	return err
}

// recvLoop routes Opus packets to the subscription of the user that owns the
// packet's SSRC. Packets from unknown SSRCs or unsubscribed users are dropped.
func (c *Connection) recvLoop() {
	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}

			c.mu.Lock()
			userID, known := c.ssrcUser[pkt.SSRC]
			sub := c.subs[userID]
			c.mu.Unlock()
			if !known || sub == nil {
				continue
			}

			ts := time.Duration(pkt.Timestamp) * time.Second / time.Duration(opusSampleRate)
			sub.deliver(pkt.Opus, ts)
		}
	}
}

// sendLoop reads PCM frames from the attached player, converts them to
// 48 kHz stereo, cuts exact Opus frame-sized chunks, encodes and sends them.
// A zero frame flushes the remainder (padded with silence), clears the
// speaking flag and acknowledges the release that sent it.
func (c *Connection) sendLoop() {
	enc, err := newOpusEncoder()
	if err != nil {
		slog.Error("discord: failed to create opus encoder; playback is muted", "err", err)
		c.discardOutput()
		return
	}

	conv := audio.FormatConverter{Target: audio.Format{SampleRate: opusSampleRate, Channels: playbackChannels}}
	speaking := false
	var buf []byte

	send := func(pcm []byte) bool {
		opus, eErr := enc.encode(pcm)
		if eErr != nil {
			slog.Warn("discord: opus encode error", "err", eErr)
			return true
		}
		select {
		case c.vc.OpusSend <- opus:
			return true
		case <-c.done:
			return false
		}
	}

	for {
		select {
		case <-c.done:
			if speaking {
				c.setSpeaking(false)
			}
			return
		case frame := <-c.output:
			if frame.SampleRate == 0 {
				if len(buf) > 0 {
					padded := make([]byte, playbackFrameBytes)
					copy(padded, buf)
					buf = buf[:0]
					if !send(padded) {
						return
					}
				}
				if speaking {
					c.setSpeaking(false)
					speaking = false
				}
				c.ackFlush()
				continue
			}

			if !speaking {
				c.setSpeaking(true)
				speaking = true
			}

			buf = append(buf, conv.Convert(frame.Data, audio.Format{SampleRate: frame.SampleRate, Channels: frame.Channels})...)
			for len(buf) >= playbackFrameBytes {
				if !send(buf[:playbackFrameBytes]) {
					return
				}
				buf = buf[playbackFrameBytes:]
			}
		}
	}
}

// discardOutput drops frames when nothing can be encoded so attached players
// still finish and release.
func (c *Connection) discardOutput() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.output:
			if frame.SampleRate == 0 {
				c.ackFlush()
			}
		}
	}
}

func (c *Connection) ackFlush() {
	select {
	case c.flushed <- struct{}{}:
	default:
	}
}

// handleSpeakingUpdate records which user owns an SSRC.
func (c *Connection) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}
	c.mu.Lock()
	c.ssrcUser[uint32(vs.SSRC)] = vs.UserID
	c.mu.Unlock()
}

// handleVoiceStateUpdate turns voice state updates into participant events
// (other users) and transport state changes (the bot itself).
func (c *Connection) handleVoiceStateUpdate(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu.GuildID != c.guildID {
		return
	}

	if vsu.UserID == c.botUserID {
		switch {
		case vsu.ChannelID == "":
			c.emitState(audio.StateDisconnected)
		case vsu.BeforeUpdate == nil || vsu.BeforeUpdate.ChannelID != vsu.ChannelID:
			c.emitState(audio.StateSignalling)
		}
		return
	}

	channelID := c.vc.ChannelID
	username := ""
	if vsu.Member != nil && vsu.Member.User != nil {
		username = vsu.Member.User.Username
	}

	switch {
	case vsu.BeforeUpdate != nil && vsu.BeforeUpdate.ChannelID == channelID && vsu.ChannelID != channelID:
		c.emitEvent(audio.Event{Type: audio.EventLeave, UserID: vsu.UserID, Username: username})
	case vsu.ChannelID == channelID && (vsu.BeforeUpdate == nil || vsu.BeforeUpdate.ChannelID != channelID):
		c.emitEvent(audio.Event{Type: audio.EventJoin, UserID: vsu.UserID, Username: username})
	}
}

// handleVoiceServerUpdate signals that discordgo is reopening the voice
// transport against a (possibly new) endpoint.
func (c *Connection) handleVoiceServerUpdate(_ *discordgo.Session, vsu *discordgo.VoiceServerUpdate) {
	if vsu.GuildID != c.guildID {
		return
	}
	c.emitState(audio.StateConnecting)
}

func (c *Connection) setSpeaking(b bool) {
	if err := c.vc.Speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "err", err)
	}
}

func (c *Connection) emitEvent(ev audio.Event) {
	c.cbMu.Lock()
	cb := c.changeCb
	c.cbMu.Unlock()
	if cb != nil {
		go cb(ev)
	}
}

func (c *Connection) emitState(st audio.State) {
	c.cbMu.Lock()
	cb := c.stateCb
	c.cbMu.Unlock()
	if cb != nil {
		go cb(st)
	}
}
