// Package mock provides test doubles for Discord interaction testing.
package mock

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// SentMessage is one message recorded by [Session].
type SentMessage struct {
	ChannelID string
	Content   string
	Embed     *discordgo.MessageEmbed

	// ReplyTo is the referenced message ID for replies.
	ReplyTo string
}

// Session records REST calls for test assertions. It satisfies
// discord.Session. Safe for concurrent use.
type Session struct {
	mu sync.Mutex

	// Responses records all InteractionRespond calls.
	Responses []*discordgo.InteractionResponse

	// FollowUps records all FollowupMessageCreate calls.
	FollowUps []*discordgo.WebhookParams

	// Messages records channel messages, embeds and replies in send order.
	Messages []SentMessage

	// Err is returned by every call when non-nil, allowing error
	// injection.
	Err error

	seq int
}

// InteractionRespond records the response and returns the configured error.
func (m *Session) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, resp)
	return m.Err
}

// FollowupMessageCreate records the follow-up and returns a stub message.
func (m *Session) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, params *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FollowUps = append(m.FollowUps, params)
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Message{ID: "mock-followup"}, nil
}

// ChannelMessageSend records a plain message.
func (m *Session) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	return m.record(SentMessage{ChannelID: channelID, Content: content})
}

// ChannelMessageSendEmbed records an embed.
func (m *Session) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	return m.record(SentMessage{ChannelID: channelID, Embed: embed})
}

// ChannelMessageSendReply records a reply.
func (m *Session) ChannelMessageSendReply(channelID, content string, ref *discordgo.MessageReference, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	msg := SentMessage{ChannelID: channelID, Content: content}
	if ref != nil {
		msg.ReplyTo = ref.MessageID
	}
	return m.record(msg)
}

func (m *Session) record(msg SentMessage) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.Messages = append(m.Messages, msg)
	m.seq++
	return &discordgo.Message{ID: fmt.Sprintf("mock-msg-%d", m.seq), ChannelID: msg.ChannelID, Content: msg.Content}, nil
}

// LastResponse returns the most recently recorded response, or nil.
func (m *Session) LastResponse() *discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Responses) == 0 {
		return nil
	}
	return m.Responses[len(m.Responses)-1]
}

// LastFollowUp returns the most recently recorded follow-up, or nil.
func (m *Session) LastFollowUp() *discordgo.WebhookParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.FollowUps) == 0 {
		return nil
	}
	return m.FollowUps[len(m.FollowUps)-1]
}

// SentMessages returns a copy of the recorded channel messages.
func (m *Session) SentMessages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.Messages))
	copy(out, m.Messages)
	return out
}

// Reset clears all recorded interactions and errors.
func (m *Session) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = nil
	m.FollowUps = nil
	m.Messages = nil
	m.Err = nil
}
