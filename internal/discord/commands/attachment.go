package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"
)

// maxTextAttachment caps how much of a text attachment is read into a
// prompt.
const maxTextAttachment = 16 << 10

// AttachmentKind classifies a message attachment.
type AttachmentKind int

const (
	// KindFile is anything that is neither an image nor text.
	KindFile AttachmentKind = iota

	// KindImage is an image/* attachment.
	KindImage

	// KindText is a text/* attachment whose content is inlined.
	KindText
)

// String returns a human-readable label for the kind.
func (k AttachmentKind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindText:
		return "text"
	default:
		return "file"
	}
}

// DetectKind classifies an attachment by its content type, falling back to
// the filename extension when Discord did not report one.
func DetectKind(contentType, filename string) AttachmentKind {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return KindImage
	case strings.HasPrefix(ct, "text/"):
		return KindText
	case ct != "":
		return KindFile
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return KindImage
	case ".txt", ".md", ".csv", ".log":
		return KindText
	default:
		return KindFile
	}
}

// AttachmentDescriber turns message attachments into prompt lines.
type AttachmentDescriber struct {
	client *http.Client
}

// NewAttachmentDescriber creates an AttachmentDescriber. A nil client uses
// http.DefaultClient.
func NewAttachmentDescriber(client *http.Client) *AttachmentDescriber {
	if client == nil {
		client = http.DefaultClient
	}
	return &AttachmentDescriber{client: client}
}

// DescribeAll describes every attachment, downloading text attachments
// concurrently. The result keeps the attachment order.
func (d *AttachmentDescriber) DescribeAll(ctx context.Context, atts []*discordgo.MessageAttachment) []string {
	lines := make([]string, len(atts))
	g, ctx := errgroup.WithContext(ctx)
	for n, a := range atts {
		g.Go(func() error {
			lines[n] = d.Describe(ctx, a)
			return nil
		})
	}
	_ = g.Wait()
	return lines
}

// Describe returns the prompt line for one attachment. A text attachment
// that cannot be downloaded is described like any other file.
func (d *AttachmentDescriber) Describe(ctx context.Context, a *discordgo.MessageAttachment) string {
	switch DetectKind(a.ContentType, a.Filename) {
	case KindImage:
		return fmt.Sprintf("[Image attached: %s]", a.Filename)
	case KindText:
		text, err := d.download(ctx, a)
		if err != nil {
			slog.Warn("discord: download text attachment", "filename", a.Filename, "err", err)
			break
		}
		return fmt.Sprintf("[Text content from %s]: %s", a.Filename, text)
	}
	return fmt.Sprintf("[File attached: %s]", a.Filename)
}

// download fetches at most maxTextAttachment bytes of a.
func (d *AttachmentDescriber) download(ctx context.Context, a *discordgo.MessageAttachment) (string, error) {
	if a.URL == "" {
		return "", errors.New("attachment has no URL")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return "", fmt.Errorf("create download request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download attachment: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTextAttachment))
	if err != nil {
		return "", fmt.Errorf("read attachment: %w", err)
	}
	// The limit may cut a rune in half.
	return strings.TrimSpace(strings.ToValidUTF8(string(body), "")), nil
}

// BuildPrompt appends attachment descriptions to the message text.
func BuildPrompt(text string, attachments []string) string {
	if len(attachments) == 0 {
		return text
	}
	return text + "\n\nAttachments:\n" + strings.Join(attachments, "\n")
}
