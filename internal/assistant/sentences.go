package assistant

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode"

	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/provider/llm"
)

// SentenceSplitter cuts streamed text into complete sentences. A sentence
// ends at '.', '!' or '?' followed by whitespace; "3.5" stays whole.
type SentenceSplitter struct {
	buf strings.Builder
}

// Push appends text and returns every sentence it completed, trimmed.
func (s *SentenceSplitter) Push(text string) []string {
	s.buf.WriteString(text)
	pending := s.buf.String()

	var out []string
	start := 0
	runes := []rune(pending)
	for i := 0; i < len(runes)-1; i++ {
		if !isTerminal(runes[i]) || !unicode.IsSpace(runes[i+1]) {
			continue
		}
		// A run like "?!" splits after its last mark.
		if sentence := strings.TrimSpace(string(runes[start : i+1])); sentence != "" {
			out = append(out, sentence)
		}
		start = i + 1
	}

	s.buf.Reset()
	s.buf.WriteString(string(runes[start:]))
	return out
}

// Flush returns whatever is left, trimmed, and resets the splitter.
func (s *SentenceSplitter) Flush() string {
	rest := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return rest
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// sentenceStream reads a completion stream in the background and queues
// the sentences it completes. The reader never waits for the consumer, so
// the completion deadline only covers generation.
type sentenceStream struct {
	mu     sync.Mutex
	queued []string
	text   strings.Builder
	done   bool
	err    error
	wake   chan struct{}
}

// readSentences starts reading chunks. ctx must be the context the stream
// was opened with. finished is called once from the reader goroutine with
// the stream's outcome before next reports it.
func readSentences(ctx context.Context, chunks <-chan llm.Chunk, finished func(error)) *sentenceStream {
	s := &sentenceStream{wake: make(chan struct{}, 1)}
	go s.read(ctx, chunks, finished)
	return s
}

func (s *sentenceStream) read(ctx context.Context, chunks <-chan llm.Chunk, finished func(error)) {
	var (
		split SentenceSplitter
		err   error
	)
	for c := range chunks {
		if c.FinishReason == llm.FinishReasonError {
			err = fmt.Errorf("%w: %s", llm.ErrStream, c.Text)
			go audio.Drain(chunks)
			break
		}
		s.push(c.Text, split.Push(c.Text))
	}
	if err == nil {
		// Providers close the channel without an error chunk when ctx ends.
		err = ctx.Err()
	}
	if err == nil {
		if rest := split.Flush(); rest != "" {
			s.push("", []string{rest})
		}
	}
	if finished != nil {
		finished(err)
	}

	s.mu.Lock()
	s.done, s.err = true, err
	s.mu.Unlock()
	s.notify()
}

func (s *sentenceStream) push(text string, sentences []string) {
	s.mu.Lock()
	s.text.WriteString(text)
	s.queued = append(s.queued, sentences...)
	s.mu.Unlock()
	if len(sentences) > 0 {
		s.notify()
	}
}

func (s *sentenceStream) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// next blocks for the next sentence. Queued sentences are returned before
// the stream's error; a clean end yields io.EOF.
func (s *sentenceStream) next(ctx context.Context) (string, error) {
	for {
		s.mu.Lock()
		if len(s.queued) > 0 {
			sentence := s.queued[0]
			s.queued = s.queued[1:]
			s.mu.Unlock()
			return sentence, nil
		}
		done, err := s.done, s.err
		s.mu.Unlock()
		if done {
			if err == nil {
				err = io.EOF
			}
			return "", err
		}

		select {
		case <-s.wake:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Text returns the raw text received so far.
func (s *sentenceStream) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}
