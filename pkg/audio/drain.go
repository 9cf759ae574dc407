package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when a streaming producer (a
// subscription's frames, an LLM chunk stream) is abandoned early.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
