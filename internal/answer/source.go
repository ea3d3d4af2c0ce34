package answer

import "context"

// Fragment is one incremental chunk of generated text. A stream that fails
// mid-flight delivers a final Fragment with Err set; the channel is closed
// after the terminal fragment either way.
type Fragment struct {
	Text string
	Err  error
}

// Source produces answers for prompts. Implementations live outside this
// package (the Gemini client, test fakes); the engine only depends on this
// capability.
type Source interface {
	// Generate returns the whole answer in one call.
	Generate(ctx context.Context, prompt string) (string, error)

	// GenerateStream returns a channel of text fragments for the prompt.
	// The stream is lazy, finite and not restartable. Cancelling ctx stops
	// delivery; the channel is always closed when the stream ends.
	GenerateStream(ctx context.Context, prompt string) (<-chan Fragment, error)
}
