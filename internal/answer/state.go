package answer

// Kind discriminates the variants of State.
type Kind int

const (
	// KindInitial is the state before any prompt has been submitted.
	KindInitial Kind = iota
	// KindLoading means a generation is in flight with no text yet.
	KindLoading
	// KindSuccess carries the accumulated answer text.
	KindSuccess
	// KindError carries a human-readable failure message.
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindInitial:
		return "initial"
	case KindLoading:
		return "loading"
	case KindSuccess:
		return "success"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// State is the engine's published state: exactly one variant at any instant.
// Text and Saved are meaningful only for KindSuccess, Message only for
// KindError. Consumers receive value copies and cannot mutate engine state.
type State struct {
	Kind    Kind
	Text    string
	Saved   bool
	Message string
}

// Initial returns the construction-time state.
func Initial() State { return State{Kind: KindInitial} }

// Loading returns the in-flight state.
func Loading() State { return State{Kind: KindLoading} }

// Success returns a success state carrying the accumulated text.
func Success(text string) State { return State{Kind: KindSuccess, Text: text} }

// Error returns an error state with the given message.
func Error(message string) State { return State{Kind: KindError, Message: message} }
