// Package recognition turns the event stream of a speech-recognition
// capability into an accumulating, editable transcript.
package recognition

import (
	"context"
	"strings"
)

// DefaultLocale is used when no locale is configured.
const DefaultLocale = "en-US"

// Settings configure a recognition session before it is started.
type Settings struct {
	Continuous      bool
	InterimResults  bool
	Locale          string
	MaxAlternatives int
}

// DefaultSettings returns continuous listening with interim results and a
// single alternative per result.
func DefaultSettings(locale string) Settings {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		locale = DefaultLocale
	}
	return Settings{
		Continuous:      true,
		InterimResults:  true,
		Locale:          locale,
		MaxAlternatives: 1,
	}
}

type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// Result is one recognition hypothesis slot. Final results are never revised.
type Result struct {
	IsFinal      bool          `json:"is_final"`
	Alternatives []Alternative `json:"alternatives"`
}

// ResultEvent carries every result of the session so far. ResultIndex marks
// the first result that changed since the previous event.
type ResultEvent struct {
	ResultIndex int      `json:"result_index"`
	Results     []Result `json:"results"`
}

// ErrorCode classifies errors reported by a recognition session.
type ErrorCode string

const (
	CodePermissionDenied ErrorCode = "permission-denied"
	CodeNoMicrophone     ErrorCode = "no-microphone"
	CodeNetwork          ErrorCode = "network"
	CodeNoSpeech         ErrorCode = "no-speech"
	CodeAborted          ErrorCode = "aborted"
	CodeOther            ErrorCode = "other"
)

// ParseErrorCode maps a raw error name onto an ErrorCode. Web Speech API
// names are accepted alongside the native ones.
func ParseErrorCode(raw string) ErrorCode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "permission-denied", "not-allowed", "service-not-allowed":
		return CodePermissionDenied
	case "no-microphone", "audio-capture":
		return CodeNoMicrophone
	case "network":
		return CodeNetwork
	case "no-speech":
		return CodeNoSpeech
	case "aborted":
		return CodeAborted
	default:
		return CodeOther
	}
}

type ErrorEvent struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message,omitempty"`
}

// Handler receives session events. Implementations must tolerate calls from
// any goroutine.
type Handler interface {
	OnStart()
	OnResult(ResultEvent)
	OnError(ErrorEvent)
	OnEnd()
}

// Recognizer is the platform speech-recognition capability. Open returns an
// error wrapping ErrUnsupported when the capability is absent.
type Recognizer interface {
	Open(settings Settings, handler Handler) (Session, error)
}

// Session is one handle to the recognition capability. Start returns an
// error wrapping ErrAlreadyStarted if the session is already running.
type Session interface {
	Start(ctx context.Context) error
	Stop() error
}

// State is the controller's externally visible status.
type State string

const (
	StateIdle        State = "idle"
	StateListening   State = "listening"
	StateError       State = "error"
	StateUnsupported State = "unsupported"
)

// ErrorKind says why the controller is in StateError or StateUnsupported.
type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindUnsupported      ErrorKind = "unsupported"
	KindPermissionDenied ErrorKind = "permission_denied"
	KindNoMicrophone     ErrorKind = "no_microphone"
	KindNetwork          ErrorKind = "network"
	KindSession          ErrorKind = "session"
)

// PermissionPrompt is the blocking explanation shown after permission denial.
type PermissionPrompt struct {
	Header  string `json:"header"`
	Message string `json:"message"`
}

// Snapshot is a read-only copy of the controller state.
type Snapshot struct {
	Revision         uint64            `json:"revision"`
	State            State             `json:"state"`
	ErrorKind        ErrorKind         `json:"error_kind,omitempty"`
	Message          string            `json:"message,omitempty"`
	Listening        bool              `json:"listening"`
	Unsupported      bool              `json:"unsupported"`
	FinalText        string            `json:"final_text"`
	InterimText      string            `json:"interim_text"`
	WordCount        int               `json:"word_count"`
	PermissionPrompt *PermissionPrompt `json:"permission_prompt,omitempty"`
}

// WordCount counts whitespace-delimited non-empty tokens.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
