package recognition

import "errors"

var (
	// ErrUnsupported is returned by a Recognizer when speech recognition is
	// not available on this host.
	ErrUnsupported = errors.New("speech recognition is not supported")

	// ErrAlreadyStarted is returned by Session.Start when the session is
	// already running.
	ErrAlreadyStarted = errors.New("recognition already started")

	// ErrClosed is returned once the controller has been closed.
	ErrClosed = errors.New("recognition controller is closed")
)

const (
	MessageUnsupported      = "Speech recognition is not supported on this device."
	MessagePermissionDenied = "Microphone access denied. Please enable microphone permissions in your device settings."
	MessageNoMicrophone     = "No microphone found. Please ensure a microphone is connected."
	MessageNetwork          = "Network error. Please check your internet connection."
	MessageStartFailed      = "Failed to start recording. Please try again."
	MessageRestartExhausted = "Recognition keeps stopping. Tap Start to try again."

	permissionPromptHeader  = "Microphone Permission Required"
	permissionPromptMessage = "To use speech recognition, please allow microphone access in your system settings."
)

func genericErrorMessage(code ErrorCode, detail string) string {
	if detail != "" {
		return "Error: " + detail
	}
	return "Error: " + string(code)
}
