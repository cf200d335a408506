// Package deepgram provides a recognition capability backed by Deepgram live
// transcription fed from the local microphone.
package deepgram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/sjawhar/doobs/internal/audio"
	"github.com/sjawhar/doobs/internal/recognition"
)

const (
	DefaultModel           = "nova-2"
	DefaultNoSpeechTimeout = 8 * time.Second
)

// Config holds the Deepgram connection and microphone settings.
type Config struct {
	APIKey          string
	Model           string
	SmartFormat     bool
	SampleRates     []int
	NoSpeechTimeout time.Duration
	Logger          *slog.Logger
}

// liveClient is the part of the Deepgram websocket client a session drives.
type liveClient interface {
	io.Writer
	Connect() bool
	Stop()
}

type microphone interface {
	audio.Streamer
	SampleRate() int
	Start() error
	Stop() error
	Close() error
}

type dialFunc func(
	ctx context.Context,
	apiKey string,
	clientOptions *interfaces.ClientOptions,
	transcriptionOptions *interfaces.LiveTranscriptionOptions,
	callback api.LiveMessageCallback,
) (liveClient, error)

// Recognizer opens Deepgram-backed recognition sessions.
type Recognizer struct {
	cfg     Config
	logger  *slog.Logger
	dial    dialFunc
	openMic func(rates []int) (microphone, error)
	probe   func() error
	wait    func(time.Duration)
}

// New returns a Recognizer that talks to Deepgram and reads the default input
// device. PortAudio must already be initialised.
func New(cfg Config) *Recognizer {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.NoSpeechTimeout <= 0 {
		cfg.NoSpeechTimeout = DefaultNoSpeechTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Recognizer{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "deepgram")),
		dial:   dialDeepgram,
		openMic: func(rates []int) (microphone, error) {
			mic, err := audio.Open(rates, audio.DefaultFramesPerBuffer)
			if err != nil {
				return nil, err
			}
			return mic, nil
		},
		probe: audio.InputAvailable,
		wait:  time.Sleep,
	}
}

// Open checks that transcription can work on this host and returns an idle
// session. The error wraps recognition.ErrUnsupported when it cannot.
func (r *Recognizer) Open(settings recognition.Settings, handler recognition.Handler) (recognition.Session, error) {
	if r.cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: deepgram api key not configured", recognition.ErrUnsupported)
	}
	if err := r.probe(); err != nil {
		return nil, fmt.Errorf("%w: %v", recognition.ErrUnsupported, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("open deepgram session: nil handler")
	}
	return newSession(r, settings, handler), nil
}

func (r *Recognizer) transcriptionOptions(settings recognition.Settings, sampleRate int) *interfaces.LiveTranscriptionOptions {
	alternatives := settings.MaxAlternatives
	if alternatives < 1 {
		alternatives = 1
	}
	return &interfaces.LiveTranscriptionOptions{
		Model:          r.cfg.Model,
		Language:       settings.Locale,
		InterimResults: settings.InterimResults,
		Alternatives:   alternatives,
		Punctuate:      true,
		SmartFormat:    r.cfg.SmartFormat,
		VadEvents:      true,
		Encoding:       "linear16",
		SampleRate:     sampleRate,
		Channels:       1,
	}
}

var initSDK sync.Once

func dialDeepgram(
	ctx context.Context,
	apiKey string,
	clientOptions *interfaces.ClientOptions,
	transcriptionOptions *interfaces.LiveTranscriptionOptions,
	callback api.LiveMessageCallback,
) (liveClient, error) {
	initSDK.Do(func() {
		client.Init(client.InitLib{LogLevel: client.LogLevelDefault})
	})
	dg, err := client.NewWSUsingCallback(ctx, apiKey, clientOptions, transcriptionOptions, callback)
	if err != nil {
		return nil, err
	}
	return dg, nil
}
