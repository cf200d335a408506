package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// DefaultFramesPerBuffer is roughly 64ms of audio at 16kHz.
const DefaultFramesPerBuffer = 1024

// ErrNoInputDevice is returned when the host has no default capture device.
var ErrNoInputDevice = errors.New("no audio input device")

var (
	initMu   sync.Mutex
	initRefs int
)

// Initialize prepares PortAudio. Every successful call must be paired with
// Terminate.
func Initialize() error {
	initMu.Lock()
	defer initMu.Unlock()

	if initRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("initialize portaudio: %w", err)
		}
	}
	initRefs++
	return nil
}

func Terminate() error {
	initMu.Lock()
	defer initMu.Unlock()

	if initRefs == 0 {
		return nil
	}
	initRefs--
	if initRefs > 0 {
		return nil
	}
	return portaudio.Terminate()
}

// InputAvailable reports whether a default input device exists.
func InputAvailable() error {
	device, err := portaudio.DefaultInputDevice()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoInputDevice, err)
	}
	if device == nil || device.MaxInputChannels < 1 {
		return ErrNoInputDevice
	}
	return nil
}

// Mic wraps PortAudio with a configurable buffer size.
type Mic struct {
	stream     *portaudio.Stream
	buf        []int16
	sampleRate int
}

// NewMic opens a PortAudio capture stream with the given sample rate and buffer size (in frames).
func NewMic(sampleRate, framesPerBuffer int) (*Mic, error) {
	if framesPerBuffer <= 0 {
		framesPerBuffer = DefaultFramesPerBuffer
	}
	buf := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), framesPerBuffer, buf)
	if err != nil {
		return nil, err
	}
	return &Mic{stream: stream, buf: buf, sampleRate: sampleRate}, nil
}

// Open opens the microphone at the first sample rate the device accepts.
func Open(rates []int, framesPerBuffer int) (*Mic, error) {
	if len(rates) == 0 {
		return nil, errors.New("no sample rates to try")
	}
	var errs []error
	for _, rate := range rates {
		mic, err := NewMic(rate, framesPerBuffer)
		if err == nil {
			return mic, nil
		}
		errs = append(errs, fmt.Errorf("%d Hz: %w", rate, err))
	}
	return nil, fmt.Errorf("open microphone: %w", errors.Join(errs...))
}

func (m *Mic) SampleRate() int { return m.sampleRate }
func (m *Mic) Start() error    { return m.stream.Start() }
func (m *Mic) Stop() error     { return m.stream.Stop() }
func (m *Mic) Close() error    { return m.stream.Close() }

// Stream reads from the mic and writes PCM16-LE to w until an error or stop.
func (m *Mic) Stream(w io.Writer) error {
	var out bytes.Buffer
	out.Grow(len(m.buf) * 2) // int16 = 2 bytes per sample
	for {
		if err := m.stream.Read(); err != nil {
			return err
		}
		out.Reset()
		if err := binary.Write(&out, binary.LittleEndian, m.buf); err != nil {
			return err
		}
		if _, err := w.Write(out.Bytes()); err != nil {
			return err
		}
	}
}
