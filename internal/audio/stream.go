package audio

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Streamer produces PCM audio into a writer until it fails or is stopped.
type Streamer interface {
	Stream(writer io.Writer) error
}

const overflowRetryDelay = 250 * time.Millisecond

// StreamWithRetry pumps audio into writer, restarting the stream after input
// overflows. It returns nil once ctx is done and the last error otherwise.
func StreamWithRetry(
	ctx context.Context,
	streamer Streamer,
	writer io.Writer,
	wait func(time.Duration),
	logger *slog.Logger,
) error {
	if wait == nil {
		wait = time.Sleep
	}
	if logger == nil {
		logger = slog.Default()
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := streamer.Stream(writer)
		if err == nil || ctx.Err() != nil {
			return nil
		}

		if strings.Contains(strings.ToLower(err.Error()), "overflow") {
			logger.Warn("mic input overflow, restarting stream")
			wait(overflowRetryDelay)
			continue
		}

		return err
	}
}
