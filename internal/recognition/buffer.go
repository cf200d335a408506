package recognition

import "strings"

// TranscriptBuffer holds committed text and the preview of the utterance
// still being spoken. It is not safe for concurrent use.
type TranscriptBuffer struct {
	final   strings.Builder
	interim string
}

// NewTranscriptBuffer creates an empty transcript buffer.
func NewTranscriptBuffer() *TranscriptBuffer {
	return &TranscriptBuffer{}
}

// Apply folds a result event into the buffer. Final transcripts from
// ResultIndex onward are appended with a trailing space and the preview is
// cleared; without any final text the preview is replaced by this event's
// interim transcripts. It returns the committed text, if any.
func (b *TranscriptBuffer) Apply(event ResultEvent) string {
	start := event.ResultIndex
	if start < 0 {
		start = 0
	}

	var final, interim strings.Builder
	for i := start; i < len(event.Results); i++ {
		result := event.Results[i]
		if len(result.Alternatives) == 0 {
			continue
		}
		transcript := result.Alternatives[0].Transcript
		if result.IsFinal {
			final.WriteString(transcript)
			final.WriteString(" ")
		} else {
			interim.WriteString(transcript)
		}
	}

	if final.Len() > 0 {
		b.Commit(final.String())
		return final.String()
	}
	b.Preview(interim.String())
	return ""
}

// Commit appends text to the final transcript and clears the preview.
func (b *TranscriptBuffer) Commit(text string) {
	b.final.WriteString(text)
	b.interim = ""
}

// Preview replaces the interim text wholesale.
func (b *TranscriptBuffer) Preview(text string) {
	b.interim = text
}

func (b *TranscriptBuffer) ClearInterim() {
	b.interim = ""
}

// Reset empties both the final and the interim text.
func (b *TranscriptBuffer) Reset() {
	b.final.Reset()
	b.interim = ""
}

func (b *TranscriptBuffer) FinalText() string {
	return b.final.String()
}

func (b *TranscriptBuffer) InterimText() string {
	return b.interim
}
