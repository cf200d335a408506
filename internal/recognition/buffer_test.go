package recognition

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuffer_Apply_InterimReplacesPreview(t *testing.T) {
	buf := NewTranscriptBuffer()

	assert.Empty(t, buf.Apply(batch(interim("hel"))))
	assert.Empty(t, buf.Apply(batch(interim("hello"))))

	assert.Equal(t, "hello", buf.InterimText())
	assert.Empty(t, buf.FinalText())
}

func TestBuffer_Apply_FinalCommitsWithTrailingSpace(t *testing.T) {
	buf := NewTranscriptBuffer()
	buf.Preview("draft")

	committed := buf.Apply(batch(final("the quick"), final("brown fox")))

	assert.Equal(t, "the quick brown fox ", committed)
	assert.Equal(t, "the quick brown fox ", buf.FinalText())
	assert.Empty(t, buf.InterimText())
}

func TestBuffer_Apply_MixedBatchDropsInterim(t *testing.T) {
	buf := NewTranscriptBuffer()

	buf.Apply(batch(final("done"), interim("still talking")))

	assert.Equal(t, "done ", buf.FinalText())
	assert.Empty(t, buf.InterimText())
}

func TestBuffer_Apply_NegativeIndexScansEverything(t *testing.T) {
	buf := NewTranscriptBuffer()

	buf.Apply(ResultEvent{ResultIndex: -3, Results: []Result{final("a"), final("b")}})

	assert.Equal(t, "a b ", buf.FinalText())
}

func TestBuffer_Apply_IndexPastEndClearsPreview(t *testing.T) {
	buf := NewTranscriptBuffer()
	buf.Preview("stale")

	buf.Apply(ResultEvent{ResultIndex: 2, Results: []Result{final("a")}})

	assert.Empty(t, buf.FinalText())
	assert.Empty(t, buf.InterimText())
}

func TestBuffer_Reset_ClearsBoth(t *testing.T) {
	buf := NewTranscriptBuffer()
	buf.Commit("hello ")
	buf.Preview("wor")

	buf.Reset()

	assert.Empty(t, buf.FinalText())
	assert.Empty(t, buf.InterimText())
}

func TestBuffer_ClearInterim_KeepsFinal(t *testing.T) {
	buf := NewTranscriptBuffer()
	buf.Commit("hello ")
	buf.Preview("wor")

	buf.ClearInterim()

	assert.Equal(t, "hello ", buf.FinalText())
	assert.Empty(t, buf.InterimText())
}
