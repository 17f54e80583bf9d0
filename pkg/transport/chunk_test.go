package transport

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkText_ShortTextIsOneChunk(t *testing.T) {
	chunks := ChunkText("hello world")
	assert.Equal(t, []string{"hello world"}, chunks)
}

func TestChunkText_EmptyTextYieldsNoChunks(t *testing.T) {
	assert.Empty(t, ChunkText(""))
	assert.Empty(t, ChunkText("   "))
}

func TestChunkText_ExactlyAtLimitIsOneChunk(t *testing.T) {
	text := strings.Repeat("a", MaxMessageLength)
	chunks := ChunkText(text)
	assert.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestChunkText_SplitsAtLastNewlineWithinWindow(t *testing.T) {
	text := strings.Repeat("a", MaxMessageLength-10) + "\n" + strings.Repeat("b", 20)
	chunks := ChunkText(text)
	require := assert.New(t)
	require.Len(chunks, 2)
	require.True(strings.HasPrefix(chunks[0], "aaa"))
	require.False(strings.Contains(chunks[0], "\n"))
	require.Equal(strings.Repeat("b", 20), chunks[1])
}

func TestChunkText_SplitsAtLastSpaceWhenNoNewline(t *testing.T) {
	text := strings.Repeat("a", MaxMessageLength-5) + " " + strings.Repeat("b", 50)
	chunks := ChunkText(text)
	assert.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("b", 50), chunks[1])
}

func TestChunkText_NoBreakpointSplitsHardAtWindow(t *testing.T) {
	text := strings.Repeat("a", MaxMessageLength+100)
	chunks := ChunkText(text)
	require := assert.New(t)
	require.Len(chunks, 2)
	require.Len(chunks[0], MaxMessageLength)
	require.Len(chunks[1], 100)
}

func TestChunkText_EveryChunkIsTrimmedAndNonEmpty(t *testing.T) {
	text := strings.Repeat("x", MaxMessageLength) + "\n\n" + strings.Repeat("y", MaxMessageLength)
	chunks := ChunkText(text)
	for _, c := range chunks {
		assert.NotEmpty(t, c)
		assert.Equal(t, strings.TrimSpace(c), c)
	}
}
