package sse

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmit_WritesOneFramePerChunkPlusDone(t *testing.T) {
	var buf bytes.Buffer
	err := Emit(&buf, []any{map[string]any{"a": 1}, map[string]any{"b": 2}}, DefaultOptions())
	require.NoError(t, err)

	out := buf.String()
	assert.Equal(t, 3, strings.Count(out, "data: "))
	assert.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))
}

func TestEmit_EmptyChunksStillWritesDone(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Emit(&buf, nil, DefaultOptions()))
	assert.Equal(t, "data: [DONE]\n\n", buf.String())
}

func TestChunkText_SplitsPreservingOrder(t *testing.T) {
	chunks := ChunkText("hello world", 5)
	assert.Equal(t, []string{"hello", " worl", "d"}, chunks)
}

func TestChunkText_EmptyReturnsNil(t *testing.T) {
	assert.Nil(t, ChunkText("", 5))
}

func TestChunkText_DefaultsChunkSizeWhenNonPositive(t *testing.T) {
	chunks := ChunkText("abcdefghij", 0)
	assert.Equal(t, []string{"abcde", "fghij"}, chunks)
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, 5, opts.ChunkSize)
	assert.Equal(t, int64(0), int64(opts.Delay))
}
