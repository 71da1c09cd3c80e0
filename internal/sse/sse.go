// Package sse serializes an already-completed rendered response into
// Server-Sent-Events frames. The pipeline always runs to completion first;
// streaming is purely a presentation concern layered on top of the final
// response, not a distinct code path through the pipeline.
package sse

import (
	"fmt"
	"io"
	"time"
)

// Options controls chunk size and inter-chunk pacing.
type Options struct {
	ChunkSize int           // characters per text delta chunk, default 5
	Delay     time.Duration // pause between chunks, default 0
}

// DefaultOptions returns chunk size 5 with no inter-chunk delay.
func DefaultOptions() Options {
	return Options{ChunkSize: 5}
}

// Emit writes each of chunks to w as one `data: <json>` SSE frame, followed
// by a final `data: [DONE]` frame. The dialect-specific chunk shape,
// including splitting message text with ChunkText, lives with the caller;
// this package only owns pacing and frame syntax.
func Emit(w io.Writer, chunks []any, opts Options) error {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 5
	}
	flusher, _ := w.(interface{ Flush() })

	for i, chunk := range chunks {
		if err := writeFrame(w, chunk); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		if opts.Delay > 0 && i < len(chunks)-1 {
			time.Sleep(opts.Delay)
		}
	}
	return writeDone(w)
}

func writeFrame(w io.Writer, chunk any) error {
	data, err := encodeFrame(chunk)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func writeDone(w io.Writer) error {
	_, err := fmt.Fprint(w, "data: [DONE]\n\n")
	return err
}

// ChunkText splits text into chunkSize-rune pieces, preserving order, so
// array-typed message content streams as ordered text deltas.
func ChunkText(text string, chunkSize int) []string {
	if chunkSize <= 0 {
		chunkSize = 5
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	var out []string
	for i := 0; i < len(runes); i += chunkSize {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}
