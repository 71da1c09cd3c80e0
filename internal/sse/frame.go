package sse

import "encoding/json"

// encodeFrame marshals one SSE chunk payload to compact JSON.
func encodeFrame(chunk any) ([]byte, error) {
	return json.Marshal(chunk)
}
