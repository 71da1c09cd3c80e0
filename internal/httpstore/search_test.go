package httpstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRipgrepOutput_ParsesPathLineText(t *testing.T) {
	out := "req_abc/request.json:3:  \"model\": \"gpt-4o\"\nreq_abc/response.json:1:{\n"
	matches := parseRipgrepOutput(out)

	assert.Equal(t, []Match{
		{Path: "req_abc/request.json", Line: 3, Text: "  \"model\": \"gpt-4o\""},
		{Path: "req_abc/response.json", Line: 1, Text: "{"},
	}, matches)
}

func TestParseRipgrepOutput_SkipsMalformedLines(t *testing.T) {
	out := "not-a-match-line\nreq_abc/request.json:5:ok\n"
	matches := parseRipgrepOutput(out)

	assert.Len(t, matches, 1)
	assert.Equal(t, "req_abc/request.json", matches[0].Path)
}

func TestParseRipgrepOutput_EmptyInputReturnsNil(t *testing.T) {
	assert.Nil(t, parseRipgrepOutput(""))
}
