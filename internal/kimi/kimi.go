// Package kimi repairs the two malformed tool-call shapes certain
// OpenAI-compatible upstreams (the Kimi family) emit: numeric tool names,
// and tool calls embedded as sentinel-delimited text inside reasoning or
// message content rather than a proper tool_calls array. Both repairs
// operate on the raw provider JSON body via gjson/sjson with a fixed set of
// sentinel-matching regexes, and running the fixer twice changes nothing.
package kimi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// sectionRegex matches one whole tool_calls_section block; blockRegex pulls
// each individual tool_call_begin...tool_call_end entry out of it.
var (
	sectionRegex = regexp.MustCompile(`(?s)<\|tool_calls_section_begin\|>(.*?)<\|tool_calls_section_end\|>`)
	blockRegex   = regexp.MustCompile(`(?s)<\|tool_call_begin\|>\s*([^<]+?)\s*<\|tool_call_argument_begin\|>(.*?)<\|tool_call_end\|>`)
)

// Result reports what the fixer did, for logging.
type Result struct {
	ExtractedToolCalls     int
	ExtractedFromContent   int
	ExtractedFromReasoning int
	RepairedToolNames      int
}

// Tool is the declared-tool shape the numeric-name repair needs: just
// enough to compute a required-parameter subset match.
type Tool struct {
	Name     string
	Required []string
}

// Fix repairs the raw provider response JSON in raw (fields under
// choices.0.message, addressed via gjson/sjson paths) and returns the
// repaired body together with what it changed. Idempotent:
// running it twice on an already-fixed body is a no-op, since repaired tool
// calls no longer match the numeric-name or sentinel-text patterns.
func Fix(raw string, tools []Tool) (string, Result) {
	var res Result

	raw, extracted := extractTextEmbedded(raw, "message.reasoning_content", &res.ExtractedFromReasoning)
	res.ExtractedToolCalls += extracted
	raw, extracted = extractTextEmbedded(raw, "message.content", &res.ExtractedFromContent)
	res.ExtractedToolCalls += extracted

	raw = repairNumericNames(raw, tools, &res.RepairedToolNames)

	return raw, res
}

// extractTextEmbedded finds sentinel-delimited tool-call blocks inside the
// string field at choices.0.<field> (field is message.content or
// message.reasoning_content), appends each as a structured entry
// to choices.0.message.tool_calls, and strips the matched sections from the
// carrying text.
func extractTextEmbedded(raw, field string, counter *int) (string, int) {
	path := "choices.0." + field
	text := gjson.Get(raw, path).String()
	if text == "" || !strings.Contains(text, "tool_calls_section_begin") {
		return raw, 0
	}

	count := 0
	cleaned := sectionRegex.ReplaceAllStringFunc(text, func(section string) string {
		inner := sectionRegex.FindStringSubmatch(section)[1]
		for _, block := range blockRegex.FindAllStringSubmatch(inner, -1) {
			name := strings.TrimSpace(block[1])
			args := strings.TrimSpace(block[2])
			if !json.Valid([]byte(args)) {
				continue
			}
			id := syntheticID(name)
			if !gjson.Get(raw, "choices.0.message.tool_calls").IsArray() {
				if withArray, err := sjson.SetRaw(raw, "choices.0.message.tool_calls", "[]"); err == nil {
					raw = withArray
				}
			}
			newRaw, err := sjson.Set(raw, "choices.0.message.tool_calls.-1", map[string]any{
				"id":   id,
				"type": "function",
				"function": map[string]any{
					"name":      name,
					"arguments": args,
				},
			})
			if err != nil {
				continue
			}
			raw = newRaw
			count++
		}
		return ""
	})

	if count == 0 {
		return raw, 0
	}
	raw, _ = sjson.Set(raw, path, strings.TrimSpace(cleaned))
	*counter = count
	return raw, count
}

func syntheticID(name string) string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return name + "_call_" + hex.EncodeToString(b)
}

// repairNumericNames renames any tool_calls[i].function.name that is a bare
// integer (JSON number or numeric string) to the one declared tool whose
// required-parameter set is a subset of the provided argument keys. Leaves
// the name untouched when zero or more than one tool matches.
func repairNumericNames(raw string, tools []Tool, counter *int) string {
	calls := gjson.Get(raw, "choices.0.message.tool_calls")
	if !calls.Exists() {
		return raw
	}

	repaired := 0
	calls.ForEach(func(idx, call gjson.Result) bool {
		nameResult := call.Get("function.name")
		if !isNumeric(nameResult) {
			return true
		}
		argsRaw := call.Get("function.arguments").String()
		var args map[string]any
		if err := json.Unmarshal([]byte(argsRaw), &args); err != nil {
			return true
		}

		var match string
		matches := 0
		for _, t := range tools {
			if requiredSubset(t.Required, args) {
				match = t.Name
				matches++
			}
		}
		if matches != 1 {
			return true
		}

		path := "choices.0.message.tool_calls." + idx.String() + ".function.name"
		if newRaw, err := sjson.Set(raw, path, match); err == nil {
			raw = newRaw
			repaired++
		}
		return true
	})

	*counter = repaired
	return raw
}

func isNumeric(r gjson.Result) bool {
	if r.Type == gjson.Number {
		return true
	}
	if r.Type == gjson.String {
		_, err := strconv.ParseFloat(r.String(), 64)
		return err == nil
	}
	return false
}

func requiredSubset(required []string, args map[string]any) bool {
	for _, key := range required {
		if _, ok := args[key]; !ok {
			return false
		}
	}
	return true
}
