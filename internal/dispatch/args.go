package dispatch

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Tool-call arguments arrive in two upstream shapes: an already-parsed
// mapping, or a raw JSON string that still needs decoding. RawArgs is the
// tagged union; Normalize collapses both to a canonical mapping, defaulting
// to empty on decode failure instead of raising.
type RawArgs struct {
	parsed map[string]any
	text   string
	isText bool
}

func ParsedArgs(m map[string]any) RawArgs {
	return RawArgs{parsed: m}
}

func TextArgs(s string) RawArgs {
	return RawArgs{text: s, isText: true}
}

// Normalize returns the canonical argument mapping. Never nil.
func (r RawArgs) Normalize() map[string]any {
	if !r.isText {
		if r.parsed == nil {
			return map[string]any{}
		}
		return r.parsed
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(r.text), &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

// ArgString extracts a string argument, stringifying scalars the model sent
// as numbers.
func ArgString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, ok := args[key]
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		// Integral ids frequently arrive as JSON numbers.
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ArgInt extracts an integer argument, tolerating string and float forms.
func ArgInt(args map[string]any, key string, def int) int {
	if args == nil {
		return def
	}
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
