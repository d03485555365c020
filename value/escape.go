package value

import "strings"

// SuppressValue converts a null/undefined value to an empty string,
// HTML-escapes plain strings/scalars when autoescape is enabled, and
// never re-escapes a Safe value. This is the canonical use-site
// transform applied to every Output child (spec.md §4.5).
func SuppressValue(v Value, autoescape bool) string {
	if IsUndefined(v) {
		return ""
	}
	if ev, ok := IsError(v); ok {
		// An unrecovered poison reaching output is rendered as its message;
		// the emitted program's error boundary normally intercepts this
		// earlier via handlePromise/handleError, so this is a last resort.
		return htmlEscape(ev.Error())
	}
	switch s := v.(type) {
	case Safe:
		return string(s)
	case string:
		if autoescape {
			return htmlEscape(s)
		}
		return s
	default:
		text := FormatScalar(v)
		if autoescape {
			return htmlEscape(text)
		}
		return text
	}
}

// EnsureDefined fails with UndefinedOutputError if v is null/undefined,
// otherwise passes it through unchanged. Used when throwOnUndefined is
// enabled for a template's output.
func EnsureDefined(v Value, line, col int) (Value, error) {
	if IsUndefined(v) {
		return nil, NewError(ErrUndefinedOutput, line, col, "Output")
	}
	return v, nil
}

// ErrUndefinedOutput is the sentinel UndefinedOutputError reason.
var ErrUndefinedOutput = undefinedOutputError{}

type undefinedOutputError struct{}

func (undefinedOutputError) Error() string { return "attempted to output null or undefined value" }

var htmlEscaper = strings.NewReplacer(
	`&`, "&amp;",
	`<`, "&lt;",
	`>`, "&gt;",
	`"`, "&quot;",
	`'`, "&#39;",
)

func htmlEscape(s string) string { return htmlEscaper.Replace(s) }
