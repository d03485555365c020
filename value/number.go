package value

import (
	"fmt"
	"strconv"

	"github.com/joeycumines/go-utilpkg/jsonenc"
)

// FormatScalar renders a Scalar (number, bool, nil, or opaque object) as
// template output text. Numeric formatting is delegated to jsonenc's
// AppendFloat64/AppendFloat32, matching its NaN/Infinity spelling and
// exponent clean-up exactly instead of re-deriving the same edge cases
// with ad hoc strconv calls.
func FormatScalar(v Value) string {
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		return n
	case Safe:
		return string(n)
	case bool:
		return strconv.FormatBool(n)
	case float64:
		return formatFloat(n)
	case float32:
		return string(jsonenc.AppendFloat32(nil, n))
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	default:
		return fmt.Sprintf("%v", n)
	}
}

func formatFloat(v float64) string {
	// jsonenc quotes NaN/Infinity as JSON strings; templates want the bare
	// token, so the surrounding quotes (if any) are trimmed.
	s := string(jsonenc.AppendFloat64(nil, v))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
