package compiler

import (
	"fmt"
	"math"

	"github.com/joeycumines/cascada/value"
)

// toNumber coerces a Value to float64 for arithmetic: ints, int64s,
// floats and bools (true=1, false=0) participate; strings, numeric or
// not, are not converted.
func toNumber(v value.Value) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func isIntish(v value.Value) bool {
	switch v.(type) {
	case int, int64:
		return true
	default:
		return false
	}
}

func applyUnary(op string, v value.Value) (value.Value, error) {
	switch op {
	case "!":
		return !truthy(v), nil
	case "-":
		n, ok := toNumber(v)
		if !ok {
			return nil, fmt.Errorf("unary -: not a number")
		}
		if isIntish(v) {
			return -int64(n), nil
		}
		return -n, nil
	case "+":
		n, ok := toNumber(v)
		if !ok {
			return nil, fmt.Errorf("unary +: not a number")
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unsupported unary operator %q", op)
	}
}

func applyBinOp(op string, l, r value.Value) (value.Value, error) {
	if op == "+" {
		ls, lok := l.(string)
		rs, rok := r.(string)
		if lok || rok {
			if !lok || !rok {
				return nil, fmt.Errorf("operator +: mismatched operand types for string concatenation")
			}
			return ls + rs, nil
		}
	}

	ln, lok := toNumber(l)
	rn, rok := toNumber(r)
	if !lok || !rok {
		return nil, fmt.Errorf("operator %s: operands are not numbers", op)
	}
	bothInt := isIntish(l) && isIntish(r)

	var result float64
	switch op {
	case "+":
		result = ln + rn
	case "-":
		result = ln - rn
	case "*":
		result = ln * rn
	case "/":
		if rn == 0 {
			return nil, fmt.Errorf("operator /: division by zero")
		}
		return ln / rn, nil
	case "//":
		if rn == 0 {
			return nil, fmt.Errorf("operator //: division by zero")
		}
		result = math.Floor(ln / rn)
	case "%":
		if rn == 0 {
			return nil, fmt.Errorf("operator %%: division by zero")
		}
		result = math.Mod(ln, rn)
	case "**":
		result = math.Pow(ln, rn)
	default:
		return nil, fmt.Errorf("unsupported binary operator %q", op)
	}
	if bothInt && op != "**" {
		return int64(result), nil
	}
	return result, nil
}

func applyCompare(op string, l, r value.Value) (value.Value, error) {
	switch op {
	case "==":
		return looseEqual(l, r), nil
	case "!=":
		return !looseEqual(l, r), nil
	case "===":
		return strictEqual(l, r), nil
	case "!==":
		return !strictEqual(l, r), nil
	}

	ln, lok := toNumber(l)
	rn, rok := toNumber(r)
	if lok && rok {
		switch op {
		case "<":
			return ln < rn, nil
		case ">":
			return ln > rn, nil
		case "<=":
			return ln <= rn, nil
		case ">=":
			return ln >= rn, nil
		}
	}
	ls, lsok := l.(string)
	rs, rsok := r.(string)
	if lsok && rsok {
		switch op {
		case "<":
			return ls < rs, nil
		case ">":
			return ls > rs, nil
		case "<=":
			return ls <= rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}
	return nil, fmt.Errorf("operator %s: uncomparable operands", op)
}

func looseEqual(l, r value.Value) bool {
	ln, lok := toNumber(l)
	rn, rok := toNumber(r)
	if lok && rok {
		return ln == rn
	}
	return strictEqual(l, r)
}

func strictEqual(l, r value.Value) bool {
	if l == nil || r == nil {
		return l == r
	}
	ls, lok := l.(string)
	rs, rok := r.(string)
	if lok && rok {
		return ls == rs
	}
	lb, lbok := l.(bool)
	rb, rbok := r.(bool)
	if lbok && rbok {
		return lb == rb
	}
	ln, lnok := toNumber(l)
	rn, rnok := toNumber(r)
	if lnok && rnok && isIntish(l) == isIntish(r) {
		return ln == rn
	}
	return false
}
