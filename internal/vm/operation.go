package vm

import (
	"math"
	"strconv"
	"strings"

	"github.com/retrobasic/basic64k/internal/lang"
	"github.com/retrobasic/basic64k/internal/value"
)

// This file implements the arithmetic/logic semantics of every binary and
// unary operator: checked integer math, the Integer<Single<Double
// promotion lattice, string concatenation via '+', epsilon-based float
// equality, and i16 bitwise logical operators.

func typeMismatch() error { return lang.NewError(lang.TypeMismatch) }
func overflow() error     { return lang.NewError(lang.Overflow) }
func divByZero() error    { return lang.NewError(lang.DivisionByZero) }

func toBool(v value.Val) (bool, error) {
	if v.Kind != value.Integer {
		return false, typeMismatch()
	}
	return v.I16 != 0, nil
}

func boolVal(b bool) value.Val {
	if b {
		return value.NewInteger(-1)
	}
	return value.NewInteger(0)
}

func negate(v value.Val) (value.Val, error) {
	switch v.Kind {
	case value.Integer:
		if v.I16 == math.MinInt16 {
			return value.Val{}, overflow()
		}
		return value.NewInteger(-v.I16), nil
	case value.Single:
		return value.NewSingle(-v.F32), nil
	case value.Double:
		return value.NewDouble(-v.F64), nil
	default:
		return value.Val{}, typeMismatch()
	}
}

func not(v value.Val) (value.Val, error) {
	i, err := toI16(v)
	if err != nil {
		return value.Val{}, err
	}
	return value.NewInteger(^i), nil
}

func toI16(v value.Val) (int16, error) {
	if v.Kind != value.Integer {
		if !v.Numeric() {
			return 0, typeMismatch()
		}
		f := v.AsF64()
		if f > 32767 || f < -32768 {
			return 0, overflow()
		}
		return int16(f), nil
	}
	return v.I16, nil
}

func promoteNumeric(a, b value.Val) (value.Kind, error) {
	if !a.Numeric() || !b.Numeric() {
		return 0, typeMismatch()
	}
	return value.Promote(a.Kind, b.Kind), nil
}

func widenTo(v value.Val, k value.Kind) value.Val {
	switch k {
	case value.Integer:
		return v
	case value.Single:
		return value.NewSingle(float32(v.AsF64()))
	case value.Double:
		return value.NewDouble(v.AsF64())
	}
	return v
}

func add(a, b value.Val) (value.Val, error) {
	if a.Kind == value.String || b.Kind == value.String {
		if a.Kind != value.String || b.Kind != value.String {
			return value.Val{}, typeMismatch()
		}
		return value.NewString(a.Str + b.Str), nil
	}
	k, err := promoteNumeric(a, b)
	if err != nil {
		return value.Val{}, err
	}
	if k == value.Integer {
		sum := int32(a.I16) + int32(b.I16)
		if sum > 32767 || sum < -32768 {
			return value.Val{}, overflow()
		}
		return value.NewInteger(int16(sum)), nil
	}
	return widenTo(floatVal(a.AsF64()+b.AsF64(), k), k), nil
}

func sub(a, b value.Val) (value.Val, error) {
	nb, err := negate(b)
	if err != nil {
		return value.Val{}, err
	}
	return add(a, nb)
}

func mul(a, b value.Val) (value.Val, error) {
	k, err := promoteNumeric(a, b)
	if err != nil {
		return value.Val{}, err
	}
	if k == value.Integer {
		prod := int32(a.I16) * int32(b.I16)
		if prod > 32767 || prod < -32768 {
			return value.Val{}, overflow()
		}
		return value.NewInteger(int16(prod)), nil
	}
	return widenTo(floatVal(a.AsF64()*b.AsF64(), k), k), nil
}

// div always yields floating point; only \ divides integrally.
func div(a, b value.Val) (value.Val, error) {
	if !a.Numeric() || !b.Numeric() {
		return value.Val{}, typeMismatch()
	}
	if b.AsF64() == 0 {
		return value.Val{}, divByZero()
	}
	k := value.Promote(a.Kind, b.Kind)
	if k == value.Integer {
		k = value.Single
	}
	return widenTo(floatVal(a.AsF64()/b.AsF64(), k), k), nil
}

func divInt(a, b value.Val) (value.Val, error) {
	ai, err := toI16(a)
	if err != nil {
		return value.Val{}, err
	}
	bi, err := toI16(b)
	if err != nil {
		return value.Val{}, err
	}
	if bi == 0 {
		return value.Val{}, divByZero()
	}
	return value.NewInteger(ai / bi), nil
}

func mod(a, b value.Val) (value.Val, error) {
	ai, err := toI16(a)
	if err != nil {
		return value.Val{}, err
	}
	bi, err := toI16(b)
	if err != nil {
		return value.Val{}, err
	}
	if bi == 0 {
		return value.Val{}, divByZero()
	}
	return value.NewInteger(ai % bi), nil
}

func power(a, b value.Val) (value.Val, error) {
	if !a.Numeric() || !b.Numeric() {
		return value.Val{}, typeMismatch()
	}
	k := value.Promote(a.Kind, b.Kind)
	r := math.Pow(a.AsF64(), b.AsF64())
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return value.Val{}, overflow()
	}
	if k == value.Integer {
		if r != math.Trunc(r) || r > 32767 || r < -32768 {
			k = value.Single
		} else {
			return value.NewInteger(int16(r)), nil
		}
	}
	return widenTo(floatVal(r, k), k), nil
}

func floatVal(f float64, k value.Kind) value.Val {
	if k == value.Double {
		return value.NewDouble(f)
	}
	return value.NewSingle(float32(f))
}

// epsilon is the ULP of the narrower operand's type, used for float
// equality.
func epsilon(a, b value.Val) float64 {
	if a.Kind == value.Single || b.Kind == value.Single || (a.Kind == value.Integer && b.Kind == value.Integer) {
		return float64(math.Nextafter32(1, 2) - 1)
	}
	return math.Nextafter(1, 2) - 1
}

func numEqual(a, b value.Val) (bool, error) {
	if !a.Numeric() || !b.Numeric() {
		return false, typeMismatch()
	}
	if a.Kind == value.Integer && b.Kind == value.Integer {
		return a.I16 == b.I16, nil
	}
	return math.Abs(a.AsF64()-b.AsF64()) <= epsilon(a, b), nil
}

func compare(a, b value.Val) (cmp int, err error) {
	if a.Kind == value.String && b.Kind == value.String {
		return strings.Compare(a.Str, b.Str), nil
	}
	if !a.Numeric() || !b.Numeric() {
		return 0, typeMismatch()
	}
	af, bf := a.AsF64(), b.AsF64()
	switch {
	case af < bf:
		return -1, nil
	case af > bf:
		return 1, nil
	default:
		return 0, nil
	}
}

func equal(a, b value.Val) (value.Val, error) {
	if a.Kind == value.String && b.Kind == value.String {
		return boolVal(a.Str == b.Str), nil
	}
	eq, err := numEqual(a, b)
	if err != nil {
		return value.Val{}, err
	}
	return boolVal(eq), nil
}

func notEqual(a, b value.Val) (value.Val, error) {
	v, err := equal(a, b)
	if err != nil {
		return value.Val{}, err
	}
	b2, _ := toBool(v)
	return boolVal(!b2), nil
}

func less(a, b value.Val) (value.Val, error) {
	c, err := compare(a, b)
	if err != nil {
		return value.Val{}, err
	}
	return boolVal(c < 0), nil
}

func lessEqual(a, b value.Val) (value.Val, error) {
	c, err := compare(a, b)
	if err != nil {
		return value.Val{}, err
	}
	return boolVal(c <= 0), nil
}

func greater(a, b value.Val) (value.Val, error) {
	c, err := compare(a, b)
	if err != nil {
		return value.Val{}, err
	}
	return boolVal(c > 0), nil
}

func greaterEqual(a, b value.Val) (value.Val, error) {
	c, err := compare(a, b)
	if err != nil {
		return value.Val{}, err
	}
	return boolVal(c >= 0), nil
}

func logicOp(a, b value.Val, f func(x, y int16) int16) (value.Val, error) {
	ai, err := toI16(a)
	if err != nil {
		return value.Val{}, err
	}
	bi, err := toI16(b)
	if err != nil {
		return value.Val{}, err
	}
	return value.NewInteger(f(ai, bi)), nil
}

func and(a, b value.Val) (value.Val, error) { return logicOp(a, b, func(x, y int16) int16 { return x & y }) }
func or(a, b value.Val) (value.Val, error)  { return logicOp(a, b, func(x, y int16) int16 { return x | y }) }
func xor(a, b value.Val) (value.Val, error) { return logicOp(a, b, func(x, y int16) int16 { return x ^ y }) }
func imp(a, b value.Val) (value.Val, error) {
	return logicOp(a, b, func(x, y int16) int16 { return ^x | y })
}
func eqv(a, b value.Val) (value.Val, error) {
	return logicOp(a, b, func(x, y int16) int16 { return ^(x ^ y) })
}

// formatAsInt renders v as an unsigned 16-bit integer in the given base.
// Nothing in the package calls it; HEX$/OCT$ format in builtins.go.
func formatAsInt(v value.Val, base int) (string, error) {
	i, err := toI16(v)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(int64(uint16(i)), base), nil
}
