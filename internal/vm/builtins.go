package vm

import (
	"math"
	"strconv"
	"strings"

	"github.com/retrobasic/basic64k/internal/lang"
	"github.com/retrobasic/basic64k/internal/value"
)

// BuiltinSpec describes one built-in function's calling convention: the
// inclusive argument-count range accepted. A zero-width range
// (Min==Max==0) marks a built-in that can also be referenced bare,
// without parens (DATE$, TIME$, INKEY$); codegen uses that to
// disambiguate a same-named array.
type BuiltinSpec struct {
	Min, Max int
}

// Builtins is the reserved-name table, keyed by the bare (sigil-stripped)
// name the lexer hands the parser — "CHR" for CHR$, "DATE" for DATE$ —
// since a name and its trailing sigil are separate tokens in the AST.
// Any identifier appearing here collides with a built-in function per the
// arity rules checkReserved applies.
var Builtins = map[string]BuiltinSpec{
	"ABS": {1, 1}, "SGN": {1, 1}, "INT": {1, 1}, "FIX": {1, 1},
	"SQR": {1, 1}, "EXP": {1, 1}, "LOG": {1, 1},
	"COS": {1, 1}, "SIN": {1, 1}, "TAN": {1, 1}, "ATN": {1, 1},
	"CINT": {1, 1}, "CSNG": {1, 1}, "CDBL": {1, 1},
	"ASC": {1, 1}, "LEN": {1, 1}, "VAL": {1, 1},
	"INSTR": {2, 3},
	"CHR":   {1, 1}, "HEX": {1, 1}, "OCT": {1, 1}, "STR": {1, 1},
	"LEFT": {2, 2}, "RIGHT": {2, 2}, "MID": {2, 3},
	"SPC": {1, 1}, "TAB": {1, 1}, "STRING": {2, 2},
	"DATE": {0, 0}, "TIME": {0, 0}, "INKEY": {0, 0},
	"POS": {0, 1}, "RND": {0, 1},
}

// LookupBuiltin reports whether name is a reserved built-in and its
// arity range.
func LookupBuiltin(name string) (BuiltinSpec, bool) {
	spec, ok := Builtins[name]
	return spec, ok
}

// CallBuiltin executes a built-in call: args are already in source
// (left-to-right) order, and the environment lets TAB/RND/DATE$ reach
// the runtime state they depend on.
func CallBuiltin(name string, args []value.Val, rt *builtinEnv) (value.Val, error) {
	switch name {
	case "ABS":
		return builtinNumeric1(args[0], math.Abs, func(n int16) int16 {
			if n < 0 {
				return -n
			}
			return n
		})
	case "SGN":
		return builtinSgn(args[0])
	case "INT":
		return builtinFloor(args[0])
	case "FIX":
		return builtinTrunc(args[0])
	case "SQR":
		return builtinMathSingle(args[0], math.Sqrt)
	case "EXP":
		return builtinMathSingle(args[0], math.Exp)
	case "LOG":
		return builtinMathSingle(args[0], math.Log)
	case "COS":
		return builtinMathSingle(args[0], math.Cos)
	case "SIN":
		return builtinMathSingle(args[0], math.Sin)
	case "TAN":
		return builtinMathSingle(args[0], math.Tan)
	case "ATN":
		return builtinMathSingle(args[0], math.Atan)
	case "CINT":
		return coerceNumeric(args[0], value.Integer)
	case "CSNG":
		return coerceNumeric(args[0], value.Single)
	case "CDBL":
		return coerceNumeric(args[0], value.Double)
	case "ASC":
		return builtinAsc(args[0])
	case "LEN":
		return builtinLen(args[0])
	case "VAL":
		return builtinVal(args[0])
	case "INSTR":
		return builtinInstr(args)
	case "CHR":
		return builtinChr(args[0])
	case "HEX":
		return builtinRadix(args[0], 16)
	case "OCT":
		return builtinRadix(args[0], 8)
	case "STR":
		return builtinStr(args[0])
	case "LEFT":
		return builtinLeft(args[0], args[1])
	case "RIGHT":
		return builtinRight(args[0], args[1])
	case "MID":
		var lenArg *value.Val
		if len(args) == 3 {
			lenArg = &args[2]
		}
		return builtinMid(args[0], args[1], lenArg)
	case "SPC":
		return builtinSpc(args[0])
	case "TAB":
		return builtinTab(args[0], rt.printCol)
	case "STRING":
		return builtinStringDollar(args[0], args[1])
	case "DATE":
		return value.NewString(rt.dateString()), nil
	case "TIME":
		return value.NewString(rt.timeString()), nil
	case "INKEY":
		return value.NewString(rt.inkey()), nil
	case "POS":
		return value.NewInteger(int16(rt.printCol + 1)), nil
	case "RND":
		arg := value.NewInteger(1)
		if len(args) == 1 {
			arg = args[0]
		}
		if !arg.Numeric() {
			return value.Val{}, lang.NewError(lang.TypeMismatch)
		}
		return value.NewSingle(rt.rnd(arg)), nil
	}
	return value.Val{}, lang.NewError(lang.InternalError).WithExtra("UNKNOWN BUILTIN " + name)
}

// builtinEnv is the slice of runtime state built-ins need: the current
// PRINT column for TAB/POS, the RNG for RND, and the clock/keyboard
// stubs for DATE$/TIME$/INKEY$.
type builtinEnv struct {
	printCol  int
	rnd       func(seed value.Val) float32
	dateString func() string
	timeString func() string
	inkey      func() string
}

func requireNumeric(v value.Val) (value.Val, error) {
	if !v.Numeric() {
		return value.Val{}, lang.NewError(lang.TypeMismatch)
	}
	return v, nil
}

func builtinNumeric1(v value.Val, ffn func(float64) float64, ifn func(int16) int16) (value.Val, error) {
	if _, err := requireNumeric(v); err != nil {
		return value.Val{}, err
	}
	if v.Kind == value.Integer {
		return value.NewInteger(ifn(v.I16)), nil
	}
	if v.Kind == value.Double {
		return value.NewDouble(ffn(v.F64)), nil
	}
	return value.NewSingle(float32(ffn(float64(v.F32)))), nil
}

func builtinSgn(v value.Val) (value.Val, error) {
	if _, err := requireNumeric(v); err != nil {
		return value.Val{}, err
	}
	f := v.AsF64()
	switch {
	case f > 0:
		return value.NewInteger(1), nil
	case f < 0:
		return value.NewInteger(-1), nil
	default:
		return value.NewInteger(0), nil
	}
}

func builtinFloor(v value.Val) (value.Val, error) {
	return builtinNumeric1(v, math.Floor, func(n int16) int16 { return n })
}

func builtinTrunc(v value.Val) (value.Val, error) {
	return builtinNumeric1(v, math.Trunc, func(n int16) int16 { return n })
}

// builtinMathSingle implements the transcendental functions: the result
// is Single unless the argument was already Double.
func builtinMathSingle(v value.Val, fn func(float64) float64) (value.Val, error) {
	if _, err := requireNumeric(v); err != nil {
		return value.Val{}, err
	}
	if v.Kind == value.Double {
		return value.NewDouble(fn(v.F64)), nil
	}
	return value.NewSingle(float32(fn(v.AsF64()))), nil
}

func coerceNumeric(v value.Val, k value.Kind) (value.Val, error) {
	if !v.Numeric() {
		return value.Val{}, lang.NewError(lang.TypeMismatch)
	}
	switch k {
	case value.Integer:
		f := v.AsF64()
		r := math.Round(f)
		if r > 32767 || r < -32768 {
			return value.Val{}, lang.NewError(lang.Overflow)
		}
		return value.NewInteger(int16(r)), nil
	case value.Single:
		return value.NewSingle(float32(v.AsF64())), nil
	case value.Double:
		return value.NewDouble(v.AsF64()), nil
	}
	return value.Val{}, lang.NewError(lang.InternalError)
}

func requireString(v value.Val) (string, error) {
	if v.Kind != value.String {
		return "", lang.NewError(lang.TypeMismatch)
	}
	return v.Str, nil
}

func builtinAsc(v value.Val) (value.Val, error) {
	s, err := requireString(v)
	if err != nil {
		return value.Val{}, err
	}
	if s == "" {
		return value.Val{}, lang.NewError(lang.IllegalFunctionCall)
	}
	return value.NewInteger(int16(s[0])), nil
}

func builtinLen(v value.Val) (value.Val, error) {
	s, err := requireString(v)
	if err != nil {
		return value.Val{}, err
	}
	return value.NewInteger(int16(len(s))), nil
}

func builtinVal(v value.Val) (value.Val, error) {
	s, err := requireString(v)
	if err != nil {
		return value.Val{}, err
	}
	s = strings.TrimLeft(s, " \t")
	end := 0
	for end < len(s) {
		c := s[end]
		if c >= '0' && c <= '9' || c == '.' || c == '+' || c == '-' || c == 'e' || c == 'E' || c == 'd' || c == 'D' {
			end++
			continue
		}
		break
	}
	if end == 0 {
		return value.NewSingle(0), nil
	}
	clean := strings.NewReplacer("D", "E", "d", "E").Replace(s[:end])
	f, err2 := strconv.ParseFloat(clean, 64)
	if err2 != nil {
		return value.NewSingle(0), nil
	}
	return value.NewSingle(float32(f)), nil
}

func toIndex(v value.Val) (int, error) {
	if !v.Numeric() {
		return 0, lang.NewError(lang.TypeMismatch)
	}
	f := math.Round(v.AsF64())
	if f < 0 || f > 32767 {
		return 0, lang.NewError(lang.Overflow)
	}
	return int(f), nil
}

func builtinInstr(args []value.Val) (value.Val, error) {
	start := 1
	idx := 0
	if len(args) == 3 {
		n, err := toIndex(args[0])
		if err != nil {
			return value.Val{}, err
		}
		start = n
		idx = 1
	}
	hay, err := requireString(args[idx])
	if err != nil {
		return value.Val{}, err
	}
	needle, err := requireString(args[idx+1])
	if err != nil {
		return value.Val{}, err
	}
	if start < 1 {
		return value.Val{}, lang.NewError(lang.IllegalFunctionCall)
	}
	if start > len(hay)+1 {
		return value.NewInteger(0), nil
	}
	pos := strings.Index(hay[start-1:], needle)
	if pos < 0 {
		return value.NewInteger(0), nil
	}
	return value.NewInteger(int16(start + pos)), nil
}

func builtinChr(v value.Val) (value.Val, error) {
	n, err := toIndex(v)
	if err != nil {
		return value.Val{}, err
	}
	if n > 255 {
		return value.Val{}, lang.NewError(lang.IllegalFunctionCall)
	}
	return value.NewString(string(rune(n))), nil
}

func builtinRadix(v value.Val, base int) (value.Val, error) {
	n, err := toIndex(v)
	if err != nil {
		return value.Val{}, err
	}
	return value.NewString(strings.ToUpper(strconv.FormatInt(int64(uint16(n)), base))), nil
}

func builtinStr(v value.Val) (value.Val, error) {
	if !v.Numeric() {
		return value.Val{}, lang.NewError(lang.TypeMismatch)
	}
	s := strings.TrimLeft(v.String(), " ")
	if v.AsF64() >= 0 {
		s = " " + s
	}
	return value.NewString(strings.TrimRight(s, " ")), nil
}

func builtinLeft(s, n value.Val) (value.Val, error) {
	str, err := requireString(s)
	if err != nil {
		return value.Val{}, err
	}
	idx, err := toIndex(n)
	if err != nil {
		return value.Val{}, err
	}
	if idx > len(str) {
		idx = len(str)
	}
	return value.NewString(str[:idx]), nil
}

func builtinRight(s, n value.Val) (value.Val, error) {
	str, err := requireString(s)
	if err != nil {
		return value.Val{}, err
	}
	idx, err := toIndex(n)
	if err != nil {
		return value.Val{}, err
	}
	if idx > len(str) {
		idx = len(str)
	}
	return value.NewString(str[len(str)-idx:]), nil
}

func builtinMid(s, start value.Val, length *value.Val) (value.Val, error) {
	str, err := requireString(s)
	if err != nil {
		return value.Val{}, err
	}
	from, err := toIndex(start)
	if err != nil {
		return value.Val{}, err
	}
	if from < 1 {
		return value.Val{}, lang.NewError(lang.IllegalFunctionCall)
	}
	if from > len(str) {
		return value.NewString(""), nil
	}
	rest := str[from-1:]
	if length == nil {
		return value.NewString(rest), nil
	}
	n, err := toIndex(*length)
	if err != nil {
		return value.Val{}, err
	}
	if n > len(rest) {
		n = len(rest)
	}
	return value.NewString(rest[:n]), nil
}

func builtinSpc(v value.Val) (value.Val, error) {
	n, err := toIndex(v)
	if err != nil {
		return value.Val{}, err
	}
	return value.NewString(strings.Repeat(" ", n)), nil
}

// builtinTab renders TAB(n) as a string of spaces: a negative n
// advances to the next |n|-wide zone boundary, n greater than the
// current column pads to that column, otherwise it's a no-op.
func builtinTab(v value.Val, printCol int) (value.Val, error) {
	n, err := signedIndex(v)
	if err != nil {
		return value.Val{}, err
	}
	if n < -255 || n > 255 {
		return value.Val{}, lang.NewError(lang.Overflow)
	}
	if n < 0 {
		width := -n
		pad := width - (printCol % width)
		return value.NewString(strings.Repeat(" ", pad)), nil
	}
	if n > printCol {
		return value.NewString(strings.Repeat(" ", n-printCol)), nil
	}
	return value.NewString(""), nil
}

func signedIndex(v value.Val) (int, error) {
	if !v.Numeric() {
		return 0, lang.NewError(lang.TypeMismatch)
	}
	f := math.Round(v.AsF64())
	if f < -32768 || f > 32767 {
		return 0, lang.NewError(lang.Overflow)
	}
	return int(f), nil
}

func builtinStringDollar(n, x value.Val) (value.Val, error) {
	count, err := toIndex(n)
	if err != nil {
		return value.Val{}, err
	}
	var ch byte
	switch x.Kind {
	case value.String:
		if x.Str == "" {
			return value.Val{}, lang.NewError(lang.IllegalFunctionCall)
		}
		ch = x.Str[0]
	default:
		code, err := toIndex(x)
		if err != nil {
			return value.Val{}, err
		}
		if code > 255 {
			return value.Val{}, lang.NewError(lang.IllegalFunctionCall)
		}
		ch = byte(code)
	}
	return value.NewString(strings.Repeat(string(ch), count)), nil
}

