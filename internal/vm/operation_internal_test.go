package vm

import (
	"testing"

	"github.com/retrobasic/basic64k/internal/lang"
	"github.com/retrobasic/basic64k/internal/value"
)

func wantCode(t *testing.T, err error, code lang.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	e, ok := err.(*lang.Error)
	if !ok || e.Code != code {
		t.Fatalf("expected %v, got %v", code, err)
	}
}

func TestAdd_PromotionLattice(t *testing.T) {
	tests := []struct {
		a, b     value.Val
		expected value.Kind
	}{
		{value.NewInteger(1), value.NewInteger(2), value.Integer},
		{value.NewInteger(1), value.NewSingle(2), value.Single},
		{value.NewSingle(1), value.NewDouble(2), value.Double},
		{value.NewDouble(1), value.NewInteger(2), value.Double},
	}
	for _, tt := range tests {
		v, err := add(tt.a, tt.b)
		if err != nil {
			t.Fatal(err)
		}
		if v.Kind != tt.expected {
			t.Errorf("add(%v,%v): expected kind %v, got %v", tt.a.Kind, tt.b.Kind, tt.expected, v.Kind)
		}
	}
}

func TestAdd_StringConcatAndMismatch(t *testing.T) {
	v, err := add(value.NewString("AB"), value.NewString("CD"))
	if err != nil || v.Str != "ABCD" {
		t.Errorf("expected ABCD, got %v %v", v, err)
	}
	_, err = add(value.NewString("A"), value.NewInteger(1))
	wantCode(t, err, lang.TypeMismatch)
}

func TestAdd_IntegerOverflowChecked(t *testing.T) {
	_, err := add(value.NewInteger(32767), value.NewInteger(1))
	wantCode(t, err, lang.Overflow)
	_, err = mul(value.NewInteger(300), value.NewInteger(300))
	wantCode(t, err, lang.Overflow)
}

func TestDiv_AlwaysFloat(t *testing.T) {
	v, err := div(value.NewInteger(7), value.NewInteger(2))
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind != value.Single || v.F32 != 3.5 {
		t.Errorf("expected single 3.5, got %v", v)
	}
	_, err = div(value.NewInteger(1), value.NewInteger(0))
	wantCode(t, err, lang.DivisionByZero)
}

func TestDivIntAndMod_CoerceToI16(t *testing.T) {
	v, err := divInt(value.NewSingle(7.9), value.NewInteger(2))
	if err != nil || v.I16 != 3 {
		t.Errorf(`expected 7\2=3, got %v %v`, v, err)
	}
	v, err = mod(value.NewInteger(7), value.NewInteger(3))
	if err != nil || v.I16 != 1 {
		t.Errorf("expected 7 MOD 3=1, got %v %v", v, err)
	}
	_, err = mod(value.NewInteger(1), value.NewInteger(0))
	wantCode(t, err, lang.DivisionByZero)
}

func TestComparisons_ReturnMinusOneOrZero(t *testing.T) {
	v, _ := less(value.NewInteger(1), value.NewInteger(2))
	if v.I16 != -1 {
		t.Errorf("expected true as -1, got %d", v.I16)
	}
	v, _ = greater(value.NewInteger(1), value.NewInteger(2))
	if v.I16 != 0 {
		t.Errorf("expected false as 0, got %d", v.I16)
	}
	v, _ = equal(value.NewString("A"), value.NewString("A"))
	if v.I16 != -1 {
		t.Errorf("expected string equality true, got %d", v.I16)
	}
}

func TestLogicOps_BitwiseOnI16(t *testing.T) {
	v, _ := not(value.NewInteger(0))
	if v.I16 != -1 {
		t.Errorf("NOT 0: expected -1, got %d", v.I16)
	}
	v, _ = and(value.NewInteger(6), value.NewInteger(3))
	if v.I16 != 2 {
		t.Errorf("6 AND 3: expected 2, got %d", v.I16)
	}
	v, _ = imp(value.NewInteger(-1), value.NewInteger(0))
	if v.I16 != 0 {
		t.Errorf("-1 IMP 0: expected 0, got %d", v.I16)
	}
	v, _ = eqv(value.NewInteger(-1), value.NewInteger(-1))
	if v.I16 != -1 {
		t.Errorf("-1 EQV -1: expected -1, got %d", v.I16)
	}
}

func TestNegate_MinInt16Overflows(t *testing.T) {
	_, err := negate(value.NewInteger(-32768))
	wantCode(t, err, lang.Overflow)
}

func TestEpsilonEquality(t *testing.T) {
	// A Single and a Double a hair apart compare equal within the
	// narrower type's ULP.
	a := value.NewSingle(1.0)
	b := value.NewDouble(1.0 + 1e-8)
	v, err := equal(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if v.I16 != -1 {
		t.Error("expected near-equal floats to compare equal at Single precision")
	}
}
