package util

import "testing"

func TestSetEqual(t *testing.T) {
	id := func(s string) string { return s }
	eq := func(a, b string) bool { return a == b }

	tests := []struct {
		a, b []string
		exp  bool
	}{
		{a: nil, b: nil, exp: true},
		{a: []string{"x"}, b: []string{"x"}, exp: true},
		{a: []string{"x", "y"}, b: []string{"y", "x"}, exp: true},
		{a: []string{"x", "y"}, b: []string{"x"}, exp: false},
		{a: []string{"x"}, b: []string{"z"}, exp: false},
	}

	for _, tc := range tests {
		if act := SetEqual(tc.a, tc.b, id, eq); act != tc.exp {
			t.Errorf("SetEqual(%v, %v): expected %v, got %v", tc.a, tc.b, tc.exp, act)
		}
	}
}

func TestPtrEqual(t *testing.T) {
	yes, no, yes2 := true, false, true

	if !PtrEqual[bool](nil, nil) {
		t.Error("expected nil pointers to be equal")
	}
	if PtrEqual(&yes, nil) {
		t.Error("expected pointer and nil to differ")
	}
	if PtrEqual(&yes, &no) {
		t.Error("expected different values to differ")
	}
	if !PtrEqual(&yes, &yes2) {
		t.Error("expected equal values to be equal")
	}
}
