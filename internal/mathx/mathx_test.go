package mathx

import (
	"errors"
	"math"
	"testing"
)

func TestAddSub(t *testing.T) {
	if got, err := Add(2, 3); err != nil || got != 5 {
		t.Errorf("Add(2, 3) = %d, %v", got, err)
	}
	if _, err := Add(math.MaxUint64, 1); !errors.Is(err, ErrOverflow) {
		t.Errorf("Add overflow: err = %v", err)
	}
	if got, err := Sub(5, 5); err != nil || got != 0 {
		t.Errorf("Sub(5, 5) = %d, %v", got, err)
	}
	if _, err := Sub(1, 2); !errors.Is(err, ErrUnderflow) {
		t.Errorf("Sub underflow: err = %v", err)
	}
}

func TestMul(t *testing.T) {
	if got, err := Mul(1<<32, 1<<31); err != nil || got != 1<<63 {
		t.Errorf("Mul = %d, %v", got, err)
	}
	if _, err := Mul(1<<32, 1<<32); !errors.Is(err, ErrOverflow) {
		t.Errorf("Mul overflow: err = %v", err)
	}
}

func TestMulDiv(t *testing.T) {
	tests := []struct {
		name    string
		a, b, d uint64
		want    uint64
		wantErr error
	}{
		{"exact", 50_000_000, 200_000_000, 100_000_000, 100_000_000, nil},
		{"floors", 10, 10, 3, 33, nil},
		{"wide intermediate", math.MaxUint64, math.MaxUint64, math.MaxUint64, math.MaxUint64, nil},
		{"result overflow", math.MaxUint64, 2, 1, 0, ErrOverflow},
		{"zero divisor", 1, 1, 0, 0, ErrDivisionByZero},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MulDiv(tt.a, tt.b, tt.d)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("MulDiv = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMulGTE(t *testing.T) {
	// 66 * 10000 == 6600 * 100
	if !MulGTE(6600, 100, 66, 10000) {
		t.Error("equal products should compare >=")
	}
	if MulGTE(6599, 100, 66, 10000) {
		t.Error("smaller product compared >=")
	}
	if !MulGTE(math.MaxUint64, 100, math.MaxUint64, 99) {
		t.Error("wide comparison failed")
	}
}
