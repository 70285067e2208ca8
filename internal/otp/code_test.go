package otp

import (
	"testing"
)

func TestGenerateCode_ReturnsSixDigits(t *testing.T) {
	code, err := GenerateCode()
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if len(code) != 6 {
		t.Errorf("code length = %d, want 6", len(code))
	}
	if !WellFormed(code) {
		t.Errorf("code %q is not 6 digits", code)
	}
}

func TestGenerateCode_Spread(t *testing.T) {
	// 200 draws from 10^6 values: a handful of collisions at most.
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("GenerateCode: %v", err)
		}
		if !WellFormed(code) {
			t.Fatalf("code %q is not 6 digits", code)
		}
		seen[code] = true
	}
	if len(seen) < 190 {
		t.Errorf("only %d distinct codes in 200 draws", len(seen))
	}
}

func TestHashCode_Consistent(t *testing.T) {
	h1 := HashCode("012345")
	h2 := HashCode("012345")
	if h1 != h2 {
		t.Errorf("HashCode not consistent: %q vs %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64 (SHA-256 hex)", len(h1))
	}
	if HashCode("012345") == HashCode("12345") {
		t.Error("leading zero must change the hash")
	}
}

func TestCodeEqual(t *testing.T) {
	stored := HashCode("123456")
	testCases := []struct {
		name   string
		code   string
		stored string
		want   bool
	}{
		{"match", "123456", stored, true},
		{"mismatch", "654321", stored, false},
		{"empty code", "", stored, false},
		{"empty both", "", "", false},
		{"different length hash", "123456", "a" + stored, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CodeEqual(tc.code, tc.stored); got != tc.want {
				t.Errorf("CodeEqual = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestWellFormed(t *testing.T) {
	testCases := map[string]bool{
		"000000":  true,
		"123456":  true,
		"12345":   false,
		"1234567": false,
		"12a456":  false,
		" 12345":  false,
		"":        false,
	}
	for in, want := range testCases {
		if got := WellFormed(in); got != want {
			t.Errorf("WellFormed(%q) = %v, want %v", in, got, want)
		}
	}
}
