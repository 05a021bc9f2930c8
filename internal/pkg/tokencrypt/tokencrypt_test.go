package tokencrypt

import (
	"errors"
	"strings"
	"testing"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestNew_KeyValidation(t *testing.T) {
	cases := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid", testKey, false},
		{"empty", "", true},
		{"not hex", strings.Repeat("zz", 32), true},
		{"short", "0011", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.key)
			if (err != nil) != tc.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
	if _, err := New(""); !errors.Is(err, ErrKeyMissing) {
		t.Errorf("New(\"\") error = %v, want ErrKeyMissing", err)
	}
}

func TestSealOpen(t *testing.T) {
	s, err := New(testKey)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	sealed, err := s.Seal(42, "bearer-abc")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if strings.Contains(sealed, "bearer-abc") {
		t.Fatal("sealed form leaks the token")
	}

	got, err := s.Open(42, sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got != "bearer-abc" {
		t.Errorf("Open() = %q", got)
	}

	again, _ := s.Seal(42, "bearer-abc")
	if again == sealed {
		t.Error("two seals of the same token produced identical output")
	}
}

func TestOpen_Rejects(t *testing.T) {
	s, _ := New(testKey)
	sealed, _ := s.Seal(1, "token")

	if _, err := s.Open(2, sealed); err == nil {
		t.Error("Open() accepted a token sealed for another user")
	}
	if _, err := s.Open(1, "%%%"); !errors.Is(err, ErrMalformed) {
		t.Errorf("Open(garbage) error = %v, want ErrMalformed", err)
	}
	if _, err := s.Open(1, "AAAA"); !errors.Is(err, ErrMalformed) {
		t.Errorf("Open(short) error = %v, want ErrMalformed", err)
	}
}
