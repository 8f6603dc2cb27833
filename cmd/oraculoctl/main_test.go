package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestKeyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.key")

	priv, err := generateKey(path)
	if err != nil {
		t.Fatalf("generateKey: %v", err)
	}
	got, err := readKey(path)
	if err != nil {
		t.Fatalf("readKey: %v", err)
	}
	if !got.Equal(priv) {
		t.Error("read key differs from generated key")
	}

	if _, err := generateKey(path); err == nil {
		t.Error("expected error when key file exists")
	}
}

func TestReadKey_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.key")
	if err := os.WriteFile(path, []byte("not-a-key\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := readKey(path); !errors.Is(err, errBadKey) {
		t.Errorf("expected errBadKey, got %v", err)
	}
}

func TestParseYesNo(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{"yes", true, false},
		{"Y", true, false},
		{"no", false, false},
		{"false", false, false},
		{"maybe", false, true},
	}
	for _, tt := range tests {
		got, err := parseYesNo(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseYesNo(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestParseEndTime(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	got, err := parseEndTime("+2h", now)
	if err != nil || got != 1_700_007_200 {
		t.Errorf("relative: got %d, %v", got, err)
	}
	got, err = parseEndTime("1800000000", now)
	if err != nil || got != 1_800_000_000 {
		t.Errorf("absolute: got %d, %v", got, err)
	}
	if _, err := parseEndTime("+soon", now); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestRequired(t *testing.T) {
	var set, unset addrFlag
	if err := set.Set("11111111111111111111111111111111"); err != nil {
		t.Fatal(err)
	}
	if err := required(map[string]*addrFlag{"a": &set}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := required(map[string]*addrFlag{"a": &set, "b": &unset}); err == nil {
		t.Error("expected missing flag error")
	}
}
