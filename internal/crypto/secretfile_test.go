package crypto

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSealOpenSecret(t *testing.T) {
	blob, err := SealSecret("hook-secret", "pw")
	if err != nil {
		t.Fatalf("SealSecret: %v", err)
	}
	got, err := OpenSecret(blob, "pw")
	if err != nil {
		t.Fatalf("OpenSecret: %v", err)
	}
	if got != "hook-secret" {
		t.Fatalf("got %q", got)
	}
	if _, err := OpenSecret(blob, "wrong"); err == nil {
		t.Fatal("expected error for wrong password")
	}
}

func TestSecretSourceLoad(t *testing.T) {
	blob, err := SealSecret("from-file", "pw")
	if err != nil {
		t.Fatalf("SealSecret: %v", err)
	}
	path := filepath.Join(t.TempDir(), "webhook.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		src  SecretSource
		want string
	}{
		{"raw wins", SecretSource{Raw: " raw ", Path: path, Password: "pw"}, "raw"},
		{"file", SecretSource{Path: path, Password: "pw"}, "from-file"},
		{"empty", SecretSource{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.src.Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}
