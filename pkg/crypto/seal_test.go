package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func newTestSealer(t *testing.T, passphrase string) *Sealer {
	t.Helper()
	s, err := NewSealer(passphrase)
	if err != nil {
		t.Fatalf("NewSealer() error = %v", err)
	}
	return s
}

func TestSealOpen(t *testing.T) {
	s := newTestSealer(t, "correct horse")
	plaintext := []byte(`{"cookies":[{"name":"SID","value":"abc"}]}`)

	sealed, err := s.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if !IsSealed(sealed) {
		t.Error("IsSealed() = false for sealed payload")
	}
	if bytes.Contains(sealed, []byte("SID")) {
		t.Error("sealed payload leaks plaintext")
	}

	opened, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Open() = %q, want %q", opened, plaintext)
	}
}

func TestOpen_WrongPassphrase(t *testing.T) {
	sealed, err := newTestSealer(t, "one").Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	_, err = newTestSealer(t, "two").Open(sealed)
	if !errors.Is(err, ErrOpenFailed) {
		t.Errorf("Open() error = %v, want ErrOpenFailed", err)
	}
}

func TestOpen_TamperedHeader(t *testing.T) {
	s := newTestSealer(t, "pass")
	sealed, err := s.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	sealed[10] ^= 0xff // inside the salt
	if _, err := s.Open(sealed); !errors.Is(err, ErrOpenFailed) {
		t.Errorf("Open() error = %v, want ErrOpenFailed", err)
	}
}

func TestOpen_InvalidInput(t *testing.T) {
	s := newTestSealer(t, "pass")

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"plain json", []byte(`{"cookies":[]}`), ErrNotSealed},
		{"truncated", []byte("SFCR\x01"), ErrNotSealed},
		{"future version", append([]byte("SFCR\x09\x00\x00\x00"), make([]byte, HeaderSize)...), ErrUnsupportedVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Open(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("Open() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSeal_FreshNonce(t *testing.T) {
	s := newTestSealer(t, "pass")
	a, _ := s.Seal([]byte("same"))
	b, _ := s.Seal([]byte("same"))
	if bytes.Equal(a, b) {
		t.Error("sealing twice produced identical output")
	}
}

func TestNewSealer_EmptyPassphrase(t *testing.T) {
	if _, err := NewSealer(""); !errors.Is(err, ErrEmptyPassphrase) {
		t.Errorf("NewSealer(\"\") error = %v, want ErrEmptyPassphrase", err)
	}
}
