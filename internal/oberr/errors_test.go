package oberr

import (
	"errors"
	"testing"
)

func TestIsMatchesByKind(t *testing.T) {
	err := Wrap(KindCorruption, errors.New("crc mismatch"), "reading sstable")
	if !errors.Is(err, ErrCorruption) {
		t.Fatalf("errors.Is(err, ErrCorruption) = false; want true")
	}
	if errors.Is(err, ErrIO) {
		t.Fatalf("errors.Is(err, ErrIO) = true; want false")
	}
}

func TestWrapNilCauseReturnsNil(t *testing.T) {
	if err := Wrap(KindIO, nil, "msg"); err != nil {
		t.Fatalf("Wrap(nil cause) = %v; want nil", err)
	}
}

func TestUnwrapReachesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindIO, cause, "flushing")
	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is(err, cause) = false; want true via Unwrap")
	}
}
