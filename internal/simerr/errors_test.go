package simerr

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

func TestKindMatchingThroughWrapping(t *testing.T) {
	base := Parse("read world", "worlds/broken.world", errors.New("unexpected token"))
	wrapped := fmt.Errorf("open world: %w", base)

	if !errors.Is(wrapped, ErrParse) {
		t.Fatalf("expected wrapped error to match ErrParse")
	}
	if errors.Is(wrapped, ErrIO) {
		t.Fatalf("parse error must not match ErrIO")
	}
	kind, ok := KindOf(wrapped)
	if !ok || kind != KindParse {
		t.Fatalf("expected kind %q, got %q (ok=%v)", KindParse, kind, ok)
	}
}

func TestErrorUnwrapsCause(t *testing.T) {
	err := IO("stat world", "missing.world", fs.ErrNotExist)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected cause to be reachable via errors.Is")
	}
	want := "stat world: io error [missing.world]: file does not exist"
	if got := err.Error(); got != want {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestFatalMarking(t *testing.T) {
	if Fatal(nil) != nil {
		t.Fatalf("expected nil to stay nil")
	}
	err := Load("load world", errors.New("no gravity"))
	if IsFatal(err) {
		t.Fatalf("plain error must not be fatal")
	}
	fatal := Fatal(err)
	if !IsFatal(fatal) {
		t.Fatalf("expected marked error to be fatal")
	}
	if Fatal(fatal) != fatal {
		t.Fatalf("expected double marking to be a no-op")
	}
	if !errors.Is(fatal, ErrLoad) {
		t.Fatalf("expected fatal wrapper to keep kind")
	}
}
