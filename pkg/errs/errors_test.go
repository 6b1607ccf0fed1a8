package errs

import (
	"errors"
	"testing"
)

func TestWrapPreservesIsAndCode(t *testing.T) {
	err := Wrap(ValidationPayload, ErrValidation, "missing required field summary")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected errors.Is to match ErrValidation")
	}
	code, ok := CodeOf(err)
	if !ok || code != ValidationPayload {
		t.Fatalf("expected code %s, got %s (ok=%v)", ValidationPayload, code, ok)
	}
}

func TestUnknownEventTypeIsSubtypeOfValidation(t *testing.T) {
	err := Wrap(ValidationUnknownType, ErrUnknownEventType, "snap_shot")
	if !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("expected errors.Is to match ErrUnknownEventType")
	}
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected errors.Is to match ErrValidation")
	}
	code, _ := CodeOf(err)
	if code != ValidationUnknownType {
		t.Fatalf("got code %s", code)
	}
}

func TestCodeOfUnwrappedErrorIsFalse(t *testing.T) {
	if _, ok := CodeOf(errors.New("plain")); ok {
		t.Fatal("expected no code for a plain error")
	}
}

func TestAllRegisteredCodesHaveDescriptions(t *testing.T) {
	for _, c := range List() {
		meta, ok := Meta(c)
		if !ok || meta.Description == "" {
			t.Fatalf("code %s missing metadata", c)
		}
	}
}
