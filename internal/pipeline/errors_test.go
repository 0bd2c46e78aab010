package pipeline

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := Errorf(KindVisionBackend, "model timed out")
	if got := KindOf(err); got != KindVisionBackend {
		t.Errorf("KindOf() = %s, want %s", got, KindVisionBackend)
	}

	wrapped := fmt.Errorf("processing job: %w", err)
	if got := KindOf(wrapped); got != KindVisionBackend {
		t.Errorf("KindOf(wrapped) = %s, want %s", got, KindVisionBackend)
	}

	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Errorf("KindOf(plain) = %s, want %s", got, KindUnknown)
	}
}

func TestWrap_PreservesExistingKind(t *testing.T) {
	inner := Errorf(KindOCR, "tesseract unavailable")
	outer := Wrap(KindUnknown, inner)
	if got := KindOf(outer); got != KindOCR {
		t.Errorf("KindOf() = %s, want %s", got, KindOCR)
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(KindBlob, nil) != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestIsExtractorError(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{KindStructuredBackend, true},
		{KindVisionBackend, true},
		{KindValidation, true},
		{KindBlob, false},
		{KindStore, false},
		{KindUnsupportedType, false},
	}
	for _, tc := range cases {
		err := Errorf(tc.kind, "x")
		if got := IsExtractorError(err); got != tc.want {
			t.Errorf("IsExtractorError(%s) = %v, want %v", tc.kind, got, tc.want)
		}
	}
}
