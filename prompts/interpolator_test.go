package prompts

import (
	"strings"
	"testing"
	"time"
)

func TestInterpolate(t *testing.T) {
	ctx := &InterpolationContext{
		Transcript: "## general\nalice: hello",
		Date:       "2025-03-10",
		Lang:       "ja",
		Now:        time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC),
	}

	got := Interpolate("{{date}} {{lang}} {{today}}\n{{transcript}}", ctx)

	if !strings.HasPrefix(got, "2025-03-10 Japanese 2025-03-11") {
		t.Fatalf("unexpected header: %q", got)
	}
	if !strings.Contains(got, "alice: hello") {
		t.Fatalf("transcript not interpolated: %q", got)
	}
}

func TestInterpolateUnknownLang(t *testing.T) {
	got := Interpolate("{{lang}}", &InterpolationContext{Lang: "fr"})
	if got != "fr" {
		t.Fatalf("unknown lang should pass through, got %q", got)
	}
}
