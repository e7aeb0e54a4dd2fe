package intent

import (
	"strings"
	"testing"

	gerrors "github.com/hpungsan/governor/internal/errors"
)

func TestClassify(t *testing.T) {
	c := Classifier{Threshold: 0.5}
	tests := []struct {
		name string
		task string
		want Intent
	}{
		{"debugging", "Fix the crash: error: nil pointer in handler", Debugging},
		{"code generation", "Implement a new rate limiter and write code for it", CodeGeneration},
		{"search", "Where is the config loader? find usages", Search},
		{"planning", "What is the best approach? how should I structure the migration plan", Planning},
		{"review", "Please review this PR and check naming", Review},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.task, "", Signals{})
			if got.Intent != tt.want {
				t.Fatalf("Classify() intent = %s, want %s (scores %v)", got.Intent, tt.want, got.Scores)
			}
			if got.Confidence < 0.3 || got.Confidence > 0.95 {
				t.Errorf("Confidence = %v, want within [0.3, 0.95]", got.Confidence)
			}
		})
	}
}

func TestClassify_UnmatchedIsGenericBelowThreshold(t *testing.T) {
	c := Classifier{Threshold: 0.5}
	got := c.Classify("lorem ipsum dolor", "sit amet", Signals{})
	if got.Intent != Generic {
		t.Fatalf("Intent = %s, want generic", got.Intent)
	}
	if got.Confidence >= c.Threshold {
		t.Errorf("Confidence = %v, want below %v", got.Confidence, c.Threshold)
	}
}

func TestClassify_TieIsAmbiguous(t *testing.T) {
	c := Classifier{Threshold: 0.5}
	// One keyword each for search and review.
	got := c.Classify("grep audit", "", Signals{})
	if got.Intent != Generic || !got.Ambiguous {
		t.Fatalf("Classify() = %+v, want ambiguous generic", got)
	}
	if got.Confidence >= c.Threshold {
		t.Errorf("Confidence = %v, want below threshold", got.Confidence)
	}
}

func TestClassify_Signals(t *testing.T) {
	c := Classifier{Threshold: 0.5}
	if got := c.Classify("", "", Signals{ErrorUnits: 2}); got.Intent != Debugging {
		t.Errorf("error signal intent = %s, want debugging", got.Intent)
	}
	if got := c.Classify("", "", Signals{DiffUnits: 1}); got.Intent != Review {
		t.Errorf("diff signal intent = %s, want review", got.Intent)
	}
}

func TestClassify_ScanBounded(t *testing.T) {
	c := Classifier{Threshold: 0.5}
	content := strings.Repeat("z ", MaxScanChars) + "traceback error: bug"
	got := c.Classify("", content, Signals{})
	if got.Intent != Generic {
		t.Errorf("Intent = %s, want generic (match past scan window)", got.Intent)
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	s := strings.Repeat("a", MaxScanChars-1) + "é"
	got := truncate(s)
	if len(got) != MaxScanChars-1 {
		t.Errorf("len(truncate()) = %d, want %d", len(got), MaxScanChars-1)
	}
}

func TestParse(t *testing.T) {
	if got, err := Parse("Debugging"); err != nil || got != Debugging {
		t.Errorf("Parse(Debugging) = %v, %v", got, err)
	}
	_, err := Parse("telepathy")
	if !gerrors.Is(err, gerrors.ErrInvalidConfig) {
		t.Errorf("Parse(telepathy) error = %v, want INVALID_CONFIG", err)
	}
}
