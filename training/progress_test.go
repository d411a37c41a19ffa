package training

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

// TestProgressBar tests the basic progress bar functionality
func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	pb := NewProgressBar(&buf, "Train Epoch 0", 4)

	for i := 1; i <= 4; i++ {
		pb.Update(i, map[string]float64{"loss": 0.5, "acc": 75})
	}
	pb.Finish()

	out := buf.String()
	if !strings.Contains(out, "Train Epoch 0: 100%") {
		t.Errorf("missing completion in output: %q", out)
	}
	if !strings.Contains(out, "4/4") {
		t.Errorf("missing step count in output: %q", out)
	}
	if !strings.Contains(out, "acc=75.00%, loss=0.5000") {
		t.Errorf("metrics not rendered in sorted order: %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Error("Finish should end the line")
	}
}

func TestProgressBarNilWriter(t *testing.T) {
	pb := NewProgressBar(nil, "quiet", 0)
	pb.Update(0, nil)
	pb.Finish()
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{0, "00:00"},
		{59 * time.Second, "00:59"},
		{61 * time.Second, "01:01"},
		{12*time.Minute + 5*time.Second, "12:05"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.expected {
			t.Errorf("formatDuration(%v) = %s, expected %s", tt.d, got, tt.expected)
		}
	}
}
