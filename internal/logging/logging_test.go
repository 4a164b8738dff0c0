package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		level     string
		debugShow bool
		wantErr   bool
	}{
		{"", false, false},
		{"debug", true, false},
		{" DEBUG ", true, false},
		{"warn", false, false},
		{"loud", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			l, err := New(&buf, tt.level)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			l.Debug("SEND", "data", "show version")
			if got := strings.Contains(buf.String(), "SEND"); got != tt.debugShow {
				t.Errorf("debug shown = %v, want %v (output %q)", got, tt.debugShow, buf.String())
			}
		})
	}
}

func TestDiscard(t *testing.T) {
	Discard().Error("nothing to see")
}
