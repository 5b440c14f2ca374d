package push

import (
	"testing"

	"classlink/pkg/logger"
)

func TestFromModeSelection(t *testing.T) {
	l := logger.New(logger.TestMode)

	cases := []struct {
		mode    string
		wantLog bool
	}{
		{ModeLog, true},
		{ModeOff, false},
		{"", true},
		{"firebase", true},
	}

	for _, tc := range cases {
		p := FromMode(tc.mode, l)
		_, isLog := p.(*LogProvider)
		if isLog != tc.wantLog {
			t.Fatalf("mode %q: log provider = %v, want %v", tc.mode, isLog, tc.wantLog)
		}
		if !tc.wantLog {
			if _, ok := p.(NoopProvider); !ok {
				t.Fatalf("mode %q: expected the noop provider, got %T", tc.mode, p)
			}
		}
	}
}
