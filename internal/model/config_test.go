package model

import (
	"testing"
	"time"
)

func TestIntegrationOptionsScanInterval(t *testing.T) {
	t.Helper()

	tests := []struct {
		name  string
		opts  IntegrationOptions
		floor time.Duration
		want  time.Duration
	}{
		{
			name:  "unset falls back to default",
			opts:  IntegrationOptions{},
			floor: 15 * time.Second,
			want:  DefaultScanInterval,
		},
		{
			name:  "below floor is clamped",
			opts:  IntegrationOptions{ScanIntervalSec: 5},
			floor: 15 * time.Second,
			want:  15 * time.Second,
		},
		{
			name:  "long interval is honored",
			opts:  IntegrationOptions{ScanIntervalSec: 3600},
			floor: 15 * time.Second,
			want:  time.Hour,
		},
		{
			name:  "zero floor uses built-in minimum",
			opts:  IntegrationOptions{ScanIntervalSec: 1},
			floor: 0,
			want:  MinScanInterval,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Helper()
			got := tt.opts.ScanInterval(tt.floor)
			if got != tt.want {
				t.Fatalf("ScanInterval() = %s, want %s", got, tt.want)
			}
		})
	}
}
