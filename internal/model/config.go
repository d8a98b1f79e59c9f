package model

import "time"

const (
	DefaultScanInterval = 120 * time.Second
	MinScanInterval     = 30 * time.Second
)

// IntegrationOptions is the user-editable part of the integration configuration.
type IntegrationOptions struct {
	ScanIntervalSec int `json:"scan_interval"`
}

// ScanInterval returns the configured poll period, never below floor.
func (o IntegrationOptions) ScanInterval(floor time.Duration) time.Duration {
	if o.ScanIntervalSec <= 0 {
		return ClampInterval(DefaultScanInterval, floor)
	}
	return ClampInterval(time.Duration(o.ScanIntervalSec)*time.Second, floor)
}

// ClampInterval raises interval to floor. A non-positive floor falls back to MinScanInterval.
func ClampInterval(interval, floor time.Duration) time.Duration {
	if floor <= 0 {
		floor = MinScanInterval
	}
	if interval < floor {
		return floor
	}
	return interval
}
