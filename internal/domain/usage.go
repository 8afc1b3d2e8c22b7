package domain

import "time"

// UsageLog is written once per successful render.
type UsageLog struct {
	UserID         string
	RenderID       string
	Backend        string
	PixelsRendered int64
	BytesWritten   int64
	ComputeTimeMS  int64
	CreatedAt      time.Time
}
