package client

import (
	"time"

	"codeassess/internal/judge/model"
)

const (
	perTestOverheadMs     = 80
	compiledHeadroomMs    = 5000
	interpretedHeadroomMs = 1000
	minTimeoutMs          = 2000
	maxTimeoutMs          = 60000
)

// ComputeTimeout returns the overall watchdog for one judge call:
// tests*(time_limit+80ms) plus compile headroom, clamped to [2s, 60s].
func ComputeTimeout(req *model.JudgeRequest) time.Duration {
	if req == nil {
		return minTimeoutMs * time.Millisecond
	}
	headroom := int64(interpretedHeadroomMs)
	if req.Language.Compiled() {
		headroom = compiledHeadroomMs
	}
	perTest := req.Limits.TimeLimitMs
	if perTest < 0 {
		perTest = 0
	}
	total := int64(len(req.Tests))*(perTest+perTestOverheadMs) + headroom
	if total < minTimeoutMs {
		total = minTimeoutMs
	}
	if total > maxTimeoutMs {
		total = maxTimeoutMs
	}
	return time.Duration(total) * time.Millisecond
}
