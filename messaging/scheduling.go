package messaging

import (
	"time"

	"github.com/glimte/mmate-router/contracts"
)

// ScheduleThreshold is the smallest remaining delay that is scheduled rather
// than sent immediately
const ScheduleThreshold = 400 * time.Millisecond

// Schedule is the dispatch decision for one outbound message
type Schedule struct {
	Scheduled bool
	DeliverAt time.Time
	// Delay is the remaining delay at decision time, never negative.
	Delay time.Duration
}

// DispatchSchedule decides whether md is sent now or scheduled. The delivery
// time is the creation time (or now when absent) plus the dispatch delay.
func DispatchSchedule(md *contracts.Metadata, now time.Time) Schedule {
	if md == nil {
		return Schedule{DeliverAt: now}
	}

	base := now
	if md.HasCreatedAt() {
		base = md.CreatedAtUTC
	}
	deliverAt := base.Add(md.DispatchDelay)

	delay := deliverAt.Sub(now)
	if delay < 0 {
		delay = 0
	}
	return Schedule{
		Scheduled: delay > ScheduleThreshold,
		DeliverAt: deliverAt,
		Delay:     delay,
	}
}
