// Package alert implements the alert evaluator: a periodic ticker that walks
// each running instance's target states, decides whether a first-down,
// repeat-down, or recovered notification is due on the time-zone-aware
// escalation ladder, and fans deliveries out over SMTP and webhooks.
package alert

import (
	"time"

	"github.com/sitewatch/monitor/internal/timezone"
)

// Config holds the alerting cadence knobs. Zero values are replaced by the
// defaults in Normalize.
type Config struct {
	// DownAfter is the hysteresis before the first DOWN notification.
	DownAfter time.Duration
	// RecoveredAfter is the stability window before a RECOVERED notification.
	RecoveredAfter time.Duration
	// RepeatUnder24h is the repeat cadence while the outage is younger than
	// 24 hours.
	RepeatUnder24h time.Duration
	// Repeat24hTo72h is the repeat cadence between 24 hours and DailyAfter.
	Repeat24hTo72h time.Duration
	// DailyAfter is the outage age at which repeats drop to once daily.
	DailyAfter time.Duration
	// DailyHourLocal/DailyMinuteLocal is the local wall-clock slot for the
	// daily repeat.
	DailyHourLocal   int
	DailyMinuteLocal int
	// TickInterval is the evaluator cadence.
	TickInterval time.Duration
}

// DefaultConfig returns the stock ladder: first alert after 3 minutes down,
// repeats every 30 minutes, hourly after a day, daily at 10:00 local after
// three days, recovery confirmed after 1 minute up.
func DefaultConfig() Config {
	return Config{
		DownAfter:        180 * time.Second,
		RecoveredAfter:   60 * time.Second,
		RepeatUnder24h:   1800 * time.Second,
		Repeat24hTo72h:   3600 * time.Second,
		DailyAfter:       72 * time.Hour,
		DailyHourLocal:   10,
		DailyMinuteLocal: 0,
		TickInterval:     15 * time.Second,
	}
}

// Normalize replaces unset fields with their defaults.
func (c Config) Normalize() Config {
	d := DefaultConfig()
	if c.DownAfter <= 0 {
		c.DownAfter = d.DownAfter
	}
	if c.RecoveredAfter <= 0 {
		c.RecoveredAfter = d.RecoveredAfter
	}
	if c.RepeatUnder24h <= 0 {
		c.RepeatUnder24h = d.RepeatUnder24h
	}
	if c.Repeat24hTo72h <= 0 {
		c.Repeat24hTo72h = d.Repeat24hTo72h
	}
	if c.DailyAfter <= 0 {
		c.DailyAfter = d.DailyAfter
	}
	if c.DailyHourLocal < 0 || c.DailyHourLocal > 23 {
		c.DailyHourLocal = d.DailyHourLocal
	}
	if c.DailyMinuteLocal < 0 || c.DailyMinuteLocal > 59 {
		c.DailyMinuteLocal = d.DailyMinuteLocal
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	return c
}

// NextNotify computes the UTC instant of the next repeat notification for an
// outage that started at downStart, whose latest notification went out at
// lastSent, in the instance's zone:
//
//   - outage younger than 24h: lastSent + RepeatUnder24h
//   - younger than DailyAfter: lastSent + Repeat24hTo72h
//   - otherwise: the next DailyHourLocal:DailyMinuteLocal wall-clock slot in
//     loc, converted to UTC (tomorrow's slot when today's has passed).
func (c Config) NextNotify(downStart, lastSent time.Time, loc *time.Location) time.Time {
	age := lastSent.Sub(downStart)
	switch {
	case age < 24*time.Hour:
		return lastSent.Add(c.RepeatUnder24h)
	case age < c.DailyAfter:
		return lastSent.Add(c.Repeat24hTo72h)
	}

	local := timezone.ToLocal(lastSent, loc)
	slot := time.Date(local.Year(), local.Month(), local.Day(),
		c.DailyHourLocal, c.DailyMinuteLocal, 0, 0, loc)
	if !slot.UTC().After(lastSent) {
		slot = slot.AddDate(0, 0, 1)
	}
	return slot.UTC()
}
