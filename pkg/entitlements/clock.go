package entitlements

import "time"

// Clock supplies "now" to callers of the evaluator. The evaluator itself never
// reads a clock; callers read it once per logical evaluation and pass the value.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. Used for historical audits.
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c) }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }
