package worker

import (
	"regexp"
	"strconv"
	"time"
)

// LimitKind distinguishes a short session-window limit from a weekly one.
type LimitKind string

const (
	LimitKindSession LimitKind = "session"
	LimitKindWeekly  LimitKind = "weekly"
	LimitKindUnknown LimitKind = "unknown"
)

// RateLimitInfo is what the worker extracts from agent-CLI output that
// indicates a rate limit was hit, so the run can be retried with the
// same session once the window resets.
type RateLimitInfo struct {
	ResetAt     time.Time
	WaitSeconds int64
	Kind        LimitKind
	RawMessage  string
}

var (
	unixTimestampPattern = regexp.MustCompile(`usage limit reached\|(\d+)`)
	resetsAtPattern      = regexp.MustCompile(`resets?\s+(?:at\s+)?(\d+)(am|pm)\s*\(([^)]+)\)`)
	retrySecondsPattern  = regexp.MustCompile(`retry (?:in|after)\s+(\d+)\s*(?:seconds?|s)\b`)
	rateLimitIndicator   = regexp.MustCompile(`(?i)(out of.*usage|rate.?limit|usage.?limit|429|too.?many.?requests)`)
)

// ParseRateLimitFromOutput scans agent-CLI stdout/stderr for a rate-limit
// message and, if found, extracts the reset time. Returns nil when output
// shows no rate-limit indicator.
func ParseRateLimitFromOutput(output string) *RateLimitInfo {
	if output == "" || !rateLimitIndicator.MatchString(output) {
		return nil
	}

	info := &RateLimitInfo{RawMessage: output, Kind: LimitKindUnknown}

	if m := unixTimestampPattern.FindStringSubmatch(output); len(m) > 1 {
		if ts, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			info.ResetAt = time.Unix(ts, 0)
			info.WaitSeconds = int64(time.Until(info.ResetAt).Seconds())
			info.Kind = inferKind(info.WaitSeconds)
			return info
		}
	}

	if m := resetsAtPattern.FindStringSubmatch(output); len(m) > 3 {
		if resetAt, ok := nextOccurrenceOf(m[1], m[2], m[3]); ok {
			info.ResetAt = resetAt
			info.WaitSeconds = int64(time.Until(resetAt).Seconds())
			info.Kind = inferKind(info.WaitSeconds)
			return info
		}
	}

	if m := retrySecondsPattern.FindStringSubmatch(output); len(m) > 1 {
		if seconds, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			info.WaitSeconds = seconds
			info.ResetAt = time.Now().Add(time.Duration(seconds) * time.Second)
			info.Kind = inferKind(seconds)
			return info
		}
	}

	info.ResetAt = inferResetTime()
	info.WaitSeconds = int64(time.Until(info.ResetAt).Seconds())
	info.Kind = LimitKindSession
	return info
}

func nextOccurrenceOf(hourStr, meridiem, tzName string) (time.Time, bool) {
	hour, err := strconv.Atoi(hourStr)
	if err != nil {
		return time.Time{}, false
	}
	if meridiem == "pm" && hour != 12 {
		hour += 12
	} else if meridiem == "am" && hour == 12 {
		hour = 0
	}

	loc, err := time.LoadLocation(tzName)
	if err != nil {
		loc = time.UTC
	}

	now := time.Now().In(loc)
	resetAt := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, loc)
	if resetAt.Before(now) {
		resetAt = resetAt.Add(24 * time.Hour)
	}
	return resetAt, true
}

// inferResetTime falls back to the next 5-hour billing-window boundary
// when no explicit reset time is present in the output.
func inferResetTime() time.Time {
	now := time.Now()
	flooredHour := (now.Hour() / 5) * 5
	base := time.Date(now.Year(), now.Month(), now.Day(), flooredHour, 0, 0, 0, now.Location())
	next := base.Add(5 * time.Hour)
	if !next.After(now) {
		next = next.Add(5 * time.Hour)
	}
	return next
}

func inferKind(waitSeconds int64) LimitKind {
	const sixHours = 6 * 60 * 60
	if waitSeconds <= 0 {
		return LimitKindUnknown
	}
	if waitSeconds > sixHours {
		return LimitKindWeekly
	}
	return LimitKindSession
}
