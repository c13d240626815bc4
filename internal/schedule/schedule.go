// Package schedule computes billing instants. It is pure: no state, no I/O,
// safe to call from concurrent contexts.
package schedule

import (
	"time"

	"github.com/kevin07696/billing-engine/internal/domain"
	"github.com/kevin07696/billing-engine/internal/domain/models"
)

// NextInstant maps (start instant, frequency, period index, interval) to the
// instant the transaction for that period becomes due.
//
// Period 0 is the start instant itself. For later periods, period*interval
// units of the calendar field are added with clamped arithmetic: day-of-month
// overflow lands on the last valid day of the target month (Jan 31 + 1 month
// is Feb 28, or Feb 29 in a leap year), never in the following month.
func NextInstant(startedAt time.Time, freq models.Frequency, period, interval int) (time.Time, error) {
	if interval < 1 {
		return time.Time{}, domain.NewDomainError(domain.ErrorCodeInvalidInterval,
			"billing interval must be at least 1").WithDetail("interval", interval)
	}

	switch freq {
	case models.FrequencyDaily, models.FrequencyWeekly, models.FrequencyMonthly, models.FrequencyYearly:
	default:
		return time.Time{}, domain.NewDomainError(domain.ErrorCodeInvalidFrequency,
			"unknown billing frequency").WithDetail("frequency", string(freq))
	}

	if period == 0 {
		return startedAt, nil
	}

	steps := period * interval
	switch freq {
	case models.FrequencyDaily:
		return startedAt.AddDate(0, 0, steps), nil
	case models.FrequencyWeekly:
		return startedAt.AddDate(0, 0, steps*7), nil
	case models.FrequencyMonthly:
		return addMonthsClamped(startedAt, steps), nil
	default: // yearly
		return addMonthsClamped(startedAt, steps*12), nil
	}
}

// addMonthsClamped adds months without time.AddDate's day normalization.
// AddDate rolls Jan 31 + 1 month over to Mar 2/3; billing dates must clamp
// to the last day of the shorter month instead.
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()

	total := int(month) - 1 + months
	targetYear := year + total/12
	targetMonth := time.Month(total%12 + 1)
	if total < 0 {
		// Go's integer division truncates toward zero; renormalize for
		// negative month totals.
		targetYear = year + (total-11)/12
		targetMonth = time.Month((total%12+12)%12 + 1)
	}

	if last := lastDayOfMonth(targetYear, targetMonth); day > last {
		day = last
	}

	hour, min, sec := t.Clock()
	return time.Date(targetYear, targetMonth, day, hour, min, sec, t.Nanosecond(), t.Location())
}

// lastDayOfMonth returns the number of days in the given month
func lastDayOfMonth(year int, month time.Month) int {
	// Day zero of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
