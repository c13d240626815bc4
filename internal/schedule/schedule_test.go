package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/billing-engine/internal/domain"
	"github.com/kevin07696/billing-engine/internal/domain/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNextInstant_PeriodZeroIsStart(t *testing.T) {
	start := time.Date(2013, 8, 16, 10, 30, 0, 0, time.UTC)

	for _, freq := range []models.Frequency{
		models.FrequencyDaily,
		models.FrequencyWeekly,
		models.FrequencyMonthly,
		models.FrequencyYearly,
	} {
		for _, interval := range []int{1, 2, 13} {
			got, err := NextInstant(start, freq, 0, interval)
			require.NoError(t, err)
			assert.True(t, got.Equal(start), "freq=%s interval=%d", freq, interval)
		}
	}
}

func TestNextInstant_AdvancesByCalendarUnits(t *testing.T) {
	tests := []struct {
		name     string
		start    time.Time
		freq     models.Frequency
		period   int
		interval int
		want     time.Time
	}{
		{"daily one period", date(2013, 8, 16), models.FrequencyDaily, 1, 1, date(2013, 8, 17)},
		{"daily interval three", date(2013, 8, 16), models.FrequencyDaily, 2, 3, date(2013, 8, 22)},
		{"weekly one period", date(2013, 8, 16), models.FrequencyWeekly, 1, 1, date(2013, 8, 23)},
		{"weekly two periods", date(2013, 8, 16), models.FrequencyWeekly, 2, 1, date(2013, 8, 30)},
		{"monthly one period", date(2013, 8, 16), models.FrequencyMonthly, 1, 1, date(2013, 9, 16)},
		{"monthly three periods", date(2013, 8, 16), models.FrequencyMonthly, 3, 1, date(2013, 11, 16)},
		{"monthly across year end", date(2013, 11, 16), models.FrequencyMonthly, 2, 1, date(2014, 1, 16)},
		{"monthly interval two", date(2013, 8, 16), models.FrequencyMonthly, 1, 2, date(2013, 10, 16)},
		{"yearly one period", date(2013, 8, 16), models.FrequencyYearly, 1, 1, date(2014, 8, 16)},
		{"yearly interval two", date(2013, 8, 16), models.FrequencyYearly, 3, 2, date(2019, 8, 16)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextInstant(tt.start, tt.freq, tt.period, tt.interval)
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %s want %s", got, tt.want)
		})
	}
}

func TestNextInstant_ClampsMonthEndOverflow(t *testing.T) {
	tests := []struct {
		name   string
		start  time.Time
		period int
		want   time.Time
	}{
		{"jan 31 to feb in common year", date(2013, 1, 31), 1, date(2013, 2, 28)},
		{"jan 31 to feb in leap year", date(2016, 1, 31), 1, date(2016, 2, 29)},
		{"jan 31 to march keeps day", date(2013, 1, 31), 2, date(2013, 3, 31)},
		{"jan 31 to april clamps to 30", date(2013, 1, 31), 3, date(2013, 4, 30)},
		{"aug 31 across year end", date(2013, 8, 31), 6, date(2014, 2, 28)},
		{"may 31 to june clamps to 30", date(2013, 5, 31), 1, date(2013, 6, 30)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextInstant(tt.start, models.FrequencyMonthly, tt.period, 1)
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %s want %s", got, tt.want)
		})
	}
}

func TestNextInstant_ClampsLeapDayYearly(t *testing.T) {
	got, err := NextInstant(date(2016, 2, 29), models.FrequencyYearly, 1, 1)
	require.NoError(t, err)
	assert.True(t, got.Equal(date(2017, 2, 28)))

	got, err = NextInstant(date(2016, 2, 29), models.FrequencyYearly, 4, 1)
	require.NoError(t, err)
	assert.True(t, got.Equal(date(2020, 2, 29)))
}

func TestNextInstant_PreservesTimeOfDay(t *testing.T) {
	start := time.Date(2013, 1, 31, 23, 59, 59, 123456789, time.UTC)

	got, err := NextInstant(start, models.FrequencyMonthly, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2013, 2, 28, 23, 59, 59, 123456789, time.UTC), got)
}

func TestNextInstant_InvalidInterval(t *testing.T) {
	for _, freq := range []models.Frequency{
		models.FrequencyDaily,
		models.FrequencyWeekly,
		models.FrequencyMonthly,
		models.FrequencyYearly,
	} {
		for _, interval := range []int{0, -1} {
			_, err := NextInstant(date(2013, 8, 16), freq, 1, interval)
			require.Error(t, err, "freq=%s interval=%d", freq, interval)
			assert.True(t, domain.IsDomainError(err, domain.ErrorCodeInvalidInterval))
		}
	}
}

func TestNextInstant_InvalidFrequency(t *testing.T) {
	_, err := NextInstant(date(2013, 8, 16), models.Frequency("fortnightly"), 1, 1)
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeInvalidFrequency))
}
