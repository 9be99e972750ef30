package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonthsBetween(t *testing.T) {
	tests := []struct {
		name     string
		from, to time.Time
		want     int
	}{
		{"same day", Date(2025, time.March, 1), Date(2025, time.March, 1), 0},
		{"day before anniversary", Date(2025, time.January, 15), Date(2025, time.February, 14), 0},
		{"on anniversary", Date(2025, time.January, 15), Date(2025, time.February, 15), 1},
		{"four months", Date(2025, time.January, 10), Date(2025, time.May, 20), 4},
		{"short month end counts", Date(2025, time.January, 31), Date(2025, time.February, 28), 1},
		{"across years", Date(2024, time.October, 1), Date(2025, time.January, 1), 3},
		{"reversed", Date(2025, time.May, 1), Date(2025, time.March, 1), -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MonthsBetween(tt.from, tt.to))
		})
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-02-03")
	require.NoError(t, err)
	assert.Equal(t, 2025, d.Year())
	assert.Equal(t, time.February, d.Month())
	assert.Equal(t, 3, d.Day())

	_, err = ParseDate("2025-02-03 10:11:12")
	require.NoError(t, err)

	_, err = ParseDate("2025-02-03T10:11:12Z")
	require.NoError(t, err)

	_, err = ParseDate("03/02/2025")
	assert.Error(t, err)
}

func TestIsFuture(t *testing.T) {
	now := Date(2025, time.March, 10).Add(15 * time.Hour)
	assert.False(t, IsFuture(Date(2025, time.March, 10).Add(23*time.Hour), now))
	assert.True(t, IsFuture(Date(2025, time.March, 11), now))
	assert.False(t, IsFuture(Date(2025, time.March, 9), now))
}
