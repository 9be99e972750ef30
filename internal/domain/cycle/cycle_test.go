package cycle

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestOf_Labels(t *testing.T) {
	admission := date(2024, time.November, 20)

	tests := []struct {
		label string
		want  Cycle
	}{
		{"Jan-2025", MustNew(time.January, 2025)},
		{"jan-2025", MustNew(time.January, 2025)},
		{"JANUARY 2025", MustNew(time.January, 2025)},
		{"January, 2025", MustNew(time.January, 2025)},
		{"jan2025", MustNew(time.January, 2025)},
		{"2025 Jan", MustNew(time.January, 2025)},
		{"2025-01", MustNew(time.January, 2025)},
		{"01/2025", MustNew(time.January, 2025)},
		{"1-2025", MustNew(time.January, 2025)},
		{"202501", MustNew(time.January, 2025)},
		{"2025-01-15", MustNew(time.January, 2025)},
		{"15/01/2025", MustNew(time.January, 2025)},
		{"Sept 2025", MustNew(time.September, 2025)},
		{"  dec-2024  ", MustNew(time.December, 2024)},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, Of(tt.label, admission))
		})
	}
}

func TestOf_MonthOnlyResolvesAgainstAdmission(t *testing.T) {
	admission := date(2024, time.November, 20)

	assert.Equal(t, MustNew(time.November, 2024), Of("11", admission))
	assert.Equal(t, MustNew(time.December, 2024), Of("dec", admission))
	// Earlier month than admission rolls into the next year.
	assert.Equal(t, MustNew(time.February, 2025), Of("2", admission))
	assert.Equal(t, MustNew(time.February, 2025), Of("February", admission))

	assert.Equal(t, Unassigned, Of("3", time.Time{}))
}

func TestOf_FallsBackToAdmissionDate(t *testing.T) {
	admission := date(2025, time.March, 3)

	for _, label := range []string{"", "   ", "garbage", "13-2025", "Jan-20255", "0", "2025", "feb-30-x"} {
		t.Run(label, func(t *testing.T) {
			assert.Equal(t, MustNew(time.March, 2025), Of(label, admission))
		})
	}
}

func TestOf_Unassigned(t *testing.T) {
	assert.Equal(t, Unassigned, Of("", time.Time{}))
	assert.Equal(t, Unassigned, Of("nonsense", time.Time{}))
	assert.Equal(t, Unassigned, Of("New Admission", date(2025, time.March, 3)))
	assert.Equal(t, Unassigned, Of("unassigned", date(2025, time.March, 3)))
	assert.Equal(t, Unassigned, Of("", date(1, time.January, 1)))
	assert.True(t, Of("", time.Time{}).IsUnassigned())
}

func TestOf_MalformedLabels(t *testing.T) {
	admission := date(2025, time.March, 3)
	march := MustNew(time.March, 2025)

	tests := []struct {
		name   string
		label  string
		want   Cycle
		parses bool
	}{
		{"nul byte", "\x00", march, false},
		{"titlecase letter", "ǅ", march, false},
		{"separators only", "////", march, false},
		{"single dash", "-", march, false},
		{"huge number", "99999999999999999999", march, false},
		{"repeated month", "jan jan jan jan", march, false},
		{"non-ascii digits", "٣-٢٠٢٥", march, false},
		{"six digits no month", "202513", march, false},
		{"year below range", "0000-01", march, false},
		{"invalid utf8 separator", "jan\xff2025", MustNew(time.January, 2025), true},
		{"trailing dash", "jan-", MustNew(time.January, 2026), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Of(tt.label, admission))
			_, err := Parse(tt.label)
			assert.Equal(t, tt.parses, err == nil)
		})
	}
}

func FuzzOf(f *testing.F) {
	for _, seed := range []string{"Jan-2025", "2025/01", "202501", "sept 2024", "new admission", "jan-", "\x00", "٣-٢٠٢٥", "jan\xff2025"} {
		f.Add(seed)
	}
	admission := date(2025, time.March, 3)

	f.Fuzz(func(t *testing.T, label string) {
		c := Of(label, admission)
		require.True(t, c.IsUnassigned() || c.IsValid())

		parsed, err := Parse(label)
		if err == nil {
			assert.Equal(t, parsed, c)
		}
		if c.IsValid() {
			again, err := Parse(c.String())
			require.NoError(t, err)
			assert.Equal(t, c, again)
		}
	})
}

func TestParse(t *testing.T) {
	c, err := Parse("Feb-2025")
	require.NoError(t, err)
	assert.Equal(t, MustNew(time.February, 2025), c)

	c, err = Parse("unassigned")
	require.NoError(t, err)
	assert.True(t, c.IsUnassigned())

	_, err = Parse("feb")
	assert.True(t, shared.IsValidation(err))

	_, err = Parse("")
	assert.Error(t, err)
}

func TestCycle_Arithmetic(t *testing.T) {
	dec := MustNew(time.December, 2024)
	assert.Equal(t, MustNew(time.January, 2025), dec.Next())
	assert.Equal(t, MustNew(time.March, 2025), dec.AddMonths(3))
	assert.Equal(t, MustNew(time.November, 2024), dec.AddMonths(-1))
	assert.True(t, dec.Before(dec.Next()))
	assert.False(t, dec.Before(dec))
	assert.True(t, Unassigned.Before(dec))
	assert.Equal(t, Unassigned, Unassigned.Next())
}

func TestCycle_String(t *testing.T) {
	assert.Equal(t, "Jan-2025", MustNew(time.January, 2025).String())
	assert.Equal(t, "unassigned", Unassigned.String())

	// Canonical labels round-trip through the classifier.
	for m := time.January; m <= time.December; m++ {
		c := MustNew(m, 2026)
		assert.Equal(t, c, Of(c.String(), time.Time{}))
	}
}

func TestCycle_JSON(t *testing.T) {
	var payload struct {
		Cycle Cycle `json:"cycle"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"cycle":"march 2025"}`), &payload))
	assert.Equal(t, MustNew(time.March, 2025), payload.Cycle)

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"cycle":"Mar-2025"}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"cycle":"soon"}`), &payload))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(13, 2025)
	assert.Error(t, err)
	_, err = New(time.May, 20)
	assert.Error(t, err)
}
