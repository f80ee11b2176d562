package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonth_Key(t *testing.T) {
	tests := []struct {
		month Month
		want  string
	}{
		{Month{Year: 2026, Month: time.March}, "032026"},
		{Month{Year: 2026, Month: time.October}, "102026"},
		{Month{Year: 999, Month: time.January}, "010999"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.month.Key())
	}
}

func TestParseKey(t *testing.T) {
	m, err := ParseKey("122025")
	require.NoError(t, err)
	assert.Equal(t, Month{Year: 2025, Month: time.December}, m)

	for _, bad := range []string{"", "12025", "132025", "00202x", "1a2025"} {
		_, err := ParseKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestMonth_Previous(t *testing.T) {
	jan := Month{Year: 2026, Month: time.January}

	assert.Equal(t, Month{Year: 2025, Month: time.December}, jan.Previous(ModeCalendar))
	assert.Equal(t, Month{Year: 2026, Month: time.December}, jan.Previous(ModeLegacy))

	jun := Month{Year: 2026, Month: time.June}
	assert.Equal(t, Month{Year: 2026, Month: time.May}, jun.Previous(ModeCalendar))
	assert.Equal(t, Month{Year: 2026, Month: time.May}, jun.Previous(ModeLegacy))
}

func TestMonth_NextAndBefore(t *testing.T) {
	dec := Month{Year: 2025, Month: time.December}
	jan := dec.Next()

	assert.Equal(t, Month{Year: 2026, Month: time.January}, jan)
	assert.True(t, dec.Before(jan))
	assert.False(t, jan.Before(dec))
	assert.False(t, jan.Before(jan))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeCalendar, m)

	m, err = ParseMode("legacy")
	require.NoError(t, err)
	assert.Equal(t, ModeLegacy, m)

	_, err = ParseMode("lunar")
	assert.Error(t, err)
}
