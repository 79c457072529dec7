package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/catchall/internal/catchall"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"0 9 * * 1-5", "0 9 * * 1-5"},
		{"every 15 minutes", "*/15 * * * *"},
		{"every 60 minutes", "0 * * * *"},
		{"every 6 hours", "0 */6 * * *"},
		{"hourly", "0 * * * *"},
		{"Every Hour", "0 * * * *"},
		{"daily", "0 0 * * *"},
		{"every day at 9am", "0 9 * * *"},
		{"every day at 9 AM", "0 9 * * *"},
		{"daily at 9:30 pm", "30 21 * * *"},
		{"daily at 21:00", "0 21 * * *"},
		{"every day at noon", "0 12 * * *"},
		{"daily at 12am", "0 0 * * *"},
		{"weekdays at 8", "0 8 * * 1-5"},
		{"every weekday at 7:15am", "15 7 * * 1-5"},
		{"weekly on friday at 5pm", "0 17 * * 5"},
		{"every monday at 9am", "0 9 * * 1"},
		{"every sunday", "0 0 * * 0"},
		{"weekly", "0 0 * * 1"},
		{"monthly", "0 0 1 * *"},
		{"monthly on the 15th at 6am", "0 6 15 * *"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			s, err := Resolve(tt.text, "America/New_York")
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Cron)
			assert.Equal(t, "America/New_York", s.Timezone)
			assert.Equal(t, tt.text, s.Text)
		})
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	first, err := Resolve("every weekday at 9:30 am", "Europe/London")
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Resolve("every weekday at 9:30 am", "Europe/London")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestResolveRejects(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		timezone string
		loc      string
	}{
		{"missing timezone", "daily at 9am", "", "timezone"},
		{"unknown timezone", "daily at 9am", "Mars/Olympus", "timezone"},
		{"local timezone", "daily at 9am", "Local", "timezone"},
		{"abbreviation in text", "every day at 9 AM EST", "America/New_York", "schedule"},
		{"empty text", "  ", "UTC", "schedule"},
		{"too frequent", "every 2 minutes", "UTC", "schedule"},
		{"too frequent cron", "* * * * *", "UTC", "schedule"},
		{"nonsense", "whenever it feels right", "UTC", "schedule"},
		{"bad hour", "daily at 13pm", "UTC", "schedule"},
		{"bad day of month", "monthly on the 31st", "UTC", "schedule"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.text, tt.timezone)
			require.Error(t, err)
			var verr *catchall.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.loc, verr.Fields[0].Loc[len(verr.Fields[0].Loc)-1])
		})
	}
}

func TestNextHonoursTimezone(t *testing.T) {
	s, err := Resolve("every day at 9am", "America/New_York")
	require.NoError(t, err)

	from := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	next, err := Next(s, from)
	require.NoError(t, err)

	ny, _ := time.LoadLocation("America/New_York")
	assert.Equal(t, 9, next.In(ny).Hour())
	assert.Equal(t, 13, next.UTC().Hour(), "EDT is UTC-4 in July")
}
