package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planit/internal/model"
)

func rec(id, start, end string) model.RawEventRecord {
	r := model.RawEventRecord{ID: id, Title: "Event " + id}
	if start != "" {
		r.StartTime = model.StringPtr(start)
	}
	if end != "" {
		r.EndTime = model.StringPtr(end)
	}
	return r
}

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestNormalize_DropsRecordsWithMissingTimes(t *testing.T) {
	records := []model.RawEventRecord{
		rec("1", "2025-08-01T19:00:00", "2025-08-01T22:00:00"),
		rec("2", "", "2025-08-01T22:00:00"),
		rec("3", "2025-08-01T19:00:00", ""),
		rec("4", "", ""),
		{ID: "5", StartTime: model.StringPtr("   "), EndTime: model.StringPtr("2025-08-01T22:00:00")},
	}

	res := Normalize(records, time.UTC)

	require.Len(t, res.Events, 1)
	assert.Equal(t, "1", res.Events[0].ID)
	assert.Equal(t, 4, res.Skipped)
	assert.Empty(t, res.Errors)
}

func TestNormalize_InterpretsNaiveTimestampsAsUTC(t *testing.T) {
	chicago := mustLoad(t, "America/Chicago")

	res := Normalize([]model.RawEventRecord{
		rec("1", "2025-08-02T00:30:00", "2025-08-02T03:00:00"),
	}, chicago)

	require.Len(t, res.Events, 1)
	ev := res.Events[0]
	assert.Equal(t, chicago, ev.Start.Location())
	// CDT is UTC-5.
	assert.Equal(t, time.Date(2025, 8, 1, 19, 30, 0, 0, chicago), ev.Start)
	assert.Equal(t, time.Date(2025, 8, 1, 22, 0, 0, 0, chicago), ev.End)
	assert.True(t, ev.Start.Equal(time.Date(2025, 8, 2, 0, 30, 0, 0, time.UTC)))
}

func TestNormalize_HonorsExplicitZoneSuffix(t *testing.T) {
	res := Normalize([]model.RawEventRecord{
		rec("z", "2026-02-20T01:30:00Z", "2026-02-20T03:30:00Z"),
		rec("o", "2026-02-20T01:30:00+02:00", "2026-02-20T03:30:00+02:00"),
	}, time.UTC)

	require.Len(t, res.Events, 2)
	assert.Equal(t, time.Date(2026, 2, 20, 1, 30, 0, 0, time.UTC), res.Events[0].Start)
	assert.Equal(t, time.Date(2026, 2, 19, 23, 30, 0, 0, time.UTC), res.Events[1].Start)
}

func TestNormalize_DefaultsCategoryAndGenre(t *testing.T) {
	withBoth := rec("a", "2025-08-01T19:00:00", "2025-08-01T22:00:00")
	withBoth.Category = model.StringPtr("Music")
	withBoth.Genre = model.StringPtr("Rock")

	blankGenre := rec("b", "2025-08-01T19:00:00", "2025-08-01T22:00:00")
	blankGenre.Category = model.StringPtr("Sports")
	blankGenre.Genre = model.StringPtr("")

	neither := rec("c", "2025-08-01T19:00:00", "2025-08-01T22:00:00")

	res := Normalize([]model.RawEventRecord{withBoth, blankGenre, neither}, time.UTC)
	require.Len(t, res.Events, 3)

	assert.Equal(t, "Music", res.Events[0].Category)
	assert.Equal(t, "Rock", res.Events[0].Genre)
	assert.Equal(t, "Sports", res.Events[1].Category)
	assert.Equal(t, model.DefaultGenre, res.Events[1].Genre)
	assert.Equal(t, model.DefaultCategory, res.Events[2].Category)
	assert.Equal(t, model.DefaultGenre, res.Events[2].Genre)
}

func TestNormalize_MalformedTimestampExcludesOnlyThatRecord(t *testing.T) {
	res := Normalize([]model.RawEventRecord{
		rec("good", "2025-08-01T19:00:00", "2025-08-01T22:00:00"),
		rec("bad-start", "tomorrow evening", "2025-08-01T22:00:00"),
		rec("bad-end", "2025-08-01T19:00:00", "2025-13-01T22:00:00"),
	}, time.UTC)

	require.Len(t, res.Events, 1)
	assert.Equal(t, "good", res.Events[0].ID)
	require.Len(t, res.Errors, 2)

	var mt *MalformedTimestampError
	require.True(t, errors.As(res.Errors[0], &mt))
	assert.Equal(t, "bad-start", mt.RecordID)
	assert.Equal(t, "startTime", mt.Field)

	require.True(t, errors.As(res.Errors[1], &mt))
	assert.Equal(t, "bad-end", mt.RecordID)
	assert.Equal(t, "endTime", mt.Field)
}

func TestNormalize_InvertedRangeIsExcluded(t *testing.T) {
	res := Normalize([]model.RawEventRecord{
		rec("inv", "2025-08-01T22:00:00", "2025-08-01T19:00:00"),
	}, time.UTC)

	assert.Empty(t, res.Events)
	require.Len(t, res.Errors, 1)
	var ir *InvertedRangeError
	assert.True(t, errors.As(res.Errors[0], &ir))
}

func TestNormalize_StartNotAfterEndAcrossZones(t *testing.T) {
	records := []model.RawEventRecord{
		rec("1", "2025-03-09T07:30:00", "2025-03-09T08:30:00"), // US DST switch
		rec("2", "2025-11-02T05:30:00", "2025-11-02T06:30:00"),
		rec("3", "2025-08-01T19:00:00", "2025-08-01T19:00:00"),
	}
	for _, zone := range []string{"UTC", "America/New_York", "Asia/Seoul", "Pacific/Chatham"} {
		res := Normalize(records, mustLoad(t, zone))
		require.Len(t, res.Events, len(records), zone)
		for _, ev := range res.Events {
			assert.False(t, ev.End.Before(ev.Start), "%s: %s", zone, ev.ID)
		}
	}
}

func TestNormalize_IsIdempotent(t *testing.T) {
	records := []model.RawEventRecord{
		rec("1", "2025-08-01T19:00:00", "2025-08-01T22:00:00"),
		rec("2", "", "2025-08-01T22:00:00"),
		rec("3", "2025-08-02T09:15:00", "2025-08-02T10:00:00"),
	}
	loc := mustLoad(t, "Europe/Berlin")

	first := Normalize(records, loc)
	second := Normalize(records, loc)

	assert.Equal(t, first, second)
}

func TestParseUTC(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2025-08-01T19:00:00", time.Date(2025, 8, 1, 19, 0, 0, 0, time.UTC)},
		{"2025-08-01T19:00:00.250", time.Date(2025, 8, 1, 19, 0, 0, 250e6, time.UTC)},
		{"2025-08-01T19:00", time.Date(2025, 8, 1, 19, 0, 0, 0, time.UTC)},
		{"2025-08-01 19:00:00", time.Date(2025, 8, 1, 19, 0, 0, 0, time.UTC)},
		{"2025-08-01T19:00:00Z", time.Date(2025, 8, 1, 19, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := ParseUTC(tc.in)
		require.NoError(t, err, tc.in)
		assert.True(t, tc.want.Equal(got), "%s: got %s", tc.in, got)
	}

	_, err := ParseUTC("not a time")
	assert.Error(t, err)
	_, err = ParseUTC("")
	assert.Error(t, err)
}
