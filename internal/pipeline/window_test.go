// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"grimm.is/longview/internal/config"
	"grimm.is/longview/internal/errors"
)

func TestResolveWindowExplicitRange(t *testing.T) {
	w, err := ResolveWindow(WindowRequest{
		Days:      31,
		StartDate: "2024-01-01",
		EndDate:   "2024-01-01",
		Timezone:  "UTC",
	}, nil)
	require.NoError(t, err)

	// Inclusive end date: a single day spans exactly 24 hours.
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix(), w.StartTS)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).Unix(), w.EndTS)
}

func TestResolveWindowRangeInZone(t *testing.T) {
	w, err := ResolveWindow(WindowRequest{
		StartDate: "2024-06-01",
		EndDate:   "2024-06-02",
		Timezone:  "Europe/Berlin",
	}, nil)
	require.NoError(t, err)

	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, loc).Unix(), w.StartTS)
	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, loc).Unix(), w.EndTS)
}

func TestResolveWindowInvalidTimezoneFallsBackToUTC(t *testing.T) {
	w, err := ResolveWindow(WindowRequest{
		StartDate: "2024-01-01",
		EndDate:   "2024-01-01",
		Timezone:  "Mars/Olympus_Mons",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, w.Location)
	assert.Equal(t, int64(86400), w.EndTS-w.StartTS)
}

func TestResolveWindowDayCount(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	w, err := ResolveWindow(WindowRequest{Days: 7, Timezone: "UTC", Now: now}, nil)
	require.NoError(t, err)

	assert.Equal(t, now.Unix(), w.EndTS)
	assert.Equal(t, now.AddDate(0, 0, -7).Unix(), w.StartTS)
}

func TestResolveWindowAllTime(t *testing.T) {
	oldest := time.Date(2022, 5, 1, 8, 30, 0, 0, time.UTC)
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	w, err := ResolveWindow(WindowRequest{
		Days:            config.AllDays,
		Timezone:        "UTC",
		OldestAvailable: oldest,
		Now:             now,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, oldest.Unix(), w.StartTS)
	assert.Equal(t, now.Unix(), w.EndTS)
}

func TestResolveWindowAllTimeWithoutOldest(t *testing.T) {
	_, err := ResolveWindow(WindowRequest{Days: config.AllDays, Timezone: "UTC"}, nil)
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}

func TestResolveWindowInvertedRange(t *testing.T) {
	_, err := ResolveWindow(WindowRequest{
		StartDate: "2024-02-01",
		EndDate:   "2024-01-01",
		Timezone:  "UTC",
	}, nil)
	require.Error(t, err)
}
