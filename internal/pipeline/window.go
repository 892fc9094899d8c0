// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package pipeline turns raw FTL event rows into enriched records and
// time-bucketed aggregates.
package pipeline

import (
	"time"

	"grimm.is/longview/internal/config"
	"grimm.is/longview/internal/errors"
	"grimm.is/longview/internal/logging"
)

// Window is a right-exclusive UTC interval plus the zone all calendar
// derivation happens in.
type Window struct {
	StartTS  int64
	EndTS    int64
	Location *time.Location
}

// WindowRequest carries the user-facing window selection. Precedence:
// explicit date range, then all-time, then the day-count default.
type WindowRequest struct {
	Days      int
	StartDate string // "2006-01-02", inclusive
	EndDate   string // "2006-01-02", inclusive
	Timezone  string

	// OldestAvailable is the earliest record across all sources; required
	// when Days selects all time.
	OldestAvailable time.Time

	// Now overrides the clock for tests; zero means time.Now().
	Now time.Time
}

const dateLayout = "2006-01-02"

// ResolveWindow converts the request into UTC Unix-second bounds. An invalid
// time zone degrades to UTC with a warning; everything else that cannot be
// honored is an error.
func ResolveWindow(req WindowRequest, logger *logging.Logger) (Window, error) {
	if logger == nil {
		logger = logging.WithComponent("window")
	}

	loc, err := time.LoadLocation(req.Timezone)
	if err != nil {
		logger.Warn("Invalid timezone, using UTC", "timezone", req.Timezone)
		loc = time.UTC
	}

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.In(loc)

	var start, end time.Time
	switch {
	case req.StartDate != "" && req.EndDate != "":
		start, err = time.ParseInLocation(dateLayout, req.StartDate, loc)
		if err != nil {
			return Window{}, errors.Wrapf(err, errors.KindValidation, "invalid start date %q", req.StartDate)
		}
		end, err = time.ParseInLocation(dateLayout, req.EndDate, loc)
		if err != nil {
			return Window{}, errors.Wrapf(err, errors.KindValidation, "invalid end date %q", req.EndDate)
		}
		// The end date is inclusive; advance one calendar day so the
		// interval stays right-exclusive.
		end = end.AddDate(0, 0, 1)
		if !start.Before(end) {
			return Window{}, errors.Errorf(errors.KindValidation, "start date %s after end date %s", req.StartDate, req.EndDate)
		}
		logger.Info("Using explicit date range", "start", req.StartDate, "end", req.EndDate, "timezone", loc.String())

	case req.Days == config.AllDays:
		if req.OldestAvailable.IsZero() {
			return Window{}, errors.New(errors.KindValidation, "all-time window requested but no oldest record instant available")
		}
		start = req.OldestAvailable.In(loc)
		end = now
		logger.Info("Using all available data", "oldest", start.Format(time.RFC3339))

	default:
		end = now
		start = end.AddDate(0, 0, -req.Days)
		logger.Info("Using day-count window", "days", req.Days, "timezone", loc.String())
	}

	w := Window{StartTS: start.UTC().Unix(), EndTS: end.UTC().Unix(), Location: loc}
	logger.Info("Resolved window", "start_ts", w.StartTS, "end_ts", w.EndTS)
	return w, nil
}
