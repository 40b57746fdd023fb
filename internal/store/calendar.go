package store

import (
	"context"
	"database/sql"
	"time"
)

// marketTZ is the exchange's local timezone; weekday and holiday checks
// happen in it regardless of where the service runs.
var marketTZ = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// IsMarketClosed reports whether the market is closed right now: weekend,
// or today's ET date appears in the holiday table. Lookup errors fail
// open (market treated as open) so a flaky holiday table cannot stall
// refreshes.
func (s *Store) IsMarketClosed(ctx context.Context, now time.Time) bool {
	et := now.In(marketTZ)
	if wd := et.Weekday(); wd == time.Saturday || wd == time.Sunday {
		s.log.Infow("market closed", "reason", "weekend")
		return true
	}
	dateStr := et.Format("2006-01-02")
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT holiday_name FROM us_market_holidays WHERE holiday_date = $1`, dateStr,
	).Scan(&name)
	switch {
	case err == sql.ErrNoRows:
		return false
	case err != nil:
		s.log.Warnw("holiday lookup failed", "err", err)
		return false
	}
	s.log.Infow("market closed", "reason", name)
	return true
}
