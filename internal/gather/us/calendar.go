package us

import (
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// Daily bars keep settling after the 16:00 ET close while extended-hours
// trades trickle in; a session only counts as finished past this cutoff.
const (
	sessionSettleHour   = 20
	sessionSettleMinute = 5
)

// latestFinishedTradingDay asks the trading calendar for the most recent
// session whose daily bars have fully settled.
func (g *DailyBarGatherer) latestFinishedTradingDay() (time.Time, error) {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.Time{}, fmt.Errorf("loading ET timezone: %w", err)
	}
	now := time.Now().In(et)

	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    g.apiKey,
		APISecret: g.apiSecret,
		BaseURL:   g.baseURL,
	})
	days, err := client.GetCalendar(alpaca.GetCalendarRequest{
		Start: now.AddDate(0, 0, -7),
		End:   now,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("GetCalendar: %w", err)
	}

	sessions := make([]string, len(days))
	for i, d := range days {
		sessions[i] = d.Date
	}
	return lastSettledSession(sessions, now)
}

// lastSettledSession picks the newest session date that has already
// settled: any session before today, or today itself once the settle
// cutoff has passed. Session dates are YYYY-MM-DD, ascending.
func lastSettledSession(sessions []string, now time.Time) (time.Time, error) {
	if len(sessions) == 0 {
		return time.Time{}, fmt.Errorf("trading calendar returned no sessions")
	}

	today := now.Format("2006-01-02")
	cutoff := time.Date(now.Year(), now.Month(), now.Day(),
		sessionSettleHour, sessionSettleMinute, 0, 0, now.Location())

	for i := len(sessions) - 1; i >= 0; i-- {
		date := sessions[i]
		if date > today {
			continue
		}
		if date == today && now.Before(cutoff) {
			continue
		}
		ts, err := time.Parse("2006-01-02", date)
		if err != nil {
			return time.Time{}, fmt.Errorf("calendar date %q: %w", date, err)
		}
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("no settled session within the calendar window")
}
