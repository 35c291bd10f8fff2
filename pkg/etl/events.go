package etl

import (
	"context"
	"fmt"
	"strings"

	"github.com/malbeclabs/sparkify/pkg/frame"
)

// EventTables are derived from the event logs: the users dimension and the
// play events the time and fact tables are built from.
type EventTables struct {
	Users *frame.Frame
	Plays *frame.Frame
}

// ExtractEvents keeps NextSong events, adds ts_int (epoch seconds) and
// start_time (UTC timestamp) to each, and resolves every user to the
// attributes of their most recent play. The plays are materialized once so
// the users, time and fact tables all derive from the same read.
func ExtractEvents(ctx context.Context, raw *frame.Frame, policy RankPolicy) (EventTables, error) {
	plays, err := raw.
		Where("page = 'NextSong'").
		WithColumn("ts_int", "ts // 1000").
		WithColumn("start_time", "make_timestamp(ts_int * 1000000)").
		Cache(ctx)
	if err != nil {
		return EventTables{}, err
	}

	return EventTables{
		Users: UsersTable(plays, policy),
		Plays: plays,
	}, nil
}

// UsersTable selects the latest play per userId by descending ts.
func UsersTable(plays *frame.Frame, policy RankPolicy) *frame.Frame {
	var window string
	switch policy {
	case RankTies:
		window = "rank() OVER (PARTITION BY userId ORDER BY ts DESC)"
	default:
		order := append([]string{"ts DESC", "sessionId DESC", "itemInSession DESC"}, userColumns[1:]...)
		window = fmt.Sprintf("row_number() OVER (PARTITION BY userId ORDER BY %s)", strings.Join(order, ", "))
	}
	return plays.Qualify(window + " = 1").Select(userColumns...)
}
