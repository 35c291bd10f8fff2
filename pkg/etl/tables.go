package etl

import (
	"fmt"
	"strings"
)

const (
	TableSongs     = "songs"
	TableArtists   = "artists"
	TableUsers     = "users"
	TableTime      = "time"
	TableSongplays = "songplays"
)

var (
	SongsPartitionBy = []string{"year", "artist_id"}
	TimePartitionBy  = []string{"year", "month"}
)

var (
	songColumns     = []string{"song_id", "title", "artist_id", "year", "duration"}
	artistColumns   = []string{"artist_id", "artist_name", "artist_location", "artist_latitude", "artist_longitude"}
	userColumns     = []string{"userId", "firstName", "lastName", "gender", "level"}
	timeColumns     = []string{"start_time", "hour", "day", "week", "month", "year", "weekday"}
	songplayColumns = []string{"songplay_id", "start_time", "user_id", "level", "song_id", "artist_id", "session_id", "location", "user_agent"}
)

// RankPolicy decides which events survive when a user has several events at
// their latest ts.
type RankPolicy string

const (
	// RankStrict keeps exactly one row per user, breaking ties by session,
	// item in session and then the user attributes.
	RankStrict RankPolicy = "strict"
	// RankTies keeps every event tied at the latest ts, so a user can appear
	// more than once.
	RankTies RankPolicy = "rank"
)

func ParseRankPolicy(s string) (RankPolicy, error) {
	switch p := RankPolicy(strings.ToLower(s)); p {
	case "":
		return RankStrict, nil
	case RankStrict, RankTies:
		return p, nil
	default:
		return "", fmt.Errorf("unknown rank policy %q (want strict or rank)", s)
	}
}

// TitleMatch decides how play events resolve to catalog songs by title.
type TitleMatch string

const (
	// TitleSingle resolves each title to at most one song, the lowest song_id.
	TitleSingle TitleMatch = "single"
	// TitleFanout joins every song sharing the title, one row per match.
	TitleFanout TitleMatch = "fanout"
)

func ParseTitleMatch(s string) (TitleMatch, error) {
	switch m := TitleMatch(strings.ToLower(s)); m {
	case "":
		return TitleSingle, nil
	case TitleSingle, TitleFanout:
		return m, nil
	default:
		return "", fmt.Errorf("unknown title match %q (want single or fanout)", s)
	}
}
