package etl

import "github.com/malbeclabs/sparkify/pkg/frame"

// AssembleSongplays left-joins play events to catalog songs on title and
// assigns each resulting row a songplay_id. Plays whose title matches no song
// keep NULL song_id and artist_id.
//
// IDs are partitioned by source log file and ordered by ts within it, and are
// assigned after the join so fan-out rows get distinct IDs too.
func AssembleSongplays(plays, songs *frame.Frame, match TitleMatch) *frame.Frame {
	catalog := songs.Select("title", "song_id", "artist_id")
	if match != TitleFanout {
		catalog = catalog.Qualify("row_number() OVER (PARTITION BY title ORDER BY song_id) = 1")
	}

	joined := plays.Join(catalog, frame.LeftJoin, "l.song = r.title",
		"l.filename",
		"l.ts",
		"l.itemInSession",
		"l.start_time",
		"l.userId AS user_id",
		"l.level",
		"r.song_id",
		"r.artist_id",
		"l.sessionId AS session_id",
		"l.location",
		"l.userAgent AS user_agent",
	)

	id := plays.Session().MonotonicID("filename", "ts", "session_id", "itemInSession", "user_id", "song_id")
	return joined.WithColumn("songplay_id", id).Select(songplayColumns...)
}
