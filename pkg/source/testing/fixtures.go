package sourcetesting

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type Song struct {
	SongID          string   `json:"song_id"`
	Title           string   `json:"title"`
	ArtistID        string   `json:"artist_id"`
	ArtistName      string   `json:"artist_name"`
	ArtistLocation  string   `json:"artist_location"`
	ArtistLatitude  *float64 `json:"artist_latitude"`
	ArtistLongitude *float64 `json:"artist_longitude"`
	Year            int      `json:"year"`
	Duration        float64  `json:"duration"`
	NumSongs        int      `json:"num_songs"`
}

type Event struct {
	Artist        string  `json:"artist,omitempty"`
	Auth          string  `json:"auth"`
	FirstName     string  `json:"firstName"`
	Gender        string  `json:"gender"`
	ItemInSession int64   `json:"itemInSession"`
	LastName      string  `json:"lastName"`
	Length        float64 `json:"length,omitempty"`
	Level         string  `json:"level"`
	Location      string  `json:"location"`
	Method        string  `json:"method"`
	Page          string  `json:"page"`
	Registration  float64 `json:"registration"`
	SessionID     int64   `json:"sessionId"`
	Song          string  `json:"song,omitempty"`
	Status        int     `json:"status"`
	TS            int64   `json:"ts"`
	UserAgent     string  `json:"userAgent"`
	UserID        string  `json:"userId"`
}

// SongKey returns the catalog path for a song: song_data/<c3>/<c4>/<c5>/<id>.json,
// nesting on the 3rd-5th characters of the song id like the published dataset.
func SongKey(songID string) string {
	id := songID
	for len(id) < 5 {
		id += "X"
	}
	return filepath.ToSlash(filepath.Join("song_data", id[2:3], id[3:4], id[4:5], songID+".json"))
}

// EventsKey returns log_data/<period>/<name>.
func EventsKey(period, name string) string {
	return "log_data/" + period + "/" + name
}

// SongJSON renders one catalog file.
func SongJSON(t testing.TB, song Song) string {
	b, err := json.Marshal(song)
	require.NoError(t, err)
	return string(b)
}

// EventsJSON renders newline-delimited events.
func EventsJSON(t testing.TB, events ...Event) string {
	var sb strings.Builder
	for _, e := range events {
		b, err := json.Marshal(e)
		require.NoError(t, err)
		sb.Write(b)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// WriteSongs writes one file per song under root and returns root.
func WriteSongs(t testing.TB, root string, songs ...Song) string {
	for _, s := range songs {
		WriteFile(t, filepath.Join(root, SongKey(s.SongID)), SongJSON(t, s))
	}
	return root
}

// WriteEvents writes a newline-delimited log file under root.
func WriteEvents(t testing.TB, root, period, name string, events ...Event) string {
	WriteFile(t, filepath.Join(root, EventsKey(period, name)), EventsJSON(t, events...))
	return root
}

func WriteFile(t testing.TB, path, content string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func Float(f float64) *float64 {
	return &f
}

// PlayTS is 2018-11-02 01:25:34.796 UTC.
const PlayTS int64 = 1541121934796

// SampleSong is a catalog with one song, S1 by A1.
func SampleSong() Song {
	return Song{
		SongID:         "S1",
		Title:          "Test Song",
		ArtistID:       "A1",
		ArtistName:     "Test Artist",
		ArtistLocation: "Somewhere",
		Year:           2000,
		Duration:       180.0,
		NumSongs:       1,
	}
}

// Play returns a NextSong event for user at ts.
func Play(userID string, ts int64, song string) Event {
	return Event{
		Artist:        "Test Artist",
		Auth:          "Logged In",
		FirstName:     "First" + userID,
		Gender:        "F",
		ItemInSession: 0,
		LastName:      "Last" + userID,
		Length:        180.0,
		Level:         "free",
		Location:      "X",
		Method:        "PUT",
		Page:          "NextSong",
		Registration:  1540919166796,
		SessionID:     10,
		Song:          song,
		Status:        200,
		TS:            ts,
		UserAgent:     "UA",
		UserID:        userID,
	}
}
