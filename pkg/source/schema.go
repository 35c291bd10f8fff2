package source

import "strings"

// Field is one column of a raw record as read from JSON.
type Field struct {
	Name string
	Type string
}

// SongFields is the schema of a song catalog record.
var SongFields = []Field{
	{"song_id", "VARCHAR"},
	{"title", "VARCHAR"},
	{"artist_id", "VARCHAR"},
	{"artist_name", "VARCHAR"},
	{"artist_location", "VARCHAR"},
	{"artist_latitude", "DOUBLE"},
	{"artist_longitude", "DOUBLE"},
	{"year", "INTEGER"},
	{"duration", "DOUBLE"},
	{"num_songs", "INTEGER"},
}

// EventFields is the schema of an application event log record. ts is epoch
// milliseconds; userId is empty for logged-out events.
var EventFields = []Field{
	{"artist", "VARCHAR"},
	{"auth", "VARCHAR"},
	{"firstName", "VARCHAR"},
	{"gender", "VARCHAR"},
	{"itemInSession", "BIGINT"},
	{"lastName", "VARCHAR"},
	{"length", "DOUBLE"},
	{"level", "VARCHAR"},
	{"location", "VARCHAR"},
	{"method", "VARCHAR"},
	{"page", "VARCHAR"},
	{"registration", "DOUBLE"},
	{"sessionId", "BIGINT"},
	{"song", "VARCHAR"},
	{"status", "BIGINT"},
	{"ts", "BIGINT"},
	{"userAgent", "VARCHAR"},
	{"userId", "VARCHAR"},
}

// columnsStruct renders fields as a read_json columns struct literal.
func columnsStruct(fields []Field) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = "'" + f.Name + "': '" + f.Type + "'"
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func fieldNames(fields []Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}
