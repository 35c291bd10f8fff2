package etl

import "github.com/malbeclabs/sparkify/pkg/frame"

// SongTables are the dimensions derived from the song catalog.
type SongTables struct {
	Songs   *frame.Frame
	Artists *frame.Frame
}

// ExtractSongs projects the raw catalog into the songs dimension, one row per
// record, and the artists dimension, deduplicated on the full row. An artist
// whose attributes differ between records keeps one row per variant.
func ExtractSongs(raw *frame.Frame) SongTables {
	return SongTables{
		Songs:   raw.Select(songColumns...),
		Artists: raw.Select(artistColumns...).Distinct(),
	}
}
