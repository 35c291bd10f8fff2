package source

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSource_LiteralPrefix(t *testing.T) {
	t.Parallel()

	require.Equal(t, "song_data/", literalPrefix("song_data/*/*/*/*.json"))
	require.Equal(t, "song_data/A/A/A/", literalPrefix("song_data/A/A/A/*.json"))
	require.Equal(t, "log_data/2018/11/2018-11-0", literalPrefix("log_data/2018/11/2018-11-0?-events.json"))
	require.Equal(t, "exact/key.json", literalPrefix("exact/key.json"))
}

func TestSource_ColumnsStruct(t *testing.T) {
	t.Parallel()

	require.Equal(t, "{'a': 'VARCHAR', 'b': 'BIGINT'}", columnsStruct([]Field{{"a", "VARCHAR"}, {"b", "BIGINT"}}))
}
