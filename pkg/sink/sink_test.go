package sink

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSink_ColumnList(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", columnList(nil))
	require.Equal(t, `"year", "month"`, columnList([]string{"year", "month"}))
	require.Equal(t, `"a""b"`, columnList([]string{`a"b`}))
}

func TestSink_ParseMode(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Mode{"": Overwrite, "overwrite": Overwrite, "ERROR": ErrorIfExists, "errorifexists": ErrorIfExists} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseMode("append")
	require.ErrorContains(t, err, "unknown write mode")

	require.Equal(t, "overwrite", Overwrite.String())
	require.Equal(t, "error", ErrorIfExists.String())
	require.Equal(t, "Mode(7)", Mode(7).String())
}

func TestSink_ValidateTableName(t *testing.T) {
	t.Parallel()

	require.NoError(t, validateTableName("songplays"))
	require.NoError(t, validateTableName("time"))
	require.Error(t, validateTableName(""))
	require.Error(t, validateTableName("../etc"))
	require.Error(t, validateTableName("a b"))
}
