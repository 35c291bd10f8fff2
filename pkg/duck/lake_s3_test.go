package duck_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/malbeclabs/sparkify/pkg/duck"
	ducktesting "github.com/malbeclabs/sparkify/pkg/duck/testing"
	"github.com/stretchr/testify/require"
)

func TestDuck_AttachLake_FileCatalogS3Storage(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	mc := ducktesting.NewDefaultMinIO(t)

	db, err := duck.NewDB(ctx, "", log)
	require.NoError(t, err)
	defer db.Close()
	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	lake, err := duck.AttachLake(ctx, log, conn, duck.LakeConfig{
		Name:       "s3_lake",
		CatalogURI: "file://" + filepath.Join(t.TempDir(), "catalog.db"),
		StorageURI: mc.URI("lake"),
		S3:         mc.S3Config,
	})
	require.NoError(t, err)

	_, err = conn.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s AS SELECT range AS id FROM range(10)", lake.Table("numbers")))
	require.NoError(t, err)

	var count int
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT count(*) FROM "+lake.Table("numbers")).Scan(&count))
	require.Equal(t, 10, count)

	keys := mc.Keys(t, "lake/")
	require.NotEmpty(t, keys)
	for _, k := range keys {
		require.True(t, strings.HasSuffix(k, ".parquet"), k)
	}
}

func TestDuck_PrepareS3Config_CreatesLocalMinIOBucket(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	mc := ducktesting.NewDefaultMinIO(t)

	t.Setenv("S3_ACCESS_KEY_ID", mc.S3Config.AccessKeyID)
	t.Setenv("S3_SECRET_ACCESS_KEY", mc.S3Config.SecretAccessKey)
	t.Setenv("S3_ENDPOINT", "http://"+mc.S3Config.Endpoint)

	cfg, err := duck.PrepareS3Config(t.Context(), log, []string{"s3://input-bucket/song_data"}, []string{"s3://output-bucket/sparkify"})
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.False(t, cfg.UseSSL)

	client, err := duck.NewS3Client(t.Context(), cfg)
	require.NoError(t, err)
	out, err := client.ListBuckets(t.Context(), nil)
	require.NoError(t, err)
	var names []string
	for _, b := range out.Buckets {
		names = append(names, *b.Name)
	}
	require.Contains(t, names, "output-bucket")
	require.NotContains(t, names, "input-bucket")
}
