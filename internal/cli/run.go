package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/sparkify/config"
	"github.com/malbeclabs/sparkify/pkg/clickhouse"
	"github.com/malbeclabs/sparkify/pkg/duck"
	"github.com/malbeclabs/sparkify/pkg/etl"
	"github.com/malbeclabs/sparkify/pkg/etl/metrics"
	"github.com/malbeclabs/sparkify/pkg/frame"
	"github.com/malbeclabs/sparkify/pkg/logger"
	"github.com/malbeclabs/sparkify/pkg/sink"
	"github.com/malbeclabs/sparkify/pkg/source"
	"github.com/spf13/cobra"
)

type StageCmd struct {
	info  BuildInfo
	stage etl.Stage
	use   string
	short string
}

func NewStageCmd(info BuildInfo, stage etl.Stage, use, short string) *StageCmd {
	return &StageCmd{info: info, stage: stage, use: use, short: short}
}

func (c *StageCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   c.use,
		Short: c.short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			verbose, err := cmd.Flags().GetBool("verbose")
			if err != nil {
				return fmt.Errorf("failed to get verbose flag: %w", err)
			}
			cfg, err := config.Load(cmd.Flags(), nil)
			if err != nil {
				return err
			}
			log := logger.NewWithWriter(cmd.ErrOrStderr(), verbose)
			ctx := cmd.Context()

			metrics.BuildInfo.WithLabelValues(c.info.Version, c.info.Commit, c.info.Date).Set(1)
			if cfg.MetricsAddr != "" {
				stop, err := serveMetrics(ctx, log, cfg.MetricsAddr)
				if err != nil {
					return err
				}
				defer stop()
			}

			report, runErr := Execute(ctx, log, cfg, c.stage)
			if report != nil && len(report.Results) > 0 {
				if err := renderSummary(cmd.OutOrStdout(), report); err != nil {
					log.Warn("failed to render summary", "error", err)
				}
			}
			if cfg.PushgatewayURL != "" {
				if err := pushMetrics(ctx, cfg.PushgatewayURL); err != nil {
					log.Error("failed to push metrics", "url", cfg.PushgatewayURL, "error", err)
				}
			}
			return runErr
		},
	}
}

// Execute wires the storage, engine and sink described by cfg and runs stage.
func Execute(ctx context.Context, log *slog.Logger, cfg *config.Config, stage etl.Stage) (*etl.Report, error) {
	mode, err := sink.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	rankPolicy, err := etl.ParseRankPolicy(cfg.RankPolicy)
	if err != nil {
		return nil, err
	}
	titleMatch, err := etl.ParseTitleMatch(cfg.TitleMatch)
	if err != nil {
		return nil, err
	}

	inputURI, err := duck.NormalizeStorageURI(cfg.InputURI)
	if err != nil {
		return nil, fmt.Errorf("invalid input URI: %w", err)
	}

	uris := []string{inputURI}
	var bucketURIs []string
	switch cfg.Sink {
	case config.SinkParquet:
		bucketURIs = append(bucketURIs, cfg.OutputURI)
	case config.SinkDuckLake:
		bucketURIs = append(bucketURIs, cfg.DuckLake.StorageURI)
	}
	s3Config, err := duck.PrepareS3Config(ctx, log, uris, bucketURIs)
	if err != nil {
		return nil, err
	}

	log.Info("opening engine", "path", cfg.DuckDBPath, "threads", cfg.Threads, "memory_limit", cfg.MemoryLimit)
	db, err := duck.NewDB(ctx, cfg.DuckDBPath, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close engine", "error", err)
		}
	}()

	session, err := frame.NewSession(ctx, frame.SessionConfig{
		Logger:      log,
		DB:          db,
		S3:          s3Config,
		Threads:     cfg.Threads,
		MemoryLimit: cfg.MemoryLimit,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := session.Close(closeCtx); err != nil {
			log.Error("failed to close session", "error", err)
		}
	}()

	sourceCfg := source.Config{Logger: log, IgnoreErrors: cfg.IgnoreErrors}
	var objects sink.S3API
	if s3Config != nil {
		client, err := duck.NewS3Client(ctx, s3Config)
		if err != nil {
			return nil, err
		}
		sourceCfg.S3 = client
		objects = client
	}
	reader, err := source.NewReader(sourceCfg)
	if err != nil {
		return nil, err
	}

	out, closeSink, err := newSink(ctx, log, cfg, session, s3Config, objects)
	if err != nil {
		return nil, err
	}
	defer closeSink()

	pipeline, err := etl.NewPipeline(etl.Config{
		Logger:        log,
		Clock:         clockwork.NewRealClock(),
		Session:       session,
		Source:        reader,
		Sink:          out,
		InputURI:      inputURI,
		SongPattern:   cfg.SongPattern,
		LogPeriod:     cfg.LogPeriod,
		Mode:          mode,
		RankPolicy:    rankPolicy,
		TitleMatch:    titleMatch,
		WriteUsers:    cfg.WriteUsers,
		PartitionTime: cfg.PartitionTime,
		ReloadSongs:   cfg.ReloadSongs,
	})
	if err != nil {
		return nil, err
	}
	return pipeline.Run(ctx, stage)
}

func newSink(ctx context.Context, log *slog.Logger, cfg *config.Config, session *frame.Session, s3Config *duck.S3Config, objects sink.S3API) (sink.Sink, func(), error) {
	switch cfg.Sink {
	case config.SinkDuckLake:
		log.Info("attaching ducklake", "catalog", cfg.DuckLake.CatalogName, "catalogURI", duck.RedactedCatalogURI(cfg.DuckLake.CatalogURI), "storageURI", duck.RedactedStorageURI(cfg.DuckLake.StorageURI))
		lake, err := sink.NewLake(ctx, sink.LakeConfig{
			Logger:  log,
			Session: session,
			Lake: duck.LakeConfig{
				Name:       cfg.DuckLake.CatalogName,
				CatalogURI: cfg.DuckLake.CatalogURI,
				StorageURI: cfg.DuckLake.StorageURI,
				S3:         s3Config,
			},
		})
		if err != nil {
			return nil, nil, err
		}
		return lake, func() {}, nil

	case config.SinkClickHouse:
		client, err := clickhouse.NewClient(ctx, log, clickhouse.Config{
			Addr:     cfg.ClickHouse.Addr,
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
			Secure:   cfg.ClickHouse.Secure,
		})
		if err != nil {
			return nil, nil, err
		}
		ch, err := sink.NewClickHouse(sink.ClickHouseConfig{Logger: log, Client: client})
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return ch, func() {
			if err := client.Close(); err != nil {
				log.Error("failed to close clickhouse client", "error", err)
			}
		}, nil

	default:
		p, err := sink.NewParquet(sink.ParquetConfig{Logger: log, Root: cfg.OutputURI, S3: objects})
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	}
}
