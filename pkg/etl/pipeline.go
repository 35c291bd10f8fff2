package etl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/sparkify/pkg/etl/metrics"
	"github.com/malbeclabs/sparkify/pkg/frame"
	"github.com/malbeclabs/sparkify/pkg/sink"
	"github.com/malbeclabs/sparkify/pkg/source"
)

// Stage selects which part of the pipeline a run executes.
type Stage string

const (
	StageAll   Stage = "all"
	StageSongs Stage = "songs"
	StageLogs  Stage = "logs"
)

type Config struct {
	Logger  *slog.Logger
	Clock   clockwork.Clock
	Session *frame.Session
	Source  *source.Reader
	Sink    sink.Sink

	// InputURI is the root holding song_data/ and log_data/.
	InputURI    string
	SongPattern string
	LogPeriod   string

	Mode          sink.Mode
	RankPolicy    RankPolicy
	TitleMatch    TitleMatch
	WriteUsers    bool
	PartitionTime bool

	// ReloadSongs makes the log stage read songs back from the sink instead
	// of using the frame produced by the catalog stage.
	ReloadSongs bool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Session == nil {
		return errors.New("session is required")
	}
	if cfg.Source == nil {
		return errors.New("source is required")
	}
	if cfg.Sink == nil {
		return errors.New("sink is required")
	}
	if cfg.InputURI == "" {
		return errors.New("input URI is required")
	}
	if _, err := ParseRankPolicy(string(cfg.RankPolicy)); err != nil {
		return err
	}
	if _, err := ParseTitleMatch(string(cfg.TitleMatch)); err != nil {
		return err
	}

	// Optional with default
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.SongPattern == "" {
		cfg.SongPattern = source.DefaultSongPattern
	}
	if cfg.LogPeriod == "" {
		cfg.LogPeriod = source.DefaultLogPeriod
	}
	cfg.RankPolicy, _ = ParseRankPolicy(string(cfg.RankPolicy))
	cfg.TitleMatch, _ = ParseTitleMatch(string(cfg.TitleMatch))
	return nil
}

// Report summarizes a run.
type Report struct {
	Stage          Stage
	Results        []sink.Result
	UnmatchedPlays int64
	Duration       time.Duration
}

type Pipeline struct {
	log *slog.Logger
	cfg Config
}

func NewPipeline(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Pipeline{log: cfg.Logger, cfg: cfg}, nil
}

// Run executes stage. StageAll hands the songs frame from the catalog stage
// to the log stage; StageLogs reads songs back from the sink.
func (p *Pipeline) Run(ctx context.Context, stage Stage) (*Report, error) {
	start := p.cfg.Clock.Now()
	report := &Report{Stage: stage}

	err := p.run(ctx, stage, report)
	report.Duration = p.cfg.Clock.Since(start)

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RunDuration.WithLabelValues(string(stage), status).Observe(report.Duration.Seconds())
	if err != nil {
		return report, err
	}
	metrics.LastSuccess.WithLabelValues(string(stage)).Set(float64(p.cfg.Clock.Now().Unix()))
	p.log.Info("pipeline finished", "stage", stage, "tables", len(report.Results), "duration", report.Duration)
	return report, nil
}

func (p *Pipeline) run(ctx context.Context, stage Stage, report *Report) error {
	switch stage {
	case StageAll:
		songs, err := p.ProcessSongs(ctx, report)
		if err != nil {
			return err
		}
		if p.cfg.ReloadSongs {
			songs = nil
		}
		return p.ProcessLogs(ctx, songs, report)
	case StageSongs:
		_, err := p.ProcessSongs(ctx, report)
		return err
	case StageLogs:
		return p.ProcessLogs(ctx, nil, report)
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
}

// ProcessSongs reads the catalog, writes songs and artists, and returns the
// songs frame for the log stage.
func (p *Pipeline) ProcessSongs(ctx context.Context, report *Report) (*frame.Frame, error) {
	glob := source.SongsGlob(p.cfg.InputURI, p.cfg.SongPattern)
	p.log.Info("reading song catalog", "location", glob)

	raw, err := p.cfg.Source.Songs(ctx, p.cfg.Session, glob)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}
	raw, err = raw.Cache(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %w", ErrSourceUnreadable, glob, err)
	}

	tables := ExtractSongs(raw)
	if err := p.write(ctx, report, tables.Songs, TableSongs, SongsPartitionBy); err != nil {
		return nil, err
	}
	if err := p.write(ctx, report, tables.Artists, TableArtists, nil); err != nil {
		return nil, err
	}
	return tables.Songs, nil
}

// ProcessLogs reads the event logs for the configured period and writes
// users, time and songplays. A nil songs frame is read back from the sink.
func (p *Pipeline) ProcessLogs(ctx context.Context, songs *frame.Frame, report *Report) error {
	if songs == nil {
		var err error
		if songs, err = p.reloadSongs(ctx); err != nil {
			return err
		}
	}

	glob := source.EventsGlob(p.cfg.InputURI, p.cfg.LogPeriod)
	p.log.Info("reading event logs", "location", glob)

	raw, err := p.cfg.Source.Events(ctx, p.cfg.Session, glob)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}

	events, err := ExtractEvents(ctx, raw, p.cfg.RankPolicy)
	if err != nil {
		return fmt.Errorf("%w: failed to read %s: %w", ErrSourceUnreadable, glob, err)
	}
	plays := events.Plays

	if p.cfg.WriteUsers {
		if err := p.write(ctx, report, events.Users, TableUsers, nil); err != nil {
			return err
		}
	} else {
		p.log.Info("skipping table", "table", TableUsers)
	}

	var timePartitions []string
	if p.cfg.PartitionTime {
		timePartitions = TimePartitionBy
	}
	if err := p.write(ctx, report, DecomposeTime(plays), TableTime, timePartitions); err != nil {
		return err
	}

	songplays, err := AssembleSongplays(plays, songs, p.cfg.TitleMatch).Cache(ctx)
	if err != nil {
		return fmt.Errorf("failed to assemble songplays: %w", err)
	}
	if err := p.write(ctx, report, songplays, TableSongplays, nil); err != nil {
		return err
	}

	unmatched, err := songplays.Where("song_id IS NULL").Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count unmatched songplays: %w", err)
	}
	report.UnmatchedPlays = unmatched
	metrics.UnmatchedPlays.Set(float64(unmatched))
	p.log.Info("songplays without a catalog match", "rows", unmatched)
	return nil
}

func (p *Pipeline) reloadSongs(ctx context.Context) (*frame.Frame, error) {
	reader, ok := p.cfg.Sink.(sink.Reader)
	if !ok {
		return nil, fmt.Errorf("%w: %s sink cannot read back %s", ErrDependencyMissing, p.cfg.Sink.Name(), TableSongs)
	}
	p.log.Info("reading songs back from sink", "sink", p.cfg.Sink.Name())

	stored, err := reader.Read(ctx, p.cfg.Session, TableSongs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDependencyMissing, err)
	}
	songs, err := stored.Select(
		"song_id",
		"title",
		"artist_id",
		"CAST(year AS INTEGER) AS year",
		"CAST(duration AS DOUBLE) AS duration",
	).Cache(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %w", ErrDependencyMissing, TableSongs, err)
	}
	return songs, nil
}

func (p *Pipeline) write(ctx context.Context, report *Report, f *frame.Frame, table string, partitionBy []string) error {
	sinkName := p.cfg.Sink.Name()
	res, err := p.cfg.Sink.Write(ctx, f, table, sink.WriteOptions{Mode: p.cfg.Mode, PartitionBy: partitionBy})
	if err != nil {
		metrics.WriteErrors.WithLabelValues(table, sinkName).Inc()
		return err
	}
	metrics.RowsWritten.WithLabelValues(table, sinkName).Add(float64(res.Rows))
	metrics.WriteDuration.WithLabelValues(table, sinkName).Observe(res.Duration.Seconds())
	p.log.Info("table written", "table", table, "rows", res.Rows, "duration", res.Duration, "location", res.Location)
	report.Results = append(report.Results, res)
	return nil
}
