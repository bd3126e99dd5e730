package csv2iceberg

import (
	"context"
	"errors"
	"fmt"
	stdio "io"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/BrobridgeOrg/csv2iceberg/dataset"
	"github.com/BrobridgeOrg/csv2iceberg/display"
	"github.com/BrobridgeOrg/csv2iceberg/icebergerr"
	"github.com/BrobridgeOrg/csv2iceberg/internal/metrics"
	"github.com/BrobridgeOrg/csv2iceberg/internal/tracing"
	"github.com/BrobridgeOrg/csv2iceberg/io"
	"github.com/BrobridgeOrg/csv2iceberg/table"
)

// Defaults of a pipeline run.
const (
	DefaultSourceFile = "./data/data.csv"
	DefaultObjectKey  = "data.csv"
	DefaultTableName  = "iceberg_table_name"
)

// Pipeline uploads a CSV file, appends it to a table and prints the table
// read back from its location.
type Pipeline struct {
	sessionOpts []Option
	sourceFile  string
	objectKey   string
	tableName   string
	mode        SaveMode
	writers     int
	readLocal   bool
	csvOpts     []dataset.Option
	showRows    int
	truncate    int
	out         stdio.Writer
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// NewPipeline creates a pipeline with the given options.
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		sourceFile: DefaultSourceFile,
		objectKey:  DefaultObjectKey,
		tableName:  DefaultTableName,
		mode:       SaveModeAppend,
		writers:    1,
		showRows:   display.DefaultRows,
		truncate:   display.DefaultTruncate,
		out:        os.Stdout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithSessionOptions sets the options of the session used by the run.
func WithSessionOptions(opts ...Option) PipelineOption {
	return func(p *Pipeline) {
		p.sessionOpts = append(p.sessionOpts, opts...)
	}
}

// WithSourceFile sets the local CSV file to upload.
func WithSourceFile(path string) PipelineOption {
	return func(p *Pipeline) {
		p.sourceFile = path
	}
}

// WithObjectKey sets the key the file is uploaded to.
func WithObjectKey(key string) PipelineOption {
	return func(p *Pipeline) {
		p.objectKey = key
	}
}

// WithTable sets the table name, optionally namespace qualified.
func WithTable(name string) PipelineOption {
	return func(p *Pipeline) {
		p.tableName = name
	}
}

// WithSaveMode sets how the table is written.
func WithSaveMode(mode SaveMode) PipelineOption {
	return func(p *Pipeline) {
		p.mode = mode
	}
}

// WithWriters sets how many concurrent writers append the dataset.
func WithWriters(n int) PipelineOption {
	return func(p *Pipeline) {
		p.writers = n
	}
}

// WithReadLocal reads the CSV from the local source file instead of the
// uploaded object.
func WithReadLocal(local bool) PipelineOption {
	return func(p *Pipeline) {
		p.readLocal = local
	}
}

// WithCSVOptions sets the options used to parse the CSV file.
func WithCSVOptions(opts ...dataset.Option) PipelineOption {
	return func(p *Pipeline) {
		p.csvOpts = append(p.csvOpts, opts...)
	}
}

// WithShow sets how many rows are printed and where cells are cut.
func WithShow(rows, truncate int) PipelineOption {
	return func(p *Pipeline) {
		p.showRows = rows
		p.truncate = truncate
	}
}

// WithOutput sets where the schema and rows are printed.
func WithOutput(w stdio.Writer) PipelineOption {
	return func(p *Pipeline) {
		p.out = w
	}
}

// StageTiming is the duration of one stage.
type StageTiming struct {
	Stage    Stage
	Duration time.Duration
}

// Result describes a pipeline run.
type Result struct {
	BucketCreated bool
	Upload        io.UploadInfo
	TableLocation string
	SnapshotIDs   []int64
	RowsWritten   int64
	RowsRead      int64
	Stages        []StageTiming
}

// run holds the state passed between stages.
type run struct {
	config  *Config
	store   io.ObjectStore
	session *Session
	result  *Result
}

// Run executes the stages in order and stops at the first failure, which
// is returned as a *StageError.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	config := DefaultConfig()
	for _, opt := range p.sessionOpts {
		opt(config)
	}
	r := &run{config: config, result: &Result{}}

	stages := []struct {
		stage Stage
		fn    func(context.Context, *run) error
	}{
		{StageBootstrap, p.bootstrap},
		{StageUpload, p.upload},
		{StageSession, p.startSession},
		{StageTable, p.writeAndRead},
	}
	for _, s := range stages {
		if err := p.runStage(ctx, r, s.stage, s.fn); err != nil {
			return r.result, err
		}
	}
	return r.result, nil
}

func (p *Pipeline) runStage(ctx context.Context, r *run, stage Stage, fn func(context.Context, *run) error) (err error) {
	ctx, span := tracing.Start(ctx, "pipeline."+string(stage), attribute.String("stage", string(stage)))
	defer func() { tracing.End(span, err) }()

	log := zerolog.Ctx(ctx).With().Str("component", "pipeline").Str("stage", string(stage)).Logger()
	log.Info().Msg("stage started")

	start := time.Now()
	err = fn(ctx, r)
	elapsed := time.Since(start)
	r.result.Stages = append(r.result.Stages, StageTiming{Stage: stage, Duration: elapsed})

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.StageDuration.WithLabelValues(string(stage), outcome).Observe(elapsed.Seconds())

	if err != nil {
		log.Error().Err(err).Dur("elapsed", elapsed).Msg("stage failed")
		return &StageError{Stage: stage, Err: err}
	}
	log.Info().Dur("elapsed", elapsed).Msg("stage finished")
	return nil
}

func (p *Pipeline) bootstrap(ctx context.Context, r *run) error {
	if err := r.config.Validate(); err != nil {
		return fmt.Errorf("%w: %w", icebergerr.ErrInvalidConfig, err)
	}
	store, err := createObjectStore(ctx, r.config)
	if err != nil {
		return err
	}
	r.store = store

	created, err := io.EnsureBucket(ctx, store, r.config.Bucket)
	if err != nil {
		return err
	}
	r.result.BucketCreated = created
	return nil
}

func (p *Pipeline) upload(ctx context.Context, r *run) error {
	info, err := io.UploadFile(ctx, r.store, p.sourceFile, r.config.Bucket, p.objectKey)
	if err != nil {
		return err
	}
	metrics.BytesUploaded.Add(float64(info.Size))
	r.result.Upload = info
	return nil
}

func (p *Pipeline) startSession(ctx context.Context, r *run) error {
	// the session shares the store opened for the upload
	WithObjectStore(r.store)(r.config)
	s, err := newSession(ctx, r.config)
	if err != nil {
		return err
	}
	r.session = s

	location, err := s.TableLocation(p.tableName)
	if err != nil {
		return err
	}
	r.result.TableLocation = location
	return nil
}

func (p *Pipeline) writeAndRead(ctx context.Context, r *run) error {
	ds, err := p.readDataset(ctx, r)
	if err != nil {
		return err
	}
	defer ds.Release()

	if err := p.write(ctx, r, ds); err != nil {
		return err
	}

	tbl, err := r.session.LoadTable(ctx, r.result.TableLocation)
	if err != nil {
		return err
	}
	out, err := tbl.Scan().ToArrowTable(ctx)
	if err != nil {
		return err
	}
	defer out.Release()
	r.result.RowsRead = out.NumRows()

	if err := display.PrintSchema(p.out, out.Schema()); err != nil {
		return err
	}
	return display.Show(p.out, out, p.showRows, p.truncate)
}

func (p *Pipeline) readDataset(ctx context.Context, r *run) (*dataset.Dataset, error) {
	if !p.readLocal {
		return r.session.ReadCSV(ctx, r.result.Upload.Location, p.csvOpts...)
	}

	f, err := os.Open(p.sourceFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", p.sourceFile, icebergerr.ErrFileNotFound)
		}
		return nil, err
	}
	defer f.Close()
	return dataset.ReadCSV(ctx, f, p.csvOpts...)
}

// write saves ds with the configured number of concurrent writers. Each
// writer commits its own snapshot and retries on conflicts.
func (p *Pipeline) write(ctx context.Context, r *run, ds *dataset.Dataset) error {
	writers := max(p.writers, 1)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			snap, err := r.session.SaveAsTable(gctx, ds, p.tableName, p.mode, table.WithTaskID(i))
			if err != nil {
				if writers > 1 {
					return fmt.Errorf("writer %d: %w", i, err)
				}
				return err
			}
			if snap == nil {
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			r.result.SnapshotIDs = append(r.result.SnapshotIDs, snap.SnapshotID)
			r.result.RowsWritten += ds.NumRows()
			return nil
		})
	}
	return g.Wait()
}
