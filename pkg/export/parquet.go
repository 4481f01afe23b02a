// Package export converts normalized output records into Parquet files
// suitable for analytical tooling and bulk dataset ingestion.
package export

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/combatscribe/combatscribe/internal/model"
	"github.com/combatscribe/combatscribe/pkg/scriberr"
	"github.com/combatscribe/combatscribe/pkg/sessionio"
)

// Compression selects the Parquet page compression codec.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionSnappy Compression = "snappy"
	CompressionGzip   Compression = "gzip"
	CompressionZstd   Compression = "zstd"
)

// Config controls Parquet output.
type Config struct {
	Compression Compression
	BatchSize   int
}

// DefaultConfig returns the standard export settings.
func DefaultConfig() Config {
	return Config{
		Compression: CompressionSnappy,
		BatchSize:   1024,
	}
}

// Writer writes normalized triples to Parquet using Apache Arrow.
//
// Scalar fields map to flat columns. List and actor fields are stored as
// JSON-encoded strings so the Parquet schema stays stable even as actor
// records grow new optional fields.
type Writer struct {
	cfg    Config
	schema *arrow.Schema
	writer *pqarrow.FileWriter

	sessionBuilder *array.StringBuilder
	speakerBuilder *array.StringBuilder
	jsonBuilders   []*array.StringBuilder
	beforeStateIdx *array.Int64Builder
	afterStateIdx  *array.Int64Builder

	mu               sync.Mutex
	rowCount         int
	totalRowsWritten int64
	closed           bool
}

// jsonColumns lists the columns stored as JSON-encoded strings, in schema
// order. Nullable entries hold actor records that may be absent.
var jsonColumns = []struct {
	name     string
	nullable bool
}{
	{"before_utterances", false},
	{"combat_state_before", false},
	{"current_actor", true},
	{"commands_norm", false},
	{"automation_results", false},
	{"caster_after", true},
	{"targets_after", false},
	{"combat_state_after", false},
	{"after_utterances", false},
	{"utterance_history", false},
	{"before_idxs", false},
	{"command_idxs", false},
	{"after_idxs", false},
	{"embed_idxs", false},
}

func tripleSchema() *arrow.Schema {
	fields := []arrow.Field{
		{Name: "session_id", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "speaker_id", Type: arrow.BinaryTypes.String, Nullable: false},
	}
	for _, col := range jsonColumns {
		fields = append(fields, arrow.Field{Name: col.name, Type: arrow.BinaryTypes.String, Nullable: col.nullable})
	}
	fields = append(fields,
		arrow.Field{Name: "before_state_idx", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		arrow.Field{Name: "after_state_idx", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	)
	return arrow.NewSchema(fields, nil)
}

// NewWriter creates a Parquet writer targeting output.
func NewWriter(output io.Writer, cfg Config) (*Writer, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}

	var codec compress.Compression
	switch cfg.Compression {
	case CompressionSnappy:
		codec = compress.Codecs.Snappy
	case CompressionGzip:
		codec = compress.Codecs.Gzip
	case CompressionZstd:
		codec = compress.Codecs.Zstd
	default:
		codec = compress.Codecs.Uncompressed
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithDictionaryDefault(true),
		parquet.WithDataPageSize(1024*1024),
	)

	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithStoreSchema(),
	)

	schema := tripleSchema()
	writer, err := pqarrow.NewFileWriter(schema, output, writerProps, arrowProps)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	allocator := memory.NewGoAllocator()
	w := &Writer{
		cfg:            cfg,
		schema:         schema,
		writer:         writer,
		sessionBuilder: array.NewStringBuilder(allocator),
		speakerBuilder: array.NewStringBuilder(allocator),
		beforeStateIdx: array.NewInt64Builder(allocator),
		afterStateIdx:  array.NewInt64Builder(allocator),
	}
	for range jsonColumns {
		b := array.NewStringBuilder(allocator)
		b.Reserve(cfg.BatchSize)
		w.jsonBuilders = append(w.jsonBuilders, b)
	}
	w.sessionBuilder.Reserve(cfg.BatchSize)
	w.speakerBuilder.Reserve(cfg.BatchSize)
	w.beforeStateIdx.Reserve(cfg.BatchSize)
	w.afterStateIdx.Reserve(cfg.BatchSize)

	return w, nil
}

// WriteRecord appends one normalized triple to the current batch.
func (w *Writer) WriteRecord(sessionID string, rec *model.NormalizedTriple) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("writer is closed")
	}

	w.sessionBuilder.Append(sessionID)
	w.speakerBuilder.Append(rec.SpeakerID)

	values := []interface{}{
		rec.BeforeUtterances,
		rec.CombatStateBefore,
		rec.CurrentActor,
		rec.CommandsNorm,
		rec.AutomationResults,
		rec.CasterAfter,
		rec.TargetsAfter,
		rec.CombatStateAfter,
		rec.AfterUtterances,
		rec.UtteranceHistory,
		rec.BeforeIdxs,
		rec.CommandIdxs,
		rec.AfterIdxs,
		rec.EmbedIdxs,
	}
	for i, v := range values {
		if err := appendJSON(w.jsonBuilders[i], v); err != nil {
			return scriberr.Wrapf(err, scriberr.CodeExportErr, "encoding column %s", jsonColumns[i].name)
		}
	}

	w.beforeStateIdx.Append(int64(rec.BeforeStateIdx))
	w.afterStateIdx.Append(int64(rec.AfterStateIdx))

	w.rowCount++
	if w.rowCount >= w.cfg.BatchSize {
		return w.flushBatch()
	}
	return nil
}

func appendJSON(b *array.StringBuilder, v interface{}) error {
	if actor, ok := v.(*model.ActorRecord); ok && actor == nil {
		b.AppendNull()
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.Append(string(data))
	return nil
}

func (w *Writer) flushBatch() error {
	if w.rowCount == 0 {
		return nil
	}

	arrays := make([]arrow.Array, 0, len(w.jsonBuilders)+4)
	arrays = append(arrays, w.sessionBuilder.NewArray(), w.speakerBuilder.NewArray())
	for _, b := range w.jsonBuilders {
		arrays = append(arrays, b.NewArray())
	}
	arrays = append(arrays, w.beforeStateIdx.NewArray(), w.afterStateIdx.NewArray())
	defer func() {
		for _, a := range arrays {
			a.Release()
		}
	}()

	batch := array.NewRecord(w.schema, arrays, int64(w.rowCount))
	defer batch.Release()

	if err := w.writer.Write(batch); err != nil {
		return scriberr.Wrap(err, scriberr.CodeExportErr, "failed to write record batch")
	}

	w.totalRowsWritten += int64(w.rowCount)
	w.rowCount = 0
	return nil
}

// Flush writes any buffered rows out as a batch.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushBatch()
}

// Close flushes remaining rows and finalizes the Parquet footer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	if err := w.flushBatch(); err != nil {
		return err
	}
	if err := w.writer.Close(); err != nil {
		return scriberr.Wrap(err, scriberr.CodeExportErr, "failed to close parquet writer")
	}

	w.sessionBuilder.Release()
	w.speakerBuilder.Release()
	for _, b := range w.jsonBuilders {
		b.Release()
	}
	w.beforeStateIdx.Release()
	w.afterStateIdx.Release()

	w.closed = true
	return nil
}

// RowsWritten returns the number of rows flushed so far.
func (w *Writer) RowsWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalRowsWritten
}

// ReadRecords reads normalized triples from a JSONL file produced by a
// normalization run. Gzipped files are handled transparently.
func ReadRecords(ctx context.Context, path string) ([]*model.NormalizedTriple, error) {
	r, closeFn, err := sessionio.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	var records []*model.NormalizedTriple
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	line := 0
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, scriberr.Wrap(ctx.Err(), scriberr.CodeContextCanceled, "record read canceled")
		default:
		}
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		var rec model.NormalizedTriple
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, scriberr.Wrapf(err, scriberr.CodeInvalidFormat, "malformed record at %s:%d", filepath.Base(path), line)
		}
		records = append(records, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, scriberr.Wrapf(err, scriberr.CodeInvalidFormat, "record file read failed at %s", path)
	}
	return records, nil
}

// ExportDir converts every JSONL output file under dir into a single
// Parquet file at outPath. It returns the number of rows written.
func ExportDir(ctx context.Context, dir, outPath string, cfg Config) (int64, error) {
	pattern := filepath.Join(dir, "*.jsonl")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return 0, scriberr.Wrapf(err, scriberr.CodeFileNotFound, "listing %s", dir)
	}
	gzPaths, err := filepath.Glob(pattern + ".gz")
	if err != nil {
		return 0, scriberr.Wrapf(err, scriberr.CodeFileNotFound, "listing %s", dir)
	}
	paths = append(paths, gzPaths...)
	if len(paths) == 0 {
		return 0, scriberr.New(scriberr.CodeFileNotFound, fmt.Sprintf("no output files found under %s", dir))
	}
	sort.Strings(paths)

	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".export-*.parquet")
	if err != nil {
		return 0, scriberr.Wrapf(err, scriberr.CodeExportErr, "creating %s", outPath)
	}
	defer os.Remove(tmp.Name())

	w, err := NewWriter(tmp, cfg)
	if err != nil {
		tmp.Close()
		return 0, err
	}

	for _, path := range paths {
		records, err := ReadRecords(ctx, path)
		if err != nil {
			w.Close()
			tmp.Close()
			return 0, err
		}
		sessionID := sessionio.SessionID(path)
		for _, rec := range records {
			if err := w.WriteRecord(sessionID, rec); err != nil {
				w.Close()
				tmp.Close()
				return 0, err
			}
		}
	}

	if err := w.Close(); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, scriberr.Wrapf(err, scriberr.CodeExportErr, "closing %s", outPath)
	}
	if err := os.Rename(tmp.Name(), outPath); err != nil {
		return 0, scriberr.Wrapf(err, scriberr.CodeExportErr, "moving output into place")
	}
	return w.RowsWritten(), nil
}
