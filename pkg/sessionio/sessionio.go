// Package sessionio handles reading session event logs and triple files
// and writing normalized output, transparently decompressing gzip inputs.
package sessionio

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/combatscribe/combatscribe/internal/model"
	"github.com/combatscribe/combatscribe/pkg/scriberr"
)

// maxLineSize bounds a single jsonl line. Combat snapshots embed full
// character sheets, so lines run large.
const maxLineSize = 64 * 1024 * 1024

// OpenFile opens a file, automatically decompressing if it's gzip-compressed.
// Returns the reader, a cleanup function (to close resources), and any error.
// The caller must call the cleanup function when done reading.
func OpenFile(path string) (io.Reader, func() error, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, scriberr.Wrap(err, scriberr.CodeFileNotFound, "cannot open input file").
			WithContext("path", path)
	}

	if IsGzipFile(path) {
		gzReader, err := gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, nil, scriberr.Wrap(err, scriberr.CodeInvalidFormat, "invalid gzip stream").
				WithContext("path", path)
		}
		cleanup := func() error {
			gzReader.Close()
			return file.Close()
		}
		return gzReader, cleanup, nil
	}

	cleanup := func() error {
		return file.Close()
	}
	return file, cleanup, nil
}

// IsGzipFile returns true if the file path indicates gzip compression.
func IsGzipFile(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

// SessionID extracts the session id from a triple file path: everything
// before the first dot of the base name.
func SessionID(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		return base[:i]
	}
	return base
}

// scanLines builds a jsonl scanner with a buffer sized for snapshot lines.
func scanLines(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	return sc
}

// ReadTriples reads all triples from a jsonl triple file, one per line,
// in file order.
func ReadTriples(ctx context.Context, path string) ([]*model.Triple, error) {
	r, cleanup, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	var triples []*model.Triple
	sc := scanLines(r)
	for sc.Scan() {
		select {
		case <-ctx.Done():
			return nil, scriberr.Wrap(ctx.Err(), scriberr.CodeContextCanceled, "triple read canceled")
		default:
		}

		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var t model.Triple
		if err := json.Unmarshal([]byte(line), &t); err != nil {
			return nil, scriberr.Wrap(err, scriberr.CodeInvalidFormat, "malformed triple line").
				WithContext("path", path).
				WithContext("line", len(triples)+1)
		}
		triples = append(triples, &t)
	}
	if err := sc.Err(); err != nil {
		return nil, scriberr.Wrap(err, scriberr.CodeInvalidFormat, "triple file read failed").
			WithContext("path", path)
	}
	return triples, nil
}

// ReadSessionEvents reads the full event log for a session from its event
// directory: every file in the directory, in sorted name order, is a jsonl
// stream of events and the streams concatenate into one log.
func ReadSessionEvents(ctx context.Context, dir string) ([]*model.Event, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, scriberr.Wrap(err, scriberr.CodeFileNotFound, "cannot read session event directory").
			WithContext("dir", dir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var events []*model.Event
	for _, name := range names {
		chunk, err := readEventFile(ctx, filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		events = append(events, chunk...)
	}
	if len(events) == 0 {
		return nil, scriberr.New(scriberr.CodeSessionEmpty, "session event directory has no events").
			WithContext("dir", dir)
	}
	return events, nil
}

func readEventFile(ctx context.Context, path string) ([]*model.Event, error) {
	r, cleanup, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	var events []*model.Event
	sc := scanLines(r)
	for sc.Scan() {
		select {
		case <-ctx.Done():
			return nil, scriberr.Wrap(ctx.Err(), scriberr.CodeContextCanceled, "event read canceled")
		default:
		}

		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev model.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, scriberr.Wrap(err, scriberr.CodeInvalidFormat, "malformed event line").
				WithContext("path", path)
		}
		events = append(events, &ev)
	}
	if err := sc.Err(); err != nil {
		return nil, scriberr.Wrap(err, scriberr.CodeInvalidFormat, "event file read failed").
			WithContext("path", path)
	}
	return events, nil
}

// WriteRecords writes normalized triples as jsonl, one record per line.
// The file is written atomically via a temp file rename.
func WriteRecords(path string, records []*model.NormalizedTriple) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return scriberr.Wrap(err, scriberr.CodeWriteFailed, "cannot create output directory").
			WithContext("path", path)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return scriberr.Wrap(err, scriberr.CodeWriteFailed, "cannot create output file").
			WithContext("path", path)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			tmp.Close()
			return scriberr.Wrap(err, scriberr.CodeWriteFailed, "cannot encode record").
				WithContext("path", path)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return scriberr.Wrap(err, scriberr.CodeWriteFailed, "cannot flush output").
			WithContext("path", path)
	}
	if err := tmp.Close(); err != nil {
		return scriberr.Wrap(err, scriberr.CodeWriteFailed, "cannot close output").
			WithContext("path", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return scriberr.Wrap(err, scriberr.CodeWriteFailed, "cannot finalize output").
			WithContext("path", path)
	}
	return nil
}
