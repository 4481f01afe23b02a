// Package batch runs normalization over a directory of session triple
// files with bounded parallelism. Sessions are independent, so each worker
// owns one session end to end; triples within a session stay sequential.
package batch

import (
	"context"
	"errors"
	"log"
	"path/filepath"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/combatscribe/combatscribe/internal/model"
	"github.com/combatscribe/combatscribe/pkg/checkpoint"
	"github.com/combatscribe/combatscribe/pkg/eventlog"
	"github.com/combatscribe/combatscribe/pkg/scriberr"
	"github.com/combatscribe/combatscribe/pkg/sessionio"
	"github.com/combatscribe/combatscribe/pkg/telemetry"
	"github.com/combatscribe/combatscribe/pkg/triple"
	"github.com/combatscribe/combatscribe/pkg/tui"
)

// Options configures a normalization run.
type Options struct {
	// TripleDir holds the per-session triple files (*.jsonl.gz).
	TripleDir string
	// EventDir holds one event-log directory per session id.
	EventDir string
	// OutputDir receives one normalized jsonl file per kept session.
	OutputDir string

	// Workers bounds concurrent sessions. 0 means one per CPU.
	Workers int

	// Process configures per-triple normalization.
	Process triple.Config

	// Checkpoint enables resumable runs when non-nil.
	Checkpoint checkpoint.Backend
	// Resume continues an earlier incomplete run over the same TripleDir.
	Resume bool

	// ShowProgress renders a progress bar over the session files.
	ShowProgress bool
}

// Runner executes one normalization run.
type Runner struct {
	opts Options
}

// NewRunner creates a runner.
func NewRunner(opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Runner{opts: opts}
}

// sessionLockTTL bounds how long a crashed worker can hold a session.
const sessionLockTTL = 10 * time.Minute

// sessionLocker is satisfied by checkpoint backends that can fence one
// session against other workers sharing the run, such as redis.
type sessionLocker interface {
	AcquireLock(ctx context.Context, sessionID string, ttl time.Duration) (checkpoint.SessionLock, error)
}

// sessionOutcome is one session's result inside a run.
type sessionOutcome struct {
	sessionID  string
	triplesIn  int
	triplesOut int
}

// Run processes every session triple file under TripleDir and returns the
// run report. Individual session failures are reported and skipped; only
// setup failures and cancellation abort the run.
func (r *Runner) Run(ctx context.Context) (*tui.RunReport, error) {
	files, err := filepath.Glob(filepath.Join(r.opts.TripleDir, "*.gz"))
	if err != nil {
		return nil, scriberr.Wrap(err, scriberr.CodeFileNotFound, "cannot list triple files").
			WithContext("dir", r.opts.TripleDir)
	}
	if len(files) == 0 {
		return nil, scriberr.New(scriberr.CodeFileNotFound, "no triple files found").
			WithContext("dir", r.opts.TripleDir)
	}
	sort.Strings(files)

	cp, stopAutoSave, err := r.openCheckpoint(ctx, len(files))
	if err != nil {
		return nil, err
	}
	if stopAutoSave != nil {
		defer stopAutoSave()
	}

	var bar interface{ Add(int) error }
	if r.opts.ShowProgress {
		bar = tui.ShowProgress(int64(len(files)), "normalizing")
	}

	var (
		triplesIn    atomic.Int64
		triplesOut   atomic.Int64
		sessionsKept atomic.Int64
	)
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	for _, path := range files {
		path := path
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return scriberr.Wrap(ctx.Err(), scriberr.CodeContextCanceled, "run canceled")
			default:
			}

			sessionID := sessionio.SessionID(path)

			if cp != nil && cp.HasSession(sessionID) {
				// Already done in the resumed run; fold its counts in.
				if res, ok := cp.SessionProgress(sessionID); ok {
					triplesIn.Add(int64(res.TriplesIn))
					triplesOut.Add(int64(res.TriplesOut))
					if res.TriplesOut > 0 {
						sessionsKept.Add(1)
					}
				}
				tui.PrintSkipped(sessionID)
				if bar != nil {
					bar.Add(1)
				}
				return nil
			}

			if locker, ok := r.opts.Checkpoint.(sessionLocker); ok {
				lock, err := locker.AcquireLock(ctx, sessionID, sessionLockTTL)
				if errors.Is(err, checkpoint.ErrSessionLocked) {
					// Another worker sharing the run owns this session.
					tui.PrintSkipped(sessionID)
					if bar != nil {
						bar.Add(1)
					}
					return nil
				}
				if err != nil {
					log.Printf("batch: session %s: lock unavailable: %v", sessionID, err)
				} else {
					defer lock.Release(context.WithoutCancel(ctx))
				}
			}

			outcome, err := r.processSession(ctx, path, sessionID)
			if err != nil {
				if scriberr.IsCode(err, scriberr.CodeContextCanceled) {
					return err
				}
				tui.PrintError(sessionID, err)
				if bar != nil {
					bar.Add(1)
				}
				return nil
			}

			triplesIn.Add(int64(outcome.triplesIn))
			triplesOut.Add(int64(outcome.triplesOut))
			if outcome.triplesOut > 0 {
				sessionsKept.Add(1)
			}
			if cp != nil {
				cp.MarkSession(sessionID, outcome.triplesIn, outcome.triplesOut)
			}
			if bar != nil {
				bar.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if cp != nil {
		cp.SetPhase("complete")
		if err := r.opts.Checkpoint.Save(context.WithoutCancel(ctx), cp); err != nil {
			log.Printf("batch: checkpoint save failed: %v", err)
		}
	}

	return &tui.RunReport{
		SessionsIn:   len(files),
		SessionsKept: int(sessionsKept.Load()),
		TriplesIn:    int(triplesIn.Load()),
		TriplesOut:   int(triplesOut.Load()),
		Duration:     time.Since(start),
	}, nil
}

// openCheckpoint resolves the run checkpoint: a resumed one when requested
// and available, a fresh one otherwise.
func (r *Runner) openCheckpoint(ctx context.Context, totalSessions int) (*checkpoint.Checkpoint, func(), error) {
	if r.opts.Checkpoint == nil {
		return nil, nil, nil
	}

	var cp *checkpoint.Checkpoint
	if r.opts.Resume {
		found, err := r.opts.Checkpoint.FindByTripleDir(ctx, r.opts.TripleDir)
		if err == nil && found.ShouldResume() {
			cp = found
			log.Printf("batch: resuming run %s (%.0f%% done, started %s ago)",
				cp.RunID, cp.Progress(totalSessions), cp.Duration().Round(time.Second))
		}
	}
	if cp == nil {
		cp = checkpoint.NewCheckpoint(uuid.New().String(), r.opts.TripleDir, r.opts.OutputDir)
	}

	if err := r.opts.Checkpoint.Save(ctx, cp); err != nil {
		return nil, nil, scriberr.Wrap(err, scriberr.CodeWriteFailed, "cannot persist run checkpoint")
	}

	stop := cp.StartAutoSave(r.opts.Checkpoint, 5*time.Second)
	return cp, stop, nil
}

// RunSession normalizes a single session triple file. Watch mode uses this
// to process sessions as their triple files settle on disk.
func (r *Runner) RunSession(ctx context.Context, triplePath string) (*tui.RunReport, error) {
	start := time.Now()
	sessionID := sessionio.SessionID(triplePath)
	outcome, err := r.processSession(ctx, triplePath, sessionID)
	if err != nil {
		return nil, err
	}
	report := &tui.RunReport{
		SessionsIn: 1,
		TriplesIn:  outcome.triplesIn,
		TriplesOut: outcome.triplesOut,
		Duration:   time.Since(start),
	}
	if outcome.triplesOut > 0 {
		report.SessionsKept = 1
	}
	return report, nil
}

// processSession normalizes one session: all triples from its triple file
// replayed against its full event log.
func (r *Runner) processSession(ctx context.Context, triplePath, sessionID string) (*sessionOutcome, error) {
	tracer := telemetry.Tracer("combatscribe/batch")
	ctx, span := tracer.Start(ctx, "session.normalize", trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	triples, err := sessionio.ReadTriples(ctx, triplePath)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	events, err := sessionio.ReadSessionEvents(ctx, filepath.Join(r.opts.EventDir, sessionID))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	session := triple.NewSession(eventlog.New(events), r.opts.Process)

	outcome := &sessionOutcome{sessionID: sessionID, triplesIn: len(triples)}
	records := make([]*model.NormalizedTriple, 0, len(triples))
	for _, t := range triples {
		rec, err := session.ProcessTriple(t)
		if err != nil {
			// A bad triple never takes the session down with it.
			log.Printf("batch: session %s: triple failed: %v", sessionID, err)
			continue
		}
		if rec != nil {
			records = append(records, rec)
		}
	}
	outcome.triplesOut = len(records)

	span.SetAttributes(
		attribute.Int("triples.in", outcome.triplesIn),
		attribute.Int("triples.out", outcome.triplesOut),
	)

	if len(records) == 0 {
		return outcome, nil
	}

	outPath := filepath.Join(r.opts.OutputDir, sessionID+".jsonl")
	if err := sessionio.WriteRecords(outPath, records); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return outcome, nil
}
