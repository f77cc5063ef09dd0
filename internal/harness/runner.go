// Package harness wires the workload generator, the optional write-ahead
// log, and the book into a complete seeded run, producing the canonical
// snapshot line and state hash as run artifacts.
package harness

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantarc/matchbook/internal/book"
	"github.com/quantarc/matchbook/internal/wal"
	"github.com/quantarc/matchbook/internal/workload"
)

// drainEvery bounds how many commands run between event-ring drains. Small
// enough that the default ring never overwrites undrained events.
const drainEvery = 1024

// Options configures a run.
type Options struct {
	Profile    *workload.Profile
	OutDir     string // "" disables artifact files
	WALPath    string // "" disables the write-ahead log
	DevAsserts bool
	Logger     *zap.Logger
}

// RunResult holds the output of one seeded run.
type RunResult struct {
	RunID        string        `json:"run_id"`
	SnapshotLine string        `json:"snapshot_line"`
	StateHash    string        `json:"state_hash"`
	Counters     book.Counters `json:"counters"`
	Ops          uint64        `json:"ops"`
	Events       uint64        `json:"events"`
	Duration     time.Duration `json:"wall_duration"`
	OutputDir    string        `json:"output_dir,omitempty"`
}

// Run generates the profile's command stream and applies it. Events are
// drained in batches; batching has no effect on any hash or counter.
func Run(opts Options) (*RunResult, error) {
	p := opts.Profile
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", p.Name, err)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	bk, err := book.New(p.Book)
	if err != nil {
		return nil, err
	}
	bk.EnableDevAsserts(opts.DevAsserts)

	var journal *wal.Writer
	if opts.WALPath != "" {
		journal, err = wal.NewWriter(opts.WALPath, 0, log)
		if err != nil {
			return nil, err
		}
	}

	start := time.Now()
	cmds := workload.NewGenerator(p).Generate()

	var cursor, drained uint64
	for i, cmd := range cmds {
		if journal != nil {
			if err := journal.Append(cmd); err != nil {
				return nil, fmt.Errorf("wal append: %w", err)
			}
		}
		bk.Apply(cmd)
		if i%drainEvery == drainEvery-1 {
			var evs int
			cursor, evs = drainCount(bk, cursor)
			drained += uint64(evs)
		}
	}
	var evs int
	cursor, evs = drainCount(bk, cursor)
	drained += uint64(evs)

	if journal != nil {
		if err := journal.Close(); err != nil {
			return nil, fmt.Errorf("wal close: %w", err)
		}
	}

	res := &RunResult{
		RunID:        fmt.Sprintf("%s_seed%d_%s", p.Name, p.Seed, uuid.NewString()[:8]),
		SnapshotLine: bk.SnapshotLine(p.Seed, bk.Ops()),
		StateHash:    bk.ComputeStateHash(),
		Counters:     bk.Counters(),
		Ops:          bk.Ops(),
		Events:       drained,
		Duration:     time.Since(start),
	}

	log.Info("run complete",
		zap.String("run_id", res.RunID),
		zap.Uint64("ops", res.Ops),
		zap.Uint64("events", res.Events),
		zap.Duration("wall", res.Duration))

	if opts.OutDir != "" {
		dir := filepath.Join(opts.OutDir, res.RunID)
		if err := writeArtifacts(dir, res); err != nil {
			return nil, err
		}
		res.OutputDir = dir
	}
	return res, nil
}

func drainCount(bk *book.Book, cursor uint64) (uint64, int) {
	next, items := bk.DrainEvents(cursor)
	return next, len(items)
}

func writeArtifacts(dir string, res *RunResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "snapshot-line.txt"), []byte(res.SnapshotLine+"\n"), 0o644); err != nil {
		return fmt.Errorf("write snapshot line: %w", err)
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run result: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "result.json"), data, 0o644); err != nil {
		return fmt.Errorf("write run result: %w", err)
	}
	return nil
}

// VerifyDeterministic runs the profile twice and errors if the runs
// diverge in snapshot line or state hash.
func VerifyDeterministic(p *workload.Profile, log *zap.Logger) error {
	first, err := Run(Options{Profile: clone(p), Logger: log})
	if err != nil {
		return err
	}
	second, err := Run(Options{Profile: clone(p), Logger: log})
	if err != nil {
		return err
	}
	if first.SnapshotLine != second.SnapshotLine {
		return fmt.Errorf("snapshot line diverged:\n  run1: %s\n  run2: %s", first.SnapshotLine, second.SnapshotLine)
	}
	if first.StateHash != second.StateHash {
		return fmt.Errorf("state hash diverged: %s vs %s", first.StateHash, second.StateHash)
	}
	return nil
}

func clone(p *workload.Profile) *workload.Profile {
	cp := *p
	return &cp
}
