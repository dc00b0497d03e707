package surveygen

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// BatchReport is the aggregate outcome of one batch run, folded from all
// JobResults after the join barrier.
type BatchReport struct {
	Total     int
	Succeeded int
	Failed    int
	Elapsed   time.Duration
	Jobs      []JobResult // ordered as the input list
}

// ExitCode is 0 iff every job succeeded.
func (r *BatchReport) ExitCode() int {
	if r.Failed > 0 {
		return 1
	}
	return 0
}

// Summary renders the human-readable run report, printed regardless of
// outcome.
func (r *BatchReport) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Processed %d file(s) in %s: %d succeeded, %d failed\n",
		r.Total, r.Elapsed.Round(time.Millisecond), r.Succeeded, r.Failed)
	for _, job := range r.Jobs {
		if job.Succeeded() {
			fmt.Fprintf(&b, "  ok   %s (%s)\n", filepath.Base(job.Input), job.Elapsed.Round(time.Millisecond))
			continue
		}
		fmt.Fprintf(&b, "  FAIL %s (%s): %s: %v\n",
			filepath.Base(job.Input), job.Elapsed.Round(time.Millisecond), job.Kind, job.Err)
	}
	return b.String()
}

// Engine drives many pipeline runs with a fixed parallelism ceiling. Inputs
// dispatch FIFO; a freed worker slot immediately picks up the next unstarted
// file. A job's failure never aborts siblings or the batch: every input
// yields exactly one JobResult.
type Engine struct {
	run         func(ctx context.Context, path string) JobResult
	concurrency int
	log         *slog.Logger
}

// NewEngine builds an engine over p with the given concurrency ceiling.
func NewEngine(p *Pipeline, concurrency int, log *slog.Logger) *Engine {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{run: p.Run, concurrency: concurrency, log: log}
}

// Execute runs one pipeline per input and folds the results. It returns
// only after every dispatched job has produced its JobResult.
func (e *Engine) Execute(ctx context.Context, inputs []string) *BatchReport {
	start := time.Now()
	results := make([]JobResult, len(inputs))

	e.log.Info("starting batch", "inputs", len(inputs), "concurrency", e.concurrency)

	runner := NewLimitedRunner(ctx, e.concurrency)
	for i, path := range inputs {
		i, path := i, path
		runner.Go(func() error {
			jobStart := time.Now()
			res := e.run(ctx, path)
			res.Elapsed = time.Since(jobStart)
			// Each job owns its slot in results, so no lock is needed.
			results[i] = res
			return nil // job failures live in the result, never cancel siblings
		})
	}
	// Join barrier: no error can surface because workers always return nil.
	_ = runner.Wait()

	report := &BatchReport{
		Total:   len(inputs),
		Elapsed: time.Since(start),
		Jobs:    results,
	}
	for _, res := range results {
		if res.Succeeded() {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}

	e.log.Info("batch finished",
		"total", report.Total,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"elapsed", report.Elapsed)
	return report
}

// ListInputs enumerates the regular files of dir in sorted order, skipping
// subdirectories and dotfiles. The ordering fixes the FIFO dispatch order
// and the report's job order.
func ListInputs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}

	var inputs []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		inputs = append(inputs, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(inputs)
	return inputs, nil
}
