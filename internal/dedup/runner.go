// Package dedup triggers server-side duplicate merging and presents the result.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"relief-cli/internal/model"

	"github.com/apex/log"
	"golang.org/x/sync/semaphore"
)

var (
	ErrInFlight = errors.New("dedup is already running")
	ErrDeclined = errors.New("dedup was not confirmed")
)

type Deduper interface {
	RunDedup(ctx context.Context) (model.DedupRunResult, error)
	DedupLogs(ctx context.Context) ([]model.DedupLog, error)
}

// Confirmer is asked before anything is sent.
type Confirmer func(ctx context.Context) bool

// Yes confirms unconditionally.
func Yes(context.Context) bool { return true }

type Outcome struct {
	Result       model.DedupRunResult `json:"result"`
	NoDuplicates bool                 `json:"no_duplicates"`
	// Lines has one entry per merged cluster.
	Lines []string `json:"lines"`
}

// Headline is the one-line summary of the run.
func (o Outcome) Headline() string {
	if o.NoDuplicates {
		return "no records needed merging"
	}
	r := o.Result
	return fmt.Sprintf("detected %d duplicate pair(s), merged %d cluster(s), deleted %d record(s)",
		r.DuplicatesDetected, r.MergedClusters, r.DeletedRecords)
}

func Summarize(r model.DedupRunResult) Outcome {
	out := Outcome{Result: r, NoDuplicates: len(r.ClusterDetails) == 0, Lines: []string{}}
	for i, c := range r.ClusterDetails {
		out.Lines = append(out.Lines, fmt.Sprintf("cluster %d: kept %s, merged %s",
			i+1, c.MainDisplayID, strings.Join(c.MergedDisplayIDs, ", ")))
	}
	return out
}

type Option func(*Runner)

// WithReload sets the hook run after every call, successful or not.
func WithReload(fn func(ctx context.Context) error) Option {
	return func(r *Runner) { r.reload = fn }
}

func WithLogger(l log.Interface) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

type Runner struct {
	api    Deduper
	reload func(ctx context.Context) error
	logger log.Interface
	now    func() time.Time
	sem    *semaphore.Weighted
}

func New(api Deduper, opts ...Option) *Runner {
	r := &Runner{api: api, logger: log.Log, now: time.Now, sem: semaphore.NewWeighted(1)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Running reports whether a run is in flight.
func (r *Runner) Running() bool {
	if r.sem.TryAcquire(1) {
		r.sem.Release(1)
		return false
	}
	return true
}

// Run asks confirm, then triggers the merge. A declined run sends nothing and
// skips the reload; otherwise the reload hook runs once the call settles.
func (r *Runner) Run(ctx context.Context, confirm Confirmer) (Outcome, error) {
	if confirm != nil && !confirm(ctx) {
		return Outcome{}, ErrDeclined
	}
	if !r.sem.TryAcquire(1) {
		return Outcome{}, ErrInFlight
	}
	defer r.sem.Release(1)

	res, err := r.api.RunDedup(ctx)
	if r.reload != nil {
		if rerr := r.reload(ctx); rerr != nil {
			r.logger.WithError(rerr).Warn("reload after dedup failed")
		}
	}
	if err != nil {
		r.logger.WithError(err).Warn("dedup failed")
		return Outcome{}, fmt.Errorf("run dedup: %w", err)
	}
	res.RanAt = r.now().UTC()
	if res.ClusterDetails == nil {
		res.ClusterDetails = []model.ClusterDetail{}
	}
	r.logger.WithFields(log.Fields{
		"duplicates": res.DuplicatesDetected,
		"clusters":   res.MergedClusters,
		"deleted":    res.DeletedRecords,
	}).Info("dedup finished")
	return Summarize(res), nil
}

// Logs returns past runs, newest first.
func (r *Runner) Logs(ctx context.Context) ([]model.DedupLog, error) {
	logs, err := r.api.DedupLogs(ctx)
	if err != nil {
		return nil, fmt.Errorf("dedup logs: %w", err)
	}
	return logs, nil
}
