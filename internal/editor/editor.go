// Package editor implements the per-report edit session: manual correction
// of extracted tuples, or re-extraction from replaced text.
package editor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"relief-cli/internal/model"
	"relief-cli/internal/reports"

	"github.com/apex/log"
)

var (
	ErrNotOpen = errors.New("editor is not open")
	ErrBusy    = errors.New("a commit is already in progress")
)

type State int

const (
	Closed State = iota
	Open
)

func (s State) String() string {
	if s == Open {
		return "open"
	}
	return "closed"
}

type Mode int

const (
	Manual Mode = iota
	Reextract
)

func (m Mode) String() string {
	if m == Reextract {
		return "reextract"
	}
	return "manual"
}

type Field int

const (
	FieldTime Field = iota
	FieldLocation
	FieldEvent
	FieldLevel
)

var fieldNames = [...]string{"time", "location", "event", "level"}

func (f Field) String() string { return fieldNames[f] }

func ParseField(s string) (Field, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range fieldNames {
		if n == s {
			return Field(i), nil
		}
	}
	return 0, fmt.Errorf("unknown field %q (expected one of: %s)", s, strings.Join(fieldNames[:], ", "))
}

// Updater is the backend surface the editor commits through.
type Updater interface {
	UpdateDisasterInfo(ctx context.Context, id int64, in model.DisasterInfoUpdate) error
	ReextractReport(ctx context.Context, id int64, text string) (model.Report, error)
}

// PartialUpdateFailure reports a manual commit that stopped part way. The
// tuples in Persisted were written; Failed and Remaining were not.
type PartialUpdateFailure struct {
	ReportID  int64
	Persisted []int64
	Failed    int64
	Remaining []int64
	Err       error
}

func (e *PartialUpdateFailure) Error() string {
	total := len(e.Persisted) + len(e.Remaining)
	return fmt.Sprintf("report %d: updated %d of %d tuples; tuple %d failed: %v",
		e.ReportID, len(e.Persisted), total, e.Failed, e.Err)
}

func (e *PartialUpdateFailure) Unwrap() error { return e.Err }

type Option func(*Editor)

// WithReload sets the hook run after every successful commit.
func WithReload(fn func(ctx context.Context) error) Option {
	return func(e *Editor) { e.reload = fn }
}

func WithLogger(l log.Interface) Option {
	return func(e *Editor) {
		if l != nil {
			e.logger = l
		}
	}
}

// Editor is Closed until Open is called with a report. All edits apply to a
// private copy; the caller's report is never modified.
type Editor struct {
	api    Updater
	reload func(ctx context.Context) error
	logger log.Interface

	mu    sync.Mutex
	state State
	mode  Mode
	busy  bool
	gen   uint64
	err   error

	original model.Report
	draft    model.Report
	// baseline holds the last value known to be persisted for each tuple.
	baseline map[int64]model.DisasterInfo
}

func New(api Updater, opts ...Option) *Editor {
	e := &Editor{api: api, logger: log.Log}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Editor) Open(r model.Report) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	e.state = Open
	e.mode = Manual
	e.busy = false
	e.err = nil
	e.original = r.Clone()
	e.draft = r.Clone()
	e.baseline = make(map[int64]model.DisasterInfo, len(r.DisasterInfos))
	for _, d := range r.DisasterInfos {
		e.baseline[d.ID] = d
	}
}

// Cancel discards the private copy, even while a commit is in flight.
func (e *Editor) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	e.close()
}

func (e *Editor) close() {
	e.state = Closed
	e.busy = false
	e.err = nil
	e.original = model.Report{}
	e.draft = model.Report{}
	e.baseline = nil
}

func (e *Editor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Editor) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

func (e *Editor) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busy
}

// Err is the inline error from the last failed commit.
func (e *Editor) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Draft returns a copy of the report being edited.
func (e *Editor) Draft() model.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draft.Clone()
}

func (e *Editor) SetMode(m Mode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Open {
		return ErrNotOpen
	}
	e.mode = m
	return nil
}

func (e *Editor) SetText(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Open {
		return ErrNotOpen
	}
	e.draft.Text = text
	return nil
}

// SetInfoField edits one field of the tuple at index.
func (e *Editor) SetInfoField(index int, f Field, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Open {
		return ErrNotOpen
	}
	if index < 0 || index >= len(e.draft.DisasterInfos) {
		return fmt.Errorf("tuple index %d out of range (report has %d)", index, len(e.draft.DisasterInfos))
	}
	d := &e.draft.DisasterInfos[index]
	switch f {
	case FieldTime:
		d.Time = value
	case FieldLocation:
		d.Location = value
	case FieldEvent:
		d.Event = value
	case FieldLevel:
		d.Level = value
	default:
		return fmt.Errorf("unknown field %d", f)
	}
	return nil
}

// IndexOf returns the position of the tuple with the given id.
func (e *Editor) IndexOf(infoID int64) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, d := range e.draft.DisasterInfos {
		if d.ID == infoID {
			return i, true
		}
	}
	return -1, false
}

// Modified returns the draft tuples that differ from what is persisted.
func (e *Editor) Modified() []model.DisasterInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.modifiedLocked()
}

func (e *Editor) modifiedLocked() []model.DisasterInfo {
	var out []model.DisasterInfo
	for _, d := range e.draft.DisasterInfos {
		if !d.SameFields(e.baseline[d.ID]) {
			out = append(out, d)
		}
	}
	return out
}

// Confirm commits the draft in the current mode. On success the editor closes
// and the reload hook runs; on failure it stays Open and Err is set.
// The returned report is the server's version after a re-extraction, or the
// draft after a manual commit.
func (e *Editor) Confirm(ctx context.Context) (model.Report, error) {
	e.mu.Lock()
	if e.state != Open {
		e.mu.Unlock()
		return model.Report{}, ErrNotOpen
	}
	if e.busy {
		e.mu.Unlock()
		return model.Report{}, ErrBusy
	}
	mode := e.mode
	if mode == Reextract {
		if err := reports.RequireText(e.draft.Text); err != nil {
			e.err = err
			e.mu.Unlock()
			return model.Report{}, err
		}
	}
	e.busy = true
	e.err = nil
	gen := e.gen
	draft := e.draft.Clone()
	work := e.modifiedLocked()
	e.mu.Unlock()

	var (
		out model.Report
		err error
	)
	if mode == Reextract {
		out, err = e.commitReextract(ctx, gen, draft)
	} else {
		out, err = e.commitManual(ctx, gen, draft, work)
	}
	if err != nil {
		return model.Report{}, err
	}
	if e.reload != nil {
		if rerr := e.reload(ctx); rerr != nil {
			e.logger.WithError(rerr).Warn("reload after commit failed")
		}
	}
	return out, nil
}

func (e *Editor) commitReextract(ctx context.Context, gen uint64, draft model.Report) (model.Report, error) {
	updated, err := e.api.ReextractReport(ctx, draft.ID, draft.Text)

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return updated, err
	}
	if err != nil {
		e.busy = false
		e.err = fmt.Errorf("re-extract report %d: %w", draft.ID, err)
		return model.Report{}, e.err
	}
	e.logger.WithFields(log.Fields{"report": draft.ID, "tuples": len(updated.DisasterInfos)}).Info("report re-extracted")
	e.close()
	return updated, nil
}

// commitManual writes modified tuples one at a time. Each success moves the
// tuple's baseline, so a retried Confirm resumes with what is left.
func (e *Editor) commitManual(ctx context.Context, gen uint64, draft model.Report, work []model.DisasterInfo) (model.Report, error) {
	var persisted []int64
	for i, d := range work {
		err := e.api.UpdateDisasterInfo(ctx, d.ID, d.Update())

		e.mu.Lock()
		if gen != e.gen {
			e.mu.Unlock()
			if err != nil {
				return model.Report{}, err
			}
			continue
		}
		if err != nil {
			remaining := make([]int64, 0, len(work)-i)
			for _, r := range work[i:] {
				remaining = append(remaining, r.ID)
			}
			pf := &PartialUpdateFailure{ReportID: draft.ID, Persisted: persisted, Failed: d.ID, Remaining: remaining, Err: err}
			e.busy = false
			e.err = pf
			e.mu.Unlock()
			e.logger.WithError(err).WithFields(log.Fields{"report": draft.ID, "tuple": d.ID, "persisted": len(persisted)}).Warn("manual commit interrupted")
			return model.Report{}, pf
		}
		e.baseline[d.ID] = d
		e.mu.Unlock()
		persisted = append(persisted, d.ID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen == e.gen {
		e.logger.WithFields(log.Fields{"report": draft.ID, "tuples": len(persisted)}).Info("tuples updated")
		e.close()
	}
	return draft, nil
}

// Rollback writes the original values back for every tuple changed on the
// server during this session. The editor stays Open with the original draft.
func (e *Editor) Rollback(ctx context.Context) error {
	e.mu.Lock()
	if e.state != Open {
		e.mu.Unlock()
		return ErrNotOpen
	}
	if e.busy {
		e.mu.Unlock()
		return ErrBusy
	}
	gen := e.gen
	var undo []model.DisasterInfo
	for _, d := range e.original.DisasterInfos {
		if !d.SameFields(e.baseline[d.ID]) {
			undo = append(undo, d)
		}
	}
	e.busy = true
	e.mu.Unlock()

	for _, d := range undo {
		err := e.api.UpdateDisasterInfo(ctx, d.ID, d.Update())
		e.mu.Lock()
		if gen != e.gen {
			e.mu.Unlock()
			return err
		}
		if err != nil {
			e.busy = false
			e.err = fmt.Errorf("roll back tuple %d: %w", d.ID, err)
			e.mu.Unlock()
			return e.err
		}
		e.baseline[d.ID] = d
		e.mu.Unlock()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen == e.gen {
		e.busy = false
		e.err = nil
		e.draft = e.original.Clone()
	}
	return nil
}
