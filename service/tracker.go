package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/c54335/contract-delivery-tracker/model"
	"github.com/samber/lo"
)

var (
	ErrDuplicateItem    = errors.New("duplicate item name")
	ErrEmptyItem        = errors.New("empty item name")
	ErrItemNotFound     = errors.New("item not found")
	ErrUnknownBaseline  = errors.New("unknown baseline kind")
	ErrNegativeDuration = errors.New("negative duration")
	ErrFailedRow        = errors.New("row holds a failed extraction")
	ErrUnknownAction    = errors.New("unknown update action")
)

// Tracker owns one session's deliverables and baseline dates. Due dates and
// statuses are never stored; they are derived from the current inputs on
// every read.
type Tracker struct {
	records   []model.Deliverable
	index     map[string]int
	baselines model.Baselines
}

func NewTracker() *Tracker {
	return &Tracker{index: make(map[string]int)}
}

// Initialize replaces the table with records and the given baselines. Nothing
// is changed if any record is invalid.
func (t *Tracker) Initialize(records []model.Deliverable, signDate, awardDate *time.Time) error {
	index := make(map[string]int, len(records))
	stored := make([]model.Deliverable, 0, len(records))

	for i, rec := range records {
		if rec.ExtractionFailed {
			stored = append(stored, rec)
			continue
		}
		rec.ItemName = strings.TrimSpace(rec.ItemName)
		if rec.ItemName == "" {
			return fmt.Errorf("record %d: %w", i+1, ErrEmptyItem)
		}
		if _, dup := index[rec.ItemName]; dup {
			return fmt.Errorf("record %d: %w: %q", i+1, ErrDuplicateItem, rec.ItemName)
		}
		if rec.BaselineKind != model.BaselineSignDate && rec.BaselineKind != model.BaselineAwardDate {
			return fmt.Errorf("record %d (%s): %w: %q", i+1, rec.ItemName, ErrUnknownBaseline, rec.BaselineKind)
		}
		if rec.DurationDays != nil && *rec.DurationDays < 0 {
			return fmt.Errorf("record %d (%s): %w", i+1, rec.ItemName, ErrNegativeDuration)
		}
		index[rec.ItemName] = len(stored)
		stored = append(stored, rec)
	}

	t.records = stored
	t.index = index
	t.baselines = model.Baselines{SignDate: dateCopy(signDate), AwardDate: dateCopy(awardDate)}
	return nil
}

// RecordFailure keeps the current deliverables and baselines and appends the
// failed extraction rows in place of any earlier ones.
func (t *Tracker) RecordFailure(failed []model.Deliverable) {
	live := lo.Reject(t.records, func(rec model.Deliverable, _ int) bool { return rec.ExtractionFailed })
	sentinels := lo.Filter(failed, func(rec model.Deliverable, _ int) bool { return rec.ExtractionFailed })

	t.records = append(live, sentinels...)
	t.index = make(map[string]int, len(live))
	for i, rec := range live {
		t.index[rec.ItemName] = i
	}
}

// OnlyFailures reports whether records hold nothing but failed extraction rows
func OnlyFailures(records []model.Deliverable) bool {
	return len(records) > 0 && lo.EveryBy(records, func(rec model.Deliverable) bool { return rec.ExtractionFailed })
}

// SetBaseline changes one baseline date. Every record counting from it picks
// up the new due date on the next read.
func (t *Tracker) SetBaseline(kind model.BaselineKind, date time.Time) error {
	switch kind {
	case model.BaselineSignDate:
		t.baselines.SignDate = dateCopy(&date)
	case model.BaselineAwardDate:
		t.baselines.AwardDate = dateCopy(&date)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBaseline, kind)
	}
	return nil
}

func (t *Tracker) Baselines() model.Baselines {
	return model.Baselines{SignDate: dateCopy(t.baselines.SignDate), AwardDate: dateCopy(t.baselines.AwardDate)}
}

// ApplyUpdate records a submission or approval date. It is the only way those
// dates change.
func (t *Tracker) ApplyUpdate(u model.Update, today time.Time) (model.Row, error) {
	i, ok := t.index[u.ItemName]
	if !ok {
		return model.Row{}, fmt.Errorf("%w: %q", ErrItemNotFound, u.ItemName)
	}
	rec := &t.records[i]
	if rec.ExtractionFailed {
		return model.Row{}, ErrFailedRow
	}

	switch u.Action {
	case model.ActionSubmitted:
		rec.SubmittedDate = dateCopy(&u.Date)
	case model.ActionApproved:
		rec.ApprovedDate = dateCopy(&u.Date)
	default:
		return model.Row{}, fmt.Errorf("%w: %q", ErrUnknownAction, u.Action)
	}
	return t.row(*rec, today), nil
}

// DueDate computes the due date of the named item
func (t *Tracker) DueDate(itemName string) (*time.Time, error) {
	i, ok := t.index[itemName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrItemNotFound, itemName)
	}
	return t.dueDate(t.records[i]), nil
}

func (t *Tracker) dueDate(rec model.Deliverable) *time.Time {
	if rec.ExtractionFailed || rec.DurationDays == nil {
		return nil
	}
	base := t.baselines.Get(rec.BaselineKind)
	if base == nil {
		return nil
	}
	due := AddDays(*base, *rec.DurationDays)
	return &due
}

func (t *Tracker) row(rec model.Deliverable, today time.Time) model.Row {
	if rec.ExtractionFailed {
		return model.Row{
			ItemName:         rec.ItemName,
			BasisClause:      rec.BasisClause,
			Status:           model.StatusExtractionFailed,
			ExtractionFailed: true,
			ErrorMsg:         rec.ErrorMsg,
		}
	}
	due := t.dueDate(rec)
	return model.Row{
		ItemName:      rec.ItemName,
		BasisClause:   rec.BasisClause,
		BaselineKind:  rec.BaselineKind,
		DurationDays:  rec.DurationDays,
		DueDate:       due,
		SubmittedDate: dateCopy(rec.SubmittedDate),
		ApprovedDate:  dateCopy(rec.ApprovedDate),
		Status:        StatusOf(due, rec.SubmittedDate, rec.ApprovedDate, today),
	}
}

// Export snapshots the table in record order
func (t *Tracker) Export(today time.Time) []model.Row {
	return lo.Map(t.records, func(rec model.Deliverable, _ int) model.Row {
		return t.row(rec, today)
	})
}

// ItemNames lists the items a sentence can refer to, in table order
func (t *Tracker) ItemNames() []string {
	live := lo.Reject(t.records, func(rec model.Deliverable, _ int) bool { return rec.ExtractionFailed })
	return lo.Map(live, func(rec model.Deliverable, _ int) string { return rec.ItemName })
}

// Records returns a copy of the stored deliverables
func (t *Tracker) Records() []model.Deliverable {
	out := make([]model.Deliverable, len(t.records))
	copy(out, t.records)
	return out
}

func (t *Tracker) Len() int {
	return len(t.records)
}

func dateCopy(d *time.Time) *time.Time {
	if d == nil {
		return nil
	}
	c := DateOf(*d)
	return &c
}
