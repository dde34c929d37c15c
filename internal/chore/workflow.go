// Package chore runs the chore lifecycle: parents define and assign chores,
// children submit completions, and parents approve or reject them. An
// approval credits the child's ledger in the same transaction.
package chore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/choreboard/internal/apperr"
	"github.com/dukerupert/choreboard/internal/auth"
	"github.com/dukerupert/choreboard/internal/dashboard"
	"github.com/dukerupert/choreboard/internal/ledger"
	"github.com/dukerupert/choreboard/internal/metrics"
	"github.com/dukerupert/choreboard/internal/model"
	"github.com/dukerupert/choreboard/internal/notify"
	"github.com/dukerupert/choreboard/internal/recurrence"
	"github.com/dukerupert/choreboard/internal/store"
	"github.com/dukerupert/choreboard/internal/validate"
)

// ChoreInput is the editable part of a chore. Points of 0 means the
// configured default.
type ChoreInput struct {
	Title         string           `json:"title" validate:"required,max=200"`
	Description   string           `json:"description" validate:"max=2000"`
	Points        int              `json:"points" validate:"min=1,max=10000"`
	PhotoRequired bool             `json:"photo_required"`
	Recurrence    model.Recurrence `json:"recurrence" validate:"oneof=none daily weekly monthly"`
}

type Config struct {
	// Location decides which calendar day "today" is.
	Location      *time.Location
	DefaultPoints int
}

type Workflow struct {
	db        *sql.DB
	families  *store.FamilyStore
	chores    *store.ChoreStore
	ledger    *ledger.Ledger
	dashboard *dashboard.Aggregator
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	validate  *validate.Validator
	logger    *slog.Logger
	loc       *time.Location
	defPoints int
	now       func() time.Time
}

func New(db *sql.DB, l *ledger.Ledger, agg *dashboard.Aggregator, notifier notify.Notifier, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Workflow {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Workflow{
		db:        db,
		families:  store.NewFamilyStore(db),
		chores:    store.NewChoreStore(db),
		ledger:    l,
		dashboard: agg,
		notifier:  notifier,
		metrics:   m,
		validate:  validate.New(),
		logger:    logger.With("component", "chore"),
		loc:       cfg.Location,
		defPoints: cfg.DefaultPoints,
		now:       time.Now,
	}
}

func (w *Workflow) normalize(in ChoreInput) (ChoreInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if in.Points == 0 {
		in.Points = w.defPoints
	}
	if in.Recurrence == "" {
		in.Recurrence = model.RecurrenceNone
	}
	return in, w.validate.Struct(in)
}

// --- Chore definitions ---

func (w *Workflow) CreateChore(ctx context.Context, in ChoreInput) (*model.Chore, error) {
	ac, err := auth.RequireParent(ctx)
	if err != nil {
		return nil, err
	}
	in, err = w.normalize(in)
	if err != nil {
		return nil, err
	}

	c := &model.Chore{
		FamilyID:      ac.FamilyID,
		Title:         in.Title,
		Description:   in.Description,
		Points:        in.Points,
		PhotoRequired: in.PhotoRequired,
		Recurrence:    in.Recurrence,
		CreatedBy:     ac.ActorID,
	}
	if err := w.chores.Create(ctx, c); err != nil {
		return nil, err
	}

	w.logger.Info("chore created", "chore_id", c.ID, "family_id", c.FamilyID, "points", c.Points)
	w.notifyChore(ctx, c)
	return c, nil
}

// UpdateChore replaces a chore's editable fields. Archived chores cannot be
// edited. Points already awarded are not affected.
func (w *Workflow) UpdateChore(ctx context.Context, id string, in ChoreInput) (*model.Chore, error) {
	ac, err := auth.RequireParent(ctx)
	if err != nil {
		return nil, err
	}
	c, err := w.familyChore(ctx, w.chores, ac.FamilyID, id)
	if err != nil {
		return nil, err
	}
	if !c.Active {
		return nil, apperr.Conflict("chore %q is archived", id)
	}
	in, err = w.normalize(in)
	if err != nil {
		return nil, err
	}

	c.Title = in.Title
	c.Description = in.Description
	c.Points = in.Points
	c.PhotoRequired = in.PhotoRequired
	c.Recurrence = in.Recurrence
	if err := w.chores.Update(ctx, c); err != nil {
		return nil, err
	}

	w.logger.Info("chore updated", "chore_id", c.ID)
	w.notifyChore(ctx, c)
	return c, nil
}

// ArchiveChore hides a chore from new assignments. Existing assignments and
// history are kept. Archiving twice is a no-op.
func (w *Workflow) ArchiveChore(ctx context.Context, id string) (*model.Chore, error) {
	ac, err := auth.RequireParent(ctx)
	if err != nil {
		return nil, err
	}
	c, err := w.familyChore(ctx, w.chores, ac.FamilyID, id)
	if err != nil {
		return nil, err
	}
	if !c.Active {
		return c, nil
	}
	if err := w.chores.Archive(ctx, id); err != nil {
		return nil, err
	}
	c.Active = false
	c.UpdatedAt = w.now().UTC()

	w.logger.Info("chore archived", "chore_id", c.ID)
	w.notifyChore(ctx, c)
	return c, nil
}

func (w *Workflow) ListChores(ctx context.Context, includeArchived bool) ([]model.Chore, error) {
	ac, err := auth.RequireMember(ctx)
	if err != nil {
		return nil, err
	}
	return w.chores.ListByFamily(ctx, ac.FamilyID, includeArchived)
}

// --- Assignments ---

// Assign links an active chore to a child, optionally with a due time.
func (w *Workflow) Assign(ctx context.Context, choreID, childID string, dueAt *time.Time) (*model.Assignment, error) {
	ac, err := auth.RequireParent(ctx)
	if err != nil {
		return nil, err
	}
	c, err := w.familyChore(ctx, w.chores, ac.FamilyID, choreID)
	if err != nil {
		return nil, err
	}
	if !c.Active {
		return nil, apperr.Conflict("chore %q is archived", choreID)
	}
	if _, err := w.familyChild(ctx, ac.FamilyID, childID); err != nil {
		return nil, err
	}

	a := &model.Assignment{
		ID:        uuid.NewString(),
		FamilyID:  ac.FamilyID,
		ChoreID:   c.ID,
		ChildID:   childID,
		DueAt:     utcPtr(dueAt),
		CreatedAt: w.now().UTC(),
	}
	if dueAt != nil {
		a.AnchorDay = dueAt.In(w.loc).Day()
	}
	if err := w.chores.InsertAssignment(ctx, a); err != nil {
		return nil, err
	}

	w.logger.Info("chore assigned", "assignment_id", a.ID, "chore_id", c.ID, "child_id", childID)
	return a, nil
}

// ChildAssignments returns every assignment for the child, soonest due first.
func (w *Workflow) ChildAssignments(ctx context.Context, childID string) ([]model.Assignment, error) {
	ac, err := auth.RequireMember(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := w.familyChild(ctx, ac.FamilyID, childID); err != nil {
		return nil, err
	}
	return w.chores.ListAssignmentsByChild(ctx, childID)
}

// TodayAssignments returns the child's assignments due on the current
// calendar day in the workflow's location. Undated assignments are excluded.
func (w *Workflow) TodayAssignments(ctx context.Context, childID string) ([]model.Assignment, error) {
	all, err := w.ChildAssignments(ctx, childID)
	if err != nil {
		return nil, err
	}
	today := recurrence.StartOfDay(w.now().In(w.loc))
	tomorrow := today.AddDate(0, 0, 1)

	result := []model.Assignment{}
	for _, a := range all {
		if a.DueAt == nil {
			continue
		}
		if !a.DueAt.Before(today) && a.DueAt.Before(tomorrow) {
			result = append(result, a)
		}
	}
	return result, nil
}

// --- Completions ---

// SubmitCompletion records the child's claim that an assignment is done. The
// caller must be the child, or a parent delegated to act for them. Several
// pending completions may exist for one assignment.
func (w *Workflow) SubmitCompletion(ctx context.Context, assignmentID, childID, photoRef string) (*model.Completion, error) {
	ac, err := auth.RequireChild(ctx, childID)
	if err != nil {
		return nil, err
	}
	// A removed child's token stays valid until it expires.
	if _, err := w.familyChild(ctx, ac.FamilyID, childID); err != nil {
		return nil, err
	}
	a, err := w.chores.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if a == nil || a.FamilyID != ac.FamilyID {
		return nil, apperr.NotFound("assignment", assignmentID)
	}
	if a.ChildID != childID {
		return nil, apperr.Unauthorized("assignment %q belongs to another child", assignmentID)
	}
	c, err := w.familyChore(ctx, w.chores, ac.FamilyID, a.ChoreID)
	if err != nil {
		return nil, err
	}
	if !c.Active {
		return nil, apperr.Conflict("chore %q is archived", c.ID)
	}
	photoRef = strings.TrimSpace(photoRef)
	if c.PhotoRequired && photoRef == "" {
		return nil, apperr.Validation("chore %q requires a photo", c.Title)
	}

	comp := &model.Completion{
		ID:           uuid.NewString(),
		FamilyID:     ac.FamilyID,
		AssignmentID: a.ID,
		SubmittedBy:  childID,
		PhotoRef:     photoRef,
		Status:       model.CompletionPending,
		SubmittedAt:  w.now().UTC(),
	}
	if err := w.chores.InsertCompletion(ctx, comp); err != nil {
		return nil, err
	}

	w.logger.Info("completion submitted", "completion_id", comp.ID, "assignment_id", a.ID, "child_id", childID)
	w.metrics.Transition("completion", "submitted")
	w.notifier.Notify(ctx, notify.Event{
		Type:     notify.CompletionSubmitted,
		FamilyID: comp.FamilyID,
		ID:       comp.ID,
		ChildID:  childID,
		Title:    c.Title,
		Points:   c.Points,
		At:       comp.SubmittedAt,
	})
	return comp, nil
}

// Approve moves a pending completion to approved and credits the chore's
// points. A completion that is already decided is returned unchanged.
func (w *Workflow) Approve(ctx context.Context, completionID string) (*model.Completion, error) {
	return w.decide(ctx, completionID, model.CompletionApproved)
}

// Reject moves a pending completion to rejected. It has no ledger effect.
func (w *Workflow) Reject(ctx context.Context, completionID string) (*model.Completion, error) {
	return w.decide(ctx, completionID, model.CompletionRejected)
}

type decision struct {
	completion *model.Completion
	chore      *model.Chore
	entry      *model.LedgerEntry
	next       *model.Assignment
	changed    bool
}

func (w *Workflow) decide(ctx context.Context, completionID string, to model.CompletionStatus) (*model.Completion, error) {
	ac, err := auth.RequireParent(ctx)
	if err != nil {
		return nil, err
	}
	at := w.now().UTC()

	var d decision
	err = store.InTx(ctx, w.db, func(tx *sql.Tx) error {
		chores := w.chores.WithTx(tx)
		comp, err := chores.GetCompletion(ctx, completionID)
		if err != nil {
			return err
		}
		if comp == nil || comp.FamilyID != ac.FamilyID {
			return apperr.NotFound("completion", completionID)
		}
		if comp.Status.Terminal() {
			d.completion = comp
			return nil
		}

		ok, err := chores.DecideCompletion(ctx, comp.ID, to, ac.ActorID, at)
		if err != nil {
			return err
		}
		if ok {
			d.changed = true
			if to == model.CompletionApproved {
				if err := w.award(ctx, tx, chores, comp, at, &d); err != nil {
					return err
				}
			}
		}
		d.completion, err = chores.GetCompletion(ctx, comp.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !d.changed {
		return d.completion, nil
	}

	comp := d.completion
	event := notify.Event{FamilyID: comp.FamilyID, ID: comp.ID, ChildID: comp.SubmittedBy, At: at}
	if to == model.CompletionApproved {
		w.logger.Info("completion approved", "completion_id", comp.ID, "child_id", comp.SubmittedBy, "points", d.chore.Points, "by", ac.ActorID)
		w.metrics.LedgerAppend(string(d.entry.EventKind), d.entry.Delta)
		if d.next != nil {
			w.logger.Info("next assignment scheduled", "assignment_id", d.next.ID, "chore_id", d.chore.ID, "due_at", d.next.DueAt)
		}
		event.Type = notify.CompletionApproved
		event.Title = d.chore.Title
		event.Points = d.chore.Points
	} else {
		w.logger.Info("completion rejected", "completion_id", comp.ID, "child_id", comp.SubmittedBy, "by", ac.ActorID)
		event.Type = notify.CompletionRejected
	}
	w.metrics.Transition("completion", string(to))
	w.notifier.Notify(ctx, event)
	return comp, nil
}

// award appends the chore's points for comp and queues the next assignment of
// a recurring chore. It runs inside the approving transaction.
func (w *Workflow) award(ctx context.Context, tx *sql.Tx, chores *store.ChoreStore, comp *model.Completion, at time.Time, d *decision) error {
	a, err := chores.GetAssignment(ctx, comp.AssignmentID)
	if err != nil {
		return err
	}
	if a == nil {
		return apperr.NotFound("assignment", comp.AssignmentID)
	}
	child, err := w.families.WithTx(tx).GetFamilyChild(ctx, comp.FamilyID, comp.SubmittedBy)
	if err != nil {
		return fmt.Errorf("get child: %w", err)
	}
	if child == nil {
		return apperr.NotFound("child", comp.SubmittedBy)
	}
	c, err := chores.GetByID(ctx, a.ChoreID)
	if err != nil {
		return err
	}
	if c == nil {
		return apperr.NotFound("chore", a.ChoreID)
	}
	d.chore = c

	d.entry = &model.LedgerEntry{
		FamilyID:  comp.FamilyID,
		ChildID:   comp.SubmittedBy,
		Delta:     c.Points,
		Reason:    "chore completed: " + c.Title,
		EventKind: model.EventChoreCompleted,
		SourceID:  comp.ID,
	}
	if err := w.ledger.AppendTx(ctx, tx, d.entry); err != nil {
		return err
	}

	d.next, err = w.scheduleNext(ctx, chores, c, a, at)
	return err
}

// scheduleNext creates the following assignment for a recurring chore with a
// due date, unless the child already has one due at or after that time.
func (w *Workflow) scheduleNext(ctx context.Context, chores *store.ChoreStore, c *model.Chore, a *model.Assignment, at time.Time) (*model.Assignment, error) {
	if !c.Active || c.Recurrence == model.RecurrenceNone || a.DueAt == nil {
		return nil, nil
	}
	prev := a.DueAt.In(w.loc)
	anchorDay := a.AnchorDay
	if anchorDay == 0 {
		anchorDay = prev.Day()
	}
	due := recurrence.NextAnchored(c.Recurrence, prev, anchorDay)
	if due.IsZero() {
		return nil, nil
	}
	exists, err := chores.HasAssignmentDueFrom(ctx, c.ID, a.ChildID, due)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}

	due = due.UTC()
	next := &model.Assignment{
		ID:        uuid.NewString(),
		FamilyID:  a.FamilyID,
		ChoreID:   c.ID,
		ChildID:   a.ChildID,
		DueAt:     &due,
		AnchorDay: anchorDay,
		CreatedAt: at,
	}
	if err := chores.InsertAssignment(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// PendingCompletions is the family's review queue, newest first.
func (w *Workflow) PendingCompletions(ctx context.Context) ([]model.Completion, error) {
	ac, err := auth.RequireParent(ctx)
	if err != nil {
		return nil, err
	}
	return w.chores.ListCompletionsByStatus(ctx, ac.FamilyID, model.CompletionPending)
}

func (w *Workflow) ChildCompletions(ctx context.Context, childID string) ([]model.Completion, error) {
	ac, err := auth.RequireMember(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := w.familyChild(ctx, ac.FamilyID, childID); err != nil {
		return nil, err
	}
	return w.chores.ListCompletionsByChild(ctx, childID)
}

// AssignmentCompletions lists every submission for one assignment, including
// rejected ones, so a parent can see repeated attempts.
func (w *Workflow) AssignmentCompletions(ctx context.Context, assignmentID string) ([]model.Completion, error) {
	ac, err := auth.RequireMember(ctx)
	if err != nil {
		return nil, err
	}
	a, err := w.chores.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if a == nil || a.FamilyID != ac.FamilyID {
		return nil, apperr.NotFound("assignment", assignmentID)
	}
	return w.chores.ListCompletionsByAssignment(ctx, a.ID)
}

// DashboardSummary rolls up the caller's family as of now.
func (w *Workflow) DashboardSummary(ctx context.Context) (*model.DashboardSummary, error) {
	ac, err := auth.RequireMember(ctx)
	if err != nil {
		return nil, err
	}
	return w.dashboard.Summary(ctx, ac.FamilyID, w.now())
}

// --- helpers ---

func (w *Workflow) familyChore(ctx context.Context, chores *store.ChoreStore, familyID, id string) (*model.Chore, error) {
	c, err := chores.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil || c.FamilyID != familyID {
		return nil, apperr.NotFound("chore", id)
	}
	return c, nil
}

func (w *Workflow) familyChild(ctx context.Context, familyID, id string) (*model.Child, error) {
	c, err := w.families.GetFamilyChild(ctx, familyID, id)
	if err != nil {
		return nil, fmt.Errorf("get child: %w", err)
	}
	if c == nil {
		return nil, apperr.NotFound("child", id)
	}
	return c, nil
}

func (w *Workflow) notifyChore(ctx context.Context, c *model.Chore) {
	w.notifier.Notify(ctx, notify.Event{
		Type:     notify.ChoreChanged,
		FamilyID: c.FamilyID,
		ID:       c.ID,
		Title:    c.Title,
		Points:   c.Points,
		At:       c.UpdatedAt,
	})
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
