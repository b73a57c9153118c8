package dicomweb

import (
	"context"
	"fmt"
	"time"
)

// WorkitemState is the lifecycle state of a worklist item.
type WorkitemState string

const (
	StateScheduled  WorkitemState = "SCHEDULED"
	StateInProgress WorkitemState = "IN_PROGRESS"
	StateCompleted  WorkitemState = "COMPLETED"
	StateCanceled   WorkitemState = "CANCELED"
)

func (s WorkitemState) IsValid() bool {
	switch s {
	case StateScheduled, StateInProgress, StateCompleted, StateCanceled:
		return true
	default:
		return false
	}
}

// IsFinal reports whether the state permits no further mutation.
func (s WorkitemState) IsFinal() bool {
	return s == StateCompleted || s == StateCanceled
}

// CanTransition reports whether target is reachable from s.
func (s WorkitemState) CanTransition(target WorkitemState) bool {
	switch s {
	case StateScheduled:
		return target == StateInProgress || target == StateCanceled
	case StateInProgress:
		return target == StateCompleted || target == StateCanceled
	default:
		return false
	}
}

// Workitem is a schedulable, trackable unit of work. Its UID is immutable
// after creation; TransactionUID is held only while the item is
// IN_PROGRESS and cleared on the terminal transition.
type Workitem struct {
	UID                string        `json:"uid"`
	State              WorkitemState `json:"state"`
	Priority           string        `json:"priority,omitempty"`
	TransactionUID     string        `json:"-"`
	PatientID          string        `json:"patient_id,omitempty"`
	PatientName        string        `json:"patient_name,omitempty"`
	StudyUID           string        `json:"study_uid,omitempty"`
	Label              string        `json:"label,omitempty"`
	Labels             []string      `json:"labels,omitempty"`
	ProgressSteps      int           `json:"progress_steps,omitempty"`
	ProgressCompleted  int           `json:"progress_completed,omitempty"`
	CancellationReason string        `json:"cancellation_reason,omitempty"`
	CancelRequested    bool          `json:"cancel_requested,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// WorkitemUpdate carries the non-state fields an update may change.
type WorkitemUpdate struct {
	Priority          *string
	PatientName       *string
	Label             *string
	Labels            []string
	ProgressSteps     *int
	ProgressCompleted *int
}

// StateChange is one requested transition.
type StateChange struct {
	Target         WorkitemState
	TransactionUID string
	Reason         string
}

// WorkitemService drives the worklist state machine over a WorklistRepo.
// All state validation happens before or inside the repo transaction;
// invalid requests never reach a write.
type WorkitemService struct {
	repo WorklistRepo
}

func NewWorkitemService(repo WorklistRepo) *WorkitemService {
	return &WorkitemService{repo: repo}
}

// Create stores a new workitem. The state is forced to SCHEDULED and a
// UID is generated when the caller supplies none.
func (s *WorkitemService) Create(ctx context.Context, w Workitem) (Workitem, error) {
	if err := ctx.Err(); err != nil {
		return Workitem{}, fmt.Errorf("create workitem: %w", err)
	}

	if w.UID == "" {
		w.UID = NewUID()
	} else if !IsValidUID(w.UID) {
		return Workitem{}, fmt.Errorf("create workitem %s: %w: invalid uid", w.UID, ErrInvalidInput)
	}

	w.State = StateScheduled
	w.TransactionUID = ""
	w.CancelRequested = false
	w.CancellationReason = ""

	created, err := s.repo.Create(ctx, w)
	if err != nil {
		return Workitem{}, fmt.Errorf("create workitem %s: %w", w.UID, err)
	}
	return created, nil
}

func (s *WorkitemService) Get(ctx context.Context, uid string) (Workitem, error) {
	if err := ctx.Err(); err != nil {
		return Workitem{}, fmt.Errorf("get workitem: %w", err)
	}

	w, err := s.repo.Get(ctx, uid)
	if err != nil {
		return Workitem{}, fmt.Errorf("get workitem %s: %w", uid, err)
	}
	return w, nil
}

func (s *WorkitemService) Search(ctx context.Context, q WorkitemQuery) (WorkitemResult, error) {
	if err := ctx.Err(); err != nil {
		return WorkitemResult{}, fmt.Errorf("search workitems: %w", err)
	}

	result, err := s.repo.Search(ctx, q)
	if err != nil {
		return WorkitemResult{}, fmt.Errorf("search workitems: %w", err)
	}
	return result, nil
}

func (s *WorkitemService) Count(ctx context.Context, q WorkitemQuery) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("count workitems: %w", err)
	}

	n, err := s.repo.Count(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("count workitems: %w", err)
	}
	return n, nil
}

// Update applies non-state field edits. A terminal workitem rejects the
// update outright; an IN_PROGRESS workitem requires its transaction UID.
func (s *WorkitemService) Update(ctx context.Context, uid, transactionUID string, upd WorkitemUpdate) (Workitem, error) {
	if err := ctx.Err(); err != nil {
		return Workitem{}, fmt.Errorf("update workitem: %w", err)
	}

	updated, err := s.repo.Update(ctx, uid, func(w *Workitem) error {
		if w.State.IsFinal() {
			return ErrWorkitemFinal
		}

		if w.State == StateInProgress {
			if err := checkTransactionUID(w, transactionUID); err != nil {
				return err
			}
		}

		applyUpdate(w, upd)
		return nil
	})
	if err != nil {
		return Workitem{}, fmt.Errorf("update workitem %s: %w", uid, err)
	}
	return updated, nil
}

// ChangeState drives one guarded transition.
//
// SCHEDULED -> IN_PROGRESS claims the workitem: the caller-supplied
// transaction UID is accepted, or one is generated, and every later
// mutation must present it. Terminal transitions from IN_PROGRESS require
// the matching transaction UID and clear it.
func (s *WorkitemService) ChangeState(ctx context.Context, uid string, change StateChange) (Workitem, error) {
	if err := ctx.Err(); err != nil {
		return Workitem{}, fmt.Errorf("change state: %w", err)
	}

	if !change.Target.IsValid() || change.Target == StateScheduled {
		return Workitem{}, fmt.Errorf("change state %s: %w: target %s", uid, ErrInvalidStateTransition, change.Target)
	}

	updated, err := s.repo.Update(ctx, uid, func(w *Workitem) error {
		if !w.State.CanTransition(change.Target) {
			if w.State.IsFinal() {
				return ErrWorkitemFinal
			}
			return ErrInvalidStateTransition
		}

		switch change.Target {
		case StateInProgress:
			txn := change.TransactionUID
			if txn == "" {
				txn = NewUID()
			} else if !IsValidUID(txn) {
				return fmt.Errorf("%w: invalid transaction uid", ErrInvalidInput)
			}
			w.TransactionUID = txn

		case StateCompleted, StateCanceled:
			if w.State == StateInProgress {
				if err := checkTransactionUID(w, change.TransactionUID); err != nil {
					return err
				}
			}
			w.TransactionUID = ""
			if change.Target == StateCanceled && change.Reason != "" {
				w.CancellationReason = change.Reason
			}
		}

		w.State = change.Target
		return nil
	})
	if err != nil {
		return Workitem{}, fmt.Errorf("change state %s: %w", uid, err)
	}
	return updated, nil
}

// RequestCancel handles the cancellation-request operation. From
// SCHEDULED it is an immediate, unconditional transition to CANCELED.
// From IN_PROGRESS it only records a hint for the holder of the
// transaction UID; the performer still submits the terminal CANCELED
// transition itself.
func (s *WorkitemService) RequestCancel(ctx context.Context, uid, reason string) (Workitem, error) {
	if err := ctx.Err(); err != nil {
		return Workitem{}, fmt.Errorf("request cancel: %w", err)
	}

	updated, err := s.repo.Update(ctx, uid, func(w *Workitem) error {
		switch w.State {
		case StateScheduled:
			w.State = StateCanceled
			w.TransactionUID = ""
			if reason != "" {
				w.CancellationReason = reason
			}
			return nil
		case StateInProgress:
			w.CancelRequested = true
			if reason != "" {
				w.CancellationReason = reason
			}
			return nil
		default:
			return ErrWorkitemFinal
		}
	})
	if err != nil {
		return Workitem{}, fmt.Errorf("request cancel %s: %w", uid, err)
	}
	return updated, nil
}

func checkTransactionUID(w *Workitem, supplied string) error {
	if supplied == "" {
		return ErrTransactionUIDRequired
	}
	if supplied != w.TransactionUID {
		return ErrTransactionUIDMismatch
	}
	return nil
}

func applyUpdate(w *Workitem, upd WorkitemUpdate) {
	if upd.Priority != nil {
		w.Priority = *upd.Priority
	}
	if upd.PatientName != nil {
		w.PatientName = *upd.PatientName
	}
	if upd.Label != nil {
		w.Label = *upd.Label
	}
	if upd.Labels != nil {
		w.Labels = upd.Labels
	}
	if upd.ProgressSteps != nil {
		w.ProgressSteps = *upd.ProgressSteps
	}
	if upd.ProgressCompleted != nil {
		w.ProgressCompleted = *upd.ProgressCompleted
	}
}
