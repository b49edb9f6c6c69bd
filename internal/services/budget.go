package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"orgflow/backend/internal/logging"
	"orgflow/backend/internal/repository"
	"orgflow/backend/internal/workflow"
	"orgflow/backend/pkg/models"
)

// ErrInsufficientFunds is returned when a voucher or adjustment would
// overdraw a vote-book account's available balance.
var ErrInsufficientFunds = errors.New("insufficient available balance")

// BudgetService keeps the vote-book arithmetic: vouchers commit funds when
// raised, and the attached workflow request's terminal transition either
// posts the commitment as spend or releases it. It implements
// workflow.TransitionListener for the latter.
type BudgetService struct {
	store  repository.Store
	logger *logging.Logger
}

// NewBudgetService creates a BudgetService on the given store.
func NewBudgetService(store repository.Store, logger *logging.Logger) *BudgetService {
	return &BudgetService{store: store, logger: logger}
}

var _ workflow.TransitionListener = (*BudgetService)(nil)

// RaiseVoucher creates a voucher and commits its amount against the
// account's available balance.
func (s *BudgetService) RaiseVoucher(ctx context.Context, v *models.Voucher) error {
	if v.Amount <= 0 {
		return fmt.Errorf("voucher amount must be positive, got %d", v.Amount)
	}
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	return s.store.InTx(ctx, func(ctx context.Context, tx repository.Store) error {
		acct, err := tx.GetAccount(ctx, v.AccountID)
		if err != nil {
			return err
		}
		if acct.Available() < v.Amount {
			return fmt.Errorf("account %s: %w", acct.Code, ErrInsufficientFunds)
		}
		acct.Committed += v.Amount
		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		v.Status = models.VoucherStatusCommitted
		return tx.CreateVoucher(ctx, v)
	})
}

// ProposeAdjustment records a budget adjustment. It is applied when the
// attached workflow request is approved, or immediately when it has none.
func (s *BudgetService) ProposeAdjustment(ctx context.Context, adj *models.BudgetAdjustment) error {
	if adj.Amount <= 0 {
		return fmt.Errorf("adjustment amount must be positive, got %d", adj.Amount)
	}
	if adj.ID == "" {
		adj.ID = uuid.New().String()
	}
	if err := s.store.CreateAdjustment(ctx, adj); err != nil {
		return err
	}
	if adj.WorkflowRequestID == nil {
		return s.applyAdjustment(ctx, adj)
	}
	return nil
}

// OnTransition reacts to terminal request transitions: approval posts the
// request's vouchers and applies its adjustments, rejection releases the
// voucher commitments.
func (s *BudgetService) OnTransition(ctx context.Context, t workflow.Transition) error {
	switch t.Kind {
	case workflow.TransitionRequestApproved:
		return s.settleRequest(ctx, t.Request.ID, true)
	case workflow.TransitionRequestRejected:
		return s.settleRequest(ctx, t.Request.ID, false)
	default:
		return nil
	}
}

func (s *BudgetService) settleRequest(ctx context.Context, requestID string, approved bool) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx repository.Store) error {
		vouchers, err := tx.ListVouchersByRequest(ctx, requestID)
		if err != nil {
			return err
		}
		for _, v := range vouchers {
			if v.Status != models.VoucherStatusCommitted {
				continue
			}
			acct, err := tx.GetAccount(ctx, v.AccountID)
			if err != nil {
				return err
			}
			acct.Committed -= v.Amount
			if approved {
				acct.Spent += v.Amount
				v.Status = models.VoucherStatusPosted
			} else {
				v.Status = models.VoucherStatusCancelled
			}
			if err := tx.UpdateAccount(ctx, acct); err != nil {
				return err
			}
			if err := tx.UpdateVoucher(ctx, v); err != nil {
				return err
			}
		}

		if !approved {
			return nil
		}
		adjustments, err := tx.ListAdjustmentsByRequest(ctx, requestID)
		if err != nil {
			return err
		}
		for _, adj := range adjustments {
			if adj.Applied {
				continue
			}
			if err := s.applyAdjustmentTx(ctx, tx, adj); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BudgetService) applyAdjustment(ctx context.Context, adj *models.BudgetAdjustment) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx repository.Store) error {
		return s.applyAdjustmentTx(ctx, tx, adj)
	})
}

func (s *BudgetService) applyAdjustmentTx(ctx context.Context, tx repository.Store, adj *models.BudgetAdjustment) error {
	from, err := tx.GetAccount(ctx, adj.FromAccountID)
	if err != nil {
		return err
	}
	to, err := tx.GetAccount(ctx, adj.ToAccountID)
	if err != nil {
		return err
	}
	if from.Available() < adj.Amount {
		return fmt.Errorf("account %s: %w", from.Code, ErrInsufficientFunds)
	}
	from.Allocated -= adj.Amount
	to.Allocated += adj.Amount
	if err := tx.UpdateAccount(ctx, from); err != nil {
		return err
	}
	if err := tx.UpdateAccount(ctx, to); err != nil {
		return err
	}
	adj.Applied = true
	adj.UpdatedAt = time.Now().UTC()
	return tx.UpdateAdjustment(ctx, adj)
}
