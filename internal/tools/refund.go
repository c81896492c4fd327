package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clearcart/support-agents/internal/models"
	"github.com/clearcart/support-agents/internal/storage"
)

// settlementDelay spaces the refund execution from the notification step,
// mirroring the payment processor's settlement acknowledgement window.
const settlementDelay = 2 * time.Second

// runRefundWorkflow walks the refund through its steps: validate the
// transaction, mark it refunded, then notify the user. Validation failures
// are terminal and reported back for the agent to verbalize.
func (s *Service) runRefundWorkflow(ctx context.Context, transactionID string, amount float64) error {
	payment, err := s.validateTransaction(ctx, transactionID)
	if err != nil {
		return err
	}

	if err := s.executeRefund(ctx, payment); err != nil {
		return err
	}

	select {
	case <-time.After(settlementDelay):
	case <-ctx.Done():
		// The refund is already committed; skip only the notification.
		return nil
	}

	s.sendRefundNotification(payment.UserID, amount)
	return nil
}

func (s *Service) validateTransaction(ctx context.Context, transactionID string) (*models.Payment, error) {
	s.logger.Info("Validating transaction", zap.String("transaction_id", transactionID))

	payment, err := s.store.GetPaymentByTransactionID(ctx, transactionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("Transaction %s not found", transactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("Error validating transaction %s", transactionID)
	}

	if payment.Status == models.PaymentRefunded {
		return nil, fmt.Errorf("Transaction %s already refunded", transactionID)
	}

	return payment, nil
}

func (s *Service) executeRefund(ctx context.Context, payment *models.Payment) error {
	s.logger.Info("Executing refund", zap.String("payment_id", payment.ID))

	if err := s.store.UpdatePaymentRefund(ctx, payment.ID, models.PaymentRefunded, "completed"); err != nil {
		s.logger.Error("Refund execution failed", zap.Error(err), zap.String("payment_id", payment.ID))
		return fmt.Errorf("Error processing refund for %s", payment.TransactionID)
	}
	return nil
}

func (s *Service) sendRefundNotification(userID string, amount float64) {
	s.logger.Info("Sending refund notification",
		zap.String("user_id", userID),
		zap.Float64("amount", amount))
}
