package service

import (
	"log/slog"
	"time"

	"github.com/agentdesk/agentdesk/pkg/models"
	"github.com/agentdesk/agentdesk/pkg/utils"
	"github.com/google/uuid"
)

// CheckoutResult is the simulated payment outcome.
type CheckoutResult struct {
	CheckoutID string       `json:"checkout_id"`
	Status     string       `json:"status"`
	User       *models.User `json:"user,omitempty"`
}

// PaymentService simulates the subscription checkout. There is no real
// gateway; a checkout settles the moment the webhook (or the completion
// endpoint) fires, which activates the pending account.
type PaymentService struct {
	auth   *AuthService
	logger *slog.Logger
}

func NewPaymentService(auth *AuthService) *PaymentService {
	return &PaymentService{
		auth:   auth,
		logger: utils.GetLogger(),
	}
}

// StartCheckout opens a checkout for a pending account and returns its id.
func (s *PaymentService) StartCheckout(email string) (*CheckoutResult, error) {
	user, err := s.auth.GetUser(email)
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{
		CheckoutID: uuid.New().String(),
		Status:     "open",
		User:       user,
	}, nil
}

// CompleteCheckout settles a checkout and activates the account. It is
// idempotent; paying twice activates once.
func (s *PaymentService) CompleteCheckout(email string) (*CheckoutResult, error) {
	user, err := s.auth.Activate(email)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Checkout completed", "email", user.Email, "at", time.Now())
	return &CheckoutResult{
		CheckoutID: uuid.New().String(),
		Status:     "paid",
		User:       user,
	}, nil
}
