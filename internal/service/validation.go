package service

import (
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"p2p-queue/internal/domain"
	"p2p-queue/internal/errors"
)

const (
	maxNotesLength = 1000
	// amountScale matches the NUMERIC(20, 8) amount and balance columns.
	amountScale = 8
)

var maxAmount = decimal.New(1, 20-amountScale)

// EnqueueRequest is the caller-supplied part of a new queue item.
type EnqueueRequest struct {
	Side           domain.Side     `json:"side" validate:"required,oneof=withdrawal deposit"`
	CustomerID     string          `json:"customer_id" validate:"required,max=128"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentMethod  string          `json:"payment_method" validate:"required,max=64"`
	PaymentDetails json.RawMessage `json:"payment_details,omitempty"`
	Priority       int             `json:"priority"`
	Notes          string          `json:"notes,omitempty" validate:"max=1000"`
}

func (r *EnqueueRequest) toNewItem() domain.NewItem {
	return domain.NewItem{
		Side:           r.Side,
		CustomerID:     strings.TrimSpace(r.CustomerID),
		Amount:         r.Amount,
		PaymentMethod:  strings.TrimSpace(r.PaymentMethod),
		PaymentDetails: r.PaymentDetails,
		Priority:       r.Priority,
		Notes:          r.Notes,
	}
}

func newValidator() *validator.Validate {
	return validator.New()
}

// validateAmount accepts positive amounts that the ledger columns store
// exactly.
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.Validation("invalid Amount: must be positive")
	}
	if !amount.Equal(amount.Truncate(amountScale)) {
		return errors.Validation("invalid Amount: more than %d decimal places", amountScale)
	}
	if amount.GreaterThanOrEqual(maxAmount) {
		return errors.Validation("invalid Amount: must be less than %s", maxAmount.String())
	}
	return nil
}

func (s *QueueService) validateEnqueue(req *EnqueueRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return errors.Validation("invalid %s: failed %s validation", fe.Field(), fe.Tag())
		}
		return errors.Validation("invalid request: %v", err)
	}
	if err := validateAmount(req.Amount); err != nil {
		return err
	}
	if strings.TrimSpace(req.CustomerID) == "" {
		return errors.Validation("invalid CustomerID: must not be blank")
	}
	if strings.TrimSpace(req.PaymentMethod) == "" {
		return errors.Validation("invalid PaymentMethod: must not be blank")
	}
	if len(req.PaymentDetails) > 0 && !json.Valid(req.PaymentDetails) {
		return errors.Validation("invalid PaymentDetails: must be a JSON document")
	}
	return nil
}

func validateMetadata(meta domain.ItemMetadata) error {
	if meta.Notes == nil && meta.Priority == nil {
		return errors.Validation("nothing to update: notes or priority required")
	}
	if meta.Notes != nil && len(*meta.Notes) > maxNotesLength {
		return errors.Validation("invalid Notes: longer than %d characters", maxNotesLength)
	}
	return nil
}
