// Package fees computes the platform fee each party pays on an agreement.
package fees

import (
	"math"

	"github.com/sublease-marketplace/backend/internal/models"
)

const bpsDenominator = 10000

// Schedule holds the configured rates in basis points.
type Schedule struct {
	BaseBPS          int64 `json:"base_fee_bps"`
	CardSurchargeBPS int64 `json:"card_surcharge_bps"`
}

func DefaultSchedule() Schedule {
	return Schedule{BaseBPS: 250, CardSurchargeBPS: 100}
}

type Quote struct {
	RentAmount  int64  `json:"rent_amount"`
	Method      string `json:"method"`
	RateBPS     int64  `json:"rate_bps"`
	FeeAmount   int64  `json:"fee_amount"`
	TotalCharge int64  `json:"total_charge"` // what the party is charged: the fee only
}

// RateBPS returns the rate applied for method.
func (s Schedule) RateBPS(method string) (int64, error) {
	switch method {
	case models.PaymentMethodCard:
		return s.BaseBPS + s.CardSurchargeBPS, nil
	case models.PaymentMethodBankTransfer:
		return s.BaseBPS, nil
	}
	return 0, models.NewValidationError("method", "unsupported payment method "+method)
}

// Calculate returns the fee for rent (smallest currency unit) paid by method.
// Rounds half up to the nearest unit.
func (s Schedule) Calculate(rent int64, method string) (Quote, error) {
	if rent <= 0 {
		return Quote{}, models.NewValidationError("rent_amount", "must be positive")
	}
	rate, err := s.RateBPS(method)
	if err != nil {
		return Quote{}, err
	}
	if rate < 0 {
		return Quote{}, models.NewValidationError("rate_bps", "must not be negative")
	}
	if rate > 0 && rent > (math.MaxInt64-bpsDenominator/2)/rate {
		return Quote{}, models.NewValidationError("rent_amount", "too large")
	}
	fee := (rent*rate + bpsDenominator/2) / bpsDenominator
	return Quote{
		RentAmount:  rent,
		Method:      method,
		RateBPS:     rate,
		FeeAmount:   fee,
		TotalCharge: fee,
	}, nil
}
