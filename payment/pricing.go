package payment

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"signaldesk/subscription"
)

// ErrUnknownAmount signals a paid amount that matches no plan price.
var ErrUnknownAmount = errors.New("payment: amount matches no plan")

// prices are whole currency units.
var prices = map[subscription.Plan]int64{
	subscription.PlanBasic:    2000,
	subscription.PlanStandard: 3500,
	subscription.PlanPremium:  5000,
}

// Price returns the price of plan.
func Price(plan subscription.Plan) (int64, error) {
	amount, ok := prices[plan]
	if !ok {
		return 0, fmt.Errorf("%w %q", subscription.ErrInvalidPlan, plan)
	}
	return amount, nil
}

// PlanForAmount maps a provider-reported amount back to its plan. Trailing
// zero decimals are accepted, anything else must match a price exactly.
func PlanForAmount(raw string) (subscription.Plan, int64, error) {
	amount, err := parseWholeAmount(raw)
	if err != nil {
		return "", 0, err
	}
	for plan, price := range prices {
		if price == amount {
			return plan, amount, nil
		}
	}
	return "", 0, fmt.Errorf("%w: %s", ErrUnknownAmount, raw)
}

func parseWholeAmount(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	whole, frac, _ := strings.Cut(raw, ".")
	if strings.Trim(frac, "0") != "" {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAmount, raw)
	}
	amount, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || amount <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAmount, raw)
	}
	return amount, nil
}
