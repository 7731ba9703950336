package signal

import (
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"

	"signaldesk/subscription"
)

// A signal carries between MinLots and MaxLots lot options when lots are given.
const (
	MinLots = 1
	MaxLots = 3
)

// Lot is one position sizing option of a signal.
type Lot struct {
	LotSize    float64
	WinAmount  float64
	LossAmount float64
}

// Signal is a trade idea published to one plan.
type Signal struct {
	ID         string
	Pair       string
	Entry      string
	TakeProfit string
	StopLoss   string
	Plan       subscription.Plan
	Lots       []Lot
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LotInput is a lot as supplied by an administrator. Pointers tell a missing
// field apart from a zero.
type LotInput struct {
	LotSize    *float64 `json:"lot_size"`
	WinAmount  *float64 `json:"win_amount"`
	LossAmount *float64 `json:"loss_amount"`
}

func (l LotInput) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.LotSize, validation.NotNil, validation.By(positive)),
		validation.Field(&l.WinAmount, validation.NotNil),
		validation.Field(&l.LossAmount, validation.NotNil),
	)
}

func (l LotInput) lot() Lot {
	return Lot{LotSize: *l.LotSize, WinAmount: *l.WinAmount, LossAmount: *l.LossAmount}
}

// CreateRequest contains the fields of a new signal. Lots may be omitted.
type CreateRequest struct {
	Pair       string     `json:"pair"`
	Entry      string     `json:"entry"`
	TakeProfit string     `json:"tp"`
	StopLoss   string     `json:"sl"`
	Plan       string     `json:"plan"`
	Lots       []LotInput `json:"lots"`
}

func (r CreateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Pair, validation.Required, validation.Length(1, 120)),
		validation.Field(&r.Entry, validation.Required, validation.Length(1, 120)),
		validation.Field(&r.TakeProfit, validation.Required, validation.Length(1, 120)),
		validation.Field(&r.StopLoss, validation.Required, validation.Length(1, 120)),
		validation.Field(&r.Plan, validation.Required, planRule()),
		validation.Field(&r.Lots, validation.By(lotCount)),
	)
}

// UpdateRequest changes only the fields that are present. Supplied lots
// replace every existing lot.
type UpdateRequest struct {
	Pair       *string    `json:"pair"`
	Entry      *string    `json:"entry"`
	TakeProfit *string    `json:"tp"`
	StopLoss   *string    `json:"sl"`
	Plan       *string    `json:"plan"`
	Lots       []LotInput `json:"lots"`
}

func (r UpdateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Pair, validation.NilOrNotEmpty, validation.Length(1, 120)),
		validation.Field(&r.Entry, validation.NilOrNotEmpty, validation.Length(1, 120)),
		validation.Field(&r.TakeProfit, validation.NilOrNotEmpty, validation.Length(1, 120)),
		validation.Field(&r.StopLoss, validation.NilOrNotEmpty, validation.Length(1, 120)),
		validation.Field(&r.Plan, validation.NilOrNotEmpty, planRule()),
		validation.Field(&r.Lots, validation.By(lotCount)),
	)
}

func (r UpdateRequest) empty() bool {
	return r.Pair == nil && r.Entry == nil && r.TakeProfit == nil && r.StopLoss == nil && r.Plan == nil && r.Lots == nil
}

func planRule() validation.Rule {
	plans := subscription.Plans()
	names := make([]interface{}, 0, len(plans))
	for _, p := range plans {
		names = append(names, p.String())
	}
	return validation.In(names...)
}

func lotCount(value interface{}) error {
	lots, _ := value.([]LotInput)
	if lots == nil {
		return nil
	}
	if len(lots) < MinLots || len(lots) > MaxLots {
		return fmt.Errorf("must contain between %d and %d lots", MinLots, MaxLots)
	}
	return nil
}

func positive(value interface{}) error {
	v, ok := value.(*float64)
	if !ok || v == nil {
		return nil
	}
	if *v <= 0 {
		return errors.New("must be greater than zero")
	}
	return nil
}

func toLots(in []LotInput) []Lot {
	if in == nil {
		return nil
	}
	lots := make([]Lot, 0, len(in))
	for _, l := range in {
		lots = append(lots, l.lot())
	}
	return lots
}
