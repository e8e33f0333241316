package domain

import "errors"

// Action names reported in results and guard state.
const (
	ActionBuy   = "BUY"
	ActionSell  = "SELL"
	ActionPanic = "PANIC"
)

// Result is the user-visible outcome of a public engine action.
type Result struct {
	Action        string `json:"action"`
	OK            bool   `json:"ok"`
	Message       string `json:"message"`
	OrderID       string `json:"order_id,omitempty"`
	Quantity      int64  `json:"quantity,omitempty"`
	Informational bool   `json:"informational,omitempty"`
}

// Failure builds a failed result from err.
func Failure(action string, err error) Result {
	return Result{
		Action:        action,
		Message:       err.Error(),
		Informational: IsInformational(err),
	}
}

// Outcome is the result of one independent broker call.
type Outcome struct {
	OrderID string `json:"order_id,omitempty"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// PanicReport keeps the flatten sell and the cancels as separate outcomes.
type PanicReport struct {
	Result
	Sell    *Outcome  `json:"sell,omitempty"`
	Cancels []Outcome `json:"cancels"`
}

// Err joins every failed outcome, or returns nil.
func (r PanicReport) Err() error {
	var errs []error
	if r.Sell != nil && !r.Sell.OK {
		errs = append(errs, errors.New("sell: "+r.Sell.Error))
	}
	for _, c := range r.Cancels {
		if !c.OK {
			errs = append(errs, errors.New("cancel "+c.OrderID+": "+c.Error))
		}
	}
	return errors.Join(errs...)
}

// SubmissionState is the guard's view, queried by the hotkey layer.
type SubmissionState struct {
	InFlight bool   `json:"in_flight"`
	Action   string `json:"action,omitempty"`
}

// ExpirationStatus describes the currently selected expiration.
type ExpirationStatus struct {
	Expiry    string `json:"expiry"`
	DTE       int    `json:"dte"`
	TargetDTE int    `json:"target_dte"`
	Strategy  string `json:"strategy"`
	Manual    bool   `json:"manual"`
}

// RiskStatus is the snapshot returned by RiskManagementStatus.
type RiskStatus struct {
	Symbol          string            `json:"symbol"`
	Currency        string            `json:"currency"`
	AccountValue    string            `json:"account_value"`
	DailyPnLPercent string            `json:"daily_pnl_percent"`
	ActiveTier      *RiskTier         `json:"active_tier,omitempty"`
	TierError       string            `json:"tier_error,omitempty"`
	PDTMinimum      string            `json:"pdt_minimum"`
	PDTBuffer       string            `json:"pdt_buffer"`
	MaxTradeValue   string            `json:"max_trade_value"`
	Runner          int64             `json:"runner"`
	Connected       bool              `json:"connected"`
	Submission      SubmissionState   `json:"submission"`
	Expiration      *ExpirationStatus `json:"expiration,omitempty"`
	Positions       int               `json:"positions"`
	OpenOrders      int               `json:"open_orders"`
	LiveBrackets    int               `json:"live_brackets"`
	PendingBrackets int               `json:"pending_brackets"`
}
