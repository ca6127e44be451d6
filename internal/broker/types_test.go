package broker

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

func TestContractKey(t *testing.T) {
	c := Contract{Symbol: "SPY", Expiry: "2026-09-04", Strike: 450, Right: RightCall}
	if got := c.Key(); got != "SPY|2026-09-04|00450.00|C" {
		t.Errorf("Key = %q", got)
	}

	// Identity ignores the broker-assigned id.
	qualified := c
	qualified.ID = 123456
	if qualified.Key() != c.Key() {
		t.Error("qualification must not change identity")
	}
}

func TestTickerMidpoint(t *testing.T) {
	tests := []struct {
		name string
		bid  float64
		ask  float64
		want float64 // NaN means expect NaN
	}{
		{"both sides present", 2.00, 2.10, 2.05},
		{"bid missing", math.NaN(), 2.10, math.NaN()},
		{"ask missing", 2.00, math.NaN(), math.NaN()},
		{"zero bid", 0, 2.10, math.NaN()},
		{"negative ask", 2.00, -1, math.NaN()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ticker := Ticker{Bid: tt.bid, Ask: tt.ask}
			got := ticker.Midpoint()
			if math.IsNaN(tt.want) {
				if !math.IsNaN(got) {
					t.Errorf("Midpoint = %v, expected NaN", got)
				}
			} else if math.Abs(got-tt.want) > 1e-10 {
				t.Errorf("Midpoint = %v, expected %v", got, tt.want)
			}
		})
	}
}

func TestAvgCostPerShare(t *testing.T) {
	p := PositionItem{AvgCost: 200}
	if got := p.AvgCostPerShare(); got != 2.00 {
		t.Errorf("AvgCostPerShare = %v, expected 2.00", got)
	}
}

func TestOrderStatusPredicates(t *testing.T) {
	tests := []struct {
		status       OrderStatus
		terminal     bool
		acknowledged bool
	}{
		{StatusPendingSubmit, false, false},
		{StatusPreSubmitted, false, true},
		{StatusSubmitted, false, true},
		{StatusFilled, true, true},
		{StatusCancelled, true, true},
		{StatusAPICancelled, true, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.terminal {
				t.Errorf("Terminal = %v, expected %v", got, tt.terminal)
			}
			if got := tt.status.Acknowledged(); got != tt.acknowledged {
				t.Errorf("Acknowledged = %v, expected %v", got, tt.acknowledged)
			}
		})
	}
}

func TestSubmittedAt(t *testing.T) {
	t0 := time.Date(2026, 8, 28, 9, 30, 0, 0, time.UTC)

	t.Run("earliest submission entry wins", func(t *testing.T) {
		o := OrderItem{StatusLog: []StatusEvent{
			{Status: StatusPendingSubmit, At: t0},
			{Status: StatusSubmitted, At: t0.Add(2 * time.Minute)},
			{Status: StatusPreSubmitted, At: t0.Add(time.Minute)},
		}}
		at, ok := o.SubmittedAt()
		if !ok || !at.Equal(t0.Add(time.Minute)) {
			t.Errorf("SubmittedAt = %v, %v", at, ok)
		}
	})

	t.Run("no submission entry", func(t *testing.T) {
		o := OrderItem{StatusLog: []StatusEvent{
			{Status: StatusPendingSubmit, At: t0},
		}}
		if _, ok := o.SubmittedAt(); ok {
			t.Error("expected ok=false without a submission entry")
		}
	})

	t.Run("empty log", func(t *testing.T) {
		var o OrderItem
		if _, ok := o.SubmittedAt(); ok {
			t.Error("expected ok=false for empty log")
		}
	})
}

func TestIsPermanentAPIError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"404 is permanent", &APIError{Status: 404, Msg: "not found"}, true},
		{"400 is permanent", &APIError{Status: 400, Msg: "bad request"}, true},
		{"429 is retryable", &APIError{Status: 429, Msg: "rate limited"}, false},
		{"503 is retryable", &APIError{Status: 503, Msg: "unavailable"}, false},
		{"wrapped 404", fmt.Errorf("cancelling: %w", &APIError{Status: 404, Msg: "gone"}), true},
		{"plain error", errors.New("timeout"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanentAPIError(tt.err); got != tt.want {
				t.Errorf("IsPermanentAPIError = %v, expected %v", got, tt.want)
			}
		})
	}
}

func TestRightString(t *testing.T) {
	if RightCall.String() != "call" || RightPut.String() != "put" {
		t.Errorf("Right strings: %q, %q", RightCall.String(), RightPut.String())
	}
}
