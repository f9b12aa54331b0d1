// Package confirm is the Confirmer (SPEC_FULL.md §4.9): classifies an
// exchange API response into {filled, partial, expired, rejected, error},
// computes remaining size, hold-time, and realized PnL. Grounded on the
// teacher's core/engine.go exitPosition PnL math, generalized from
// float64 to decimal.Decimal.
package confirm

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ordersys/hlexec/sender"
	"github.com/ordersys/hlexec/types"
)

// Result is the confirmer's output, ready to fold into an OrderResult.
type Result struct {
	Status        types.OrderStatus
	FilledSize    decimal.Decimal
	RemainingSize decimal.Decimal
	OrderID       string
	HoldTime      time.Duration
	PnL           decimal.Decimal
	HasPnL        bool
	TriggerReject bool
	Error         string
}

// Confirm classifies apiResponse per §4.9. ord is the order that was sent;
// entryPrice/exitPrice, when both known, drive the PnL computation.
func Confirm(apiResponse sender.APIResponse, ord types.Order, entryTS time.Time, entryPrice *decimal.Decimal) Result {
	if !apiResponse.OK {
		code, message := "", ""
		if apiResponse.Error != nil {
			code, message = apiResponse.Error.Code, apiResponse.Error.Message
		}
		reject := code == "UNAUTHORIZED" || code == "INVALID_SIGNATURE"
		return Result{
			Status:        types.StatusError,
			Error:         message,
			TriggerReject: reject,
		}
	}

	data := apiResponse.Data
	status, _ := data["status"].(string)
	orderID, _ := asString(data["orderId"])
	filledSize := asDecimal(data["filledSize"])
	size := asDecimal(data["size"])
	if size.IsZero() {
		size = ord.Size
	}

	res := Result{OrderID: orderID}

	switch {
	case asBool(data["filled"]) || status == "filled":
		res.Status = types.StatusFilled
		res.FilledSize = size
	case status == "partial" || (filledSize.IsPositive() && filledSize.LessThan(size)):
		res.Status = types.StatusPartial
		res.FilledSize = filledSize
		remaining := size.Sub(filledSize)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		res.RemainingSize = remaining
	case status == "expired" || status == "canceled":
		res.Status = types.StatusExpired
	case status == "rejected" || status == "denied":
		res.Status = types.StatusRejected
		res.TriggerReject = true
	default:
		res.Status = types.StatusError
	}

	if !entryTS.IsZero() {
		res.HoldTime = time.Since(entryTS)
	}

	if entryPrice != nil && (res.Status == types.StatusFilled || res.Status == types.StatusPartial) {
		exitPrice := ord.Price
		sz := res.FilledSize
		if sz.IsZero() {
			sz = ord.Size
		}
		var pnl decimal.Decimal
		if ord.Side == types.SideBuy {
			pnl = exitPrice.Sub(*entryPrice).Mul(sz)
		} else {
			pnl = entryPrice.Sub(exitPrice).Mul(sz)
		}
		res.PnL = pnl
		res.HasPnL = true
	}

	return res
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asDecimal(v any) decimal.Decimal {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n)
	case string:
		d, err := decimal.NewFromString(n)
		if err == nil {
			return d
		}
	}
	return decimal.Zero
}

// IsUnauthorizedLike applies the same case-insensitive "signature"
// substring check as sender.DefaultIsFatalReject. Confirm does not call
// it: its own reject detection looks at the error code only (§4.9).
func IsUnauthorizedLike(message string) bool {
	return strings.Contains(strings.ToLower(message), "signature")
}
