// Package order implements the Order Builder & HL-Action Encoder
// (SPEC_FULL.md §4.6): a pure, deterministic transform from a
// DecisionPayload into a validated Order and then into the exact byte
// shape that is both signed and sent. Grounded on the teacher's
// exec/client.go SignedOrder/OrderPayload JSON-tagged structs and
// internal/arbitrage/eip712.go's deterministic CreateOrder.
package order

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ordersys/hlexec/types"
)

// Build maps a DecisionPayload to a single Order (§4.6). It never mutates
// payload. clientOrderID defaults to payload.DecisionID when non-empty,
// else a composite derived from the decision's fields.
func Build(payload types.DecisionPayload) (types.Order, error) {
	side := payload.Side
	size := payload.Size

	price := payload.Market.Mid
	if payload.Price != nil {
		price = *payload.Price
	}

	intent := resolveIntent(payload)

	tif := payload.TIF
	if tif == "" {
		tif = types.TIFGTC
	}

	aggressiveness := payload.Aggressiveness
	if aggressiveness == "" {
		aggressiveness = types.AggressivenessNormal
	}

	clientOrderID := payload.DecisionID
	if clientOrderID == "" {
		clientOrderID = compositeClientOrderID(payload, side, size, price)
	}

	ord := types.Order{
		ClientOrderID:  clientOrderID,
		Symbol:         payload.Market.Coin,
		Side:           side,
		Size:           size,
		Price:          price,
		TIF:            tif,
		Intent:         intent,
		Aggressiveness: aggressiveness,
	}

	if payload.RiskAllocation != nil {
		applyRiskAllocation(&ord, *payload.RiskAllocation)
	}

	ord.SplitCount = splitCount(ord.Intent, ord.Aggressiveness)

	if err := validate(ord); err != nil {
		return types.Order{}, err
	}
	return ord, nil
}

func resolveIntent(payload types.DecisionPayload) types.Intent {
	if payload.Intent != nil {
		return *payload.Intent
	}
	if payload.OpenPosition != nil {
		if payload.OpenPosition.Side != payload.Side {
			return types.IntentExit
		}
		return types.IntentEntry
	}
	return ""
}

func compositeClientOrderID(payload types.DecisionPayload, side types.Side, size, price decimal.Decimal) string {
	return fmt.Sprintf("%d_%s_%s_%s", payload.Timestamp.UnixNano(), side, size.String(), price.String())
}

// applyRiskAllocation adjusts size only, never price or side. Any
// malformed (zero/negative) factor is a non-fatal no-op, leaving the order
// unmodified (§4.6 "any failure in the risk step must leave the order
// unmodified").
func applyRiskAllocation(ord *types.Order, alloc types.RiskAllocation) {
	if !alloc.SizeMultiplier.IsZero() && alloc.SizeMultiplier.IsPositive() {
		ord.Size = ord.Size.Mul(alloc.SizeMultiplier)
	}
	if !alloc.MaxSize.IsZero() && alloc.MaxSize.IsPositive() && ord.Size.GreaterThan(alloc.MaxSize) {
		ord.Size = alloc.MaxSize
	}
}

func validate(ord types.Order) error {
	if ord.Side != types.SideBuy && ord.Side != types.SideSell {
		return fmt.Errorf("order: invalid side %q", ord.Side)
	}
	if strings.TrimSpace(ord.Symbol) == "" {
		return fmt.Errorf("order: empty symbol")
	}
	if !ord.Size.IsPositive() {
		return fmt.Errorf("order: size must be positive, got %s", ord.Size)
	}
	if !ord.Price.IsPositive() {
		return fmt.Errorf("order: price must be positive, got %s", ord.Price)
	}
	return nil
}

// splitCount picks the number of child orders per §4.6: exit always 1;
// otherwise low=3, normal=2, else 1; clamped to [1,5].
func splitCount(intent types.Intent, aggressiveness types.Aggressiveness) int {
	if intent == types.IntentExit {
		return 1
	}
	var n int
	switch aggressiveness {
	case types.AggressivenessLow:
		n = 3
	case types.AggressivenessNormal:
		n = 2
	default:
		n = 1
	}
	if n < 1 {
		n = 1
	}
	if n > 5 {
		n = 5
	}
	return n
}

// decimalString truncates to 8 decimals and formats exactly, so the same
// string is produced whether this runs before signing or before sending
// (§4.6: "the bytes signed and the bytes sent must be identical").
func decimalString(d decimal.Decimal) string {
	return d.Truncate(8).String()
}

// Encode turns a validated Order into the exact HL-action object that will
// be both signed and sent (§4.6). It is a pure function of (order, coin)
// with no hidden clock or RNG (DESIGN NOTES §9).
func Encode(ord types.Order) types.HLAction {
	sizes := splitSizes(ord.Size, ord.SplitCount)

	children := make([]types.HLChildOrder, 0, len(sizes))
	for _, sz := range sizes {
		children = append(children, types.HLChildOrder{
			Asset:      ord.Symbol,
			IsBuy:      ord.Side == types.SideBuy,
			LimitPx:    decimalString(ord.Price),
			Sz:         decimalString(sz),
			ReduceOnly: ord.Intent == types.IntentExit,
			OrderType: types.OrderTypeWrapper{
				Limit: types.LimitWrapper{TIF: ord.TIF},
			},
		})
	}

	return types.HLAction{
		Type:     "order",
		Orders:   children,
		Grouping: "na",
	}
}

// splitSizes divides size into n equal units (8-decimal rounding), with
// any positive remainder appended as a final slice (§4.6).
func splitSizes(size decimal.Decimal, n int) []decimal.Decimal {
	if n <= 1 {
		return []decimal.Decimal{size}
	}

	unit := size.DivRound(decimal.NewFromInt(int64(n)), 8)
	sizes := make([]decimal.Decimal, 0, n)
	running := decimal.Zero
	for i := 0; i < n-1; i++ {
		sizes = append(sizes, unit)
		running = running.Add(unit)
	}
	remainder := size.Sub(running)
	if remainder.IsPositive() {
		sizes = append(sizes, remainder)
	} else if len(sizes) < n {
		sizes = append(sizes, unit)
	}
	return sizes
}
