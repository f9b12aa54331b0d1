// Package executor implements the Executor Coordinator (SPEC_FULL.md
// §4.10): the top-level handle(payload, ctx) → OrderResult entry point
// that normalizes the payload, runs the guard chain, and drives
// build→sign→send→confirm. Grounded on the teacher's core/engine.go
// Engine as the top-level orchestrator holding every collaborator, and
// execution/executor.go's order-lifecycle/metrics shape.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ordersys/hlexec/confirm"
	"github.com/ordersys/hlexec/eventlog"
	"github.com/ordersys/hlexec/internal/execerr"
	"github.com/ordersys/hlexec/order"
	"github.com/ordersys/hlexec/safety"
	"github.com/ordersys/hlexec/sender"
	"github.com/ordersys/hlexec/signer"
	"github.com/ordersys/hlexec/store"
	"github.com/ordersys/hlexec/tradelog"
	"github.com/ordersys/hlexec/types"
)

// Metrics are lightweight in-process counters (§2.2 expansion), mirroring
// execution/executor.go's GetMetrics. The Coordinator does not increment
// SafetyHalts; it stays zero.
type Metrics struct {
	OrdersSent     int64
	OrdersFilled   int64
	OrdersRejected int64
	SafetyHalts    int64
}

// Coordinator is constructed once with its collaborators and serves every
// handle() call for the process lifetime.
type Coordinator struct {
	store   *store.Store
	safety  *safety.Supervisor
	signer  *signer.Client
	sender  *sender.Client
	events  *eventlog.Log
	trades  *tradelog.Log

	partialLockTTL time.Duration

	// liveQueue is a single-slot buffered channel used as a FIFO ordering
	// token around live-mode handle() calls (§4.10, DESIGN NOTES §9):
	// acquiring is sending to it, releasing is receiving from it.
	liveQueue chan struct{}

	metrics Metrics
}

// New builds a Coordinator. partialLockTTL defaults to 30s if zero.
func New(st *store.Store, sup *safety.Supervisor, sc *signer.Client, sd *sender.Client, events *eventlog.Log, trades *tradelog.Log, partialLockTTL time.Duration) *Coordinator {
	if partialLockTTL <= 0 {
		partialLockTTL = 30 * time.Second
	}
	c := &Coordinator{
		store:          st,
		safety:         sup,
		signer:         sc,
		sender:         sd,
		events:         events,
		trades:         trades,
		partialLockTTL: partialLockTTL,
		liveQueue:      make(chan struct{}, 1),
	}
	c.liveQueue <- struct{}{} // start unlocked
	return c
}

// GetMetrics returns a value-copy snapshot.
func (c *Coordinator) GetMetrics() Metrics {
	return c.metrics
}

// Handle is the public operation (§4.10). It never returns a Go error to
// the caller for expected execution failures — those are rendered into
// OrderResult.Status/Error (§7 propagation policy).
func (c *Coordinator) Handle(ctx context.Context, payload types.DecisionPayload, execCtx types.ExecContext) types.OrderResult {
	if execCtx.Mode == types.ModeLive {
		<-c.liveQueue
		defer func() { c.liveQueue <- struct{}{} }()
	}

	return c.handleLocked(ctx, payload, execCtx)
}

func (c *Coordinator) handleLocked(ctx context.Context, payload types.DecisionPayload, execCtx types.ExecContext) types.OrderResult {
	now := time.Now()

	normalizePayload(&payload)

	// Guard 1: WS health.
	if execCtx.WSState == types.WSStateStale || execCtx.WSState == types.WSStateLost {
		c.safety.Trigger(safety.ReasonWSError, string(execCtx.WSState), "coordinator")
		return errorResult("ws unhealthy", now)
	}

	// Guard 2: Safety state.
	if c.safety.IsHalted() || !c.safety.IsLiveEnabled() {
		return errorResult("safety halted", now)
	}

	// Guard 3: payload validity.
	if err := validatePayload(payload); err != nil {
		c.safety.Trigger(safety.ReasonIOError, err.Error(), "coordinator")
		return errorResult(err.Error(), now)
	}

	// Guard 4: partial-fill lock.
	if lock := c.store.GetPartialLock(); lock != nil {
		age := time.Since(time.UnixMilli(lock.TS))
		if age < c.partialLockTTL {
			return types.OrderResult{
				Status:    types.StatusError,
				Error:     fmt.Sprintf("partial_fill_pending: %s", lock.OrderID),
				Timestamp: now,
			}
		}
		if err := c.store.ClearPartialLock(); err != nil {
			c.safety.Trigger(safety.ReasonPartialLockError, err.Error(), "coordinator")
			return errorResult(err.Error(), now)
		}
	}

	// Guard 5: build order.
	ord, err := order.Build(payload)
	if err != nil {
		c.safety.Trigger(safety.ReasonOrderBuildError, err.Error(), "coordinator")
		return errorResult(err.Error(), now)
	}

	// Guard 6/7: claim idempotency key.
	claimed, err := c.store.ClaimProcessedKey(ord.ClientOrderID)
	if err != nil {
		c.safety.Trigger(safety.ReasonDedupPersistError, err.Error(), "coordinator")
		return errorResult(err.Error(), now)
	}
	if !claimed {
		c.events.Emit(eventlog.EventHandlerError, map[string]any{
			"warning":       "duplicate_decision",
			"clientOrderId": ord.ClientOrderID,
		})
		return types.OrderResult{
			Status:    types.StatusExpired,
			Side:      ord.Side,
			Price:     ord.Price,
			Size:      ord.Size,
			Timestamp: now,
		}
	}

	action := order.Encode(ord)

	// Step 8: sign.
	signResult, err := c.signer.Sign(ctx, action, execCtx)
	if err != nil {
		c.haltOnExecErr(err, "signer")
		return errorResult(err.Error(), now)
	}

	// Step 9: send. Safety is re-read here, not just at Guard 2: signing is
	// a network suspension point, and an unserialized non-live Handle call
	// (§4.10 Concurrency) may have tripped a Halt while this call was
	// signing (§4.2 Contracts: consulted both before signing and before
	// sending; §5: re-read after any suspension point).
	if c.safety.IsHalted() || !c.safety.IsLiveEnabled() {
		return errorResult("safety halted", now)
	}

	apiResponse, fatal := c.sender.Send(ctx, action, signResult, execCtx)
	if !apiResponse.OK {
		msg := ""
		if apiResponse.Error != nil {
			msg = apiResponse.Error.Error()
		}
		if fatal {
			c.safety.Trigger(safety.ReasonHLReject, msg, "sender")
		} else {
			c.safety.Trigger(safety.ReasonAPIError, msg, "sender")
		}
		c.metrics.OrdersRejected++
		return types.OrderResult{
			Status:       types.StatusError,
			Side:         ord.Side,
			Price:        ord.Price,
			Size:         ord.Size,
			Error:        msg,
			Signature:    signResult.Signature,
			Nonce:        signResult.Nonce,
			AgentAddress: signResult.AgentAddress,
			Timestamp:    now,
		}
	}

	c.metrics.OrdersSent++

	// Step 10: confirm. Realized PnL needs the position's actual entry
	// price, not the current mid the exit order was priced against —
	// those coincide whenever order.Build defaults Price to Market.Mid
	// and would make PnL always ~0.
	var entryPrice *decimal.Decimal
	if payload.OpenPosition != nil && payload.OpenPosition.EntryPrice.IsPositive() {
		entryPrice = &payload.OpenPosition.EntryPrice
	}
	confirmResult := confirm.Confirm(apiResponse, ord, execCtx.EntryTS, entryPrice)

	if confirmResult.TriggerReject {
		c.safety.Trigger(safety.ReasonHLReject, confirmResult.Error, "confirm")
	}

	// Step 11: partial lock bookkeeping.
	if confirmResult.Status == types.StatusPartial {
		var pricePtr *float64
		priceF, _ := ord.Price.Float64()
		pricePtr = &priceF
		lock := store.PartialLock{
			OrderID:       confirmResult.OrderID,
			RemainingSize: mustFloat(confirmResult.RemainingSize),
			Side:          string(ord.Side),
			Price:         pricePtr,
			TS:            store.NowMillis(),
		}
		if err := c.store.SetPartialLock(lock); err != nil {
			c.safety.Trigger(safety.ReasonPartialLockError, err.Error(), "coordinator")
			return errorResult(err.Error(), now)
		}
	} else {
		if err := c.store.ClearPartialLock(); err != nil {
			c.safety.Trigger(safety.ReasonPartialLockError, err.Error(), "coordinator")
			return errorResult(err.Error(), now)
		}
	}

	// Step 12: bookkeeping only, no state transition.
	c.safety.RecordLastError("")

	result := types.OrderResult{
		OrderID:       confirmResult.OrderID,
		Status:        confirmResult.Status,
		Side:          ord.Side,
		Price:         ord.Price,
		Size:          ord.Size,
		FilledSize:    confirmResult.FilledSize,
		RemainingSize: confirmResult.RemainingSize,
		Timestamp:     now,
		Signature:     signResult.Signature,
		Nonce:         signResult.Nonce,
		AgentAddress:  signResult.AgentAddress,
	}

	outcome := map[string]any{"orderId": result.OrderID, "holdTimeMs": confirmResult.HoldTime.Milliseconds()}
	if confirmResult.HasPnL {
		outcome["pnl"] = confirmResult.PnL.String()
	}
	if confirmResult.Status == types.StatusFilled {
		c.metrics.OrdersFilled++
		outcome["clientOrderId"] = ord.ClientOrderID
		c.events.Emit(eventlog.EventOrderConfirmed, outcome)
	} else {
		outcome["status"] = result.Status
		c.events.Emit(eventlog.EventOrderRejected, outcome)
	}

	c.appendTradeRecord(ord, confirmResult, now)

	// Step 13: optional balance sync, live mode only.
	if execCtx.Mode == types.ModeLive && execCtx.SyncBalance != nil {
		if err := execCtx.SyncBalance(); err != nil {
			c.safety.Trigger(safety.ReasonBalanceSyncError, err.Error(), "coordinator")
			return errorResult(err.Error(), now)
		}
	}

	return result
}

func (c *Coordinator) haltOnExecErr(err error, subsystem string) {
	var e *execerr.E
	if ee, ok := err.(*execerr.E); ok {
		e = ee
	}
	if e == nil {
		c.safety.Trigger(safety.ReasonSignError, err.Error(), subsystem)
		return
	}
	if e.Kind.Halts() {
		c.safety.Trigger(toSafetyReason(e.Kind), e.Error(), subsystem)
	}
}

func toSafetyReason(kind execerr.Kind) safety.Reason {
	switch kind {
	case execerr.WSError:
		return safety.ReasonWSError
	case execerr.IOError:
		return safety.ReasonIOError
	case execerr.OrderBuildError:
		return safety.ReasonOrderBuildError
	case execerr.DedupPersistError:
		return safety.ReasonDedupPersistError
	case execerr.SignError:
		return safety.ReasonSignError
	case execerr.APIError:
		return safety.ReasonAPIError
	case execerr.HLReject:
		return safety.ReasonHLReject
	case execerr.PartialLockError:
		return safety.ReasonPartialLockError
	case execerr.BalanceSyncError:
		return safety.ReasonBalanceSyncError
	default:
		return safety.ReasonSignError
	}
}

func (c *Coordinator) appendTradeRecord(ord types.Order, res confirm.Result, now time.Time) {
	action := "OPEN"
	switch {
	case ord.Intent == types.IntentExit:
		action = "CLOSE"
	case res.Status == types.StatusPartial:
		action = "PARTIAL"
	case res.Status == types.StatusRejected:
		action = "REJECTED"
	}

	pnl := decimal.Zero
	if res.HasPnL {
		pnl = res.PnL
	}

	c.trades.Append(types.TradeRecord{
		ID:        ord.ClientOrderID,
		Asset:     ord.Symbol,
		Side:      ord.Side,
		Price:     ord.Price,
		Size:      ord.Size,
		Action:    action,
		PnL:       pnl,
		Timestamp: now,
	})
}

func normalizePayload(payload *types.DecisionPayload) {
	if payload.Market.Mid.IsZero() {
		if !payload.Market.Bid.IsZero() && !payload.Market.Ask.IsZero() {
			payload.Market.Mid = payload.Market.Bid.Add(payload.Market.Ask).Div(decimal.NewFromInt(2))
		}
	}
}

func validatePayload(payload types.DecisionPayload) error {
	if payload.Side != types.SideBuy && payload.Side != types.SideSell {
		return fmt.Errorf("invalid side %q", payload.Side)
	}
	if !payload.Size.IsPositive() {
		return fmt.Errorf("size must be positive")
	}
	if !payload.Market.Mid.IsPositive() {
		return fmt.Errorf("market mid must be positive")
	}
	if payload.Market.Coin == "" {
		return fmt.Errorf("coin must be non-empty")
	}
	return nil
}

func errorResult(msg string, ts time.Time) types.OrderResult {
	return types.OrderResult{Status: types.StatusError, Error: msg, Timestamp: ts}
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
