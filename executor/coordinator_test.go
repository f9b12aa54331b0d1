package executor_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordersys/hlexec/eventlog"
	"github.com/ordersys/hlexec/executor"
	"github.com/ordersys/hlexec/safety"
	"github.com/ordersys/hlexec/sender"
	"github.com/ordersys/hlexec/signer"
	"github.com/ordersys/hlexec/store"
	"github.com/ordersys/hlexec/tradelog"
	"github.com/ordersys/hlexec/types"
)

func validSignature() string {
	out := make([]byte, 0, 130)
	for i := 0; i < 64; i++ {
		out = append(out, "aa"...)
	}
	out = append(out, "1b"...)
	return "0x" + string(out)
}

func newCoordinator(t *testing.T) *executor.Coordinator {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	t.Cleanup(st.Close)

	events, err := eventlog.Open(filepath.Join(t.TempDir(), "events.log"))
	require.NoError(t, err)
	t.Cleanup(func() { events.Close() })

	trades, err := tradelog.Open("")
	require.NoError(t, err)

	sup := safety.New(nil, nil)

	signerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "signature": validSignature()})
	}))
	t.Cleanup(signerSrv.Close)

	senderSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "data": map[string]any{"filled": true, "orderId": "O1"}})
	}))
	t.Cleanup(senderSrv.Close)

	signerCfg := signer.DefaultConfig()
	signerCfg.AdapterURL = signerSrv.URL
	signerCfg.Timeout = time.Second
	sc := signer.New(signerCfg, st, sup, events, "0xAGENT", func(string) bool { return true }, false)

	senderCfg := sender.DefaultConfig()
	senderCfg.BaseURL = senderSrv.URL
	senderCfg.Timeout = time.Second
	sd := sender.New(senderCfg, false)

	return executor.New(st, sup, sc, sd, events, trades, 30*time.Second)
}

// newCoordinatorWithTrades is identical to newCoordinator but backs the
// trade log with a real sqlite file so tests can inspect what was recorded.
func newCoordinatorWithTrades(t *testing.T) (*executor.Coordinator, *tradelog.Log) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	t.Cleanup(st.Close)

	events, err := eventlog.Open(filepath.Join(t.TempDir(), "events.log"))
	require.NoError(t, err)
	t.Cleanup(func() { events.Close() })

	trades, err := tradelog.Open(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { trades.Close() })

	sup := safety.New(nil, nil)

	signerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "signature": validSignature()})
	}))
	t.Cleanup(signerSrv.Close)

	senderSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "data": map[string]any{"filled": true, "orderId": "O1"}})
	}))
	t.Cleanup(senderSrv.Close)

	signerCfg := signer.DefaultConfig()
	signerCfg.AdapterURL = signerSrv.URL
	signerCfg.Timeout = time.Second
	sc := signer.New(signerCfg, st, sup, events, "0xAGENT", func(string) bool { return true }, false)

	senderCfg := sender.DefaultConfig()
	senderCfg.BaseURL = senderSrv.URL
	senderCfg.Timeout = time.Second
	sd := sender.New(senderCfg, false)

	return executor.New(st, sup, sc, sd, events, trades, 30*time.Second), trades
}

func samplePayload() types.DecisionPayload {
	return types.DecisionPayload{
		Timestamp:  time.Now(),
		Side:       types.SideBuy,
		Size:       decimal.NewFromFloat(0.01),
		DecisionID: "D1",
		Market: types.MarketSnapshot{
			Coin: "BTC",
			Mid:  decimal.NewFromInt(50_000),
		},
	}
}

func TestHandleDuplicateDecisionReturnsExpired(t *testing.T) {
	c := newCoordinator(t)
	payload := samplePayload()
	execCtx := types.ExecContext{Mode: types.ModeLive}

	first := c.Handle(context.Background(), payload, execCtx)
	assert.NotEqual(t, types.StatusExpired, first.Status)

	second := c.Handle(context.Background(), payload, execCtx)
	assert.Equal(t, types.StatusExpired, second.Status)
	assert.Empty(t, second.Error)
}

func TestHandleReturnsErrorWhenHalted(t *testing.T) {
	c := newCoordinator(t)
	// Force a halt via an invalid payload first.
	bad := samplePayload()
	bad.Size = decimal.Zero
	res := c.Handle(context.Background(), bad, types.ExecContext{Mode: types.ModeLive})
	assert.Equal(t, types.StatusError, res.Status)

	// Any subsequent call must short-circuit without touching the network.
	res2 := c.Handle(context.Background(), samplePayload(), types.ExecContext{Mode: types.ModeLive})
	assert.Equal(t, types.StatusError, res2.Status)
	assert.Equal(t, "safety halted", res2.Error)
}

func TestHandleWsUnhealthyHalts(t *testing.T) {
	c := newCoordinator(t)
	res := c.Handle(context.Background(), samplePayload(), types.ExecContext{Mode: types.ModeLive, WSState: types.WSStateLost})
	assert.Equal(t, types.StatusError, res.Status)

	res2 := c.Handle(context.Background(), samplePayload(), types.ExecContext{Mode: types.ModeLive})
	assert.Equal(t, "safety halted", res2.Error)
}

func TestHandleComputesPnLFromOpenPositionEntryPriceNotCurrentMid(t *testing.T) {
	c, trades := newCoordinatorWithTrades(t)
	payload := samplePayload()
	payload.Side = types.SideSell // closing a long at the current mid
	payload.OpenPosition = &types.OpenPosition{
		Side:       types.SideBuy,
		Size:       decimal.NewFromFloat(0.01),
		EntryPrice: decimal.NewFromInt(49_000), // opened 1000 below the current mid (50_000)
	}

	res := c.Handle(context.Background(), payload, types.ExecContext{Mode: types.ModeLive})
	require.Equal(t, types.StatusFilled, res.Status)

	recent, err := trades.Recent(1)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	// Confirm's sell formula is (entryPrice - exitPrice) * size; exitPrice here
	// is the current mid (50_000), so a correct wiring yields a nonzero,
	// negative PnL. Re-reading the current mid as "entry price" (the bug)
	// would make entryPrice == exitPrice and PnL always exactly zero.
	assert.True(t, recent[0].PnL.IsNegative(), "expected nonzero PnL, got %s", recent[0].PnL)
}

func TestHandleConcurrentLiveCallsBothComplete(t *testing.T) {
	c := newCoordinator(t)

	var order []int
	var mu = make(chan struct{}, 1)
	mu <- struct{}{}

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		idx := i
		go func() {
			payload := samplePayload()
			payload.DecisionID = ""
			payload.Timestamp = time.Now().Add(time.Duration(idx) * time.Nanosecond)
			c.Handle(context.Background(), payload, types.ExecContext{Mode: types.ModeLive})
			<-mu
			order = append(order, idx)
			mu <- struct{}{}
			done <- struct{}{}
		}()
	}
	<-done
	<-done

	assert.Len(t, order, 2)
}
