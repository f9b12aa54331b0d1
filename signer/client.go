// Package signer is the Signer HTTP client (SPEC_FULL.md §4.7): it asks a
// remote signer service for an EIP-712-style signature over the exact
// built HL action, validates the response shape, and wires into the
// Safety Supervisor and the nonce/idempotency store. Grounded on the
// teacher's exec/client.go doRequest/timeout/retry shape; the
// signature-format check mirrors internal/arbitrage/eip712.go's
// hex/recovery-byte handling.
package signer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ordersys/hlexec/eventlog"
	"github.com/ordersys/hlexec/internal/execerr"
	"github.com/ordersys/hlexec/internal/httpretry"
	"github.com/ordersys/hlexec/safety"
	"github.com/ordersys/hlexec/store"
	"github.com/ordersys/hlexec/types"
)

// sentinelSignature is returned in test mode without contacting the
// signer (§4.7 step 8).
var sentinelSignature = "0x" + "11" + repeatHex(63) + "1b"

func repeatHex(n int) string {
	return strings.Repeat("aa", n)
}

// Config parameterizes the signer client (§6).
type Config struct {
	AdapterURL string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		AdapterURL: "http://localhost:8000",
		Timeout:    2500 * time.Millisecond,
		MaxRetries: 3,
		RetryDelay: 250 * time.Millisecond,
	}
}

// CoinAllowed reports whether a symbol may execute a live order.
type CoinAllowed func(symbol string) bool

// Client is the Signer HTTP client collaborator.
type Client struct {
	cfg         Config
	http        *http.Client
	store       *store.Store
	safety      *safety.Supervisor
	events      *eventlog.Log
	coinAllowed CoinAllowed
	agentAddr   string
	dryRun      bool
}

// New builds a signer Client.
func New(cfg Config, st *store.Store, sup *safety.Supervisor, events *eventlog.Log, agentAddr string, coinAllowed CoinAllowed, dryRun bool) *Client {
	return &Client{
		cfg:         cfg,
		http:        &http.Client{},
		store:       st,
		safety:      sup,
		events:      events,
		coinAllowed: coinAllowed,
		agentAddr:   agentAddr,
		dryRun:      dryRun,
	}
}

type signRequest struct {
	Action        types.HLAction `json:"action"`
	Nonce         uint64         `json:"nonce"`
	VaultAddress  *string        `json:"vaultAddress"`
	ExpiresAfter  *int64         `json:"expiresAfter"`
}

type signResponse struct {
	OK        bool   `json:"ok"`
	Signature string `json:"signature"`
	Error     string `json:"error"`
}

// Sign runs the safety/allow-list check→nonce→claim→POST→validate flow
// (§4.7) over an action the caller has already built with order.Encode.
func (c *Client) Sign(ctx context.Context, action types.HLAction, execCtx types.ExecContext) (types.SignResult, error) {
	symbol := ""
	if len(action.Orders) > 0 {
		symbol = action.Orders[0].Asset
	}

	if execCtx.Mode == types.ModeTest {
		return types.SignResult{Signature: sentinelSignature, Nonce: 0, AgentAddress: c.agentAddr}, nil
	}

	if !c.safety.IsLiveEnabled() {
		c.events.Emit(eventlog.EventLiveDisabled, map[string]any{"subsystem": "signer"})
		return types.SignResult{}, execerr.New(execerr.LiveDisabled, "live disabled")
	}
	if c.coinAllowed != nil && symbol != "" && !c.coinAllowed(symbol) {
		return types.SignResult{}, execerr.New(execerr.CoinNotEnabled, symbol)
	}

	nonce, err := c.store.AllocateNonce()
	if err != nil {
		c.safety.Trigger(safety.ReasonDedupPersistError, err.Error(), "signer")
		return types.SignResult{}, execerr.Wrap(execerr.DedupPersistError, "allocate nonce", err)
	}

	nonceKey := fmt.Sprintf("nonce:%s_%d", c.agentAddr, nonce)
	claimed, err := c.store.ClaimProcessedKey(nonceKey)
	if err != nil {
		c.safety.Trigger(safety.ReasonDedupPersistError, err.Error(), "signer")
		return types.SignResult{}, execerr.Wrap(execerr.DedupPersistError, "claim nonce key", err)
	}
	if !claimed {
		return types.SignResult{}, execerr.New(execerr.DuplicateNonce, nonceKey)
	}

	c.events.Emit(eventlog.EventSignRequestCreated, map[string]any{"nonce": nonce})

	if c.dryRun {
		return types.SignResult{Signature: mockSignature(), Nonce: nonce, AgentAddress: c.agentAddr}, nil
	}

	reqBody := signRequest{Action: action, Nonce: nonce}
	c.events.Emit(eventlog.EventSignRequestSent, map[string]any{"nonce": nonce})

	res, err := httpretry.PostJSON(ctx, c.http, c.cfg.AdapterURL+"/sign", reqBody, httpretry.Config{
		Timeout:    c.cfg.Timeout,
		MaxRetries: c.cfg.MaxRetries,
		RetryDelay: c.cfg.RetryDelay,
	})
	if err != nil {
		c.safety.RecordSignerError(err.Error())
		return types.SignResult{}, execerr.Wrap(execerr.SignError, "signer request failed", err)
	}

	var parsed signResponse
	if err := parseJSON(res.Body, &parsed); err != nil || !parsed.OK {
		c.safety.RecordSignerError("malformed or non-ok signer response")
		return types.SignResult{}, execerr.New(execerr.SignError, "non-ok signer response")
	}

	if err := validateSignature(parsed.Signature); err != nil {
		c.safety.Trigger(safety.ReasonInvalidSignature, err.Error(), "signer")
		return types.SignResult{}, execerr.Wrap(execerr.SignError, "invalid signature", err)
	}

	c.safety.RecordSignerSuccess()
	c.events.Emit(eventlog.EventSignResponse, map[string]any{"nonce": nonce})

	return types.SignResult{Signature: parsed.Signature, Nonce: nonce, AgentAddress: c.agentAddr}, nil
}

// validateSignature checks the exact format of §4.7 step 6: 0x-prefixed,
// 132 total chars (0x + 130 hex), and a recovery byte of 0x1b or 0x1c.
// Uses go-ethereum's hexutil decoder, the same hex/recovery-byte handling
// internal/arbitrage/eip712.go relied on for its locally-signed bytes.
func validateSignature(sig string) error {
	if len(sig) != 132 {
		return fmt.Errorf("signer: signature must be 132 chars, got %d", len(sig))
	}
	if !strings.HasPrefix(sig, "0x") {
		return fmt.Errorf("signer: signature must be 0x-prefixed")
	}
	raw, err := hexutil.Decode(sig)
	if err != nil {
		return fmt.Errorf("signer: signature body is not valid hex: %w", err)
	}
	last := raw[len(raw)-1]
	if last != 0x1b && last != 0x1c {
		return fmt.Errorf("signer: recovery byte must be 0x1b or 0x1c, got 0x%02x", last)
	}
	return nil
}

func mockSignature() string {
	return sentinelSignature
}

func parseJSON(data []byte, out any) error {
	return json.Unmarshal(data, out)
}
