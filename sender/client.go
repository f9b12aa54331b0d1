// Package sender is the Exchange Sender HTTP client (SPEC_FULL.md §4.8):
// posts {action, nonce, signature} to the exchange with bounded retries
// and maps the response into an ok/error envelope, flagging fatal rejects
// to its caller, which owns the Safety-Halt. Shares internal/httpretry with the signer
// client rather than duplicating exec/client.go's retry loop twice.
package sender

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ordersys/hlexec/internal/httpretry"
	"github.com/ordersys/hlexec/types"
)

// Config parameterizes the sender client (§6).
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	// IsFatalReject decides whether an error response is a fatal reject,
	// which the Coordinator halts on as hl_reject instead of api_error
	// (§9 Open Question decision). Defaults to matching
	// code=="UNAUTHORIZED" or a "signature" substring in message.
	IsFatalReject func(code, message string) bool
}

func DefaultIsFatalReject(code, message string) bool {
	if code == "UNAUTHORIZED" {
		return true
	}
	return strings.Contains(strings.ToLower(message), "signature")
}

func DefaultConfig() Config {
	return Config{
		BaseURL:       "https://api.hyperliquid.xyz",
		Timeout:       4 * time.Second,
		MaxRetries:    3,
		RetryDelay:    250 * time.Millisecond,
		IsFatalReject: DefaultIsFatalReject,
	}
}

// ResponseError is the structured error half of an API response (§4.8).
type ResponseError struct {
	Code    string
	Message string
	Cause   error
}

func (e *ResponseError) Error() string {
	return e.Code + ": " + e.Message
}

// APIResponse is the mapped outcome of one send (§4.8).
type APIResponse struct {
	OK    bool
	Data  map[string]any
	Error *ResponseError
}

// Client is the Exchange Sender collaborator.
type Client struct {
	cfg    Config
	http   *http.Client
	dryRun bool
}

func New(cfg Config, dryRun bool) *Client {
	if cfg.IsFatalReject == nil {
		cfg.IsFatalReject = DefaultIsFatalReject
	}
	return &Client{cfg: cfg, http: &http.Client{}, dryRun: dryRun}
}

type sendRequest struct {
	Action       types.HLAction `json:"action"`
	Nonce        uint64         `json:"nonce"`
	Signature    string         `json:"signature"`
	VaultAddress *string        `json:"vaultAddress"`
}

// Send posts the signed action to the exchange (§4.8). Test mode and
// DRY_RUN bypass the network entirely.
func (c *Client) Send(ctx context.Context, action types.HLAction, signResult types.SignResult, execCtx types.ExecContext) (APIResponse, bool) {
	if execCtx.Mode == types.ModeTest {
		return APIResponse{OK: true, Data: map[string]any{"status": "accepted"}}, false
	}
	if c.dryRun {
		return APIResponse{OK: true, Data: map[string]any{"status": "dry_run"}}, false
	}
	if signResult.Signature == "" {
		return APIResponse{OK: false, Error: &ResponseError{Code: "MISSING_SIGNATURE", Message: "no signature attached"}}, false
	}

	body := sendRequest{Action: action, Nonce: signResult.Nonce, Signature: signResult.Signature}

	res, err := httpretry.PostJSON(ctx, c.http, c.cfg.BaseURL+"/exchange", body, httpretry.Config{
		Timeout:    c.cfg.Timeout,
		MaxRetries: c.cfg.MaxRetries,
		RetryDelay: c.cfg.RetryDelay,
	})
	if err != nil {
		return APIResponse{OK: false, Error: &ResponseError{Code: "API_ERROR", Message: err.Error(), Cause: err}}, false
	}

	var parsed struct {
		OK    bool           `json:"ok"`
		Data  map[string]any `json:"data"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(res.Body, &parsed); err != nil {
		return APIResponse{OK: false, Error: &ResponseError{Code: "API_ERROR", Message: "malformed response", Cause: err}}, false
	}
	if !parsed.OK || parsed.Error != nil {
		code, message := "", ""
		if parsed.Error != nil {
			code, message = parsed.Error.Code, parsed.Error.Message
		}
		fatal := c.cfg.IsFatalReject(code, message)
		return APIResponse{OK: false, Error: &ResponseError{Code: code, Message: message}}, fatal
	}

	return APIResponse{OK: true, Data: parsed.Data}, false
}
