// Package safety implements the Safety Supervisor (SPEC_FULL.md §4.2): a
// process-wide Normal/Halted state machine guarding all live order flow.
// Grounded on the teacher's risk/circuit_breaker.go trip/reset/cooldown
// shape, generalized from a loss-streak breaker to a multi-reason halt.
package safety

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ordersys/hlexec/eventlog"
)

// Reason is a Safety-Halt trigger, one per SPEC_FULL.md §4.2/§7 kind.
type Reason string

const (
	ReasonSignerUnavailable Reason = "signer_unavailable"
	ReasonInvalidSignature  Reason = "invalid_signature"
	ReasonHLReject          Reason = "hl_reject"
	ReasonWSError           Reason = "ws_error"
	ReasonIOError           Reason = "io_error"
	ReasonOrderBuildError   Reason = "order_build_error"
	ReasonSignError         Reason = "sign_error"
	ReasonAPIError          Reason = "api_error"
	ReasonDedupPersistError Reason = "dedup_persist_error"
	ReasonPartialLockError  Reason = "partial_lock_error"
	ReasonBalanceSyncError  Reason = "balance_sync_error"
)

// alertableReasons notify the best-effort external alert sink (§4.2).
var alertableReasons = map[Reason]bool{
	ReasonHLReject:         true,
	ReasonInvalidSignature: true,
}

// Alerter is the external notification collaborator (alert/telegram.go).
// Notify must not block the caller for long; Supervisor invokes it from a
// separate goroutine.
type Alerter interface {
	Notify(reason Reason, detail string)
}

// State is a point-in-time, read-only snapshot of the supervisor.
type State struct {
	Halted                  bool
	LastHaltReason          Reason
	LastHaltDetail          string
	LastHaltSubsystem       string
	ConsecutiveSignerErrors int
	LastError               string
	LastUpdated             time.Time
}

const signerErrorThreshold = 3

// Supervisor is the Safety Supervisor collaborator. The zero value is not
// usable; construct with New.
type Supervisor struct {
	liveEnabled atomic.Bool

	mu                      sync.RWMutex
	halted                  bool
	lastHaltReason          Reason
	lastHaltDetail          string
	lastHaltSubsystem       string
	consecutiveSignerErrors int
	lastError               string
	lastUpdated             time.Time

	alerter Alerter
	events  *eventlog.Log
}

// New builds a Supervisor starting in Normal mode. alerter may be nil, in
// which case the best-effort notification on hl_reject/invalid_signature is
// skipped. events may be nil, in which case Trigger's safety_halt event is
// skipped (e.g. in tests that don't need an event log).
func New(alerter Alerter, events *eventlog.Log) *Supervisor {
	s := &Supervisor{alerter: alerter, events: events}
	s.liveEnabled.Store(true)
	return s
}

// IsLiveEnabled is the cheap, lock-free read the Coordinator consults both
// before signing and before sending (§4.2 contract).
func (s *Supervisor) IsLiveEnabled() bool {
	return s.liveEnabled.Load()
}

// Trigger transitions Normal → Halted. subsystem is a short caller tag
// (e.g. "signer", "sender", "store") recorded alongside the reason.
func (s *Supervisor) Trigger(reason Reason, detail, subsystem string) {
	s.mu.Lock()
	s.halted = true
	s.lastHaltReason = reason
	s.lastHaltDetail = detail
	s.lastHaltSubsystem = subsystem
	s.lastUpdated = time.Now()
	s.mu.Unlock()

	s.liveEnabled.Store(false)

	if s.events != nil {
		s.events.Emit(eventlog.EventSafetyHalt, map[string]any{
			"reason":    string(reason),
			"detail":    detail,
			"subsystem": subsystem,
		})
	}

	if s.alerter != nil && alertableReasons[reason] {
		go s.alerter.Notify(reason, detail)
	}
}

// Enable is the only Halted → Normal transition, performed by an operator.
func (s *Supervisor) Enable(operator string) {
	s.mu.Lock()
	s.halted = false
	s.lastHaltReason = ""
	s.lastHaltDetail = ""
	s.consecutiveSignerErrors = 0
	s.lastUpdated = time.Now()
	s.mu.Unlock()

	s.liveEnabled.Store(true)
	_ = operator
}

// RecordSignerError increments the consecutive-failure counter; at the
// threshold it self-triggers signer_unavailable.
func (s *Supervisor) RecordSignerError(detail string) {
	s.mu.Lock()
	s.consecutiveSignerErrors++
	n := s.consecutiveSignerErrors
	s.mu.Unlock()

	if n >= signerErrorThreshold {
		s.Trigger(ReasonSignerUnavailable, detail, "signer")
	}
}

// RecordSignerSuccess resets the consecutive-failure counter.
func (s *Supervisor) RecordSignerSuccess() {
	s.mu.Lock()
	s.consecutiveSignerErrors = 0
	s.mu.Unlock()
}

// RecordLastError updates bookkeeping only, without any state transition
// (§4.10 step 12).
func (s *Supervisor) RecordLastError(detail string) {
	s.mu.Lock()
	s.lastError = detail
	s.lastUpdated = time.Now()
	s.mu.Unlock()
}

// Snapshot returns a value-copy of the current state.
func (s *Supervisor) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		Halted:                  s.halted,
		LastHaltReason:          s.lastHaltReason,
		LastHaltDetail:          s.lastHaltDetail,
		LastHaltSubsystem:       s.lastHaltSubsystem,
		ConsecutiveSignerErrors: s.consecutiveSignerErrors,
		LastError:               s.lastError,
		LastUpdated:             s.lastUpdated,
	}
}

// IsHalted is a convenience read over Snapshot().Halted.
func (s *Supervisor) IsHalted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.halted
}
