// Package store implements the Persistent State Store (SPEC_FULL.md §4.1):
// the durable nonce counter, idempotency-key set, and partial-fill lock.
// Grounded on the teacher's storage/database.go single-struct persistence
// shape, adapted into a single-goroutine actor per DESIGN NOTES §9 — every
// mutation is a typed request dispatched over a channel and answered on a
// per-call response channel, and every write is atomic (temp file + rename).
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PartialLock is the persisted record suppressing new entries while a
// partially-filled order is outstanding (§3).
type PartialLock struct {
	OrderID       string   `json:"orderId"`
	RemainingSize float64  `json:"remainingSize"`
	Side          string   `json:"side"`
	Price         *float64 `json:"price"`
	TS            int64    `json:"ts"`
}

// document is the exact on-disk JSON shape (§6).
type document struct {
	CurrentNonce  uint64       `json:"currentNonce"`
	ProcessedKeys []string     `json:"processedKeys"`
	PartialLock   *PartialLock `json:"partialLock"`
}

type opKind int

const (
	opAllocateNonce opKind = iota
	opResetNonce
	opClaimKey
	opHasKey
	opSetPartialLock
	opClearPartialLock
	opGetPartialLock
)

type request struct {
	kind  opKind
	key   string
	lock  *PartialLock
	reply chan response
}

type response struct {
	u64  uint64
	ok   bool
	lock *PartialLock
	err  error
}

// Store is the Persistent State Store. Construct with Open; Close releases
// the backing goroutine.
type Store struct {
	path string
	reqs chan request
	done chan struct{}
}

// Open reads path if it exists (sanitizing malformed records to defaults,
// per §4.1) and starts the single-writer actor goroutine.
func Open(path string) (*Store, error) {
	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}

	s := &Store{
		path: path,
		reqs: make(chan request),
		done: make(chan struct{}),
	}
	go s.run(doc)
	return s, nil
}

func readDocument(path string) (document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return document{ProcessedKeys: []string{}}, nil
		}
		return document{}, fmt.Errorf("store: read %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		// malformed file: sanitize to defaults rather than fail startup.
		return document{ProcessedKeys: []string{}}, nil
	}
	if doc.ProcessedKeys == nil {
		doc.ProcessedKeys = []string{}
	}
	if doc.PartialLock != nil && (doc.PartialLock.OrderID == "" || doc.PartialLock.TS <= 0) {
		doc.PartialLock = nil
	}
	return doc, nil
}

func (s *Store) run(doc document) {
	keys := make(map[string]bool, len(doc.ProcessedKeys))
	for _, k := range doc.ProcessedKeys {
		keys[k] = true
	}

	persist := func() error {
		doc.ProcessedKeys = make([]string, 0, len(keys))
		for k := range keys {
			doc.ProcessedKeys = append(doc.ProcessedKeys, k)
		}
		return writeAtomic(s.path, doc)
	}

	for {
		select {
		case req := <-s.reqs:
			switch req.kind {
			case opAllocateNonce:
				n := doc.CurrentNonce
				doc.CurrentNonce++
				err := persist()
				if err != nil {
					doc.CurrentNonce = n
				}
				req.reply <- response{u64: n, err: err}

			case opResetNonce:
				prev := doc.CurrentNonce
				doc.CurrentNonce = 0
				err := persist()
				if err != nil {
					doc.CurrentNonce = prev
				}
				req.reply <- response{err: err}

			case opClaimKey:
				if keys[req.key] {
					req.reply <- response{ok: false}
					continue
				}
				keys[req.key] = true
				err := persist()
				if err != nil {
					delete(keys, req.key)
					req.reply <- response{ok: false, err: err}
					continue
				}
				req.reply <- response{ok: true}

			case opHasKey:
				req.reply <- response{ok: keys[req.key]}

			case opSetPartialLock:
				prev := doc.PartialLock
				doc.PartialLock = req.lock
				if err := persist(); err != nil {
					doc.PartialLock = prev
					req.reply <- response{err: err}
					continue
				}
				req.reply <- response{ok: true}

			case opClearPartialLock:
				prev := doc.PartialLock
				doc.PartialLock = nil
				if err := persist(); err != nil {
					doc.PartialLock = prev
					req.reply <- response{err: err}
					continue
				}
				req.reply <- response{ok: true}

			case opGetPartialLock:
				req.reply <- response{lock: doc.PartialLock}
			}

		case <-s.done:
			return
		}
	}
}

func writeAtomic(path string, doc document) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("store: mkdir %s: %w", dir, err)
		}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("store: rename temp file: %w", err)
	}
	return nil
}

func (s *Store) call(req request) response {
	req.reply = make(chan response, 1)
	s.reqs <- req
	return <-req.reply
}

// AllocateNonce returns the current counter, then increments and durably
// persists before replying (§4.1).
func (s *Store) AllocateNonce() (uint64, error) {
	res := s.call(request{kind: opAllocateNonce})
	return res.u64, res.err
}

// ResetNonce sets the counter to 0 and persists.
func (s *Store) ResetNonce() error {
	return s.call(request{kind: opResetNonce}).err
}

// ClaimProcessedKey returns true iff key was previously absent.
func (s *Store) ClaimProcessedKey(key string) (bool, error) {
	res := s.call(request{kind: opClaimKey, key: key})
	return res.ok, res.err
}

// HasProcessedKey is a read-only membership check.
func (s *Store) HasProcessedKey(key string) bool {
	return s.call(request{kind: opHasKey, key: key}).ok
}

// SetPartialLock persists lock as the single active partial-fill lock.
func (s *Store) SetPartialLock(lock PartialLock) error {
	return s.call(request{kind: opSetPartialLock, lock: &lock}).err
}

// ClearPartialLock removes any active partial-fill lock.
func (s *Store) ClearPartialLock() error {
	return s.call(request{kind: opClearPartialLock}).err
}

// GetPartialLock returns the active lock, or nil if none is set. A lock
// older than ttl is treated by the caller as expired (§4.10 step 4); the
// store itself does not evaluate TTLs.
func (s *Store) GetPartialLock() *PartialLock {
	res := s.call(request{kind: opGetPartialLock})
	return res.lock
}

// NowMillis is a small helper for constructing PartialLock.TS values.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Close stops the actor goroutine. Safe to call once.
func (s *Store) Close() {
	close(s.done)
}
