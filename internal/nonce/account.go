// Package nonce issues per-account sequence numbers safe under concurrent
// allocation, reconciled against the network's observed pending count.
package nonce

import (
	"sync"
	"sync/atomic"
)

// Account tracks the locally-issued sequence state for one signer.
// It is owned exclusively by the Allocator; all mutation happens under
// a narrow per-account critical section that never spans a network call.
type Account struct {
	Address string

	mu            sync.Mutex
	next          uint64 // next sequence number to issue
	lastConfirmed uint64 // highest sequence confirmed on chain
	floor         uint64 // highest authoritative pending count ever observed
	frozen        bool   // set after a pending-count regression
}

// NewAccount creates an account context seeded at the given pending count.
func NewAccount(address string, pending uint64) *Account {
	return &Account{
		Address: address,
		next:    pending,
		floor:   pending,
	}
}

// Reservation represents a reserved sequence number that must be committed
// or rolled back. Use defer r.Rollback() immediately after reserving so
// error paths return the number to the pool.
type Reservation struct {
	value     uint64
	account   *Account
	committed atomic.Bool
}

// Value returns the reserved sequence number.
func (r *Reservation) Value() uint64 {
	return r.value
}

// Commit marks the sequence number as successfully used. Idempotent.
func (r *Reservation) Commit() {
	r.committed.Store(true)
}

// Rollback returns the sequence number to the pool if not committed.
// Idempotent; typically called via defer.
func (r *Reservation) Rollback() {
	if r.committed.Swap(true) {
		return // already committed or rolled back
	}
	r.account.rollback(r.value)
}

// Reserve issues the next sequence number. The returned Reservation MUST be
// either committed or rolled back. Numbers are unique and strictly
// increasing per account across concurrent callers.
func (a *Account) Reserve() (*Reservation, error) {
	a.mu.Lock()
	if a.frozen {
		a.mu.Unlock()
		return nil, ErrAccountFrozen
	}
	value := a.next
	a.next++
	a.mu.Unlock()

	return &Reservation{
		value:   value,
		account: a,
	}, nil
}

// rollback undoes a reservation only if it was the most recent one issued;
// out-of-order rollbacks are dropped so issued numbers never repeat.
func (a *Account) rollback(value uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.next == value+1 {
		a.next = value
	}
}

// Peek returns the next sequence number without reserving it.
func (a *Account) Peek() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}

// MarkConfirmed records that a sequence number reached confirmed state.
func (a *Account) MarkConfirmed(value uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if value >= a.lastConfirmed {
		a.lastConfirmed = value + 1
	}
}

// LastConfirmed returns the confirmed high-water mark.
func (a *Account) LastConfirmed() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastConfirmed
}

// Frozen reports whether issuance is suspended pending operator intervention.
func (a *Account) Frozen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frozen
}

// reconcile applies an authoritative pending count observed on the network.
//
// A higher count means sequence numbers were consumed out of band; the local
// counter jumps forward and never issues a duplicate. A count below the
// previously observed floor means the account was reset externally; that is
// an explicit error condition requiring operator intervention, so issuance
// freezes rather than continuing silently.
func (a *Account) reconcile(pending uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if pending < a.floor {
		a.frozen = true
		return ErrSequenceRegression
	}
	a.floor = pending
	if pending > a.next {
		a.next = pending
	}
	return nil
}

// Reset clears a frozen account and reseeds it at the given pending count.
// Operator-invoked recovery only.
func (a *Account) Reset(pending uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.frozen = false
	a.next = pending
	a.floor = pending
	if a.lastConfirmed > pending {
		a.lastConfirmed = pending
	}
}
