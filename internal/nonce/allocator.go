package nonce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrSequenceRegression is returned when the network's authoritative pending
// count drops below a previously observed value. Continuing would risk
// duplicate issuance, so the affected account is frozen until Reset.
var ErrSequenceRegression = errors.New("authoritative pending count regressed")

// ErrAccountFrozen is returned when reserving on a frozen account.
var ErrAccountFrozen = errors.New("account frozen pending operator reset")

// ErrUnknownAccount is returned for addresses not registered with the allocator.
var ErrUnknownAccount = errors.New("unknown account")

// PendingCounter fetches the authoritative pending sequence count for an
// address. Satisfied by rpc.Client.
type PendingCounter interface {
	PendingNonceAt(ctx context.Context, address string) (uint64, error)
}

// Allocator issues monotonically increasing per-account sequence numbers,
// seeded from and periodically reconciled against the network.
type Allocator struct {
	client PendingCounter
	logger *slog.Logger

	mu       sync.RWMutex
	accounts map[string]*Account
}

// NewAllocator creates an allocator backed by the given pending-count source.
func NewAllocator(client PendingCounter, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{
		client:   client,
		logger:   logger,
		accounts: make(map[string]*Account),
	}
}

// Seed registers an account, fetching its current pending count as the
// starting sequence number. Re-seeding an existing account reconciles it
// instead of replacing it.
func (a *Allocator) Seed(ctx context.Context, address string) (*Account, error) {
	pending, err := a.client.PendingNonceAt(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("seed %s: %w", address, err)
	}

	a.mu.Lock()
	acct, ok := a.accounts[address]
	if !ok {
		acct = NewAccount(address, pending)
		a.accounts[address] = acct
		a.mu.Unlock()
		a.logger.Debug("account seeded",
			slog.String("address", address),
			slog.Uint64("pending", pending),
		)
		return acct, nil
	}
	a.mu.Unlock()

	if err := acct.reconcile(pending); err != nil {
		return nil, fmt.Errorf("reseed %s: %w", address, err)
	}
	return acct, nil
}

// SeedAll seeds many accounts in parallel with bounded RPC concurrency.
func (a *Allocator) SeedAll(ctx context.Context, addresses []string) error {
	var wg sync.WaitGroup
	errChan := make(chan error, len(addresses))
	sem := make(chan struct{}, 16) // limit concurrent RPC calls

	for _, addr := range addresses {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if _, err := a.Seed(ctx, addr); err != nil {
				select {
				case errChan <- err:
				default:
				}
			}
		}(addr)
	}

	wg.Wait()
	close(errChan)

	if err := <-errChan; err != nil {
		return err
	}
	a.logger.Info("accounts seeded", slog.Int("count", len(addresses)))
	return nil
}

// Account returns the registered account context for an address.
func (a *Allocator) Account(address string) (*Account, error) {
	a.mu.RLock()
	acct, ok := a.accounts[address]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, address)
	}
	return acct, nil
}

// Accounts returns all registered accounts.
func (a *Allocator) Accounts() []*Account {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Account, 0, len(a.accounts))
	for _, acct := range a.accounts {
		out = append(out, acct)
	}
	return out
}

// Reserve issues the next sequence number for an address. The reservation
// must be committed after a successful send or rolled back on failure.
func (a *Allocator) Reserve(address string) (*Reservation, error) {
	acct, err := a.Account(address)
	if err != nil {
		return nil, err
	}
	return acct.Reserve()
}

// Next issues and immediately commits the next sequence number.
func (a *Allocator) Next(address string) (uint64, error) {
	r, err := a.Reserve(address)
	if err != nil {
		return 0, err
	}
	r.Commit()
	return r.Value(), nil
}

// Reconcile checks every account against the network's authoritative pending
// count. Higher counts jump the local counter forward; regressions freeze
// the account and are surfaced to the operator.
func (a *Allocator) Reconcile(ctx context.Context) error {
	var firstErr error
	for _, acct := range a.Accounts() {
		pending, err := a.client.PendingNonceAt(ctx, acct.Address)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("reconcile %s: %w", acct.Address, err)
			}
			continue
		}
		jumped := pending > acct.Peek()
		if err := acct.reconcile(pending); err != nil {
			a.logger.Error("sequence regression detected",
				slog.String("address", acct.Address),
				slog.Uint64("pending", pending),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", acct.Address, err)
			}
			continue
		}
		if jumped {
			a.logger.Debug("local counter jumped forward",
				slog.String("address", acct.Address),
				slog.Uint64("pending", pending),
			)
		}
	}
	return firstErr
}

// Run reconciles on a fixed interval until the context is cancelled.
// Regressions are logged; the loop keeps running for unaffected accounts.
func (a *Allocator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Reconcile(ctx); err != nil && ctx.Err() == nil {
				a.logger.Warn("reconciliation error", slog.String("error", err.Error()))
			}
		}
	}
}
