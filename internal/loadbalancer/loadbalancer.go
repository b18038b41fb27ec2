// Package loadbalancer picks a Canvas credential from the pool for each
// caller request, favoring the account with the lowest load per weight.
package loadbalancer

import (
	"context"
	"errors"
	"sync"
	"time"

	"canvas-api/internal/store"
)

const defaultCacheTTL = 5 * time.Second

var ErrNoAccounts = errors.New("no enabled accounts available")

type LoadBalancer struct {
	store          *store.Store
	mu             sync.RWMutex
	cachedAccounts []*store.Account
	cacheExpires   time.Time
	cacheTTL       time.Duration
	activeConns    map[int64]int
}

func New(s *store.Store) *LoadBalancer {
	return NewWithCacheTTL(s, defaultCacheTTL)
}

func NewWithCacheTTL(s *store.Store, cacheTTL time.Duration) *LoadBalancer {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &LoadBalancer{
		store:       s,
		cacheTTL:    cacheTTL,
		activeConns: make(map[int64]int),
	}
}

// Pick returns the least-loaded enabled account and records the use.
func (lb *LoadBalancer) Pick(ctx context.Context) (*store.Account, error) {
	accounts, err := lb.enabledAccounts(ctx)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}

	account := lb.selectAccount(accounts)
	if err := lb.store.IncrementRequestCount(ctx, account.ID); err != nil {
		return nil, err
	}
	return account, nil
}

func (lb *LoadBalancer) enabledAccounts(ctx context.Context) ([]*store.Account, error) {
	now := time.Now()

	lb.mu.RLock()
	if len(lb.cachedAccounts) > 0 && now.Before(lb.cacheExpires) {
		accounts := make([]*store.Account, len(lb.cachedAccounts))
		copy(accounts, lb.cachedAccounts)
		lb.mu.RUnlock()
		return accounts, nil
	}
	lb.mu.RUnlock()

	accounts, err := lb.store.GetEnabledAccounts(ctx)
	if err != nil {
		return nil, err
	}

	lb.mu.Lock()
	lb.cachedAccounts = accounts
	lb.cacheExpires = now.Add(lb.cacheTTL)
	lb.mu.Unlock()

	cached := make([]*store.Account, len(accounts))
	copy(cached, accounts)
	return cached, nil
}

func (lb *LoadBalancer) selectAccount(accounts []*store.Account) *store.Account {
	if len(accounts) == 1 {
		return accounts[0]
	}

	lb.mu.RLock()
	defer lb.mu.RUnlock()

	best := accounts[0]
	minScore := float64(-1)
	for _, acc := range accounts {
		weight := acc.Weight
		if weight <= 0 {
			weight = 1
		}
		score := float64(lb.activeConns[acc.ID]) / float64(weight)
		if minScore < 0 || score < minScore {
			best = acc
			minScore = score
		}
	}
	return best
}

// AcquireConnection marks one in-flight session against the account.
func (lb *LoadBalancer) AcquireConnection(accountID int64) {
	lb.mu.Lock()
	lb.activeConns[accountID]++
	lb.mu.Unlock()
}

// ReleaseConnection undoes AcquireConnection when the session ends.
func (lb *LoadBalancer) ReleaseConnection(accountID int64) {
	lb.mu.Lock()
	if lb.activeConns[accountID] > 0 {
		lb.activeConns[accountID]--
	}
	lb.mu.Unlock()
}
