// Package mempool implements the FIFO-ordered pool of pending transactions
// awaiting block inclusion, with capacity and age-based eviction.
package mempool

import (
	"errors"
	"sync"
	"time"

	"github.com/guts-org/guts-node/txn"
)

const (
	// DefaultMaxTransactions caps pool size; Add evicts the FIFO-oldest
	// entry to make room rather than rejecting admission.
	DefaultMaxTransactions = 10_000
	// DefaultMaxTransactionAge is how long an entry may sit in the pool
	// before it is skipped by GetForProposal and purged by ReapExpired.
	DefaultMaxTransactionAge = 10 * time.Minute
	// DefaultMaxTransactionsPerBlock bounds a single proposal.
	DefaultMaxTransactionsPerBlock = 1000
)

// ErrDuplicateTransaction is returned by Add when the transaction ID is
// already present in the pool.
var ErrDuplicateTransaction = errors.New("mempool: duplicate transaction")

// Entry is a pooled transaction plus its pool-local bookkeeping.
type Entry struct {
	Transaction  *txn.Transaction
	AddedAt      time.Time
	ProposeCount int
}

// Config bounds pool capacity and age.
type Config struct {
	MaxTransactions         int
	MaxTransactionAge       time.Duration
	MaxTransactionsPerBlock int
}

// DefaultConfig returns the numeric defaults used across the cluster unless
// overridden, matching the original reference implementation's mempool
// configuration.
func DefaultConfig() Config {
	return Config{
		MaxTransactions:         DefaultMaxTransactions,
		MaxTransactionAge:       DefaultMaxTransactionAge,
		MaxTransactionsPerBlock: DefaultMaxTransactionsPerBlock,
	}
}

// Mempool is a thread-safe, FIFO-ordered pending-transaction pool. The map
// and the FIFO deque are mutated under one writer lock so they never
// diverge; readers see a consistent snapshot.
type Mempool struct {
	mu     sync.RWMutex
	cfg    Config
	byID   map[string]*Entry
	order  []string // insertion-ordered transaction IDs
}

// New creates an empty mempool with cfg. Zero-value fields in cfg fall back
// to DefaultConfig.
func New(cfg Config) *Mempool {
	if cfg.MaxTransactions == 0 {
		cfg.MaxTransactions = DefaultMaxTransactions
	}
	if cfg.MaxTransactionAge == 0 {
		cfg.MaxTransactionAge = DefaultMaxTransactionAge
	}
	if cfg.MaxTransactionsPerBlock == 0 {
		cfg.MaxTransactionsPerBlock = DefaultMaxTransactionsPerBlock
	}
	return &Mempool{cfg: cfg, byID: make(map[string]*Entry)}
}

// Add validates the signature and inserts tx, evicting the FIFO-oldest
// entry when the pool is at capacity. Returns ErrDuplicateTransaction if the
// ID is already present — a full pool is never itself an admission error.
func (m *Mempool) Add(tx *txn.Transaction) error {
	if err := tx.VerifySignature(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[tx.ID]; exists {
		return ErrDuplicateTransaction
	}
	if len(m.byID) >= m.cfg.MaxTransactions {
		m.evictOldestLocked()
	}
	m.byID[tx.ID] = &Entry{Transaction: tx, AddedAt: time.Now()}
	m.order = append(m.order, tx.ID)
	return nil
}

func (m *Mempool) evictOldestLocked() {
	for len(m.order) > 0 {
		oldest := m.order[0]
		m.order = m.order[1:]
		if _, ok := m.byID[oldest]; ok {
			delete(m.byID, oldest)
			return
		}
	}
}

// Get returns the transaction for id, if present.
func (m *Mempool) Get(id string) (*txn.Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	return e.Transaction, true
}

// Contains reports whether id is currently pooled.
func (m *Mempool) Contains(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byID[id]
	return ok
}

// Remove deletes a single entry.
func (m *Mempool) Remove(id string) { m.RemoveBatch([]string{id}) }

// RemoveBatch deletes entries by ID, preserving FIFO order of the
// remainder.
func (m *Mempool) RemoveBatch(ids []string) {
	if len(ids) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	filtered := m.order[:0:0]
	for _, id := range m.order {
		if _, gone := drop[id]; gone {
			delete(m.byID, id)
			continue
		}
		filtered = append(filtered, id)
	}
	m.order = filtered
}

// GetForProposal returns up to MaxTransactionsPerBlock entries in FIFO
// order, skipping (not removing) entries older than MaxTransactionAge, and
// bumps ProposeCount on each returned entry.
func (m *Mempool) GetForProposal() []*txn.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := make([]*txn.Transaction, 0, m.cfg.MaxTransactionsPerBlock)
	for _, id := range m.order {
		if len(out) >= m.cfg.MaxTransactionsPerBlock {
			break
		}
		e, ok := m.byID[id]
		if !ok {
			continue
		}
		if now.Sub(e.AddedAt) > m.cfg.MaxTransactionAge {
			continue
		}
		e.ProposeCount++
		out = append(out, e.Transaction)
	}
	return out
}

// ReapExpired removes every entry older than MaxTransactionAge and returns
// the count removed.
func (m *Mempool) ReapExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var expired []string
	for _, id := range m.order {
		if e, ok := m.byID[id]; ok && now.Sub(e.AddedAt) > m.cfg.MaxTransactionAge {
			expired = append(expired, id)
		}
	}
	if len(expired) == 0 {
		return 0
	}
	drop := make(map[string]struct{}, len(expired))
	for _, id := range expired {
		drop[id] = struct{}{}
	}
	filtered := m.order[:0:0]
	for _, id := range m.order {
		if _, gone := drop[id]; gone {
			delete(m.byID, id)
			continue
		}
		filtered = append(filtered, id)
	}
	m.order = filtered
	return len(expired)
}

// Size returns the current pool size.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// Stats summarizes pool occupancy for the consensus-inspection endpoint.
type Stats struct {
	Count            int     `json:"count"`
	OldestAgeSeconds float64 `json:"oldest_age_seconds"`
	AvgProposeCount  float64 `json:"avg_propose_count"`
}

// Stats computes count, oldest age, and average propose count.
func (m *Mempool) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.byID) == 0 {
		return Stats{}
	}
	now := time.Now()
	var oldest time.Duration
	var totalPropose int
	for _, e := range m.byID {
		if age := now.Sub(e.AddedAt); age > oldest {
			oldest = age
		}
		totalPropose += e.ProposeCount
	}
	return Stats{
		Count:            len(m.byID),
		OldestAgeSeconds: oldest.Seconds(),
		AvgProposeCount:  float64(totalPropose) / float64(len(m.byID)),
	}
}
