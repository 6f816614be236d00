// Package pending keeps the append-only list of transactions submitted
// through the wizards and forwards its changes to a webhook.
package pending

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/vault-rewards/internal/model"
)

var (
	// ErrDuplicate is returned when a record with the same hash exists
	ErrDuplicate = errors.New("pending: duplicate transaction hash")

	// ErrNotFound is returned for an unknown hash
	ErrNotFound = errors.New("pending: transaction not found")

	// ErrFinalized is returned when changing the status of a mined record
	ErrFinalized = errors.New("pending: transaction already finalized")
)

// Listener observes every record added or updated, after the change is
// applied. It must not block.
type Listener func(tx model.PendingTransaction)

// Registry is safe for concurrent use
type Registry struct {
	mu        sync.RWMutex
	byHash    map[common.Hash]*model.PendingTransaction
	order     []common.Hash
	listeners []Listener
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{byHash: make(map[common.Hash]*model.PendingTransaction)}
}

// Subscribe registers l for future changes
func (r *Registry) Subscribe(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Add appends a record. A zero status is stored as pending and a zero
// submission time as now.
func (r *Registry) Add(tx model.PendingTransaction) error {
	if tx.Hash == (common.Hash{}) {
		return fmt.Errorf("pending: empty transaction hash")
	}
	rec := clone(tx)
	if rec.Status == "" {
		rec.Status = model.TxStatusPending
	}
	if rec.SubmittedAt == 0 {
		rec.SubmittedAt = time.Now().Unix()
	}

	r.mu.Lock()
	if _, ok := r.byHash[rec.Hash]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicate, rec.Hash.Hex())
	}
	r.byHash[rec.Hash] = &rec
	r.order = append(r.order, rec.Hash)
	listeners := r.listeners
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"hash": rec.Hash.Hex(),
		"type": rec.Type,
	}).Info("Pending transaction added")
	notify(listeners, rec)
	return nil
}

// SetStatus moves a pending record to status. Setting the current status
// again is a no-op.
func (r *Registry) SetStatus(hash common.Hash, status model.TxStatus) error {
	r.mu.Lock()
	rec, ok := r.byHash[hash]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, hash.Hex())
	}
	if rec.Status == status {
		r.mu.Unlock()
		return nil
	}
	if rec.Status != model.TxStatusPending {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrFinalized, hash.Hex(), rec.Status)
	}
	rec.Status = status
	if status != model.TxStatusPending {
		rec.ConfirmedAt = time.Now().Unix()
	}
	updated := clone(*rec)
	listeners := r.listeners
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"hash":   hash.Hex(),
		"status": status,
	}).Info("Pending transaction updated")
	notify(listeners, updated)
	return nil
}

// Get returns a copy of the record for hash
func (r *Registry) Get(hash common.Hash) (model.PendingTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byHash[hash]
	if !ok {
		return model.PendingTransaction{}, fmt.Errorf("%w: %s", ErrNotFound, hash.Hex())
	}
	return clone(*rec), nil
}

// List returns all records in submission order
func (r *Registry) List() []model.PendingTransaction {
	return r.filter(func(model.PendingTransaction) bool { return true })
}

// ListByStatus returns the records with status in submission order
func (r *Registry) ListByStatus(status model.TxStatus) []model.PendingTransaction {
	return r.filter(func(tx model.PendingTransaction) bool { return tx.Status == status })
}

// Len returns the number of records
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) filter(keep func(model.PendingTransaction) bool) []model.PendingTransaction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.PendingTransaction, 0, len(r.order))
	for _, h := range r.order {
		if rec := r.byHash[h]; keep(*rec) {
			out = append(out, clone(*rec))
		}
	}
	return out
}

func notify(listeners []Listener, tx model.PendingTransaction) {
	for _, l := range listeners {
		l(tx)
	}
}

func clone(tx model.PendingTransaction) model.PendingTransaction {
	if tx.Amount != nil {
		tx.Amount = new(big.Int).Set(tx.Amount)
	}
	return tx
}
