package sipstack

import (
	"sync"
	"time"

	"github.com/arzzra/siprtpgw/pkg/sipmsg"
)

// Table is the process-wide set of live server transactions, guarded by a
// single mutex per spec.md's concurrency model.
type Table struct {
	mu sync.Mutex
	tx map[Key]*Transaction
}

// NewTable returns an empty transaction table.
func NewTable() *Table {
	return &Table{tx: make(map[Key]*Transaction)}
}

// Lookup finds the transaction matching a non-ACK request, if any created
// transaction of its own.
func (tb *Table) Lookup(msg *sipmsg.Message) (*Transaction, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	t, ok := tb.tx[keyFor(msg)]
	return t, ok
}

// LookupInvite finds the INVITE transaction sharing callID/branch, used to
// match an incoming ACK (which never gets a transaction of its own).
func (tb *Table) LookupInvite(callID, branch string) (*Transaction, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	t, ok := tb.tx[Key{CallID: callID, Branch: branch, Method: sipmsg.INVITE}]
	return t, ok
}

// Create installs a new transaction for msg and returns it. The caller must
// already have established (via Lookup) that no transaction exists for
// this key.
func (tb *Table) Create(msg *sipmsg.Message) *Transaction {
	t := newTransaction(msg)
	tb.mu.Lock()
	tb.tx[t.key] = t
	tb.mu.Unlock()
	return t
}

// Sweep removes transactions past their garbage-collection deadline and
// returns how many were removed.
func (tb *Table) Sweep(now time.Time) int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	removed := 0
	for k, t := range tb.tx {
		if t.expired(now) {
			delete(tb.tx, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of live transactions, mainly for metrics/tests.
func (tb *Table) Len() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return len(tb.tx)
}
