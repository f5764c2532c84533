// Package sipstack implements the RFC 3261-flavoured server transaction
// layer and the dialog bookkeeping that sits above it: retransmission
// dedup/caching, INVITE vs non-INVITE sub-state tables, and garbage
// collection of transactions that have gone quiet.
package sipstack

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/arzzra/siprtpgw/pkg/sipmsg"
)

// TxState is a transaction's position in its INVITE or non-INVITE
// sub-state table.
type TxState string

const (
	TxTrying     TxState = "trying"
	TxProceeding TxState = "proceeding"
	TxCompleted  TxState = "completed"
	TxConfirmed  TxState = "confirmed"
	TxTerminated TxState = "terminated"
)

// gcInactive is how long a transaction may sit in a terminal-ish state
// before a sweep reclaims it; gcHardCeiling reclaims it unconditionally.
const (
	gcInactive    = 32 * time.Second
	gcHardCeiling = 64 * time.Second
)

// Key identifies a transaction by Call-ID, the top Via branch, and the
// request's own method (ACK to a non-2xx INVITE response is matched to its
// INVITE transaction separately, via the shared branch, since it does not
// get a transaction of its own).
type Key struct {
	CallID string
	Branch string
	Method sipmsg.Method
}

func keyFor(msg *sipmsg.Message) Key {
	return Key{CallID: msg.CallID(), Branch: msg.TopViaBranch(), Method: msg.Method}
}

// Transaction is one server transaction: either an INVITE transaction
// (Trying/Proceeding -> Completed -> Confirmed -> Terminated) or a
// non-INVITE transaction (Trying/Proceeding -> Completed -> Terminated).
type Transaction struct {
	key          Key
	isInvite     bool
	machine      *fsm.FSM
	mu           sync.Mutex
	lastResponse *sipmsg.Message
	lastActivity time.Time
}

func newTransaction(msg *sipmsg.Message) *Transaction {
	t := &Transaction{
		key:          keyFor(msg),
		isInvite:     msg.Method == sipmsg.INVITE,
		lastActivity: time.Now(),
	}
	if t.isInvite {
		t.machine = fsm.NewFSM(string(TxTrying),
			fsm.Events{
				{Name: "provisional", Src: []string{string(TxTrying), string(TxProceeding)}, Dst: string(TxProceeding)},
				{Name: "final", Src: []string{string(TxTrying), string(TxProceeding)}, Dst: string(TxCompleted)},
				{Name: "success", Src: []string{string(TxTrying), string(TxProceeding)}, Dst: string(TxTerminated)},
				{Name: "ack", Src: []string{string(TxCompleted)}, Dst: string(TxConfirmed)},
				{Name: "timeout", Src: []string{string(TxCompleted), string(TxConfirmed)}, Dst: string(TxTerminated)},
			},
			fsm.Callbacks{},
		)
	} else {
		t.machine = fsm.NewFSM(string(TxTrying),
			fsm.Events{
				{Name: "provisional", Src: []string{string(TxTrying)}, Dst: string(TxProceeding)},
				{Name: "final", Src: []string{string(TxTrying), string(TxProceeding)}, Dst: string(TxCompleted)},
				{Name: "timeout", Src: []string{string(TxCompleted)}, Dst: string(TxTerminated)},
			},
			fsm.Callbacks{},
		)
	}
	return t
}

// State returns the transaction's current sub-state.
func (t *Transaction) State() TxState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TxState(t.machine.Current())
}

// CachedResponse returns the last response sent on this transaction, if the
// transaction is in a state whose retransmits are answered verbatim:
// Proceeding, Completed, or Terminated after a 2xx to an INVITE (the
// transaction stays in the table until a sweep removes it).
func (t *Transaction) CachedResponse() (*sipmsg.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := TxState(t.machine.Current())
	if t.lastResponse == nil {
		return nil, false
	}
	if state == TxProceeding || state == TxCompleted {
		return t.lastResponse, true
	}
	if t.isInvite && state == TxTerminated && t.lastResponse.StatusCode < 300 {
		return t.lastResponse, true
	}
	return nil, false
}

// SendResponse records resp as the transaction's response and advances the
// sub-state machine: 1xx moves to Proceeding, a 2xx on an INVITE
// transaction terminates it (handed off to the dialog), and any other
// final response moves to Completed.
func (t *Transaction) SendResponse(resp *sipmsg.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastResponse = resp
	t.lastActivity = time.Now()

	var event string
	switch {
	case resp.StatusCode < 200:
		event = "provisional"
	case t.isInvite && resp.StatusCode < 300:
		event = "success"
	default:
		event = "final"
	}
	if err := t.machine.Event(context.Background(), event); err != nil && !isNoTransitionError(err) {
		return fmt.Errorf("sipstack: %w", err)
	}
	return nil
}

// ReceiveAck moves an INVITE transaction from Completed to Confirmed; it is
// a no-op (not an error) if the transaction is not currently Completed,
// since retransmitted ACKs are expected.
func (t *Transaction) ReceiveAck() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastActivity = time.Now()
	if TxState(t.machine.Current()) != TxCompleted {
		return nil
	}
	if err := t.machine.Event(context.Background(), "ack"); err != nil && !isNoTransitionError(err) {
		return fmt.Errorf("sipstack: %w", err)
	}
	return nil
}

// expired reports whether the transaction should be garbage collected at
// now: past gcInactive while Completed/Confirmed/Terminated, or past
// gcHardCeiling unconditionally.
func (t *Transaction) expired(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	age := now.Sub(t.lastActivity)
	if age > gcHardCeiling {
		return true
	}
	switch TxState(t.machine.Current()) {
	case TxCompleted, TxConfirmed, TxTerminated:
		return age > gcInactive
	default:
		return false
	}
}

func isNoTransitionError(err error) bool {
	_, ok := err.(fsm.NoTransitionError)
	return ok
}
