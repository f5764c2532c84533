package sipstack

import (
	"fmt"
	"sync"
)

// DialogState is a SIP dialog's lifecycle position.
type DialogState string

const (
	DialogEarly      DialogState = "early"
	DialogConfirmed  DialogState = "confirmed"
	DialogTerminated DialogState = "terminated"
)

// DialogKey identifies a dialog by Call-ID and both tags.
type DialogKey struct {
	CallID    string
	LocalTag  string
	RemoteTag string
}

// Dialog tracks the confirmed-call context for one leg: its state and its
// two independently-moving CSeq counters.
type Dialog struct {
	Key   DialogKey
	mu    sync.Mutex
	state DialogState

	localCSeq  int // monotonically incremented for locally-originated requests
	remoteCSeq int // monotone lower bound on the far end's in-dialog requests
}

// NewDialog starts a dialog in the Early state.
func NewDialog(key DialogKey) *Dialog {
	return &Dialog{Key: key, state: DialogEarly}
}

// State returns the dialog's current state.
func (d *Dialog) State() DialogState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Confirm moves an Early dialog to Confirmed (on the ACK/200 handshake
// completing).
func (d *Dialog) Confirm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == DialogEarly {
		d.state = DialogConfirmed
	}
}

// Terminate moves the dialog to its terminal state.
func (d *Dialog) Terminate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = DialogTerminated
}

// NextLocalCSeq increments and returns the CSeq to use on the next
// locally-originated in-dialog request.
func (d *Dialog) NextLocalCSeq() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.localCSeq++
	return d.localCSeq
}

// AcceptRemoteCSeq validates and records an incoming in-dialog request's
// CSeq, which must strictly increase (except retransmits, handled upstream
// by the transaction layer, which never reach here twice).
func (d *Dialog) AcceptRemoteCSeq(cseq int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cseq <= d.remoteCSeq && d.remoteCSeq != 0 {
		return fmt.Errorf("sipstack: out-of-order remote CSeq %d (have %d)", cseq, d.remoteCSeq)
	}
	d.remoteCSeq = cseq
	return nil
}
