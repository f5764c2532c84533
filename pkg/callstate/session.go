// Package callstate implements the per-call state machine that drives a
// call's SIP method handlers: the tagged-variant dispatch described for
// the gateway's call-state design, with one handler-bearing type per call
// phase rather than a generic finite-state-machine library.
package callstate

import (
	"fmt"
	"net"
	"sync"

	"github.com/arzzra/siprtpgw/pkg/sdp"
	"github.com/arzzra/siprtpgw/pkg/sipmsg"
	"github.com/arzzra/siprtpgw/pkg/sipstack"
)

// Termination reason strings a state handler passes to
// SetTerminationReason before calling Terminate, matching the CDR sink's
// EndReason enum so the gateway can cast this value directly.
const (
	ReasonRemoteBye         = "remote-bye"
	ReasonLocalBye          = "local-bye"
	ReasonCancel            = "cancel"
	ReasonFailed            = "failed"
	ReasonBackendDisconnect = "backend-disconnect"
)

// ResponseSender writes a SIP response to dest. Supplied by the gateway so
// it can also feed the response into the originating transaction's cache.
type ResponseSender func(resp *sipmsg.Message, dest *net.UDPAddr) error

// PortAllocator binds/returns the RTP+RTCP socket pair backing a call.
type PortAllocator interface {
	Allocate() (int, error)
	Release(localPort int)
}

// MediaPipeline starts, retargets and stops the uplink/downlink audio
// pipeline for a call. Defined here rather than imported from pkg/media so
// this package does not need to depend on the media stage graph.
type MediaPipeline interface {
	Start(localPort int, remoteIP string, remotePort, payloadType int) error
	SetRemote(remoteIP string, remotePort int)
	Stop()
}

// Limits carries the operator-configured values the state handlers need to
// consult: capacity, codec preference order, and the address this gateway
// advertises itself as.
type Limits struct {
	MaxCalls        int
	CodecPreference []string
	BindIP          string
	SipPort         int
}

// State is implemented once per call phase (Idle, Proceeding, Active,
// Terminated). Every SIP method the gateway understands gets its own
// handler so each phase only implements the transitions meaningful to it.
type State interface {
	HandleInvite(s *Session, msg *sipmsg.Message, sender *net.UDPAddr)
	HandleAck(s *Session, msg *sipmsg.Message, sender *net.UDPAddr)
	HandleBye(s *Session, msg *sipmsg.Message, sender *net.UDPAddr)
	HandleCancel(s *Session, msg *sipmsg.Message, sender *net.UDPAddr)
	HandleUpdate(s *Session, msg *sipmsg.Message, sender *net.UDPAddr)
	HandleOptions(s *Session, msg *sipmsg.Message, sender *net.UDPAddr)
	HandleRefer(s *Session, msg *sipmsg.Message, sender *net.UDPAddr)
	Name() string
}

// Session is one call's mutable state: its SIP dialog, its media
// endpoints, and the currently active State variant.
type Session struct {
	callID string

	mu          sync.Mutex
	state       State
	dialog        *sipstack.Dialog
	inviteTx      *sipstack.Transaction
	pendingInvite *sipmsg.Message
	localPort   int
	remoteIP    string
	remotePort  int
	payloadType int
	terminated  bool
	endReason   string

	awaitingReinviteAck bool

	send        ResponseSender
	ports       PortAllocator
	pipeline    MediaPipeline
	limits      Limits
	activeCalls func() int
	onTerminate func(callID string)
}

// NewSession starts a call in IdleState.
func NewSession(callID string, send ResponseSender, ports PortAllocator, pipeline MediaPipeline, limits Limits, activeCalls func() int, onTerminate func(string)) *Session {
	return &Session{
		callID:      callID,
		state:       IdleState{},
		send:        send,
		ports:       ports,
		pipeline:    pipeline,
		limits:      limits,
		activeCalls: activeCalls,
		onTerminate: onTerminate,
	}
}

// CallID returns the call's Call-ID.
func (s *Session) CallID() string { return s.callID }

// State returns the current state variant's name, for logging and tests.
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Name()
}

// SetState swaps the active state variant.
func (s *Session) SetState(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// SetDialog records the dialog created once the call is answered.
func (s *Session) SetDialog(d *sipstack.Dialog) {
	s.mu.Lock()
	s.dialog = d
	s.mu.Unlock()
}

// Dialog returns the call's dialog, if one has been created yet.
func (s *Session) Dialog() *sipstack.Dialog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialog
}

// SetInviteTransaction records the server transaction for the (re-)INVITE
// currently pending a final response, so a race with an incoming CANCEL can
// send 487 on it directly.
func (s *Session) SetInviteTransaction(tx *sipstack.Transaction) {
	s.mu.Lock()
	s.inviteTx = tx
	s.mu.Unlock()
}

// InviteTransaction returns the pending INVITE transaction, if any.
func (s *Session) InviteTransaction() *sipstack.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inviteTx
}

// SetPendingInvite records the (re-)INVITE currently being negotiated, so a
// racing CANCEL can build a proper 487 response against it.
func (s *Session) SetPendingInvite(msg *sipmsg.Message) {
	s.mu.Lock()
	s.pendingInvite = msg
	s.mu.Unlock()
}

// PendingInvite returns the (re-)INVITE set by SetPendingInvite, if any.
func (s *Session) PendingInvite() *sipmsg.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingInvite
}

// AwaitingReinviteAck reports whether a re-INVITE this session sent a 200 OK
// for is still waiting on its ACK. A new re-INVITE arriving while this is
// set is glare and must be rejected with 491 Request Pending rather than
// started, since this gateway's single-threaded dispatch loop only ever
// has one re-INVITE negotiation outstanding at a time.
func (s *Session) AwaitingReinviteAck() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awaitingReinviteAck
}

// SetAwaitingReinviteAck records whether a re-INVITE's 200 OK is still
// awaiting its ACK. ActiveState.HandleInvite sets it true after answering a
// re-INVITE; ActiveState.HandleAck clears it once the ACK arrives.
func (s *Session) SetAwaitingReinviteAck(awaiting bool) {
	s.mu.Lock()
	s.awaitingReinviteAck = awaiting
	s.mu.Unlock()
}

// LocalPort returns the RTP port allocated for this call, or 0 if none.
func (s *Session) LocalPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localPort
}

// AllocateLocalPort binds an RTP/RTCP socket pair for this call via the
// configured PortAllocator. It is a no-op success if a port is already
// held (a retransmitted INVITE should not leak a second pair).
func (s *Session) AllocateLocalPort() bool {
	s.mu.Lock()
	if s.localPort != 0 {
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	port, err := s.ports.Allocate()
	if err != nil {
		return false
	}
	s.mu.Lock()
	s.localPort = port
	s.mu.Unlock()
	return true
}

// AtCapacity reports whether accepting another call would exceed the
// configured limit.
func (s *Session) AtCapacity() bool {
	if s.activeCalls == nil || s.limits.MaxCalls <= 0 {
		return false
	}
	return s.activeCalls() >= s.limits.MaxCalls
}

// ParseOffer parses offerBody. Its error is distinct from NegotiateSDP's:
// a caller should map a ParseOffer failure (malformed or missing SDP) to
// 400 Bad Request, and a NegotiateSDP failure (no common codec) to 488 Not
// Acceptable Here.
func (s *Session) ParseOffer(offerBody []byte) (*sdp.Offer, error) {
	return sdp.ParseOffer(offerBody)
}

// NegotiateSDP picks a codec from offer per the configured preference
// order, advertising the call's local RTP port.
func (s *Session) NegotiateSDP(offer *sdp.Offer) (*sdp.Answer, error) {
	return sdp.Negotiate(offer, s.limits.CodecPreference, s.limits.BindIP, s.LocalPort())
}

// StartPipeline wires the media pipeline to remoteIP:remotePort for the
// negotiated payload type.
func (s *Session) StartPipeline(remoteIP string, remotePort, payloadType int) error {
	s.mu.Lock()
	s.remoteIP, s.remotePort, s.payloadType = remoteIP, remotePort, payloadType
	localPort := s.localPort
	s.mu.Unlock()
	if s.pipeline == nil {
		return fmt.Errorf("callstate: no media pipeline configured")
	}
	return s.pipeline.Start(localPort, remoteIP, remotePort, payloadType)
}

// SetRemoteMedia retargets an already-running pipeline (re-INVITE/UPDATE).
func (s *Session) SetRemoteMedia(remoteIP string, remotePort int) {
	s.mu.Lock()
	s.remoteIP, s.remotePort = remoteIP, remotePort
	s.mu.Unlock()
	if s.pipeline != nil {
		s.pipeline.SetRemote(remoteIP, remotePort)
	}
}

// SendResponse writes resp to sender via the configured ResponseSender.
func (s *Session) SendResponse(resp *sipmsg.Message, sender *net.UDPAddr) {
	if s.send == nil {
		return
	}
	_ = s.send(resp, sender)
}

// SetTerminationReason records why the call is ending, for the gateway's
// CDR sink to read back once Terminate runs the onTerminate callback. Call
// it immediately before Terminate; it has no effect afterward.
func (s *Session) SetTerminationReason(reason string) {
	s.mu.Lock()
	if !s.terminated {
		s.endReason = reason
	}
	s.mu.Unlock()
}

// TerminationReason returns the reason passed to SetTerminationReason, or
// "" if none was set before Terminate ran.
func (s *Session) TerminationReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// Terminate releases the call's RTP ports, stops its media pipeline, and
// notifies the gateway to drop it from the registry. Safe to call more
// than once.
func (s *Session) Terminate() {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	port := s.localPort
	dialog := s.dialog
	s.mu.Unlock()

	if s.pipeline != nil {
		s.pipeline.Stop()
	}
	if port != 0 && s.ports != nil {
		s.ports.Release(port)
	}
	if dialog != nil {
		dialog.Terminate()
	}
	if s.onTerminate != nil {
		s.onTerminate(s.callID)
	}
}

// Dispatch routes an in-dialog or call-initiating request to the current
// state's handler for its method. tx is the server transaction that
// matched this request, if any (absent for ACK, which never gets its own
// transaction).
func (s *Session) Dispatch(msg *sipmsg.Message, sender *net.UDPAddr, tx *sipstack.Transaction) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if msg.Method == sipmsg.INVITE || msg.Method == sipmsg.CANCEL {
		if tx != nil {
			s.SetInviteTransaction(tx)
		}
	}

	switch msg.Method {
	case sipmsg.INVITE:
		state.HandleInvite(s, msg, sender)
	case sipmsg.ACK:
		state.HandleAck(s, msg, sender)
	case sipmsg.BYE:
		state.HandleBye(s, msg, sender)
	case sipmsg.CANCEL:
		state.HandleCancel(s, msg, sender)
	case sipmsg.UPDATE:
		state.HandleUpdate(s, msg, sender)
	case sipmsg.OPTIONS:
		state.HandleOptions(s, msg, sender)
	case sipmsg.REFER:
		state.HandleRefer(s, msg, sender)
	}
}
