package callstate

import (
	"net"
	"strconv"

	"github.com/arzzra/siprtpgw/pkg/sipmsg"
	"github.com/arzzra/siprtpgw/pkg/sipstack"
)

// IdleState is a call's starting phase: the INVITE has created the session
// but nothing has been answered yet.
type IdleState struct{}

func (IdleState) Name() string { return "idle" }

func (IdleState) HandleInvite(s *Session, msg *sipmsg.Message, sender *net.UDPAddr) {
	if s.AtCapacity() {
		s.SendResponse(sipmsg.NewResponseFor(msg, 486, "Busy Here"), sender)
		s.SetState(TerminatedState{})
		s.SetTerminationReason(ReasonFailed)
		s.Terminate()
		return
	}

	s.SendResponse(sipmsg.NewResponseFor(msg, 100, "Trying"), sender)
	s.SetPendingInvite(msg)
	s.SetState(ProceedingState{})

	if !s.AllocateLocalPort() {
		s.SendResponse(sipmsg.NewResponseFor(msg, 500, "Internal Server Error"), sender)
		s.SetState(TerminatedState{})
		s.SetTerminationReason(ReasonFailed)
		s.Terminate()
		return
	}

	offer, err := s.ParseOffer(msg.Body)
	if err != nil {
		s.SendResponse(sipmsg.NewResponseFor(msg, 400, "Bad Request"), sender)
		s.SetState(TerminatedState{})
		s.SetTerminationReason(ReasonFailed)
		s.Terminate()
		return
	}

	answer, err := s.NegotiateSDP(offer)
	if err != nil {
		s.SendResponse(sipmsg.NewResponseFor(msg, 488, "Not Acceptable Here"), sender)
		s.SetState(TerminatedState{})
		s.SetTerminationReason(ReasonFailed)
		s.Terminate()
		return
	}

	if err := s.StartPipeline(offer.ConnectionIP, offer.AudioPort, answer.PayloadType); err != nil {
		s.SendResponse(sipmsg.NewResponseFor(msg, 503, "Service Unavailable"), sender)
		s.SetState(TerminatedState{})
		s.SetTerminationReason(ReasonFailed)
		s.Terminate()
		return
	}

	res := sipmsg.NewResponseFor(msg, 200, "OK")
	res.Headers.Set("Content-Type", "application/sdp")
	res.Headers.Set("Contact", contactHeader(s))
	res.Body = answer.Body

	dialog := sipstack.NewDialog(sipstack.DialogKey{
		CallID:    msg.CallID(),
		LocalTag:  res.ToTag(),
		RemoteTag: msg.FromTag(),
	})
	s.SetDialog(dialog)

	// If a CANCEL raced us while negotiation was in flight, the Proceeding
	// handler already sent 487 on this transaction; don't also send 200.
	if s.State() != "proceeding" {
		return
	}

	s.SendResponse(res, sender)
	s.SetState(ActiveState{})
}

func (IdleState) HandleAck(s *Session, msg *sipmsg.Message, sender *net.UDPAddr) {}

func (IdleState) HandleBye(s *Session, msg *sipmsg.Message, sender *net.UDPAddr) {
	s.SendResponse(sipmsg.NewResponseFor(msg, 200, "OK"), sender)
	s.SetState(TerminatedState{})
	s.SetTerminationReason(ReasonRemoteBye)
	s.Terminate()
}

func (IdleState) HandleCancel(s *Session, msg *sipmsg.Message, sender *net.UDPAddr) {
	s.SendResponse(sipmsg.NewResponseFor(msg, 200, "OK"), sender)
	s.SetState(TerminatedState{})
	s.SetTerminationReason(ReasonCancel)
	s.Terminate()
}

func (IdleState) HandleUpdate(s *Session, msg *sipmsg.Message, sender *net.UDPAddr) {
	s.SendResponse(sipmsg.NewResponseFor(msg, 501, "Not Implemented"), sender)
}

func (IdleState) HandleOptions(s *Session, msg *sipmsg.Message, sender *net.UDPAddr) {
	s.SendResponse(sipmsg.NewResponseFor(msg, 200, "OK"), sender)
}

func (IdleState) HandleRefer(s *Session, msg *sipmsg.Message, sender *net.UDPAddr) {
	s.SendResponse(sipmsg.NewResponseFor(msg, 403, "Forbidden"), sender)
}

// ProceedingState covers the window between the 100 Trying sent for an
// (re-)INVITE and its final response: a CANCEL arriving here must still
// terminate the pending INVITE transaction with 487, not just be
// acknowledged on its own.
type ProceedingState struct{}

func (ProceedingState) Name() string { return "proceeding" }

func (ProceedingState) HandleInvite(s *Session, msg *sipmsg.Message, sender *net.UDPAddr) {
	// Retransmission of the original INVITE while still negotiating; the
	// transaction layer already resent the cached 100 Trying, nothing to do.
}

func (ProceedingState) HandleAck(s *Session, msg *sipmsg.Message, sender *net.UDPAddr) {}

func (ProceedingState) HandleBye(s *Session, msg *sipmsg.Message, sender *net.UDPAddr) {
	s.SendResponse(sipmsg.NewResponseFor(msg, 200, "OK"), sender)
	s.SetState(TerminatedState{})
	s.SetTerminationReason(ReasonRemoteBye)
	s.Terminate()
}

func (ProceedingState) HandleCancel(s *Session, msg *sipmsg.Message, sender *net.UDPAddr) {
	s.SendResponse(sipmsg.NewResponseFor(msg, 200, "OK"), sender)
	if tx := s.InviteTransaction(); tx != nil {
		invite := s.PendingInvite()
		var terminated *sipmsg.Message
		if invite != nil {
			terminated = sipmsg.NewResponseFor(invite, 487, "Request Terminated")
		} else {
			terminated = sipmsg.NewResponse(487, "Request Terminated")
		}
		_ = tx.SendResponse(terminated)
		s.SendResponse(terminated, sender)
	}
	s.SetState(TerminatedState{})
	s.SetTerminationReason(ReasonCancel)
	s.Terminate()
}

func (ProceedingState) HandleUpdate(s *Session, msg *sipmsg.Message, sender *net.UDPAddr) {
	s.SendResponse(sipmsg.NewResponseFor(msg, 200, "OK"), sender)
}

func (ProceedingState) HandleOptions(s *Session, msg *sipmsg.Message, sender *net.UDPAddr) {
	s.SendResponse(sipmsg.NewResponseFor(msg, 200, "OK"), sender)
}

func (ProceedingState) HandleRefer(s *Session, msg *sipmsg.Message, sender *net.UDPAddr) {
	s.SendResponse(sipmsg.NewResponseFor(msg, 403, "Forbidden"), sender)
}

// ActiveState is a confirmed, media-flowing call. Re-INVITE and UPDATE
// renegotiate media without tearing down the dialog.
type ActiveState struct{}

func (ActiveState) Name() string { return "active" }

func (ActiveState) HandleInvite(s *Session, msg *sipmsg.Message, sender *net.UDPAddr) {
	// Glare: a re-INVITE this session already answered is still waiting on
	// its ACK, so this one can't renegotiate yet.
	if s.AwaitingReinviteAck() {
		s.SendResponse(sipmsg.NewResponseFor(msg, 491, "Request Pending"), sender)
		return
	}

	if d := s.Dialog(); d != nil {
		cseq, _, err := msg.CSeq()
		if err == nil {
			if err := d.AcceptRemoteCSeq(cseq); err != nil {
				s.SendResponse(sipmsg.NewResponseFor(msg, 500, "CSeq Out Of Order"), sender)
				return
			}
		}
	}

	s.SendResponse(sipmsg.NewResponseFor(msg, 100, "Trying"), sender)

	offer, err := s.ParseOffer(msg.Body)
	if err != nil {
		s.SendResponse(sipmsg.NewResponseFor(msg, 400, "Bad Request"), sender)
		return
	}
	answer, err := s.NegotiateSDP(offer)
	if err != nil {
		s.SendResponse(sipmsg.NewResponseFor(msg, 488, "Not Acceptable Here"), sender)
		return
	}
	s.SetRemoteMedia(offer.ConnectionIP, offer.AudioPort)

	res := sipmsg.NewResponseFor(msg, 200, "OK")
	res.Headers.Set("Content-Type", "application/sdp")
	res.Headers.Set("Contact", contactHeader(s))
	res.Body = answer.Body
	s.SendResponse(res, sender)
	s.SetAwaitingReinviteAck(true)
}

func (ActiveState) HandleAck(s *Session, msg *sipmsg.Message, sender *net.UDPAddr) {
	s.SetAwaitingReinviteAck(false)
}

func (ActiveState) HandleBye(s *Session, msg *sipmsg.Message, sender *net.UDPAddr) {
	s.SendResponse(sipmsg.NewResponseFor(msg, 200, "OK"), sender)
	s.SetState(TerminatedState{})
	s.SetTerminationReason(ReasonRemoteBye)
	s.Terminate()
}

func (ActiveState) HandleCancel(s *Session, msg *sipmsg.Message, sender *net.UDPAddr) {
	// CANCEL only matters against a pending INVITE; a confirmed call has
	// none, so just acknowledge it.
	s.SendResponse(sipmsg.NewResponseFor(msg, 200, "OK"), sender)
}

func (ActiveState) HandleUpdate(s *Session, msg *sipmsg.Message, sender *net.UDPAddr) {
	if len(msg.Body) > 0 {
		offer, err := s.ParseOffer(msg.Body)
		if err != nil {
			s.SendResponse(sipmsg.NewResponseFor(msg, 400, "Bad Request"), sender)
			return
		}
		answer, err := s.NegotiateSDP(offer)
		if err != nil {
			s.SendResponse(sipmsg.NewResponseFor(msg, 488, "Not Acceptable Here"), sender)
			return
		}
		s.SetRemoteMedia(offer.ConnectionIP, offer.AudioPort)
		res := sipmsg.NewResponseFor(msg, 200, "OK")
		res.Headers.Set("Content-Type", "application/sdp")
		res.Body = answer.Body
		s.SendResponse(res, sender)
		return
	}
	s.SendResponse(sipmsg.NewResponseFor(msg, 200, "OK"), sender)
}

func (ActiveState) HandleOptions(s *Session, msg *sipmsg.Message, sender *net.UDPAddr) {
	s.SendResponse(sipmsg.NewResponseFor(msg, 200, "OK"), sender)
}

func (ActiveState) HandleRefer(s *Session, msg *sipmsg.Message, sender *net.UDPAddr) {
	// Blind transfer: accept the request and tear the call down. The
	// Refer-To target is not read or acted on.
	s.SendResponse(sipmsg.NewResponseFor(msg, 202, "Accepted"), sender)
	s.SetState(TerminatedState{})
	s.SetTerminationReason(ReasonLocalBye)
	s.Terminate()
}

// TerminatedState discards everything; the session is about to be dropped
// from the registry.
type TerminatedState struct{}

func (TerminatedState) Name() string                                                   { return "terminated" }
func (TerminatedState) HandleInvite(s *Session, msg *sipmsg.Message, sender *net.UDPAddr) {}
func (TerminatedState) HandleAck(s *Session, msg *sipmsg.Message, sender *net.UDPAddr)    {}
func (TerminatedState) HandleBye(s *Session, msg *sipmsg.Message, sender *net.UDPAddr)    {}
func (TerminatedState) HandleCancel(s *Session, msg *sipmsg.Message, sender *net.UDPAddr) {}
func (TerminatedState) HandleUpdate(s *Session, msg *sipmsg.Message, sender *net.UDPAddr) {}
func (TerminatedState) HandleOptions(s *Session, msg *sipmsg.Message, sender *net.UDPAddr) {
}
func (TerminatedState) HandleRefer(s *Session, msg *sipmsg.Message, sender *net.UDPAddr) {}

func contactHeader(s *Session) string {
	return "<sip:" + s.limits.BindIP + ":" + strconv.Itoa(s.limits.SipPort) + ">"
}
