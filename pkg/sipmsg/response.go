package sipmsg

import (
	"strings"

	"github.com/google/uuid"
)

// NewResponseFor builds a response to req, copying the headers a UAS must
// echo back (every Via, From, To, Call-ID, CSeq) and adding a local tag to
// To if the response is final and the request didn't already carry one
// (a UAS-generated re-INVITE, say, already has our own tag on To).
func NewResponseFor(req *Message, code int, reason string) *Message {
	res := NewResponse(code, reason)
	for _, via := range req.Headers.GetAll("Via") {
		res.Headers.Add("Via", via)
	}
	if from, ok := req.Headers.Get("From"); ok {
		res.Headers.Add("From", from)
	}
	if to, ok := req.Headers.Get("To"); ok {
		if code >= 200 && !strings.Contains(to, "tag=") {
			to = to + ";tag=" + newTag()
		}
		res.Headers.Add("To", to)
	}
	if callID, ok := req.Headers.Get("Call-ID"); ok {
		res.Headers.Add("Call-ID", callID)
	}
	if cseq, ok := req.Headers.Get("CSeq"); ok {
		res.Headers.Add("CSeq", cseq)
	}
	return res
}

func newTag() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}
