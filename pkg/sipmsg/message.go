package sipmsg

import (
	"fmt"
	"strconv"
	"strings"
)

// Method is a recognised SIP request method.
type Method string

const (
	INVITE   Method = "INVITE"
	ACK      Method = "ACK"
	BYE      Method = "BYE"
	CANCEL   Method = "CANCEL"
	OPTIONS  Method = "OPTIONS"
	REFER    Method = "REFER"
	REGISTER Method = "REGISTER"
	UPDATE   Method = "UPDATE"
)

var knownMethods = map[string]Method{
	"INVITE": INVITE, "ACK": ACK, "BYE": BYE, "CANCEL": CANCEL,
	"OPTIONS": OPTIONS, "REFER": REFER, "REGISTER": REGISTER, "UPDATE": UPDATE,
}

// Message is either a SIP request or a SIP response. Exactly one of the
// request-line or status-line fields is meaningful, selected by IsRequest.
type Message struct {
	IsRequest bool

	// Request line.
	Method     Method
	RequestURI string

	// Status line.
	StatusCode int
	Reason     string

	Version string // "SIP/2.0" on both request and response lines
	Headers Headers
	Body    []byte
}

// NewRequest builds a bare request with the given method/URI and SIP/2.0.
func NewRequest(method Method, requestURI string) *Message {
	return &Message{IsRequest: true, Method: method, RequestURI: requestURI, Version: "SIP/2.0"}
}

// NewResponse builds a bare response with the given status.
func NewResponse(code int, reason string) *Message {
	return &Message{IsRequest: false, StatusCode: code, Reason: reason, Version: "SIP/2.0"}
}

// CallID returns the Call-ID header value.
func (m *Message) CallID() string {
	v, _ := m.Headers.Get("Call-ID")
	return v
}

// CSeq returns the numeric sequence and method of the CSeq header.
func (m *Message) CSeq() (int, Method, error) {
	v, ok := m.Headers.Get("CSeq")
	if !ok {
		return 0, "", fmt.Errorf("sipmsg: missing CSeq")
	}
	fields := strings.Fields(v)
	if len(fields) != 2 {
		return 0, "", fmt.Errorf("sipmsg: malformed CSeq %q", v)
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, "", fmt.Errorf("sipmsg: malformed CSeq number %q", v)
	}
	return n, Method(strings.ToUpper(fields[1])), nil
}

// FromTag returns the `tag=` parameter of the From header, if present.
func (m *Message) FromTag() string {
	v, _ := m.Headers.Get("From")
	return tagFromValue(v)
}

// ToTag returns the `tag=` parameter of the To header, if present.
func (m *Message) ToTag() string {
	v, _ := m.Headers.Get("To")
	return tagFromValue(v)
}

// TopViaBranch returns the branch= parameter of the first (topmost) Via.
func (m *Message) TopViaBranch() string {
	vias := m.Headers.GetAll("Via")
	if len(vias) == 0 {
		return ""
	}
	const marker = "branch="
	idx := strings.Index(vias[0], marker)
	if idx == -1 {
		return ""
	}
	rest := vias[0][idx+len(marker):]
	if semi := strings.IndexByte(rest, ';'); semi != -1 {
		rest = rest[:semi]
	}
	return strings.TrimSpace(rest)
}

// FromUser returns the user part of the From header's SIP URI, if parseable.
func (m *Message) FromUser() string {
	v, _ := m.Headers.Get("From")
	return uriUser(v)
}

// ToUser returns the user part of the To header's SIP URI, if parseable.
func (m *Message) ToUser() string {
	v, _ := m.Headers.Get("To")
	return uriUser(v)
}

// uriUser extracts the "user" part out of a header value such as
// `"Display" <sip:user@host>;tag=...` or `sip:user@host`.
func uriUser(headerValue string) string {
	s := headerValue
	if lt := strings.IndexByte(s, '<'); lt != -1 {
		if gt := strings.IndexByte(s, '>'); gt != -1 && gt > lt {
			s = s[lt+1 : gt]
		}
	}
	s = strings.TrimPrefix(s, "sip:")
	s = strings.TrimPrefix(s, "sips:")
	if at := strings.IndexByte(s, '@'); at != -1 {
		s = s[:at]
	} else if semi := strings.IndexByte(s, ';'); semi != -1 {
		s = s[:semi]
	}
	return s
}
