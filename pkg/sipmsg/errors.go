package sipmsg

import "errors"

// ErrMalformed is returned (optionally wrapped) by Parse when a datagram is
// not a well-formed SIP message: a bad first line, a bad header, or a body
// shorter than Content-Length declares.
var ErrMalformed = errors.New("sipmsg: malformed message")
