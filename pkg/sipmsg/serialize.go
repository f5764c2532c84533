package sipmsg

import (
	"strconv"
	"strings"
)

// Serialize renders the message as CRLF-terminated lines followed by its
// body. Content-Length is recomputed from the body length if the caller
// has not already set it.
func (m *Message) Serialize() []byte {
	var b strings.Builder

	if m.IsRequest {
		b.WriteString(string(m.Method))
		b.WriteByte(' ')
		b.WriteString(m.RequestURI)
		b.WriteByte(' ')
		b.WriteString(m.Version)
	} else {
		b.WriteString(m.Version)
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(m.StatusCode))
		b.WriteByte(' ')
		b.WriteString(m.Reason)
	}
	b.WriteString("\r\n")

	wroteContentLength := false
	m.Headers.Each(func(name, value string) {
		if strings.EqualFold(name, "Content-Length") {
			wroteContentLength = true
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	})
	if !wroteContentLength {
		b.WriteString("Content-Length: ")
		b.WriteString(strconv.Itoa(len(m.Body)))
		b.WriteString("\r\n")
	}

	b.WriteString("\r\n")
	out := make([]byte, 0, b.Len()+len(m.Body))
	out = append(out, []byte(b.String())...)
	out = append(out, m.Body...)
	return out
}
