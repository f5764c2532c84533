// Package sdp implements the narrow slice of the Session Description
// Protocol needed to negotiate a single-stream, narrowband audio session:
// parsing an offer and answering it by picking one codec from a preference
// list.
package sdp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoCodec is returned when none of the codecs in a configured
// preference list appear in the offer's audio media line.
var ErrNoCodec = errors.New("sdp: no common codec")

// RtpMapEntry describes one `a=rtpmap:<pt> <name>/<rate>` line.
type RtpMapEntry struct {
	Name string
	Rate int
}

// staticPayloadNames covers the RFC 3551 static assignments this gateway
// understands when an offer omits explicit rtpmap lines.
var staticPayloadNames = map[int]string{
	0: "PCMU",
	8: "PCMA",
}

// Offer is the subset of an incoming SDP offer relevant to audio
// negotiation.
type Offer struct {
	ConnectionIP string
	AudioPort    int
	Proto        string
	PayloadTypes []int
	RtpMap       map[int]RtpMapEntry
}

// ParseOffer parses `v=`, `o=`, `s=`, `c=IN IP4 <ip>`, `m=audio <port>
// <proto> <pt>...` and `a=rtpmap:<pt> <name>/<rate>` lines; every other
// line is ignored.
func ParseOffer(body []byte) (*Offer, error) {
	offer := &Offer{RtpMap: make(map[int]RtpMapEntry)}

	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if len(line) < 2 || line[1] != '=' {
			continue
		}
		key, value := line[0], strings.TrimSpace(line[2:])
		switch key {
		case 'c':
			if ip, ok := parseConnectionLine(value); ok {
				offer.ConnectionIP = ip
			}
		case 'm':
			if err := parseMediaLine(value, offer); err != nil {
				return nil, err
			}
		case 'a':
			if strings.HasPrefix(value, "rtpmap:") {
				parseRtpMapLine(strings.TrimPrefix(value, "rtpmap:"), offer)
			}
		}
	}
	if offer.AudioPort == 0 {
		return nil, fmt.Errorf("sdp: offer has no audio media line")
	}
	return offer, nil
}

func parseConnectionLine(value string) (ip string, ok bool) {
	fields := strings.Fields(value)
	if len(fields) != 3 || fields[0] != "IN" || fields[1] != "IP4" {
		return "", false
	}
	return fields[2], true
}

func parseMediaLine(value string, offer *Offer) error {
	fields := strings.Fields(value)
	if len(fields) < 4 || fields[0] != "audio" {
		// Not an audio line (e.g. video); ignore, mirroring unknown-line handling.
		return nil
	}
	port, err := strconv.Atoi(fields[1])
	if err != nil {
		return fmt.Errorf("sdp: bad m=audio port %q: %w", fields[1], err)
	}
	offer.AudioPort = port
	offer.Proto = fields[2]
	for _, f := range fields[3:] {
		pt, err := strconv.Atoi(f)
		if err != nil {
			continue
		}
		offer.PayloadTypes = append(offer.PayloadTypes, pt)
	}
	return nil
}

func parseRtpMapLine(value string, offer *Offer) {
	fields := strings.SplitN(value, " ", 2)
	if len(fields) != 2 {
		return
	}
	pt, err := strconv.Atoi(fields[0])
	if err != nil {
		return
	}
	parts := strings.SplitN(fields[1], "/", 2)
	entry := RtpMapEntry{Name: strings.ToUpper(parts[0])}
	if len(parts) == 2 {
		if rate, err := strconv.Atoi(parts[1]); err == nil {
			entry.Rate = rate
		}
	}
	offer.RtpMap[pt] = entry
}

// codecName returns the codec name advertised for pt in the offer, falling
// back to the RFC 3551 static table when no rtpmap line named it.
func (o *Offer) codecName(pt int) (string, bool) {
	if e, ok := o.RtpMap[pt]; ok {
		return e.Name, true
	}
	if name, ok := staticPayloadNames[pt]; ok {
		return name, true
	}
	return "", false
}

// Answer is a negotiated codec plus the serialized SDP answer body.
type Answer struct {
	PayloadType int
	CodecName   string
	Body        []byte
}

// Negotiate picks the first codec in preference order that also appears in
// the offer's audio media line, and renders an SDP answer advertising it on
// localIP:localPort.
func Negotiate(offer *Offer, preference []string, localIP string, localPort int) (*Answer, error) {
	for _, wanted := range preference {
		wanted = strings.ToUpper(wanted)
		for _, pt := range offer.PayloadTypes {
			name, ok := offer.codecName(pt)
			if !ok || name != wanted {
				continue
			}
			return &Answer{
				PayloadType: pt,
				CodecName:   name,
				Body:        buildAnswerBody(localIP, localPort, pt, name),
			}, nil
		}
	}
	return nil, ErrNoCodec
}

func buildAnswerBody(localIP string, localPort, pt int, codecName string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "v=0\r\n")
	fmt.Fprintf(&b, "o=- 0 0 IN IP4 %s\r\n", localIP)
	fmt.Fprintf(&b, "s=siprtpgw\r\n")
	fmt.Fprintf(&b, "c=IN IP4 %s\r\n", localIP)
	fmt.Fprintf(&b, "t=0 0\r\n")
	fmt.Fprintf(&b, "m=audio %d RTP/AVP %d\r\n", localPort, pt)
	fmt.Fprintf(&b, "a=rtpmap:%d %s/8000\r\n", pt, codecName)
	fmt.Fprintf(&b, "a=sendrecv\r\n")
	return []byte(b.String())
}
