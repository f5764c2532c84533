// Package media implements the gateway's per-call audio pipeline: an
// ordered chain of Stages that each see every uplink (phone -> backend)
// and downlink (backend -> phone) G.711 frame, in the same order both
// directions, mirroring the pipeline each call builds from EchoStage,
// BackendStage and RecorderStage.
package media

// Stage processes one call's audio chunks. Uplink and downlink chunks are
// whatever payload travelled in one RTP packet (≈20ms of G.711 by
// convention, but a stage must not assume a fixed length).
type Stage interface {
	ProcessUplink(audio []byte) []byte
	ProcessDownlink(audio []byte) []byte
}

// Pipeline runs a call's stages in order for both directions. Downlink
// generation starts from an empty buffer and each stage may fill it (a
// backend stage sourcing audio) or leave it alone (a recorder just
// observing).
type Pipeline struct {
	stages []Stage
}

// New builds a pipeline running stages in the given order for uplink, and
// the same order for downlink (a stage earlier in the list sees the
// downlink buffer before a later one, so an echo fallback stage placed
// after a backend stage only fires when the backend left it empty).
func New(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// ProcessUplink feeds input through every stage in order.
func (p *Pipeline) ProcessUplink(input []byte) {
	current := input
	for _, s := range p.stages {
		current = s.ProcessUplink(current)
	}
}

// ProcessDownlink asks every stage, in order, to fill or pass through the
// downlink buffer, and returns what's left to send to the phone.
func (p *Pipeline) ProcessDownlink() []byte {
	var current []byte
	for _, s := range p.stages {
		current = s.ProcessDownlink(current)
	}
	return current
}
