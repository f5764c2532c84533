package media

// EchoStage loops the last uplink frame back as the downlink frame
// whenever nothing upstream of it (earlier in the pipeline) produced any
// downlink audio of its own. The gateway uses it only in echo mode:
// BackendStage fills every downlink frame, silence included, so an
// EchoStage placed after one never fires.
type EchoStage struct {
	buffered []byte
	hasData  bool
}

func NewEchoStage() *EchoStage { return &EchoStage{} }

func (e *EchoStage) ProcessUplink(audio []byte) []byte {
	if len(audio) > 0 {
		e.buffered = append(e.buffered[:0], audio...)
		e.hasData = true
	}
	return audio
}

func (e *EchoStage) ProcessDownlink(audio []byte) []byte {
	if e.hasData {
		if len(audio) == 0 {
			audio = e.buffered
		}
		e.hasData = false
	}
	return audio
}
