package bridge

// Envelope directions
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Install outcomes
const (
	InstallAttached  = "attached"
	InstallExhausted = "exhausted"
	InstallFailed    = "failed"
)

// Recorder receives bridge activity for metrics collection
type Recorder interface {
	RecordEnvelope(direction, kind string)
	RecordInstall(outcome string, attempts int)
	SetPending(n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordEnvelope(string, string) {}
func (nopRecorder) RecordInstall(string, int)     {}
func (nopRecorder) SetPending(int)                {}
