package monitoring

// SessionRecorder scopes bridge metrics to one guest session. It satisfies
// bridge.Recorder.
type SessionRecorder struct {
	metrics *Metrics
	session string
}

// ForSession returns a recorder labelled with the session id
func (m *Metrics) ForSession(session string) *SessionRecorder {
	return &SessionRecorder{metrics: m, session: session}
}

// RecordEnvelope counts an envelope in or out of the guest
func (r *SessionRecorder) RecordEnvelope(direction, kind string) {
	r.metrics.RecordEnvelope(direction, kind)
}

// RecordInstall records the installation outcome
func (r *SessionRecorder) RecordInstall(outcome string, attempts int) {
	r.metrics.RecordInstall(outcome, attempts)
}

// SetPending tracks outstanding requests for this session
func (r *SessionRecorder) SetPending(n int) {
	r.metrics.PendingRequests.WithLabelValues(r.session).Set(float64(n))
}

// RecordDropped counts a dropped outbound envelope
func (r *SessionRecorder) RecordDropped() {
	r.metrics.RecordDropped(r.session)
}

// Forget removes the per-session series once the session is gone
func (r *SessionRecorder) Forget() {
	r.metrics.PendingRequests.DeleteLabelValues(r.session)
	r.metrics.DroppedOutbound.DeleteLabelValues(r.session)
}
