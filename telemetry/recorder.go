package telemetry

import "sync"

// Recorder stores at most one pending Metrics per Key.
//
// Operations on distinct keys never contend. Operations on the same key are
// linearizable: Take observes the latest Record that happened before it.
// The zero value is ready to use.
type Recorder struct {
	m sync.Map // Key -> Metrics
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record stores m for k, replacing any pending value.
func (r *Recorder) Record(k Key, m Metrics) {
	r.m.Store(k, m)
}

// Take returns and clears the pending value for k.
func (r *Recorder) Take(k Key) (Metrics, bool) {
	v, ok := r.m.LoadAndDelete(k)
	if !ok {
		return Metrics{}, false
	}
	return v.(Metrics), true
}

// Forget drops the pending value for k. Call it when the caller owning k
// finishes, otherwise the metrics of its last request stay in the Recorder.
func (r *Recorder) Forget(k Key) {
	r.m.Delete(k)
}

// Len reports how many keys currently hold a pending value.
func (r *Recorder) Len() int {
	n := 0
	r.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Reset drops every pending value.
func (r *Recorder) Reset() {
	r.m.Range(func(k, _ any) bool {
		r.m.Delete(k)
		return true
	})
}
