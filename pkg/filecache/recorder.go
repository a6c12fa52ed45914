package filecache

// Recorder is the optional metrics seam Store reports activity through. A
// nil Recorder is valid and every call below is a no-op against it; see
// WithRecorder.
//
// Kept as a small interface here (rather than a hard dependency on
// pkg/metrics) so the core has no import-time dependency on Prometheus —
// pkg/metrics.Collector implements this interface.
type Recorder interface {
	SetFileCount(n int)
	SetByteSize(n int64)
	IncEviction(cause string)
	SetLockWaiters(n int)
	IncRequest(op, result string)
}

type nopRecorder struct{}

func (nopRecorder) SetFileCount(int)          {}
func (nopRecorder) SetByteSize(int64)         {}
func (nopRecorder) IncEviction(string)        {}
func (nopRecorder) SetLockWaiters(int)        {}
func (nopRecorder) IncRequest(string, string) {}
