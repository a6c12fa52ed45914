package filecache

// evictReason distinguishes why eviction is running, which determines its
// loop exit condition.
type evictReason int

const (
	evictForCreate evictReason = iota
	evictForWrite
)

// evictResult is the outcome of a call to evictLocked.
type evictResult int

const (
	evictOK evictResult = iota
	evictExhausted
)

// evictLocked runs the FIFO eviction loop. The caller must already hold the
// Store coordinator in writer mode. It pops the oldest name from the
// eviction queue, extracts and fails its waiters, optionally ships its
// payload back to the operation that triggered eviction, and deletes it —
// repeating until the precondition for reason is satisfied or the queue is
// exhausted.
//
// A phantom name (present in the queue but absent from the table) is an
// invariant violation; evictLocked treats it the same as an exhausted queue
// rather than panicking, since the caller already holds the coordinator and
// must still be able to unwind cleanly without corrupting the store.
func (s *Store) evictLocked(reason evictReason, size int64, callingClient ClientID, waitHandler WaitHandler, sendBack SendBackHandler) evictResult {
	for {
		name, ok := s.evictionQueue.PopNonBlocking()
		if !ok {
			return evictExhausted
		}

		victim, ok := s.table[name]
		if !ok {
			return evictExhausted
		}

		waiters := victim.extractWaiters()

		if sendBack != nil {
			sendBack(name, victim.payload, len(victim.payload), callingClient, victim.flags.has(flagDirty))
		}

		delete(s.table, name)
		s.byteSize -= int64(len(victim.payload))

		if waitHandler != nil {
			waitHandler(waiters)
		}
		waiters.Drain()

		s.evictedFiles++
		switch reason {
		case evictForCreate:
			s.evictionsFileCap++
		case evictForWrite:
			s.evictionsByteCap++
		}
		s.recorder.IncEviction(evictCauseLabel(reason))

		switch reason {
		case evictForCreate:
			if len(s.table) < s.maxFileCount {
				return evictOK
			}
		case evictForWrite:
			if s.byteSize+size <= s.maxByteSize {
				return evictOK
			}
		}
	}
}

func evictCauseLabel(reason evictReason) string {
	if reason == evictForCreate {
		return "file-cap"
	}
	return "byte-cap"
}
