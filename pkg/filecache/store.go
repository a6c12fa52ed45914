// Package filecache implements the storage engine and concurrency
// substrate of an in-memory, network-accessible file cache: a name->bytes
// table bounded by a max file count and a max total byte size, a FIFO
// eviction policy over both ceilings, and per-file advisory exclusive
// locking with blocking FIFO wait semantics.
//
// A single FileEntry owns both its bytes and its waiters, so the byte-size
// ceiling and the lock-wait FIFO share one per-file mutex instead of living
// in separate subsystems.
package filecache

import (
	"github.com/oxcache/filecached/pkg/queue"
	"github.com/oxcache/filecached/pkg/rwcoord"
)

// WaitHandler is invoked with the FIFO of client identifiers whose lock
// request must now be told it failed (the file they were waiting on was
// removed or evicted). The handler owns sending the failure reply to each
// identifier; Store never touches a socket.
type WaitHandler func(waiters *queue.Queue[ClientID])

// SendBackHandler ships an evicted file's payload back toward the client
// whose create/write triggered the eviction that claimed it.
type SendBackHandler func(name string, payload []byte, size int, callingClient ClientID, dirty bool)

// noSendBack is used where eviction runs with no send-back handler (the
// create path: a newly created file was never resident, so there is
// nothing the evicted payload could be "returned" to on its behalf).
func noSendBack(string, []byte, int, ClientID, bool) {}

// Config bounds a Store's capacity.
type Config struct {
	MaxFileCount int
	MaxByteSize  int64
}

// Store is the name -> file table. The zero value is not usable; construct
// with New.
type Store struct {
	coord *rwcoord.Coordinator

	table         map[string]*entry
	evictionQueue *queue.Queue[string]

	maxFileCount int
	maxByteSize  int64
	byteSize     int64

	evictionsFileCap int64
	evictionsByteCap int64
	evictedFiles     int64
	cleanupCount     int64

	recorder Recorder
}

// New constructs an empty Store with the given capacity ceilings. A nil
// Recorder may be passed via WithRecorder after construction; metrics
// default to a no-op recorder.
func New(cfg Config) *Store {
	s := &Store{
		coord:         rwcoord.New(),
		table:         make(map[string]*entry),
		evictionQueue: queue.New[string](),
		maxFileCount:  cfg.MaxFileCount,
		maxByteSize:   cfg.MaxByteSize,
		recorder:      nopRecorder{},
	}
	return s
}

// WithRecorder attaches a metrics Recorder. Passing nil restores the
// no-op recorder. Not safe to call concurrently with store operations.
func (s *Store) WithRecorder(r Recorder) *Store {
	if r == nil {
		r = nopRecorder{}
	}
	s.recorder = r
	return s
}

// Stats returns a point-in-time snapshot of capacity counters and eviction
// history. Takes the coordinator in read mode.
func (s *Store) Stats() Stats {
	s.coord.BeginRead()
	defer s.coord.EndOperation()

	return Stats{
		FileCount:        len(s.table),
		ByteSize:         s.byteSize,
		MaxFileCount:     s.maxFileCount,
		MaxByteSize:      s.maxByteSize,
		EvictionsFileCap: s.evictionsFileCap,
		EvictionsByteCap: s.evictionsByteCap,
		EvictionCount:    s.evictionsFileCap + s.evictionsByteCap,
		EvictedFiles:     s.evictedFiles,
		CleanupCount:     s.cleanupCount,
	}
}

// Create constructs a fresh file named name, owned by c. If withLock, c
// also receives the exclusive lock immediately (Create always grants; a
// brand-new file's lock can never be contended). waitHandler is the
// callback eviction uses to notify any waiters of victim files.
func (s *Store) Create(name string, c ClientID, withLock bool, waitHandler WaitHandler) error {
	fresh := newEntry(c, withLock)

	s.coord.BeginWrite()
	defer s.coord.EndOperation()

	if _, exists := s.table[name]; exists {
		s.recorder.IncRequest("create", "already-exists")
		return newErr("create", name, AlreadyExists)
	}

	if len(s.table) >= s.maxFileCount {
		if res := s.evictLocked(evictForCreate, 0, c, waitHandler, noSendBack); res == evictExhausted {
			s.recorder.IncRequest("create", "capacity-exhausted")
			return newErr("create", name, CapacityExhausted)
		}
	}

	s.table[name] = fresh
	if err := s.evictionQueue.Push(name); err != nil {
		// The eviction queue was closed out from under us (Destroy raced
		// with Create); undo the insert and report not-recoverable.
		delete(s.table, name)
		s.recorder.IncRequest("create", "not-recoverable")
		return newErr("create", name, NotRecoverable)
	}

	s.byteSize += int64(len(fresh.payload))
	s.reportGaugesLocked()
	s.recorder.IncRequest("create", "ok")
	return nil
}

// Open opens name for c, optionally acquiring the exclusive lock in the
// same call. Returns Granted or Blocked when withLock is true; Granted
// (meaning "nothing to wait for") otherwise.
func (s *Store) Open(name string, c ClientID, withLock bool) (LockResult, error) {
	s.coord.BeginRead()
	defer s.coord.EndOperation()

	e, ok := s.table[name]
	if !ok {
		return Granted, newErr("open", name, NotFound)
	}
	result, err := e.open(c, withLock)
	s.recorder.IncRequest("open", resultLabel(err))
	return result, err
}

// Close closes name for c.
func (s *Store) Close(name string, c ClientID) error {
	s.coord.BeginRead()
	defer s.coord.EndOperation()

	e, ok := s.table[name]
	if !ok {
		return newErr("close", name, NotFound)
	}
	err := e.close(c)
	s.recorder.IncRequest("close", resultLabel(err))
	return err
}

// Read copies out name's payload for c, honoring OPEN/LOCKED preconditions.
func (s *Store) Read(name string, c ClientID) ([]byte, int, error) {
	s.coord.BeginRead()
	defer s.coord.EndOperation()

	e, ok := s.table[name]
	if !ok {
		return nil, 0, newErr("read", name, NotFound)
	}
	buf, n, err := e.read(c, false)
	s.recorder.IncRequest("read", resultLabel(err))
	return buf, n, err
}

// ReadResult is one entry of a bulk read, as returned by ReadN.
type ReadResult struct {
	Name    string
	Payload []byte
	Size    int
}

// ReadN reads up to N files (all of them if n<=0) in table insertion
// order, ignoring the OPEN precondition for every entry. Entries that fail
// for any other reason are skipped.
func (s *Store) ReadN(c ClientID, n int) []ReadResult {
	s.coord.BeginRead()
	defer s.coord.EndOperation()

	names := s.evictionQueue.ToSlice()
	limit := len(names)
	if n > 0 && n < limit {
		limit = n
	}

	out := make([]ReadResult, 0, limit)
	for i := 0; i < limit; i++ {
		e, ok := s.table[names[i]]
		if !ok {
			continue
		}
		buf, size, err := e.read(c, true)
		if err != nil {
			continue
		}
		out = append(out, ReadResult{Name: names[i], Payload: buf, Size: size})
	}
	s.recorder.IncRequest("readn", "ok")
	return out
}

// Write mutates name's payload for c: replaces it (whole=true) or appends
// to it (whole=false). If the write would breach the byte ceiling,
// eviction runs first; sendBackHandler receives the payload of any victim
// whose eviction was triggered by this write.
func (s *Store) Write(name string, buf []byte, c ClientID, whole bool, waitHandler WaitHandler, sendBackHandler SendBackHandler) error {
	s.coord.BeginWrite()
	defer s.coord.EndOperation()

	if _, ok := s.table[name]; !ok {
		s.recorder.IncRequest("write", "not-found")
		return newErr("write", name, NotFound)
	}

	if int64(len(buf)) > s.maxByteSize {
		s.recorder.IncRequest("write", "too-large")
		return newErr("write", name, TooLarge)
	}

	if s.byteSize+int64(len(buf)) > s.maxByteSize {
		if res := s.evictLocked(evictForWrite, int64(len(buf)), c, waitHandler, sendBackHandler); res == evictExhausted {
			s.recorder.IncRequest("write", "capacity-exhausted")
			return newErr("write", name, CapacityExhausted)
		}
	}

	s.coord.DowngradeWriter()

	e, ok := s.table[name]
	if !ok {
		// The target itself was the eviction victim; the re-lookup after
		// downgrade must handle this case rather than assume it survived.
		s.recorder.IncRequest("write", "not-found")
		return newErr("write", name, NotFound)
	}

	if err := e.write(c, buf, whole); err != nil {
		s.recorder.IncRequest("write", resultLabel(err))
		return err
	}

	s.byteSize += int64(len(buf))
	s.reportGaugesLocked()
	s.recorder.IncRequest("write", "ok")
	return nil
}

// Lock attempts to acquire name's exclusive lock for c.
func (s *Store) Lock(name string, c ClientID) (LockResult, error) {
	s.coord.BeginRead()
	defer s.coord.EndOperation()

	e, ok := s.table[name]
	if !ok {
		return Granted, newErr("lock", name, NotFound)
	}
	result := e.lock(c)
	s.recorder.IncRequest("lock", result.String())
	return result, nil
}

// Unlock releases c's hold on name's exclusive lock. If a queued waiter
// becomes the new owner, its identifier is returned with ok=true — the
// caller must then send that client a delayed success reply.
func (s *Store) Unlock(name string, c ClientID) (newOwner ClientID, ok bool, err error) {
	s.coord.BeginRead()
	defer s.coord.EndOperation()

	e, present := s.table[name]
	if !present {
		return 0, false, newErr("unlock", name, NotFound)
	}
	newOwner, ok, err = e.unlock(c)
	s.recorder.IncRequest("unlock", resultLabel(err))
	return newOwner, ok, err
}

// Remove deletes name, which c must own the exclusive lock on. Any waiters
// queued for name's lock are extracted and handed to waitHandler so they
// can be told their request failed.
func (s *Store) Remove(name string, c ClientID, waitHandler WaitHandler) error {
	s.coord.BeginWrite()
	defer s.coord.EndOperation()

	e, ok := s.table[name]
	if !ok {
		s.recorder.IncRequest("remove", "not-found")
		return newErr("remove", name, NotFound)
	}
	if !e.perClient[c].has(permOwner) {
		s.recorder.IncRequest("remove", "permission")
		return newErr("remove", name, Permission)
	}

	waiters := e.extractWaiters()
	if waitHandler != nil {
		waitHandler(waiters)
	}
	waiters.Drain()

	delete(s.table, name)
	s.byteSize -= int64(len(e.payload))

	s.removeFromEvictionQueueLocked(name)
	s.reportGaugesLocked()
	s.recorder.IncRequest("remove", "ok")
	return nil
}

// removeFromEvictionQueueLocked surgically removes name from the eviction
// queue via the cursor iterator, without disturbing any other entry's
// position.
func (s *Store) removeFromEvictionQueueLocked(name string) {
	it := s.evictionQueue.Begin()
	defer it.End()
	for {
		v, ok := it.Next()
		if !ok {
			return
		}
		if v == name {
			it.RemoveCurrent()
			return
		}
	}
}

// ClientCleanup sweeps every resident entry, releasing any lock or wait
// slot c held. Every identifier passed to the onNewOwner callback
// represents a previously-blocked client that now holds the lock the
// disconnecting client released; the dispatcher must send each a delayed
// success reply.
func (s *Store) ClientCleanup(c ClientID, onNewOwner func(name string, owner ClientID)) {
	s.coord.BeginWrite()
	defer s.coord.EndOperation()

	for name, e := range s.table {
		if owner, ok := e.removeClient(c); ok && onNewOwner != nil {
			onNewOwner(name, owner)
		}
	}
	s.cleanupCount++
}

// Destroy tears the Store down: every entry is discarded and the eviction
// queue is closed, so a later Create fails with NotRecoverable. The
// coordinator is released normally and is not torn down.
func (s *Store) Destroy() {
	s.coord.BeginWrite()
	defer s.coord.EndOperation()

	for name := range s.table {
		delete(s.table, name)
	}
	s.evictionQueue.Close()
	s.evictionQueue.Drain()
}

func (s *Store) reportGaugesLocked() {
	s.recorder.SetFileCount(len(s.table))
	s.recorder.SetByteSize(s.byteSize)
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if fe, ok := err.(*Error); ok {
		return fe.Code.String()
	}
	return "error"
}
