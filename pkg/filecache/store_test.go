package filecache

import (
	"sync"
	"testing"
	"time"

	"github.com/oxcache/filecached/pkg/queue"
)

func noopWait(*queue.Queue[ClientID]) {}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	s := New(Config{MaxFileCount: 6, MaxByteSize: 512})

	const c1 = ClientID(1)
	if err := s.Create("/a/file1", c1, false, noopWait); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Open("/a/file1", c1, false); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Write("/a/file1", []byte("Servator1Servator1"), c1, false, noopWait, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf, n, err := s.Read("/a/file1", c1)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "Servator1Servator1" || n != 18 {
		t.Fatalf("expected 18-byte round trip, got %q (n=%d)", buf, n)
	}
	if err := s.Close("/a/file1", c1); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestFileCountEviction(t *testing.T) {
	s := New(Config{MaxFileCount: 6, MaxByteSize: 4096})

	for i, name := range []string{"/b/file6", "/b/file7", "/b/file8", "/b/file9"} {
		if err := s.Create(name, ClientID(i), false, noopWait); err != nil {
			t.Fatalf("seed create %s: %v", name, err)
		}
	}

	for i, name := range []string{"/b/file10", "/b/file11", "/b/file12", "/b/file13"} {
		if err := s.Create(name, ClientID(10+i), false, noopWait); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	st := s.Stats()
	if st.FileCount != 6 {
		t.Fatalf("expected file count to stay at cap 6, got %d", st.FileCount)
	}
	if st.EvictionsFileCap == 0 {
		t.Fatal("expected at least one file-cap eviction")
	}
	if _, ok := s.table["/b/file6"]; ok {
		t.Fatal("the oldest file should have been evicted first (FIFO)")
	}
}

// Covers the case where the write's own target ends up being the eviction
// victim: the post-downgrade re-lookup must detect this and fail cleanly.
func TestByteCapEviction(t *testing.T) {
	s := New(Config{MaxFileCount: 10, MaxByteSize: 300})

	payload135 := make([]byte, 135)
	for i := range payload135 {
		payload135[i] = byte('a' + i%26)
	}

	mustCreate := func(name string, c ClientID) {
		// Create already opens the file for its creator and grants it
		// WRITE-ELIGIBLE; re-opening here would clear that bit per
		// entry.open's contract, so the whole writes below rely on not
		// calling Open again.
		if err := s.Create(name, c, false, noopWait); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	mustCreate("/c/a", 1)
	mustCreate("/c/b", 2)

	if err := s.Write("/c/a", payload135, 1, true, noopWait, nil); err != nil {
		t.Fatalf("initial write /c/a: %v", err)
	}
	if err := s.Write("/c/b", payload135, 2, true, noopWait, nil); err != nil {
		t.Fatalf("initial write /c/b: %v", err)
	}

	var sentBack string
	var sentBackDirty bool
	sendBack := func(name string, payload []byte, size int, caller ClientID, dirty bool) {
		sentBack = name
		sentBackDirty = dirty
	}

	// byteSize is 270; writing 100 more bytes to /c/a would need 370 > 300.
	// /c/a is also the queue head, so it may evict itself.
	extra := make([]byte, 100)
	err := s.Write("/c/a", extra, 1, false, noopWait, sendBack)

	if sentBack == "" {
		t.Fatal("expected an eviction to occur and invoke sendBackHandler")
	}
	if sentBack != "/c/a" {
		t.Fatalf("expected /c/a (the queue head) to be the victim, got %s", sentBack)
	}
	if !sentBackDirty {
		t.Fatal("evicted file had been written to, so DIRTY should be true")
	}
	// /c/a was its own victim: the re-lookup in Write must report ENOENT,
	// not panic or silently succeed against a resurrected entry.
	if err == nil {
		t.Fatal("expected ENOENT: write's own target was evicted")
	}
	if fe, ok := err.(*Error); !ok || fe.Code != NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestLockContentionAndDisconnectCleanup(t *testing.T) {
	s := New(Config{MaxFileCount: 10, MaxByteSize: 4096})

	const (
		clientA = ClientID(1)
		clientB = ClientID(2)
		clientC = ClientID(3)
		clientD = ClientID(4)
	)

	if err := s.Create("/d/f", clientA, true, noopWait); err != nil {
		t.Fatalf("create: %v", err)
	}
	payload := make([]byte, 82)
	if err := s.Write("/d/f", payload, clientA, true, noopWait, nil); err != nil {
		t.Fatalf("whole write: %v", err)
	}
	if _, _, err := s.Unlock("/d/f", clientA); err != nil {
		t.Fatalf("unlock by A: %v", err)
	}

	for _, c := range []ClientID{clientB, clientC, clientD} {
		if _, err := s.Open("/d/f", c, false); err != nil {
			t.Fatalf("open by %d: %v", c, err)
		}
	}

	if res, err := s.Lock("/d/f", clientB); err != nil || res != Granted {
		t.Fatalf("expected B granted, got %v %v", res, err)
	}
	if res, err := s.Lock("/d/f", clientC); err != nil || res != Blocked {
		t.Fatalf("expected C blocked, got %v %v", res, err)
	}
	if res, err := s.Lock("/d/f", clientD); err != nil || res != Blocked {
		t.Fatalf("expected D blocked, got %v %v", res, err)
	}

	// Client C disconnects.
	s.ClientCleanup(clientC, func(name string, owner ClientID) {
		t.Fatalf("C's disconnect should not grant anyone a lock")
	})

	newOwner, ok, err := s.Unlock("/d/f", clientB)
	if err != nil {
		t.Fatalf("unlock by B: %v", err)
	}
	if !ok || newOwner != clientD {
		t.Fatalf("expected D to become new owner (C was removed), got %v %v", newOwner, ok)
	}

	if _, _, err := s.Read("/d/f", clientD); err != nil {
		t.Fatalf("read by D: %v", err)
	}
}

func TestRemoveWithWaitersNotifiesEveryBlockedClient(t *testing.T) {
	s := New(Config{MaxFileCount: 10, MaxByteSize: 4096})

	const (
		clientA = ClientID(1)
		clientB = ClientID(2)
		clientC = ClientID(3)
	)

	if err := s.Create("/e/f", clientA, true, noopWait); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, c := range []ClientID{clientB, clientC} {
		if _, err := s.Open("/e/f", c, false); err != nil {
			t.Fatalf("open by %d: %v", c, err)
		}
		if res, err := s.Lock("/e/f", c); err != nil || res != Blocked {
			t.Fatalf("expected %d blocked, got %v %v", c, res, err)
		}
	}

	var failed []ClientID
	waitHandler := func(waiters *queue.Queue[ClientID]) {
		failed = append(failed, waiters.ToSlice()...)
	}
	if err := s.Remove("/e/f", clientA, waitHandler); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if len(failed) != 2 {
		t.Fatalf("expected 2 failed waiters, got %v", failed)
	}
	seen := map[ClientID]bool{}
	for _, c := range failed {
		seen[c] = true
	}
	if !seen[clientB] || !seen[clientC] {
		t.Fatalf("expected B and C among failed waiters, got %v", failed)
	}

	if _, _, err := s.Read("/e/f", clientA); !isCode(err, NotFound) {
		t.Fatalf("expected not-found after remove, got %v", err)
	}
}

func TestReadNBulkIgnoresOpenState(t *testing.T) {
	s := New(Config{MaxFileCount: 10, MaxByteSize: 4096})

	names := []string{"/f/1", "/f/2", "/f/3"}
	for i, name := range names {
		c := ClientID(i)
		if err := s.Create(name, c, false, noopWait); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		// Create already opens the file and grants WRITE-ELIGIBLE; do not
		// re-open before the whole write below.
		if err := s.Write(name, []byte(name), c, true, noopWait, nil); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		// Close immediately: ReadN must still return this file since it
		// ignores the OPEN precondition.
		if err := s.Close(name, c); err != nil {
			t.Fatalf("close %s: %v", name, err)
		}
	}

	results := s.ReadN(ClientID(99), 0)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Name != names[i] {
			t.Fatalf("expected insertion order %v, got %s at %d", names, r.Name, i)
		}
		if string(r.Payload) != names[i] {
			t.Fatalf("expected payload %q, got %q", names[i], r.Payload)
		}
	}
}

func TestInvariantEveryKeyInEvictionQueueOnce(t *testing.T) {
	s := New(Config{MaxFileCount: 3, MaxByteSize: 4096})
	for i := 0; i < 5; i++ {
		name := string(rune('a' + i))
		_ = s.Create(name, ClientID(i), false, noopWait)
	}
	names := s.evictionQueue.ToSlice()
	if len(names) != len(s.table) {
		t.Fatalf("eviction queue length %d != table size %d", len(names), len(s.table))
	}
	for _, n := range names {
		if _, ok := s.table[n]; !ok {
			t.Fatalf("eviction queue references absent name %q", n)
		}
	}
}

func TestConcurrentReadersDoNotBlockEachOther(t *testing.T) {
	s := New(Config{MaxFileCount: 10, MaxByteSize: 4096})
	if err := s.Create("/g/f", 1, false, noopWait); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Open("/g/f", 1, false); err != nil {
		t.Fatalf("open: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := s.Read("/g/f", 1); err != nil {
				errs <- err
			}
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("concurrent reads did not complete in time")
	}
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected read error: %v", err)
	}
}
