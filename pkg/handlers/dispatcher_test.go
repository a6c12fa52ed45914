package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/oxcache/filecached/internal/wire"
	"github.com/oxcache/filecached/pkg/filecache"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	store := filecache.New(filecache.Config{MaxFileCount: 6, MaxByteSize: 512})
	return New(store)
}

func collectSend(t *testing.T) (func(wire.Reply) error, *[]wire.Reply) {
	t.Helper()
	var got []wire.Reply
	return func(r wire.Reply) error {
		got = append(got, r)
		return nil
	}, &got
}

func TestHandleOpenWriteReadRoundTrip(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	send, replies := collectSend(t)

	if err := d.store.Create("/a/file1", 1, false, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := d.Handle(ctx, 1, wire.Request{Op: wire.OpOpen, Name: "/a/file1"}, send); err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(*replies) != 1 || (*replies)[0].Kind != wire.ReplyOK {
		t.Fatalf("open replies = %+v", *replies)
	}

	*replies = nil
	payload := []byte("Servator1Servator1")
	if err := d.Handle(ctx, 1, wire.Request{Op: wire.OpWrite, Name: "/a/file1", Whole: false, Payload: payload}, send); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(*replies) != 1 || (*replies)[0].Kind != wire.ReplyOK {
		t.Fatalf("write replies = %+v", *replies)
	}

	*replies = nil
	if err := d.Handle(ctx, 1, wire.Request{Op: wire.OpRead, Name: "/a/file1"}, send); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(*replies) != 2 || (*replies)[0].Kind != wire.ReplyGetF || string((*replies)[0].Payload) != string(payload) {
		t.Fatalf("read replies = %+v", *replies)
	}
	if (*replies)[1].Kind != wire.ReplyOK {
		t.Fatalf("expected trailing OK, got %+v", (*replies)[1])
	}
}

func TestHandleLockContentionAndCleanup(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	if err := d.store.Create("/d/f", 1, true, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	sendA, repliesA := collectSend(t)
	if err := d.Handle(ctx, 1, wire.Request{Op: wire.OpUnlock, Name: "/d/f"}, sendA); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if len(*repliesA) != 1 || (*repliesA)[0].Kind != wire.ReplyOK {
		t.Fatalf("unlock replies = %+v", *repliesA)
	}

	sendB, repliesB := collectSend(t)
	if err := d.Handle(ctx, 2, wire.Request{Op: wire.OpLock, Name: "/d/f"}, sendB); err != nil {
		t.Fatalf("B lock: %v", err)
	}
	if len(*repliesB) != 1 || (*repliesB)[0].Kind != wire.ReplyOK {
		t.Fatalf("expected B granted immediately, got %+v", *repliesB)
	}

	pendingC, ok := d.RegisterPending(3)
	if !ok {
		t.Fatalf("RegisterPending(3): expected ok")
	}
	sendC, repliesC := collectSend(t)
	if err := d.Handle(ctx, 3, wire.Request{Op: wire.OpLock, Name: "/d/f"}, sendC); err != nil {
		t.Fatalf("C lock: %v", err)
	}
	if len(*repliesC) != 0 {
		t.Fatalf("expected C's reply suppressed, got %+v", *repliesC)
	}

	// C disconnects before being granted the lock.
	d.ClientCleanup(3)

	select {
	case r := <-pendingC:
		if r.Kind != wire.ReplyOK {
			t.Fatalf("unexpected delayed reply to disconnected C: %+v", r)
		}
		t.Fatalf("disconnected client should not receive a delayed grant")
	case <-time.After(20 * time.Millisecond):
		// Expected: cleanup removed C from the waiters queue silently.
	}

	sendB2, repliesB2 := collectSend(t)
	if err := d.Handle(ctx, 2, wire.Request{Op: wire.OpUnlock, Name: "/d/f"}, sendB2); err != nil {
		t.Fatalf("B unlock: %v", err)
	}
	if len(*repliesB2) != 1 || (*repliesB2)[0].Kind != wire.ReplyOK {
		t.Fatalf("B unlock replies = %+v", *repliesB2)
	}
}

func TestRegisterPendingRejectsSecondForSameClient(t *testing.T) {
	d := newTestDispatcher(t)

	first, ok := d.RegisterPending(5)
	if !ok {
		t.Fatalf("first RegisterPending(5): expected ok")
	}

	if _, ok := d.RegisterPending(5); ok {
		t.Fatalf("second RegisterPending(5): expected rejection while first is outstanding")
	}

	d.CancelPending(5)

	if _, ok := d.RegisterPending(5); !ok {
		t.Fatalf("RegisterPending(5) after CancelPending: expected ok")
	}

	close(first)
}

func TestHandleRemoveNotifiesWaiters(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	if err := d.store.Create("/e/f", 1, true, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	pendingB, ok := d.RegisterPending(2)
	if !ok {
		t.Fatalf("RegisterPending(2): expected ok")
	}
	sendB, repliesB := collectSend(t)
	if err := d.Handle(ctx, 2, wire.Request{Op: wire.OpLock, Name: "/e/f"}, sendB); err != nil {
		t.Fatalf("B lock: %v", err)
	}
	if len(*repliesB) != 0 {
		t.Fatalf("expected B suppressed, got %+v", *repliesB)
	}

	sendA, repliesA := collectSend(t)
	if err := d.Handle(ctx, 1, wire.Request{Op: wire.OpRemove, Name: "/e/f"}, sendA); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(*repliesA) != 1 || (*repliesA)[0].Kind != wire.ReplyOK {
		t.Fatalf("remove replies = %+v", *repliesA)
	}

	select {
	case r := <-pendingB:
		if r.Kind != wire.ReplyErr || filecache.Code(r.Code) != filecache.NotFound {
			t.Fatalf("expected ERR(not-found) for B, got %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("B never received its failure notification")
	}
}
