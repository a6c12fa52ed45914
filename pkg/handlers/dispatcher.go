// Package handlers translates each inbound request into exactly one
// pkg/filecache.Store call and back into internal/wire messages, and owns
// the side-table of parked reply channels for a client whose lock request
// returned "blocked".
//
// This package is intentionally thin: it owns no storage-engine state of
// its own beyond that pending-lock side-table, and never reaches into a
// FileEntry or the eviction queue directly — every storage decision is one
// pkg/filecache.Store call.
package handlers

import (
	"context"
	"sync"

	"github.com/oxcache/filecached/internal/logger"
	"github.com/oxcache/filecached/internal/wire"
	"github.com/oxcache/filecached/pkg/filecache"
	"github.com/oxcache/filecached/pkg/queue"
)

// Dispatcher turns one framed wire.Request, plus the calling client's
// identifier, into exactly one pkg/filecache.Store call, and translates the
// outcome into wire.Reply values for the caller plus any side-effect
// notifications for other clients.
type Dispatcher struct {
	store *filecache.Store

	mu      sync.Mutex
	pending map[filecache.ClientID]chan wire.Reply
}

// New constructs a Dispatcher over store.
func New(store *filecache.Store) *Dispatcher {
	return &Dispatcher{
		store:   store,
		pending: make(map[filecache.ClientID]chan wire.Reply),
	}
}

// RegisterPending parks a reply channel for c, used when c's lock request
// returns Blocked: the server goroutine handling c's connection reads from
// the returned channel instead of replying immediately. Must be called
// before the Store call that might block c — see handleLock.
//
// A client may have at most one pending delayed reply at a time: the wire
// protocol carries no request identifier on a delayed OK/ERR, so a second
// blocking request from the same client before the first resolves would
// have no way to tell its reply apart from the first's. ok is false if c
// already has a pending entry; the caller must reject the new request
// instead of issuing it.
func (d *Dispatcher) RegisterPending(c filecache.ClientID) (ch chan wire.Reply, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.pending[c]; exists {
		return nil, false
	}
	ch = make(chan wire.Reply, 1)
	d.pending[c] = ch
	return ch, true
}

// CancelPending discards c's parked channel without delivering anything,
// used by the server when a lock request it pre-registered a channel for
// turned out to grant immediately (no delayed reply will ever come).
func (d *Dispatcher) CancelPending(c filecache.ClientID) {
	d.mu.Lock()
	delete(d.pending, c)
	d.mu.Unlock()
}

// deliverPending sends reply to c's parked channel, if one is registered,
// and removes it — the one-shot delayed reply for a blocked lock's
// eventual grant or failure.
func (d *Dispatcher) deliverPending(c filecache.ClientID, reply wire.Reply) {
	d.mu.Lock()
	ch, ok := d.pending[c]
	if ok {
		delete(d.pending, c)
	}
	d.mu.Unlock()

	if ok {
		ch <- reply
	}
}

// Handle dispatches req for client c, sending replies via send. send may be
// called more than once (GETF frames precede the terminal OK/ERR) and must
// not block indefinitely — the server's send frames each reply and writes
// it to the connection under a per-connection mutex.
func (d *Dispatcher) Handle(ctx context.Context, c filecache.ClientID, req wire.Request, send func(wire.Reply) error) error {
	switch req.Op {
	case wire.OpOpen:
		return d.handleOpen(ctx, c, req, send)
	case wire.OpClose:
		return d.handleClose(ctx, c, req, send)
	case wire.OpRead:
		return d.handleRead(ctx, c, req, send)
	case wire.OpReadN:
		return d.handleReadN(ctx, c, req, send)
	case wire.OpWrite:
		return d.handleWrite(ctx, c, req, send)
	case wire.OpLock:
		return d.handleLock(ctx, c, req, send)
	case wire.OpUnlock:
		return d.handleUnlock(ctx, c, req, send)
	case wire.OpRemove:
		return d.handleRemove(ctx, c, req, send)
	default:
		return send(errReply(filecache.InvalidArgument))
	}
}

func (d *Dispatcher) handleOpen(ctx context.Context, c filecache.ClientID, req wire.Request, send func(wire.Reply) error) error {
	result, err := d.store.Open(req.Name, c, req.WithLock)
	if err != nil && req.Create {
		if fe, ok := err.(*filecache.Error); ok && fe.Code == filecache.NotFound {
			err = d.store.Create(req.Name, c, req.WithLock, d.waitHandlerFor(ctx))
			result = filecache.Granted
		}
	}
	if err != nil {
		logger.WarnCtx(ctx, "open failed", "name", req.Name, "client_id", int(c), "err", err)
		return send(errFromErr(err))
	}
	if result == filecache.Blocked {
		// The reply is suppressed: the server registered a pending channel
		// for c before calling Handle (see internal/server) and will read
		// the eventual grant/failure from it instead of from this return.
		return nil
	}
	return send(wire.Reply{Kind: wire.ReplyOK})
}

func (d *Dispatcher) handleClose(ctx context.Context, c filecache.ClientID, req wire.Request, send func(wire.Reply) error) error {
	if err := d.store.Close(req.Name, c); err != nil {
		return send(errFromErr(err))
	}
	return send(wire.Reply{Kind: wire.ReplyOK})
}

func (d *Dispatcher) handleRead(ctx context.Context, c filecache.ClientID, req wire.Request, send func(wire.Reply) error) error {
	buf, _, err := d.store.Read(req.Name, c)
	if err != nil {
		return send(errFromErr(err))
	}
	if err := send(wire.Reply{Kind: wire.ReplyGetF, Name: req.Name, Payload: buf}); err != nil {
		return err
	}
	return send(wire.Reply{Kind: wire.ReplyOK})
}

func (d *Dispatcher) handleReadN(ctx context.Context, c filecache.ClientID, req wire.Request, send func(wire.Reply) error) error {
	results := d.store.ReadN(c, int(req.N))
	for _, r := range results {
		if err := send(wire.Reply{Kind: wire.ReplyGetF, Name: r.Name, Payload: r.Payload}); err != nil {
			return err
		}
	}
	return send(wire.Reply{Kind: wire.ReplyOK})
}

func (d *Dispatcher) handleWrite(ctx context.Context, c filecache.ClientID, req wire.Request, send func(wire.Reply) error) error {
	waitHandler := d.waitHandlerFor(ctx)
	sendBack := func(name string, payload []byte, size int, callingClient filecache.ClientID, dirty bool) {
		_ = send(wire.Reply{Kind: wire.ReplyGetF, Name: name, Payload: payload, Dirty: dirty})
	}

	err := d.store.Write(req.Name, req.Payload, c, req.Whole, waitHandler, sendBack)
	if err != nil {
		logger.WarnCtx(ctx, "write failed", "name", req.Name, "client_id", int(c), "err", err)
		return send(errFromErr(err))
	}
	return send(wire.Reply{Kind: wire.ReplyOK})
}

func (d *Dispatcher) handleLock(ctx context.Context, c filecache.ClientID, req wire.Request, send func(wire.Reply) error) error {
	result, err := d.store.Lock(req.Name, c)
	if err != nil {
		return send(errFromErr(err))
	}
	if result == filecache.Blocked {
		return nil
	}
	return send(wire.Reply{Kind: wire.ReplyOK})
}

func (d *Dispatcher) handleUnlock(ctx context.Context, c filecache.ClientID, req wire.Request, send func(wire.Reply) error) error {
	newOwner, granted, err := d.store.Unlock(req.Name, c)
	if err != nil {
		return send(errFromErr(err))
	}
	if granted {
		d.deliverPending(newOwner, wire.Reply{Kind: wire.ReplyOK})
	}
	return send(wire.Reply{Kind: wire.ReplyOK})
}

func (d *Dispatcher) handleRemove(ctx context.Context, c filecache.ClientID, req wire.Request, send func(wire.Reply) error) error {
	waitHandler := d.waitHandlerFor(ctx)
	if err := d.store.Remove(req.Name, c, waitHandler); err != nil {
		return send(errFromErr(err))
	}
	return send(wire.Reply{Kind: wire.ReplyOK})
}

// waitHandlerFor builds a WaitHandler: for every client identifier in the
// queue, deliver the "lock attempt failed" reply to its pending channel.
func (d *Dispatcher) waitHandlerFor(ctx context.Context) filecache.WaitHandler {
	return func(waiters *queue.Queue[filecache.ClientID]) {
		for {
			c, ok := waiters.PopNonBlocking()
			if !ok {
				return
			}
			logger.DebugCtx(ctx, "lock wait failed", "client_id", int(c))
			d.deliverPending(c, errReply(filecache.NotFound))
		}
	}
}

// ClientCleanup runs when a connection ends: it sweeps the store for
// locks/waits held by c and delivers a delayed OK to every client that
// newly became an owner as a result. If c itself was parked waiting on a
// reply (a lock request still blocked at disconnect time), its entry is
// discarded without delivering anything — the connection is already gone,
// so there is nothing left to send it.
func (d *Dispatcher) ClientCleanup(c filecache.ClientID) {
	d.store.ClientCleanup(c, func(name string, owner filecache.ClientID) {
		d.deliverPending(owner, wire.Reply{Kind: wire.ReplyOK})
	})

	d.mu.Lock()
	delete(d.pending, c)
	d.mu.Unlock()
}

func errReply(code filecache.Code) wire.Reply {
	return wire.Reply{Kind: wire.ReplyErr, Code: byte(code)}
}

func errFromErr(err error) wire.Reply {
	if fe, ok := err.(*filecache.Error); ok {
		return errReply(fe.Code)
	}
	return errReply(filecache.NotRecoverable)
}
