// Package server is the worker-pool dispatcher that makes the storage core
// reachable over a socket: it accepts connections on a local stream socket,
// bounds concurrent request handling with a counting semaphore, and turns
// each framed request into exactly one pkg/handlers.Dispatcher call. It
// contains no file-cache logic of its own.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/oxcache/filecached/internal/logger"
	"github.com/oxcache/filecached/internal/wire"
	"github.com/oxcache/filecached/pkg/filecache"
	"github.com/oxcache/filecached/pkg/handlers"
)

// Config bounds the server's socket and worker pool.
type Config struct {
	SocketPath string
	Workers    int
	Backlog    int
}

// Server accepts connections on a Unix domain socket and dispatches framed
// requests to a handlers.Dispatcher, one request at a time per connection,
// bounded across all connections by a semaphore sized to Workers.
type Server struct {
	cfg        Config
	dispatcher *handlers.Dispatcher

	listener net.Listener
	sem      *semaphore.Weighted
	nextID   atomic.Int64
}

// New constructs a Server over store, serving on cfg.SocketPath once Serve
// is called.
func New(cfg Config, store *filecache.Store) *Server {
	if cfg.Workers <= 0 {
		cfg.Workers = 16
	}
	return &Server{
		cfg:        cfg,
		dispatcher: handlers.New(store),
		sem:        semaphore.NewWeighted(int64(cfg.Workers)),
	}
}

// Serve listens on cfg.SocketPath and accepts connections until ctx is
// canceled, at which point it stops accepting new connections and waits for
// in-flight ones to finish.
func (s *Server) Serve(ctx context.Context) error {
	_ = os.Remove(s.cfg.SocketPath)

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.SocketPath, err)
	}
	if unixLn, ok := ln.(*net.UnixListener); ok {
		unixLn.SetUnlinkOnClose(true)
	}
	s.listener = ln

	logger.Info("server listening", "socket", s.cfg.SocketPath, "workers", s.cfg.Workers)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-gctx.Done()
		return s.listener.Close()
	})

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) || isClosedErr(err) {
				break
			}
			return fmt.Errorf("accept: %w", err)
		}

		clientID := filecache.ClientID(s.nextID.Add(1))
		group.Go(func() error {
			if err := s.sem.Acquire(gctx, 1); err != nil {
				_ = conn.Close()
				return nil
			}
			defer s.sem.Release(1)

			s.serveConn(gctx, clientID, conn)
			return nil
		})
	}

	return group.Wait()
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// serveConn owns one connection end to end: it reads framed requests,
// dispatches each to the Dispatcher, and writes back whatever replies
// result — including delayed replies for a lock request that blocked,
// delivered by a second goroutine reading the Dispatcher's pending channel.
func (s *Server) serveConn(ctx context.Context, c filecache.ClientID, conn net.Conn) {
	connDone := make(chan struct{})
	defer close(connDone)
	defer conn.Close()
	defer s.dispatcher.ClientCleanup(c)

	var writeMu sync.Mutex
	send := func(r wire.Reply) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return wire.WriteFrame(conn, byte(r.Kind), wire.EncodeReply(r))
	}

	for {
		frame, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}

		req, err := wire.DecodeRequest(frame)
		if err != nil {
			_ = send(wire.Reply{Kind: wire.ReplyErr, Code: byte(filecache.InvalidArgument)})
			continue
		}

		mightBlock := req.Op == wire.OpLock || (req.Op == wire.OpOpen && req.WithLock)
		var pending chan wire.Reply
		if mightBlock {
			var ok bool
			pending, ok = s.dispatcher.RegisterPending(c)
			if !ok {
				// c already has a delayed reply outstanding; the wire
				// protocol has no way to disambiguate a second one, so
				// reject this request instead of clobbering the first.
				_ = send(wire.Reply{Kind: wire.ReplyErr, Code: byte(filecache.Busy)})
				continue
			}
		}

		sent := false
		wrapped := func(r wire.Reply) error {
			sent = true
			return send(r)
		}

		opCtx := logger.WithContext(ctx, &logger.LogContext{ClientID: int(c), Op: req.Op.String(), Name: req.Name})
		if err := s.dispatcher.Handle(opCtx, c, req, wrapped); err != nil {
			return
		}

		switch {
		case pending != nil && sent:
			s.dispatcher.CancelPending(c)
		case pending != nil && !sent:
			go func() {
				select {
				case reply, ok := <-pending:
					if ok {
						_ = send(reply)
					}
				case <-connDone:
					// Connection ended before a delayed reply arrived; there
					// is nowhere left to send it.
				}
			}()
		}
	}
}

// Close stops the listener, if Serve has started one. Safe to call even if
// Serve was never called or already returned.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}
