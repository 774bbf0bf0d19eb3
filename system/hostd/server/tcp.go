package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// TCPListener accepts JSON-RPC connections.
type TCPListener struct {
	listener net.Listener
	server   *Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewTCPListener creates a new TCP listener.
func NewTCPListener(addr string, server *Server) (*TCPListener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TCPListener{
		listener: listener,
		server:   server,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Addr returns the listener's network address.
func (l *TCPListener) Addr() net.Addr {
	return l.listener.Addr()
}

// Serve accepts connections and runs a session for each.
// Blocks until Close is called or an error occurs.
func (l *TCPListener) Serve() error {
	log := l.server.Spec.Log
	log.Info("TCP listener started", "addr", l.listener.Addr().String())
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if l.closed.Load() {
				return nil
			}
			log.Error("accept error", "error", err)
			continue
		}
		log.Debug("new TCP connection", "remote", conn.RemoteAddr().String())
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			if err := l.server.ServeConn(l.ctx, "tcp", conn); err != nil {
				log.Error("session error", "error", err)
			}
		}()
	}
}

// Close stops accepting, ends the sessions it started and waits for
// them.
func (l *TCPListener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := l.listener.Close()
	l.cancel()
	l.wg.Wait()
	return err
}
