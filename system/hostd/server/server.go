// Package server hosts documents for JSON-RPC clients.
//
// Each connection is a session holding the documents, transactions and
// subscriptions it created. They are released when the connection
// closes.
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/signadot/ydoc"
	"github.com/signadot/ydoc/persist"
	"go.lsp.dev/jsonrpc2"
)

// Server represents the document host.
type Server struct {
	Spec Spec

	dispatch ydoc.Dispatch
	store    *persist.Store

	sessions   map[string]*session
	sessionsMu sync.Mutex
	sessionSeq atomic.Int64

	// TCP listener for client connections
	tcpListener *TCPListener
}

// New creates a new Server instance, opening its store if the config
// asks for one.
func New(spec *Spec) (*Server, error) {
	if spec.Log == nil {
		spec.Log = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slogLevel(),
		}))
	}
	if spec.Config == nil {
		spec.Config = DefaultConfig()
	}
	if err := spec.Config.Validate(); err != nil {
		return nil, err
	}
	dispatch, err := ydoc.ParseDispatch(spec.Config.Dispatch)
	if err != nil {
		return nil, err
	}
	s := &Server{
		Spec:     *spec,
		dispatch: dispatch,
		sessions: make(map[string]*session),
	}
	s.Spec.Log = spec.Log.With("component", "hostd")
	if pc := spec.Config.Persist; pc != nil {
		c := *pc
		c.Log = spec.Log
		s.store, err = persist.Open(c)
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func slogLevel() slog.Level {
	if os.Getenv("DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func (s *Server) lockTimeout() time.Duration {
	return time.Duration(s.Spec.Config.LockTimeout)
}

// ServeConn runs a session on rwc until the peer hangs up or ctx is
// done.
func (s *Server) ServeConn(ctx context.Context, name string, rwc io.ReadWriteCloser) error {
	id := fmt.Sprintf("%s-%d", name, s.sessionSeq.Add(1))
	conn := jsonrpc2.NewConn(jsonrpc2.NewStream(rwc))
	sess := newSession(id, s, conn)

	s.sessionsMu.Lock()
	s.sessions[id] = sess
	s.sessionsMu.Unlock()
	defer func() {
		s.sessionsMu.Lock()
		delete(s.sessions, id)
		s.sessionsMu.Unlock()
		sess.close()
	}()

	s.Spec.Log.Debug("session started", "session", id)
	conn.Go(ctx, sess.handle)
	select {
	case <-conn.Done():
	case <-ctx.Done():
		conn.Close()
		<-conn.Done()
	}
	return nil
}

// ServeStdio runs one session over in and out.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	return s.ServeConn(ctx, "stdio", &stdioReadWriteCloser{read: in, write: out})
}

type stdioReadWriteCloser struct {
	read  io.Reader
	write io.Writer
}

func (s *stdioReadWriteCloser) Read(p []byte) (n int, err error) {
	return s.read.Read(p)
}

func (s *stdioReadWriteCloser) Write(p []byte) (n int, err error) {
	return s.write.Write(p)
}

func (s *stdioReadWriteCloser) Close() error {
	return nil
}

// StartTCP starts the TCP listener on the given address.
// The listener runs in a separate goroutine.
func (s *Server) StartTCP(addr string) error {
	if s.tcpListener != nil {
		return fmt.Errorf("TCP listener already running")
	}
	listener, err := NewTCPListener(addr, s)
	if err != nil {
		return err
	}
	s.tcpListener = listener

	go func() {
		if err := listener.Serve(); err != nil {
			s.Spec.Log.Error("TCP listener error", "error", err)
		}
	}()
	return nil
}

// StopTCP stops the TCP listener.
func (s *Server) StopTCP() error {
	if s.tcpListener == nil {
		return nil
	}
	err := s.tcpListener.Close()
	s.tcpListener = nil
	return err
}

// TCPAddr returns the TCP listener's address, or empty string if not running.
func (s *Server) TCPAddr() string {
	if s.tcpListener == nil {
		return ""
	}
	return s.tcpListener.Addr().String()
}

// Close stops listening, ends every session and closes the store.
func (s *Server) Close() error {
	err := s.StopTCP()
	s.sessionsMu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessionsMu.Unlock()
	for _, sess := range sessions {
		sess.conn.Close()
	}
	if s.store != nil {
		if cerr := s.store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
