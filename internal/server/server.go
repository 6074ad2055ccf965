// Package server accepts client connections and runs one session per
// connection until shutdown.
package server

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/konorlevich/fileshare/internal/server/access"
	"github.com/konorlevich/fileshare/internal/server/database"
	"github.com/konorlevich/fileshare/internal/server/session"
	"github.com/konorlevich/fileshare/internal/server/storage"
	"github.com/konorlevich/fileshare/internal/server/transfer"
)

// acceptTimeout bounds each blocking accept so the loop can observe a
// shutdown and stop cleanly.
const acceptTimeout = time.Second

type Server struct {
	addr   string
	repo   *database.Repository
	access *access.Resolver
	xfer   *transfer.Engine
	store  *storage.Storage
	l      *log.Entry

	ln     *net.TCPListener
	active atomic.Int64

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func New(addr string, repo *database.Repository, store *storage.Storage, l *log.Entry) *Server {
	resolver := access.NewResolver(repo)
	return &Server{
		addr:   addr,
		repo:   repo,
		access: resolver,
		xfer:   transfer.NewEngine(repo, resolver, store, l),
		store:  store,
		l:      l,
		conns:  map[net.Conn]struct{}{},
	}
}

func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln.(*net.TCPListener)
	s.l.WithField("addr", s.ln.Addr().String()).Info("server listening")
	return nil
}

// Addr reports the bound address. Only valid after Listen.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// ActiveConnections is the number of sessions currently open.
func (s *Server) ActiveConnections() int64 {
	return s.active.Load()
}

// Serve accepts connections until ctx is canceled, spawning one session
// goroutine per connection. On shutdown it closes every open connection to
// unblock the sessions and waits for all of them to finish.
func (s *Server) Serve(ctx context.Context) error {
	defer s.ln.Close()
	eg := &errgroup.Group{}

	var err error
	for ctx.Err() == nil {
		if err = s.ln.SetDeadline(time.Now().Add(acceptTimeout)); err != nil {
			break
		}
		conn, acceptErr := s.ln.Accept()
		if acceptErr != nil {
			if errors.Is(acceptErr, os.ErrDeadlineExceeded) || ctx.Err() != nil {
				continue
			}
			s.l.WithError(acceptErr).Error("accept failed")
			continue
		}

		s.addConn(conn)
		l := s.l.WithField("client", conn.RemoteAddr().String())
		l.WithField("active_connections", s.active.Add(1)).Info("new connection")
		eg.Go(func() error {
			defer func() {
				s.removeConn(conn)
				_ = conn.Close()
				l.WithField("active_connections", s.active.Add(-1)).Info("connection closed")
			}()
			session.New(conn, s.repo, s.access, s.xfer, s.store, s.l).Handle(ctx)
			return nil
		})
	}

	s.closeConns()
	if waitErr := eg.Wait(); err == nil {
		err = waitErr
	}
	return err
}

func (s *Server) addConn(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeConn(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}
