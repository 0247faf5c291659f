// Package pgwire serves read-only simple queries over the PostgreSQL wire
// protocol. Every query goes through the gateway's validate, execute and
// audit path, so psql-style clients get exactly the guarantees the HTTP API
// gives.
package pgwire

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"duck-gateway/internal/domain"
	"duck-gateway/internal/gateway"
)

// Submitter runs one statement through the gateway.
type Submitter interface {
	Submit(ctx context.Context, req gateway.SubmitRequest) (*gateway.SubmitResponse, error)
}

// Config configures a Server.
type Config struct {
	Addr         string
	QueryTimeout time.Duration
	Logger       *slog.Logger
}

type backendKey struct {
	processID int32
	secretKey int32
}

// Server accepts PG-wire connections and answers simple queries.
type Server struct {
	cfg    Config
	submit Submitter
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	active   map[backendKey]context.CancelFunc
	nextPID  int32
	wg       sync.WaitGroup
}

// NewServer creates a server that runs queries through submit.
func NewServer(cfg Config, submit Submitter) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		submit: submit,
		logger: logger.With("component", "pgwire"),
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[net.Conn]struct{}),
		active: make(map[backendKey]context.CancelFunc),
	}
}

// Start binds the listener and serves connections in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("pgwire listen %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("listening", "addr", ln.Addr().String())
	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Shutdown stops accepting, cancels running queries and closes every
// connection, then waits for handlers to return or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.cancel()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConn(conn)
		}()
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) newKey() backendKey {
	var b [4]byte
	_, _ = rand.Read(b[:])
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPID++
	return backendKey{processID: s.nextPID, secretKey: int32(binary.BigEndian.Uint32(b[:]))}
}

// session is one client connection after startup.
type session struct {
	srv    *Server
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	key    backendKey
	user   string
	logger *slog.Logger
}

func (s *Server) handleConn(conn net.Conn) {
	sess := &session{
		srv:  s,
		conn: conn,
		r:    bufio.NewReader(conn),
		w:    bufio.NewWriter(conn),
	}
	ok, err := sess.startup()
	if err != nil {
		s.logger.Debug("startup failed", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}
	if !ok {
		return
	}
	sess.logger.Info("client connected")
	if err := sess.serve(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		sess.logger.Debug("connection closed", "error", err)
	}
}

// startup negotiates the session. It reports false when the connection
// carried a cancel request or was refused.
func (sess *session) startup() (bool, error) {
	for {
		code, payload, err := readStartup(sess.r)
		if err != nil {
			return false, err
		}
		switch code {
		case sslRequestCode, gssEncRequest:
			// no encryption; the client retries in plaintext
			if _, err := sess.conn.Write([]byte{'N'}); err != nil {
				return false, err
			}
			continue
		case cancelRequest:
			if len(payload) >= 8 {
				sess.srv.cancelQuery(backendKey{
					processID: int32(binary.BigEndian.Uint32(payload[0:4])),
					secretKey: int32(binary.BigEndian.Uint32(payload[4:8])),
				})
			}
			return false, nil
		case protocolVersion3:
		default:
			_ = writeError(sess.w, stateProtocolViolation, fmt.Sprintf("unsupported protocol version %d", code), "")
			return false, sess.w.Flush()
		}

		params := startupParams(payload)
		sess.user = params["user"]
		if sess.user == "" {
			_ = writeError(sess.w, stateInvalidAuthSpec, "no user name specified in startup packet", "")
			return false, sess.w.Flush()
		}
		sess.key = sess.srv.newKey()
		sess.logger = sess.srv.logger.With("user", sess.user, "pid", sess.key.processID)

		if err := writeAuthOK(sess.w); err != nil {
			return false, err
		}
		for _, kv := range [][2]string{
			{"server_version", "16.0"},
			{"client_encoding", "UTF8"},
			{"DateStyle", "ISO, MDY"},
			{"integer_datetimes", "on"},
			{"standard_conforming_strings", "on"},
		} {
			if err := writeParameterStatus(sess.w, kv[0], kv[1]); err != nil {
				return false, err
			}
		}
		if err := writeBackendKeyData(sess.w, sess.key); err != nil {
			return false, err
		}
		if err := writeReady(sess.w); err != nil {
			return false, err
		}
		return true, sess.w.Flush()
	}
}

// serve runs the message loop until the client terminates.
func (sess *session) serve() error {
	// set after an extended-protocol message; everything up to Sync is dropped
	skipping := false
	for {
		typ, payload, err := readMessage(sess.r)
		if err != nil {
			return err
		}
		switch typ {
		case 'Q':
			if err := sess.simpleQuery(strings.TrimRight(string(payload), "\x00")); err != nil {
				return err
			}
		case 'P', 'B', 'D', 'E', 'C', 'F':
			if !skipping {
				skipping = true
				if err := writeError(sess.w, stateFeatureNotSupported, "extended query protocol is not supported", ""); err != nil {
					return err
				}
			}
		case 'S':
			skipping = false
			if err := writeReady(sess.w); err != nil {
				return err
			}
			if err := sess.w.Flush(); err != nil {
				return err
			}
		case 'H':
			if err := sess.w.Flush(); err != nil {
				return err
			}
		case 'X':
			return nil
		default:
			if err := writeError(sess.w, stateProtocolViolation, fmt.Sprintf("unsupported message type %q", typ), ""); err != nil {
				return err
			}
			if err := writeReady(sess.w); err != nil {
				return err
			}
			if err := sess.w.Flush(); err != nil {
				return err
			}
		}
	}
}

func (sess *session) simpleQuery(sql string) error {
	if strings.TrimSpace(strings.TrimRight(strings.TrimSpace(sql), ";")) == "" {
		if err := writeEmptyQuery(sess.w); err != nil {
			return err
		}
		return sess.ready()
	}

	ctx, cancel := context.WithCancel(sess.srv.ctx)
	sess.srv.register(sess.key, cancel)
	resp, err := sess.srv.submit.Submit(ctx, gateway.SubmitRequest{
		SQL:     sql,
		Kind:    domain.RequestDirect,
		Options: gateway.ExecutionOptions{Timeout: sess.srv.cfg.QueryTimeout},
	})
	sess.srv.unregister(sess.key)
	cancel()

	if err != nil || resp == nil || !resp.Success {
		if err == nil {
			err = errors.New("query failed")
		}
		if werr := sess.writeFailure(resp, err); werr != nil {
			return werr
		}
		return sess.ready()
	}

	if err := writeRowDescription(sess.w, resp.Columns); err != nil {
		return err
	}
	for _, row := range resp.Rows {
		if err := writeDataRow(sess.w, row); err != nil {
			return err
		}
	}
	if err := writeCommandComplete(sess.w, fmt.Sprintf("SELECT %d", len(resp.Rows))); err != nil {
		return err
	}
	return sess.ready()
}

func (sess *session) writeFailure(resp *gateway.SubmitResponse, err error) error {
	msg := err.Error()
	detail := ""
	if resp != nil {
		if resp.Rejection != nil {
			msg = resp.Rejection.Reason
		} else if resp.Error != "" {
			msg = resp.Error
		}
		if resp.Metadata.AuditID != "" {
			detail = "audit_id=" + resp.Metadata.AuditID
		}
	}
	code := sqlState(err)
	sess.logger.Info("query failed", "sqlstate", code, "error", msg)
	return writeError(sess.w, code, msg, detail)
}

func (sess *session) ready() error {
	if err := writeReady(sess.w); err != nil {
		return err
	}
	return sess.w.Flush()
}

func (s *Server) register(key backendKey, cancel context.CancelFunc) {
	s.mu.Lock()
	s.active[key] = cancel
	s.mu.Unlock()
}

func (s *Server) unregister(key backendKey) {
	s.mu.Lock()
	delete(s.active, key)
	s.mu.Unlock()
}

// cancelQuery cancels the running query of the session holding key. Unknown
// keys are ignored.
func (s *Server) cancelQuery(key backendKey) {
	s.mu.Lock()
	cancel, ok := s.active[key]
	s.mu.Unlock()
	if ok {
		s.logger.Info("cancel request", "pid", key.processID)
		cancel()
	}
}
