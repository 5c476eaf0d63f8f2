package sshserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"syscall"

	"golang.org/x/crypto/ssh"

	"github.com/BradenHooton/honeypot/internal/models"
	"github.com/BradenHooton/honeypot/internal/session"
	"github.com/BradenHooton/honeypot/internal/shell"
	pkghttp "github.com/BradenHooton/honeypot/pkg/http"
	pkglogger "github.com/BradenHooton/honeypot/pkg/logger"
)

// ErrServerClosed is returned by Serve after Close or Shutdown
var ErrServerClosed = errors.New("ssh server closed")

var errAuthRejected = errors.New("authentication rejected")

// SessionOpener admits connections into sessions
type SessionOpener interface {
	Open(ipAddress string, port int, closer io.Closer) (*session.Session, error)
}

// Config holds transport configuration
type Config struct {
	Addr          string
	ServerVersion string
}

// Server accepts TCP connections and speaks SSH on behalf of sessions
type Server struct {
	config   Config
	signer   ssh.Signer
	sessions SessionOpener
	logger   *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	wg       sync.WaitGroup
}

// New creates a new Server
func New(config Config, signer ssh.Signer, sessions SessionOpener, logger *slog.Logger) *Server {
	return &Server{
		config:   config,
		signer:   signer,
		sessions: sessions,
		logger:   logger,
	}
}

// ListenAndServe listens on the configured address and serves connections
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until it is closed
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("ssh listener started", slog.String("addr", ln.Addr().String()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.logger.Warn("temporary accept error", slog.String("error", err.Error()))
				continue
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Addr returns the listener address, or nil before Serve
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting connections. Live connections are left to their sessions.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Wait blocks until every connection handler has returned or ctx ends
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for connection handlers: %w", ctx.Err())
	}
}

// Shutdown closes the listener and waits for handlers
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("failed to close listener", slog.String("error", err.Error()))
	}
	return s.Wait(ctx)
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) handleConn(conn net.Conn) {
	ip, port := pkghttp.SplitHostPort(conn.RemoteAddr().String())

	sess, err := s.sessions.Open(ip, port, conn)
	if err != nil {
		// Open has already closed the connection
		return
	}
	defer sess.Close(session.ReasonTransportClosed)
	defer s.recoverPanic(sess)

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.serverConfig(sess))
	if err != nil {
		s.logTransportError(sess, "ssh handshake failed", err)
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	var channels sync.WaitGroup
	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, chReqs, err := newChan.Accept()
		if err != nil {
			s.logTransportError(sess, "failed to accept channel", err)
			continue
		}
		channels.Add(1)
		go func() {
			defer channels.Done()
			defer s.recoverPanic(sess)
			s.handleChannel(sess, ch, chReqs)
		}()
	}
	channels.Wait()
}

func (s *Server) serverConfig(sess *session.Session) *ssh.ServerConfig {
	cfg := &ssh.ServerConfig{
		ServerVersion: s.config.ServerVersion,
		// the forced-close timer bounds a connection instead
		MaxAuthTries: -1,
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			return authenticate(sess, meta, models.AuthMethodPassword, string(password))
		},
		PublicKeyCallback: func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			return authenticate(sess, meta, models.AuthMethodPublicKey, "")
		},
		// The client is never prompted; only password credentials are captured
		KeyboardInteractiveCallback: func(meta ssh.ConnMetadata, _ ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			return authenticate(sess, meta, models.AuthMethodKeyboardInteractive, "")
		},
	}
	cfg.AddHostKey(s.signer)
	return cfg
}

func authenticate(sess *session.Session, meta ssh.ConnMetadata, method, password string) (*ssh.Permissions, error) {
	ok, err := sess.Authenticate(method, meta.User(), password, string(meta.ClientVersion()))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errAuthRejected
	}
	return &ssh.Permissions{}, nil
}

func (s *Server) handleChannel(sess *session.Session, ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()

	pty := false
	for req := range reqs {
		switch req.Type {
		case "pty-req":
			pty = true
			req.Reply(true, nil)
		case "env":
			req.Reply(true, nil)
		case "shell":
			req.Reply(true, nil)
			go ssh.DiscardRequests(reqs)
			s.runShell(sess, ch, pty)
			return
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			code, err := sess.Exec(ch, payload.Command)
			if err != nil {
				s.logTransportError(sess, "exec failed", err)
			}
			sendExitStatus(ch, code)
			return
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (s *Server) runShell(sess *session.Session, ch ssh.Channel, pty bool) {
	if err := sess.OpenShell(ch, pty); err != nil {
		s.logTransportError(sess, "failed to open shell", err)
		return
	}

	buf := make([]byte, 1024)
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			outcome, inputErr := sess.Input(buf[:n])
			if inputErr != nil || outcome == shell.Terminate {
				sendExitStatus(ch, 0)
				return
			}
		}
		if err != nil {
			s.logTransportError(sess, "shell channel read ended", err)
			return
		}
	}
}

func sendExitStatus(ch ssh.Channel, code int) {
	status := struct{ Status uint32 }{uint32(code)}
	ch.SendRequest("exit-status", false, ssh.Marshal(&status))
}

func (s *Server) recoverPanic(sess *session.Session) {
	if r := recover(); r != nil {
		s.logger.Error("panic in connection handler",
			slog.String("session_id", sess.ID()),
			slog.Any("panic", r),
			slog.String("stack", string(debug.Stack())))
		sess.Close(session.ReasonError)
	}
}

func (s *Server) logTransportError(sess *session.Session, msg string, err error) {
	attrs := []slog.Attr{
		slog.String("session_id", sess.ID()),
		slog.String("error", pkglogger.SanitizeForLog(err.Error())),
	}
	level := slog.LevelWarn
	if isBenign(err) {
		level = slog.LevelDebug
	}
	s.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// isBenign reports errors that are ordinary ways for a scanner to hang up
func isBenign(err error) bool {
	var authErr *ssh.ServerAuthError
	if errors.As(err, &authErr) {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, models.ErrSessionClosed) ||
		errors.Is(err, errAuthRejected)
}
