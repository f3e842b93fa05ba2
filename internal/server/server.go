package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/voicebridge/bridged/internal/auth"
	"github.com/voicebridge/bridged/internal/config"
	"github.com/voicebridge/bridged/internal/model"
	"github.com/voicebridge/bridged/internal/protocol"
	"github.com/voicebridge/bridged/internal/sysmon"
)

// Dispatcher is the command pipeline behind every authenticated frame.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd model.Command) model.Result
}

// Monitor supplies the periodic system broadcast payload.
type Monitor interface {
	Read() sysmon.Snapshot
}

// client is one live websocket connection. The mutex serializes writes; the
// read loop, the keep-alive pinger, and the broadcast loop all write to the
// same conn.
type client struct {
	conn   *websocket.Conn
	remote string

	mu sync.Mutex
}

func (c *client) write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

// Server accepts websocket connections and runs the per-connection command
// loop. Connections are independent: a bad frame or failed auth poisons
// nothing beyond its own response.
type Server struct {
	cfg        config.Config
	auth       *auth.Authenticator
	dispatcher Dispatcher
	monitor    Monitor
	log        *logrus.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func New(cfg config.Config, authn *auth.Authenticator, dispatcher Dispatcher, monitor Monitor, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		cfg:        cfg,
		auth:       authn,
		dispatcher: dispatcher,
		monitor:    monitor,
		log:        log,
		clients:    map[*client]struct{}{},
	}
}

// ListenAndServe binds the configured address and serves until ctx is
// cancelled. If the port is held by another process, that process is killed
// once and the bind retried before giving up; the daemon is the only
// legitimate owner of its port.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil && addrInUse(err) {
		s.log.WithFields(logrus.Fields{"addr": addr}).Warn("port in use, evicting owner")
		if killErr := killPortOwner(ctx, s.cfg.Port); killErr != nil {
			return fmt.Errorf("listen %s: %w (evict failed: %v)", addr, err, killErr)
		}
		time.Sleep(500 * time.Millisecond)
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	if s.cfg.TLSCertPath != "" && s.cfg.TLSKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertPath, s.cfg.TLSKeyPath)
		if err != nil {
			return fmt.Errorf("load tls keypair: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}})
		s.log.Info("serving with TLS")
	}

	httpSrv := &http.Server{Handler: s, BaseContext: func(net.Listener) context.Context { return ctx }}

	go s.broadcastLoop(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Serve(ln) }()
	s.log.WithFields(logrus.Fields{"addr": addr}).Info("listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		s.closeAll()
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Local non-browser clients; origin checks do not apply.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{"remote": r.RemoteAddr, "error": err}).Warn("websocket accept")
		return
	}
	c := &client{conn: conn, remote: r.RemoteAddr}
	s.addClient(c)
	defer func() {
		s.removeClient(c)
		_ = conn.CloseNow()
	}()
	s.log.WithFields(logrus.Fields{"remote": c.remote}).Info("client connected")

	ctx := r.Context()
	go s.keepAlive(ctx, c)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.log.WithFields(logrus.Fields{"remote": c.remote, "error": err}).Info("client disconnected")
			return
		}
		s.handleFrame(ctx, c, data)
	}
}

// handleFrame processes one inbound frame and always answers on the same
// connection. Auth failures answer with an error result; the connection
// stays open for a corrected retry.
func (s *Server) handleFrame(ctx context.Context, c *client, data []byte) {
	if protocol.IsPing(data) {
		if err := c.write(ctx, []byte(protocol.PongFrame)); err != nil {
			s.log.WithFields(logrus.Fields{"remote": c.remote, "error": err}).Warn("write pong")
		}
		return
	}

	var (
		result model.Result
		reqID  string
	)
	cmd, err := protocol.Decode(data)
	switch {
	case err != nil:
		result = model.Errorf("Invalid command envelope").With("code", model.ErrBadEnvelope)
	case !s.auth.Validate(cmd.AuthToken, cmd.Timestamp, cmd.Nonce):
		s.log.WithFields(logrus.Fields{"remote": c.remote, "action": cmd.Action}).Warn("authentication failed")
		result = model.Errorf("Authentication failed").With("code", model.ErrAuthFailed)
		reqID = cmd.RequestID
	default:
		reqID = cmd.RequestID
		dispatchCtx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout+s.cfg.ShellTimeout)
		result = s.dispatcher.Dispatch(dispatchCtx, cmd)
		cancel()
	}

	payload, err := protocol.Encode(result, reqID)
	if err != nil {
		s.log.WithFields(logrus.Fields{"remote": c.remote, "error": err}).Error("encode result")
		return
	}
	if err := c.write(ctx, payload); err != nil {
		s.log.WithFields(logrus.Fields{"remote": c.remote, "error": err}).Warn("write result")
	}
}

// keepAlive pings the peer on the heartbeat interval and gives up when the
// connection dies; the read loop notices the same death and cleans up.
func (s *Server) keepAlive(ctx context.Context, c *client) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// broadcastLoop pushes a system_monitor frame to every client on the monitor
// interval. Clients that fail the write are pruned immediately.
func (s *Server) broadcastLoop(ctx context.Context) {
	if s.monitor == nil {
		return
	}
	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.clientCount() == 0 {
			continue
		}
		payload, err := protocol.EncodeBroadcast("system_monitor", map[string]any{
			"system": s.monitor.Read(),
		})
		if err != nil {
			s.log.WithFields(logrus.Fields{"error": err}).Error("encode broadcast")
			continue
		}
		s.broadcast(ctx, payload)
	}
}

func (s *Server) broadcast(ctx context.Context, payload []byte) {
	s.mu.RLock()
	targets := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(ctx, payload); err != nil {
			s.log.WithFields(logrus.Fields{"remote": c.remote, "error": err}).Info("pruning dead client")
			s.removeClient(c)
			_ = c.conn.CloseNow()
		}
	}
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, c)
	}
}

func addrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

// killPortOwner terminates whatever process currently holds the port. Stale
// daemon instances are the expected occupant.
func killPortOwner(ctx context.Context, port int) error {
	out, err := exec.CommandContext(ctx, "lsof", "-ti", fmt.Sprintf(":%d", port)).Output()
	if err != nil {
		return fmt.Errorf("find port owner: %w", err)
	}
	for _, field := range strings.Fields(string(out)) {
		pid, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
			return fmt.Errorf("kill pid %d: %w", pid, err)
		}
	}
	return nil
}
