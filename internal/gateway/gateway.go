// Package gateway owns the relay's WebSocket endpoint and its single
// authenticated peer.
package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/kapu/mc-relay-go/internal/wire"
)

// ErrPortInUse marks a bind failure the operator can act on directly.
var ErrPortInUse = errors.New("relay port already in use")

// InboundHandler receives the message text of each valid game-side frame.
type InboundHandler func(message string)

type session struct {
	id   string
	conn *websocket.Conn
}

type Server struct {
	token     string
	logger    *zap.Logger
	onMessage InboundHandler

	mu      sync.Mutex
	current *session
	httpSrv *http.Server
	ln      net.Listener

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewServer(token string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		token:  token,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// SetInboundHandler must be called before Listen.
func (s *Server) SetInboundHandler(h InboundHandler) { s.onMessage = h }

// Listen binds the relay port and starts serving handshakes. A port that is
// already taken is reported as ErrPortInUse, distinct from other bind
// failures.
func (s *Server) Listen(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("%w: %d", ErrPortInUse, port)
		}
		return fmt.Errorf("bind relay port %d: %w", port, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.httpSrv = &http.Server{Handler: s}
	srv := s.httpSrv
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("relay server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("relay listening", zap.Int("port", port))
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	supplied := r.URL.Query().Get("access_token")
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.token)) != 1 {
		s.logger.Warn("rejected client with bad access token", zap.String("remote", r.RemoteAddr))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.logger.Warn("handshake failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	sess := &session{id: uuid.NewString(), conn: conn}
	if prev := s.swapSession(sess); prev != nil {
		// New authenticated peer supersedes the old one.
		s.logger.Info("closing superseded session", zap.String("session", prev.id))
		_ = prev.conn.Close(websocket.StatusNormalClosure, "superseded")
	}
	s.logger.Info("game client connected", zap.String("session", sess.id), zap.String("remote", r.RemoteAddr))

	s.readLoop(sess)
}

func (s *Server) readLoop(sess *session) {
	ctx := context.Background()
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		typ, data, err := sess.conn.Read(ctx)
		if err != nil {
			s.dropSession(sess, err)
			return
		}
		if typ == websocket.MessageBinary {
			s.logger.Warn("binary frame discarded", zap.String("session", sess.id))
			continue
		}
		msg, err := wire.DecodeInbound(data)
		if err != nil {
			// Protocol error: drop the frame, keep the connection.
			s.logger.Warn("malformed frame discarded", zap.String("session", sess.id), zap.Error(err))
			continue
		}
		if s.onMessage != nil {
			s.onMessage(msg)
		}
	}
}

// Send writes one envelope to the connected peer. With no peer connected it
// is a silent no-op; callers gate expensive work on HasClient beforehand.
func (s *Server) Send(ctx context.Context, env wire.Envelope) error {
	s.mu.Lock()
	sess := s.current
	s.mu.Unlock()
	if sess == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	if err := wsjson.Write(ctx, sess.conn, env); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

// Addr returns the bound listen address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// HasClient reports whether an authenticated peer is connected.
func (s *Server) HasClient() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Close terminates any open session and then the listener. Safe to call
// repeatedly and when Listen was never called.
func (s *Server) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.mu.Lock()
	sess := s.current
	s.current = nil
	srv := s.httpSrv
	s.httpSrv = nil
	s.mu.Unlock()

	if sess != nil {
		_ = sess.conn.Close(websocket.StatusNormalClosure, "relay shutdown")
	}
	if srv != nil {
		_ = srv.Close()
	}
	s.wg.Wait()
}

func (s *Server) swapSession(next *session) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current
	s.current = next
	return prev
}

// dropSession clears the session if it is still current and logs the close
// according to its status: 1000 and 1006 are routine, everything else is a
// warning with code and reason.
func (s *Server) dropSession(sess *session, err error) {
	s.mu.Lock()
	if s.current == sess {
		s.current = nil
	}
	s.mu.Unlock()

	select {
	case <-s.stopCh:
		return
	default:
	}

	status := websocket.CloseStatus(err)
	switch status {
	case websocket.StatusNormalClosure, websocket.StatusAbnormalClosure:
		s.logger.Info("game client disconnected", zap.String("session", sess.id), zap.Int("code", int(status)))
	case -1:
		s.logger.Warn("game client read failed", zap.String("session", sess.id), zap.Error(err))
	default:
		reason := ""
		var ce websocket.CloseError
		if errors.As(err, &ce) {
			reason = ce.Reason
		}
		s.logger.Warn("game client closed abnormally",
			zap.String("session", sess.id), zap.Int("code", int(status)), zap.String("reason", reason))
	}
}
