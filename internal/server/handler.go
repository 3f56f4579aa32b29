package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relayhub/relay/internal/errs"
	"github.com/relayhub/relay/internal/logger"
	"github.com/relayhub/relay/internal/session"
	"github.com/relayhub/relay/internal/wire"
)

// Wire-level timeouts and limits, carried over from the teacher's
// agent_websocket.go readPump/writePump (writeWait/pongWait/pingPeriod/
// maxMessageSize), trimmed to the 1 MiB convention spec.md §6 names for
// this protocol's frames.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB
)

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) WriteFrame(f wire.Frame) error {
	raw, err := wire.Encode(f)
	if err != nil {
		return err
	}
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, raw)
}

func (t *wsTransport) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	return t.conn.Close()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Engine exposes the assembled gin.Engine for tests that need to drive
// the HTTP/WebSocket surface without a full Start/Shutdown cycle (e.g.
// the client package's integration tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine()
}

// engine builds the gin.Engine wiring /ws, /healthz, /stats
// (SPEC_FULL.md §4.10).
func (s *Server) engine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/ws", s.handleWebSocket)
	r.GET("/healthz", s.handleHealthz)
	r.GET("/stats", s.handleStats)

	return r
}

func (s *Server) handleHealthz(c *gin.Context) {
	if s.shuttingDown.Load() {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	c.Status(http.StatusOK)
}

type statsResponse struct {
	Connected     int    `json:"connected"`
	Authenticated int    `json:"authenticated"`
	Uptime        string `json:"uptime"`
}

func (s *Server) handleStats(c *gin.Context) {
	snap := s.registry.Snapshot()
	authenticated := 0
	for _, sess := range snap {
		if sess.Authenticated() {
			authenticated++
		}
	}

	c.JSON(http.StatusOK, statsResponse{
		Connected:     len(snap),
		Authenticated: authenticated,
		Uptime:        s.registry.Uptime().String(),
	})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	log := logger.Session()

	// While shutting down or at capacity, the connection is upgraded and
	// then closed at once with 1013 (try again later).
	rejectReason := ""
	if s.shuttingDown.Load() {
		rejectReason = "Server shutting down"
	} else if s.registry.Len() >= s.cfg.MaxConnections {
		log.Warn().Int("max", s.cfg.MaxConnections).Msg("rejecting connection, at capacity")
		rejectReason = "Server at capacity"
	}
	if rejectReason != "" {
		if conn, err := upgrader.Upgrade(c.Writer, c.Request, nil); err == nil {
			_ = (&wsTransport{conn: conn}).Close(websocket.CloseTryAgainLater, rejectReason)
		}
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))

	connID := uuid.NewString()
	sess := session.New(connID, &wsTransport{conn: conn})
	log.Debug().Str("connID", connID).Msg("accepted connection, awaiting auth")

	if !s.authenticate(sess, conn) {
		return
	}

	s.readLoop(sess, conn)
}

// authenticate enforces spec.md §4.2: the first frame must be `auth`; any
// other frame, or a failed credential lookup, closes with 1008.
func (s *Server) authenticate(sess *session.Session, conn *websocket.Conn) bool {
	log := logger.Session()

	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return false
	}

	f, err := wire.Decode(raw)
	if err != nil || f.Type != wire.TypeAuth {
		_ = sess.Close(session.ClosePolicyViolation, errs.AuthRequired().Message)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	canonicalName, ok, lookupErr := s.credentials.Lookup(ctx, f.Token)
	if lookupErr != nil {
		log.Warn().Err(lookupErr).Msg("credential lookup failed")
		_ = sess.Close(session.ClosePolicyViolation, errs.AuthRequired().Message)
		return false
	}
	if !ok || (f.Name != "" && f.Name != canonicalName) {
		_ = sess.Close(session.ClosePolicyViolation, errs.AuthRequired().Message)
		return false
	}

	sess.Authenticate(canonicalName)
	s.registry.Register(canonicalName, sess)

	if err := sess.Send(wire.NewAuthSuccess(canonicalName)); err != nil {
		log.Warn().Err(err).Str("name", canonicalName).Msg("failed to deliver auth_success")
	}
	log.Info().Str("name", canonicalName).Msg("session authenticated")
	s.router.EventBus().Emit("clientConnected", mustMarshal(canonicalName), canonicalName)

	return true
}

func (s *Server) readLoop(sess *session.Session, conn *websocket.Conn) {
	log := logger.Session()
	name := sess.Name()

	defer func() {
		s.registry.Deregister(name, sess)
		conn.Close()
		s.router.EventBus().Emit("clientDisconnected", mustMarshal(name), name)
		log.Info().Str("name", name).Msg("session closed")
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		f, err := wire.Decode(raw)
		if err != nil {
			log.Warn().Err(err).Str("name", name).Msg("dropping malformed frame")
			continue
		}

		switch f.Type {
		case wire.TypeHeartbeatResponse:
			sess.Touch()
		case wire.TypeAuth:
			// Re-authentication mid-session is not part of the protocol;
			// ignore rather than tear down an otherwise healthy session.
			log.Warn().Str("name", name).Msg("ignoring unexpected auth frame after authentication")
		default:
			s.router.Dispatch(context.Background(), sess, f)
		}
	}
}

func mustMarshal(name string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"name": name})
	return raw
}
