package navsession

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Zachkp/portfolio/internal/section"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

type createRequest struct {
	Fragment          string   `json:"fragment"`
	IDs               []string `json:"ids"`
	ObserverSupported *bool    `json:"observer_supported"`
}

type visibilityRequest struct {
	Readings []section.Reading `json:"readings"`
}

type fragmentRequest struct {
	Fragment string `json:"fragment"`
}

type sessionResponse struct {
	ID        string    `json:"id"`
	Active    string    `json:"active"`
	Regions   []string  `json:"regions"`
	Observing bool      `json:"observing"`
	Commands  []Command `json:"commands"`
}

func respond(s *Session) sessionResponse {
	return sessionResponse{
		ID:        s.ID,
		Active:    s.Active(),
		Regions:   s.Regions(),
		Observing: s.Observing(),
		Commands:  s.Drain(),
	}
}

// RegisterRoutes mounts the websocket endpoint and the HTTP fallback.
func (r *Registry) RegisterRoutes(g gin.IRouter) {
	g.GET("/ws/nav", r.handleWebSocket)

	api := g.Group("/api/nav/sessions")
	api.POST("", r.handleCreate)
	api.GET("/:id", r.withSession(r.handleGet))
	api.POST("/:id/visibility", r.withSession(r.handleVisibility))
	api.POST("/:id/fragment", r.withSession(r.handleFragment))
	api.DELETE("/:id", r.handleDelete)
}

// consents reports whether the visitor allows section views to be
// recorded. Do Not Track and Global Privacy Control both opt out.
func consents(c *gin.Context) bool {
	return c.GetHeader("DNT") != "1" && c.GetHeader("Sec-GPC") != "1"
}

func (r *Registry) withSession(h func(*gin.Context, *Session)) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := r.Get(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h(c, s)
	}
}

func (r *Registry) handleCreate(c *gin.Context) {
	var req createRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	hello := Message{Fragment: req.Fragment, IDs: req.IDs, ObserverSupported: req.ObserverSupported}.hello()
	s := r.Open(hello, TransportHTTP, consents(c))
	c.JSON(http.StatusCreated, respond(s))
}

func (r *Registry) handleGet(c *gin.Context, s *Session) {
	c.JSON(http.StatusOK, respond(s))
}

func (r *Registry) handleVisibility(c *gin.Context, s *Session) {
	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.Visibility(req.Readings, r.now()); err != nil {
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, respond(s))
}

func (r *Registry) handleFragment(c *gin.Context, s *Session) {
	var req fragmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.HashChange(req.Fragment, r.now()); err != nil {
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, respond(s))
}

func (r *Registry) handleDelete(c *gin.Context) {
	if err := r.Close(c.Param("id")); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		log.Printf("[nav] close session: %v", err)
	}
	c.Status(http.StatusNoContent)
}

// handleWebSocket serves one page view. The first message must be a hello;
// the session lives until the socket closes. Pings keep an idle but open
// page alive and detect sockets that vanished without a close frame.
func (r *Registry) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[nav] websocket upgrade: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(64 << 10)

	var hello Message
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != MsgHello {
		log.Printf("[nav] expected hello, got %q (%v)", hello.Type, err)
		return
	}

	s := r.Open(hello.hello(), TransportWebSocket, consents(c))
	s.attach()
	defer r.Close(s.ID)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		s.touch(r.now())
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	done := make(chan struct{})
	defer close(done)
	go keepAlive(conn, done)

	if err := flush(conn, s); err != nil {
		return
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[nav] session %s read error: %v", shortID(s.ID), err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[nav] session %s: malformed message: %v", shortID(s.ID), err)
			continue
		}
		if err := s.Handle(msg, r.now()); err != nil {
			if errors.Is(err, ErrSessionClosed) {
				// Tell the browser so it can reconnect with a fresh hello.
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(writeWait))
				return
			}
			log.Printf("[nav] session %s: %v", shortID(s.ID), err)
			continue
		}
		if err := flush(conn, s); err != nil {
			return
		}
	}
}

// keepAlive pings until done is closed or a ping fails. WriteControl may
// run concurrently with the read loop's writes.
func keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func flush(conn *websocket.Conn, s *Session) error {
	for _, cmd := range s.Drain() {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(cmd); err != nil {
			log.Printf("[nav] session %s write error: %v", shortID(s.ID), err)
			return err
		}
	}
	return nil
}
