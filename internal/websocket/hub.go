package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"mocktest-backend/internal/bridge"
	"mocktest-backend/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeWait = 10 * time.Second

// TokenParser resolves the token query parameter to a user.
type TokenParser interface {
	ParseToken(tokenStr string) (uuid.UUID, error)
}

// SurfaceAttacher connects a quiz surface socket to a running test.
type SurfaceAttacher interface {
	AttachSurface(userID uuid.UUID, sequenceID string, ch bridge.Channel) (*bridge.Bridge, error)
}

type Hub struct {
	mu          sync.RWMutex
	connections map[uuid.UUID][]*conn
	redisClient *redis.Client
	tokens      TokenParser
	surfaces    SurfaceAttacher
	cancelFuncs map[uuid.UUID]context.CancelFunc
}

func NewHub(redisClient *redis.Client, tokens TokenParser, surfaces SurfaceAttacher) *Hub {
	return &Hub{
		connections: make(map[uuid.UUID][]*conn),
		redisClient: redisClient,
		tokens:      tokens,
		surfaces:    surfaces,
		cancelFuncs: make(map[uuid.UUID]context.CancelFunc),
	}
}

// conn serializes writes; gorilla allows one concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Send makes conn a bridge.Channel for the quiz surface.
func (c *conn) Send(ctx context.Context, msg bridge.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

func (h *Hub) authenticate(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return uuid.Nil, false
	}
	userID, err := h.tokens.ParseToken(tokenStr)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return uuid.Nil, false
	}
	return userID, true
}

// HandleWebSocket serves the host page: timer ticks and navigation events.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket: upgrade failed: %v", err)
		return
	}
	c := &conn{ws: ws}

	h.registerConnection(userID, c)

	// Keep connection alive and handle disconnect
	go func() {
		defer h.unregisterConnection(userID, c)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// HandleSurface serves the embedded quiz surface of one test. Frames it sends
// go to the test's answer bridge; bridge requests go back on the socket.
func (h *Hub) HandleSurface(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	sequenceID, err := url.PathUnescape(chi.URLParam(r, "sequenceID"))
	if err != nil || sequenceID == "" {
		http.Error(w, "Bad sequence", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket: surface upgrade failed: %v", err)
		return
	}
	c := &conn{ws: ws}

	br, err := h.surfaces.AttachSurface(userID, sequenceID, c)
	if err != nil {
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "test not started"),
			time.Now().Add(writeWait))
		ws.Close()
		return
	}
	log.Printf("websocket: quiz surface connected: user %s, %s", userID, sequenceID)

	go func() {
		defer func() {
			br.Detach(c)
			ws.Close()
			log.Printf("websocket: quiz surface disconnected: user %s", userID)
		}()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if !br.Deliver(data) {
				log.Printf("websocket: dropped surface message from user %s", userID)
			}
		}
	}()
}

func (h *Hub) registerConnection(userID uuid.UUID, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[userID] = append(h.connections[userID], c)

	// Start pub/sub subscription if this is the first connection for this user
	if len(h.connections[userID]) == 1 && h.redisClient != nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancelFuncs[userID] = cancel
		go h.subscribeToPubSub(ctx, userID)
	}

	log.Printf("websocket: connected user %s (total: %d)", userID, len(h.connections[userID]))
}

func (h *Hub) unregisterConnection(userID uuid.UUID, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.ws.Close()

	conns := h.connections[userID]
	for i, existing := range conns {
		if existing == c {
			h.connections[userID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}

	// If no more connections, cancel pub/sub
	if len(h.connections[userID]) == 0 {
		delete(h.connections, userID)
		if cancel, ok := h.cancelFuncs[userID]; ok {
			cancel()
			delete(h.cancelFuncs, userID)
		}
	}

	log.Printf("websocket: disconnected user %s", userID)
}

func (h *Hub) subscribeToPubSub(ctx context.Context, userID uuid.UUID) {
	pubsub := h.redisClient.Subscribe(ctx, models.UpdatesChannel(userID))
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(userID, []byte(msg.Payload))
		}
	}
}

func (h *Hub) broadcast(userID uuid.UUID, data []byte) {
	h.mu.RLock()
	conns := append([]*conn(nil), h.connections[userID]...)
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.write(context.Background(), data); err != nil {
			log.Printf("websocket: write to user %s: %v", userID, err)
		}
	}
}

// SendToUser sends a message directly to a user (for use outside pub/sub)
func (h *Hub) SendToUser(userID uuid.UUID, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.broadcast(userID, data)
}
