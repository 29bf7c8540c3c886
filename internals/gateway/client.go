package gateway

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/plazaworld/plaza/internals/config"
	"github.com/plazaworld/plaza/internals/world"
)

// Client is one locally attached websocket connection and the live copy of
// its player state. Other instances only ever see the mirrored record in
// the shared store.
type Client struct {
	ID   int64
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	player world.Player

	limiter   *rate.Limiter
	wsCfg     config.ServerConfig
	logger    *zap.Logger
	closeOnce sync.Once
	closed    atomic.Bool

	// OnMessage runs on the read goroutine; OnDisconnect fires once when
	// the read pump exits.
	OnMessage    func(*Client, []byte)
	OnDisconnect func(*Client)
}

func NewClient(player world.Player, conn *websocket.Conn, wsCfg config.ServerConfig, logger *zap.Logger) *Client {
	return &Client{
		ID:      player.ID,
		conn:    conn,
		send:    make(chan []byte, 256),
		player:  player,
		limiter: rate.NewLimiter(rate.Limit(wsCfg.RateLimitPerSec), wsCfg.RateLimitBurst),
		wsCfg:   wsCfg,
		logger:  logger,
	}
}

// Player returns a snapshot of the client's live state.
func (c *Client) Player() world.Player {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.player
}

func (c *Client) SetPosition(x, y float64) {
	c.mu.Lock()
	c.player.X = x
	c.player.Y = y
	c.mu.Unlock()
}

func (c *Client) SetRoom(roomID int64) {
	c.mu.Lock()
	c.player.RoomID = roomID
	c.mu.Unlock()
}

func (c *Client) SetName(name string) {
	c.mu.Lock()
	c.player.Name = name
	c.mu.Unlock()
}

func (c *Client) ReadPump() {
	defer func() {
		if c.OnDisconnect != nil {
			c.OnDisconnect(c)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.wsCfg.WSReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(c.wsCfg.WSPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.wsCfg.WSPongTimeout))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error",
					zap.Int64("client_id", c.ID),
					zap.Error(err),
				)
			}
			break
		}
		if !c.limiter.Allow() {
			continue
		}
		if c.OnMessage != nil {
			c.OnMessage(c, raw)
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.wsCfg.WSPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case raw, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.wsCfg.WSWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.logger.Error("Failed to write message",
					zap.Int64("client_id", c.ID),
					zap.Error(err),
				)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.wsCfg.WSWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) SendRaw(raw []byte) {
	if c.closed.Load() {
		return
	}
	select {
	case c.send <- raw:
	default:
		c.logger.Warn("Client send channel full, dropping message",
			zap.Int64("client_id", c.ID),
		)
	}
}

func (c *Client) SendJSON(message interface{}) {
	raw, err := json.Marshal(message)
	if err != nil {
		c.logger.Error("Failed to marshal outbound message", zap.Error(err))
		return
	}
	c.SendRaw(raw)
}

// Terminate force-closes the socket, used when a newer connection takes
// over the same client id.
func (c *Client) Terminate() {
	c.closeSend()
	c.conn.Close()
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.send)
	})
}
