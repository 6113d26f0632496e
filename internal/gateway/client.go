package gateway

import (
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mossy-p/webrtc-conference/config"
	"github.com/mossy-p/webrtc-conference/internal/protocol"
)

// Client pumps one signaling websocket connection. Inbound messages are
// handled strictly in arrival order by readPump; outbound delivery goes
// through a buffered channel drained by writePump.
type Client struct {
	conn *websocket.Conn
	cfg  config.WSConfig
	send chan []byte

	server *Server
	part   *Participant
}

func newClient(conn *websocket.Conn, cfg config.WSConfig, server *Server) *Client {
	return &Client{
		conn:   conn,
		cfg:    cfg,
		send:   make(chan []byte, 256),
		server: server,
	}
}

// deliver implements sender. A slow consumer loses messages rather than
// blocking the fan-out.
func (c *Client) deliver(msg protocol.Message) {
	data, err := msg.Encode()
	if err != nil {
		log.Printf("failed to encode %s message: %v", msg.Type, err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("send buffer full, dropping %s message", msg.Type)
	}
}

func (c *Client) run() {
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		if c.part != nil {
			c.server.Disconnect(c.part)
		}
	}()

	c.conn.SetReadLimit(c.cfg.ReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket error: %v", err)
			}
			break
		}

		msg, err := protocol.ParseMessage(frame)
		if err != nil {
			log.Printf("failed to parse message: %v", err)
			continue
		}

		c.part = c.server.HandleMessage(c.part, c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
