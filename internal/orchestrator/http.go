package orchestrator

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mossy-p/webrtc-conference/config"
	"github.com/mossy-p/webrtc-conference/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

type newRoomTokenRequest struct {
	RoomID   string `json:"roomId,omitempty"`
	MaxPeers int    `json:"maxPeers,omitempty"`
}

type newRoomRequest struct {
	RoomID    string `json:"roomId,omitempty"`
	RoomToken string `json:"roomToken,omitempty"`
	MaxPeers  int    `json:"maxPeers,omitempty"`
}

type roomResponse struct {
	RoomID    string `json:"roomId"`
	RoomToken string `json:"roomToken"`
}

type terminateRoomRequest struct {
	RoomID string `json:"roomId" binding:"required"`
	Reason string `json:"reason,omitempty"`
}

// Router wires the orchestrator's HTTP surface: the websocket endpoint,
// the server-to-server room bridge and introspection.
func Router(cfg *config.Config, server *Server) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	router.Use(middleware.OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/stats", func(c *gin.Context) {
		peers, rooms := server.Stats()
		c.JSON(http.StatusOK, gin.H{"peers": peers, "rooms": rooms})
	})

	router.GET("/rtpCapabilities", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rtpCapabilities": server.RtpCapabilities()})
	})

	// Room bridge API, called by the signaling gateway (authenticated).
	auth := middleware.JWTAuth(cfg.JWTSecret)
	router.POST("/newRoomToken", auth, func(c *gin.Context) {
		var req newRoomTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		roomID, signed, err := server.MintToken(req.RoomID, req.MaxPeers)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mint room token"})
			return
		}
		c.JSON(http.StatusCreated, roomResponse{RoomID: roomID, RoomToken: signed})
	})

	router.POST("/newRoom", auth, func(c *gin.Context) {
		var req newRoomRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		room, err := server.CreateRoom(req.RoomID, req.RoomToken, req.MaxPeers)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, roomResponse{RoomID: room.ID, RoomToken: room.Token})
	})

	router.POST("/terminateRoom", auth, func(c *gin.Context) {
		var req terminateRoomRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		reason := req.Reason
		if reason == "" {
			reason = "terminated"
		}
		if err := server.TerminateRoom(req.RoomID, reason); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "room terminated"})
	})

	// Peer-facing websocket endpoint.
	router.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("failed to upgrade connection: %v", err)
			return
		}
		newClient(conn, cfg.WS, server).run()
	})

	return router
}
