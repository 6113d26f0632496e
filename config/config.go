package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment    string
	AllowedOrigins []string
	JWTSecret      string

	Gateway      GatewayConfig
	Orchestrator OrchestratorConfig
	Media        MediaConfig
	Redis        RedisConfig
	WS           WSConfig
}

type GatewayConfig struct {
	Port               string
	OrchestratorAPI    string // base URL for the room bridge endpoints
	RoomWSURI          string // orchestrator websocket URI advertised to clients
	MaxParticipants    int
	CallConnectTimeout time.Duration
	RequestTimeout     time.Duration
}

type OrchestratorConfig struct {
	Port         string
	MaxRoomPeers int
	TokenTTL     time.Duration
}

type MediaConfig struct {
	UDPPortMin uint16
	UDPPortMax uint16
	ICEServers []string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type WSConfig struct {
	ReadLimit    int64
	WriteTimeout time.Duration
	PingInterval time.Duration
	PongWait     time.Duration
}

func Load() *Config {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	origins := strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"), ",")

	pongWait := getDuration("WS_PONG_WAIT", 60*time.Second)
	pingInterval := getDuration("WS_PING_INTERVAL", 54*time.Second)
	if pingInterval >= pongWait {
		pingInterval = pongWait * 9 / 10
	}

	return &Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		Gateway: GatewayConfig{
			Port:               getEnv("GATEWAY_PORT", "8080"),
			OrchestratorAPI:    strings.TrimRight(getEnv("ORCHESTRATOR_API", "http://localhost:8081"), "/"),
			RoomWSURI:          getEnv("ORCHESTRATOR_WS", "ws://localhost:8081/ws"),
			MaxParticipants:    getInt("MAX_CONF_PARTICIPANTS", 16),
			CallConnectTimeout: getDuration("CALL_CONNECT_TIMEOUT", 30*time.Second),
			RequestTimeout:     getDuration("BRIDGE_REQUEST_TIMEOUT", 5*time.Second),
		},
		Orchestrator: OrchestratorConfig{
			Port:         getEnv("ORCHESTRATOR_PORT", "8081"),
			MaxRoomPeers: getInt("MAX_ROOM_PEERS", 16),
			TokenTTL:     getDuration("ROOM_TOKEN_TTL", 24*time.Hour),
		},
		Media: MediaConfig{
			UDPPortMin: uint16(getInt("RTC_UDP_PORT_MIN", 50000)),
			UDPPortMax: uint16(getInt("RTC_UDP_PORT_MAX", 50199)),
			ICEServers: splitNonEmpty(getEnv("RTC_ICE_SERVERS", "")),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       0,
		},
		WS: WSConfig{
			ReadLimit:    int64(getInt("WS_READ_LIMIT_BYTES", 1024*1024)),
			WriteTimeout: getDuration("WS_WRITE_TIMEOUT", 10*time.Second),
			PingInterval: pingInterval,
			PongWait:     pongWait,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid int env %s=%q (using %d)", key, raw, defaultValue)
		return defaultValue
	}
	return parsed
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid duration env %s=%q (using %s)", key, raw, defaultValue)
		return defaultValue
	}
	return parsed
}

func splitNonEmpty(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
