package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mossy-p/webrtc-conference/config"
)

const mirrorTTL = 24 * time.Hour

// Store mirrors room and conference state into Redis for inspection and
// presence lookups. The in-memory registries stay authoritative; every
// write here is best-effort.
type Store struct {
	client *redis.Client
}

// Connect initializes a Redis-backed store and verifies the connection.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// RoomRecord is the mirrored room metadata blob.
type RoomRecord struct {
	ID        string    `json:"id"`
	MaxPeers  int       `json:"maxPeers"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Store) SaveRoom(ctx context.Context, rec RoomRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal room record: %w", err)
	}
	return s.client.Set(ctx, "room:"+rec.ID, data, mirrorTTL).Err()
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (*RoomRecord, error) {
	data, err := s.client.Get(ctx, "room:"+roomID).Result()
	if err != nil {
		return nil, fmt.Errorf("room %s not found: %w", roomID, err)
	}
	var rec RoomRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal room record: %w", err)
	}
	return &rec, nil
}

func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, "room:"+roomID)
	pipe.Del(ctx, "room:"+roomID+":peers")
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) AddRoomPeer(ctx context.Context, roomID, peerID string) error {
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, "room:"+roomID+":peers", peerID)
	pipe.Expire(ctx, "room:"+roomID+":peers", mirrorTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) RemoveRoomPeer(ctx context.Context, roomID, peerID string) error {
	return s.client.SRem(ctx, "room:"+roomID+":peers", peerID).Err()
}

func (s *Store) RoomPeerCount(ctx context.Context, roomID string) (int, error) {
	n, err := s.client.SCard(ctx, "room:"+roomID+":peers").Result()
	return int(n), err
}

// Participant presence, gateway side.

func (s *Store) SetParticipantOnline(ctx context.Context, participantID, displayName string) error {
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, "participant:"+participantID, "displayName", displayName)
	pipe.Expire(ctx, "participant:"+participantID, mirrorTTL)
	pipe.SAdd(ctx, "participants:online", participantID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) SetParticipantOffline(ctx context.Context, participantID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, "participant:"+participantID)
	pipe.SRem(ctx, "participants:online", participantID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) OnlineParticipants(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, "participants:online").Result()
}
