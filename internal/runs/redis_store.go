package runs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures a Redis-backed Store, for deployments running more
// than one control-API instance against the same run history.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RedisStore implements Store using Redis for the run index and state, with
// a local cache of cancel channels (channels can't be serialized).
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration

	mu          sync.RWMutex
	cancelChans map[string]chan struct{}

	pubsub      *redis.PubSub
	cancelTopic string
}

type runData struct {
	ID            string            `json:"id"`
	Operation     string            `json:"operation"`
	Target        string            `json:"target"`
	State         State             `json:"state"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    *time.Time        `json:"finished_at,omitempty"`
	Summary       any               `json:"summary,omitempty"`
	ArtifactPaths []string          `json:"artifact_paths,omitempty"`
	Error         string            `json:"error,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewRedisStore connects to Redis and begins listening for cross-instance
// cancellation signals.
func NewRedisStore(cfg RedisConfig, retention time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "reconsage:run:"
	}

	store := &RedisStore{
		client:      client,
		keyPrefix:   keyPrefix,
		ttl:         retention,
		cancelChans: make(map[string]chan struct{}),
		cancelTopic: "reconsage:run-cancel",
	}

	store.pubsub = client.Subscribe(ctx, store.cancelTopic)
	go store.listenForCancelSignals()

	slog.Info("redis run store initialized", "addr", cfg.Addr, "key_prefix", keyPrefix)
	return store, nil
}

func (s *RedisStore) runKey(id string) string { return s.keyPrefix + id }
func (s *RedisStore) indexKey() string        { return s.keyPrefix + "_index" }

func (s *RedisStore) Get(id string) (*Run, bool) {
	ctx := context.Background()
	data, err := s.client.Get(ctx, s.runKey(id)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		slog.Error("redis get error", "run_id", id, "error", err)
		return nil, false
	}
	var rd runData
	if err := json.Unmarshal(data, &rd); err != nil {
		slog.Error("failed to unmarshal run", "run_id", id, "error", err)
		return nil, false
	}
	return s.runFromData(&rd), true
}

func (s *RedisStore) Put(run *Run) {
	ctx := context.Background()
	rd := s.dataFromRun(run)
	data, err := json.Marshal(rd)
	if err != nil {
		slog.Error("failed to marshal run", "run_id", run.ID, "error", err)
		return
	}
	if err := s.client.Set(ctx, s.runKey(run.ID), data, s.ttl).Err(); err != nil {
		slog.Error("redis set error", "run_id", run.ID, "error", err)
		return
	}
	if err := s.client.SAdd(ctx, s.indexKey(), run.ID).Err(); err != nil {
		slog.Error("redis sadd error", "run_id", run.ID, "error", err)
	}

	s.mu.Lock()
	if _, ok := s.cancelChans[run.ID]; !ok {
		s.cancelChans[run.ID] = make(chan struct{})
	}
	s.mu.Unlock()
}

func (s *RedisStore) Delete(id string) {
	ctx := context.Background()
	if err := s.client.Del(ctx, s.runKey(id)).Err(); err != nil {
		slog.Error("redis del error", "run_id", id, "error", err)
	}
	if err := s.client.SRem(ctx, s.indexKey(), id).Err(); err != nil {
		slog.Error("redis srem error", "run_id", id, "error", err)
	}

	s.mu.Lock()
	if ch, ok := s.cancelChans[id]; ok {
		select {
		case <-ch:
		default:
			close(ch)
		}
		delete(s.cancelChans, id)
	}
	s.mu.Unlock()
}

func (s *RedisStore) List(filter func(*Run) bool) []*Run {
	ctx := context.Background()
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		slog.Error("redis smembers error", "error", err)
		return nil
	}
	var result []*Run
	for _, id := range ids {
		r, ok := s.Get(id)
		if !ok {
			s.client.SRem(ctx, s.indexKey(), id)
			continue
		}
		if filter == nil || filter(r) {
			result = append(result, r)
		}
	}
	return result
}

func (s *RedisStore) Count(filter func(*Run) bool) int {
	return len(s.List(filter))
}

// PublishCancel broadcasts a cancellation to every instance watching id.
func (s *RedisStore) PublishCancel(id string) error {
	return s.client.Publish(context.Background(), s.cancelTopic, id).Err()
}

func (s *RedisStore) listenForCancelSignals() {
	for msg := range s.pubsub.Channel() {
		id := msg.Payload
		s.mu.Lock()
		if ch, ok := s.cancelChans[id]; ok {
			select {
			case <-ch:
			default:
				close(ch)
			}
		}
		s.mu.Unlock()
	}
}

// Close releases the pub/sub subscription and Redis connection.
func (s *RedisStore) Close() error {
	if s.pubsub != nil {
		s.pubsub.Close()
	}
	return s.client.Close()
}

func (s *RedisStore) runFromData(rd *runData) *Run {
	r := &Run{
		ID:            rd.ID,
		Operation:     rd.Operation,
		Target:        rd.Target,
		State:         rd.State,
		StartedAt:     rd.StartedAt,
		FinishedAt:    rd.FinishedAt,
		Summary:       rd.Summary,
		ArtifactPaths: rd.ArtifactPaths,
		Error:         rd.Error,
		Metadata:      rd.Metadata,
	}
	if r.Metadata == nil {
		r.Metadata = make(map[string]string)
	}

	s.mu.Lock()
	if ch, ok := s.cancelChans[rd.ID]; ok {
		r.cancelChan = ch
	} else {
		r.cancelChan = make(chan struct{})
		s.cancelChans[rd.ID] = r.cancelChan
		if rd.State == Cancelled {
			close(r.cancelChan)
		}
	}
	s.mu.Unlock()

	return r
}

func (s *RedisStore) dataFromRun(r *Run) *runData {
	snap := r.Snapshot()
	return &runData{
		ID:            snap.ID,
		Operation:     snap.Operation,
		Target:        snap.Target,
		State:         snap.State,
		StartedAt:     snap.StartedAt,
		FinishedAt:    snap.FinishedAt,
		Summary:       snap.Summary,
		ArtifactPaths: snap.ArtifactPaths,
		Error:         snap.Error,
		Metadata:      snap.Metadata,
	}
}
