package client

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verifailabs/verifai/config"
	"github.com/verifailabs/verifai/internal/service"
	"github.com/verifailabs/verifai/internal/tkv"
	"github.com/verifailabs/verifai/models"
)

const testRootKey = "client-test-root-key"

// startBackend runs a full service instance on an httptest listener.
func startBackend(t *testing.T) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &config.Server{
		HttpBinding: "127.0.0.1:0",
		RootKey:     testRootKey,
		DataDir:     t.TempDir(),
		Cache: config.Cache{
			Tokens:      time.Minute,
			StandardTTL: time.Minute,
		},
		RateLimiters: config.RateLimiters{
			Api:     config.RateLimiterConfig{Limit: 1000, Burst: 1000},
			Actions: config.RateLimiterConfig{Limit: 100, Burst: 100},
			Default: config.RateLimiterConfig{Limit: 1000, Burst: 1000},
		},
		Sessions: config.SessionsConfig{
			SendBufferSize:           16,
			WebSocketReadBufferSize:  1024,
			WebSocketWriteBufferSize: 1024,
			MaxConnections:           16,
			WriteWait:                5 * time.Second,
			PingPeriod:               50 * time.Second,
			MaxMessageSize:           512,
		},
		Workers: config.WorkersConfig{
			ProofStageDelay:    time.Millisecond,
			SettlementInterval: time.Hour,
			HeartbeatInterval:  time.Hour,
			HeartbeatWindow:    time.Hour,
			RewardInterval:     time.Hour,
			RewardPerProof:     10,
		},
	}

	kv, err := tkv.New(tkv.Config{
		Logger:         logger,
		BadgerLogLevel: slog.LevelError,
		Directory:      cfg.DataDir,
		AppCtx:         ctx,
		CacheTTL:       cfg.Cache.StandardTTL,
	})
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	svc, err := service.NewService(ctx, logger, cfg, kv, nil)
	require.NoError(t, err)

	server := httptest.NewServer(svc.Routes())
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, baseURL, apiKey string) *Client {
	t.Helper()
	c, err := NewClient(&Config{
		BaseURL: baseURL,
		ApiKey:  apiKey,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return c
}

func TestClient_RequiresConfig(t *testing.T) {
	_, err := NewClient(&Config{ApiKey: "x"})
	assert.Error(t, err)

	_, err = NewClient(&Config{BaseURL: "http://localhost:8080"})
	assert.Error(t, err)
}

func TestClient_EndToEnd(t *testing.T) {
	server := startBackend(t)
	root := newTestClient(t, server.URL, testRootKey)

	created, err := root.CreateUser("alice")
	require.NoError(t, err)
	require.NotEmpty(t, created.ApiKey)

	cli := newTestClient(t, server.URL, created.ApiKey)

	t.Run("ping", func(t *testing.T) {
		pong, err := cli.Ping()
		require.NoError(t, err)
		assert.Equal(t, "ok", pong["status"])
	})

	t.Run("bad key surfaces typed error", func(t *testing.T) {
		bad := newTestClient(t, server.URL, "vfk_bogus")
		_, err := bad.Ping()
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("agent lifecycle", func(t *testing.T) {
		agent, err := cli.CreateAgent(AgentCreateRequest{Name: "prover-1"})
		require.NoError(t, err)

		agents, err := cli.ListAgents()
		require.NoError(t, err)
		assert.Len(t, agents, 1)

		beat, err := cli.Heartbeat(agent.ID)
		require.NoError(t, err)
		assert.False(t, beat.LastHeartbeat.IsZero())

		_, err = cli.GetAgent("missing-id")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("proof submission and realtime progress", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var mu sync.Mutex
		var types []string
		done := make(chan struct{})

		go cli.Connect(ctx, func(event models.Event) {
			mu.Lock()
			defer mu.Unlock()
			types = append(types, event.Type)
			if event.Type == models.EventTypeProofComplete {
				close(done)
			}
		})

		// Give the session time to register before submitting.
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(types) > 0 && types[0] == models.EventTypeConnected
		}, 2*time.Second, 10*time.Millisecond)

		proof, err := cli.SubmitProof(ProofSubmitRequest{ProofType: models.ProofTypeEZKL})
		require.NoError(t, err)
		assert.Equal(t, models.ProofStatusPending, proof.Status)

		select {
		case <-done:
		case <-ctx.Done():
			t.Fatal("timed out waiting for proof completion event")
		}

		require.Eventually(t, func() bool {
			stored, err := cli.GetProof(proof.ID)
			return err == nil && stored.Status == models.ProofStatusVerified
		}, 3*time.Second, 20*time.Millisecond)
	})

	t.Run("announce requires root", func(t *testing.T) {
		err := cli.Announce("title", "message", "")
		assert.Error(t, err)

		require.NoError(t, root.Announce("maintenance", "tonight", "high"))
	})
}
