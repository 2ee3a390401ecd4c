package tkv

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"testing"
	"time"
)

type testTKV struct {
	tkv TKV
	dir string
}

func (t *testTKV) Cleanup() error {
	t.tkv.Close()
	return os.RemoveAll(t.dir)
}

func createTestTKV(ctx context.Context) (*testTKV, error) {
	dir, err := os.MkdirTemp(os.TempDir(), "tkv_test_*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir for test: %w", err)
	}

	tkv, err := New(Config{
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		BadgerLogLevel: slog.LevelError,
		Directory:      dir,
		AppCtx:         ctx,
		CacheTTL:       time.Minute,
	})
	if err != nil {
		return nil, err
	}
	return &testTKV{
		tkv: tkv,
		dir: dir,
	}, nil
}

// -------------------------- TESTS

func TestTKV_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	tkvTest, err := createTestTKV(ctx)
	if err != nil {
		t.Fatalf("Failed to create test TKV: %v", err)
	}
	defer tkvTest.Cleanup()

	t.Run("Set and Get basic value", func(t *testing.T) {
		if err := tkvTest.tkv.Set("agent:u1:a1", "payload"); err != nil {
			t.Errorf("Set() error = %v, wantErr nil", err)
		}
		value, err := tkvTest.tkv.Get("agent:u1:a1")
		if err != nil {
			t.Errorf("Get() error = %v, wantErr nil", err)
		}
		if value != "payload" {
			t.Errorf("Get() got = %v, want %v", value, "payload")
		}
	})

	t.Run("Get non-existent key", func(t *testing.T) {
		_, err := tkvTest.tkv.Get("missing")
		if err == nil {
			t.Errorf("Get() expected error for non-existent key, got nil")
		}
		if !IsErrKeyNotFound(err) {
			t.Errorf("Get() expected key-not-found error, got %v", err)
		}
	})

	t.Run("Delete removes value", func(t *testing.T) {
		if err := tkvTest.tkv.Set("doomed", "x"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		if err := tkvTest.tkv.Delete("doomed"); err != nil {
			t.Errorf("Delete() error = %v, wantErr nil", err)
		}
		if _, err := tkvTest.tkv.Get("doomed"); !IsErrKeyNotFound(err) {
			t.Errorf("Get() after Delete expected key-not-found, got %v", err)
		}
	})
}

func TestTKV_IteratePrefix(t *testing.T) {
	ctx := context.Background()
	tkvTest, err := createTestTKV(ctx)
	if err != nil {
		t.Fatalf("Failed to create test TKV: %v", err)
	}
	defer tkvTest.Cleanup()

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("proof:u1:%d", i)
		if err := tkvTest.tkv.Set(key, "v"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}
	if err := tkvTest.tkv.Set("proof:u2:0", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	t.Run("all matches with zero limit", func(t *testing.T) {
		keys, err := tkvTest.tkv.Iterate("proof:u1:", 0, 0)
		if err != nil {
			t.Fatalf("Iterate() error = %v", err)
		}
		if len(keys) != 5 {
			t.Errorf("Iterate() got %d keys, want 5", len(keys))
		}
	})

	t.Run("offset and limit window", func(t *testing.T) {
		keys, err := tkvTest.tkv.Iterate("proof:u1:", 1, 2)
		if err != nil {
			t.Fatalf("Iterate() error = %v", err)
		}
		want := []string{"proof:u1:1", "proof:u1:2"}
		if !reflect.DeepEqual(keys, want) {
			t.Errorf("Iterate() got = %v, want %v", keys, want)
		}
	})

	t.Run("prefix isolation", func(t *testing.T) {
		keys, err := tkvTest.tkv.Iterate("proof:u2:", 0, 0)
		if err != nil {
			t.Fatalf("Iterate() error = %v", err)
		}
		if len(keys) != 1 {
			t.Errorf("Iterate() got %d keys, want 1", len(keys))
		}
	})
}

func TestTKV_Documents(t *testing.T) {
	ctx := context.Background()
	tkvTest, err := createTestTKV(ctx)
	if err != nil {
		t.Fatalf("Failed to create test TKV: %v", err)
	}
	defer tkvTest.Cleanup()

	type record struct {
		ID     string  `json:"id"`
		Amount float64 `json:"amount"`
	}

	in := record{ID: "s-1", Amount: 42.5}
	if err := tkvTest.tkv.SetJSON("settlement:u1:s-1", in); err != nil {
		t.Fatalf("SetJSON() error = %v", err)
	}

	var out record
	if err := tkvTest.tkv.GetJSON("settlement:u1:s-1", &out); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("GetJSON() got = %+v, want %+v", out, in)
	}

	if err := tkvTest.tkv.GetJSON("settlement:u1:missing", &out); !IsErrKeyNotFound(err) {
		t.Errorf("GetJSON() for missing key expected key-not-found, got %v", err)
	}
}

func TestTKV_Cache(t *testing.T) {
	ctx := context.Background()
	tkvTest, err := createTestTKV(ctx)
	if err != nil {
		t.Fatalf("Failed to create test TKV: %v", err)
	}
	defer tkvTest.Cleanup()

	t.Run("set get delete", func(t *testing.T) {
		if err := tkvTest.tkv.CacheSet("token:abc", "alice", 0); err != nil {
			t.Fatalf("CacheSet() error = %v", err)
		}
		value, err := tkvTest.tkv.CacheGet("token:abc")
		if err != nil {
			t.Fatalf("CacheGet() error = %v", err)
		}
		if value != "alice" {
			t.Errorf("CacheGet() got = %v, want alice", value)
		}
		if err := tkvTest.tkv.CacheDelete("token:abc"); err != nil {
			t.Fatalf("CacheDelete() error = %v", err)
		}
		if _, err := tkvTest.tkv.CacheGet("token:abc"); !IsErrKeyNotFound(err) {
			t.Errorf("CacheGet() after delete expected key-not-found, got %v", err)
		}
	})

	t.Run("entries expire", func(t *testing.T) {
		if err := tkvTest.tkv.CacheSet("ephemeral", "x", 50*time.Millisecond); err != nil {
			t.Fatalf("CacheSet() error = %v", err)
		}
		time.Sleep(120 * time.Millisecond)
		if _, err := tkvTest.tkv.CacheGet("ephemeral"); !IsErrKeyNotFound(err) {
			t.Errorf("CacheGet() after TTL expected key-not-found, got %v", err)
		}
	})
}
