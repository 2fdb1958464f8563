package redis

import (
	"context"
	"encoding/json"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"

	"github.com/arklim/platform-authz/internal/core/domain"
)

func newTestRedis(t *testing.T) (*red.Client, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := red.NewClient(&red.Options{Addr: server.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	return client, server
}

func TestMaintenanceRepository_LoadConfiguredKey(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewMaintenanceRepository(client, "authz:maintain")
	ctx := context.Background()

	payload, err := json.Marshal(domain.MaintenanceState{Enabled: true, Message: "scheduled upgrade", ExcludeRoles: []int64{9}})
	if err != nil {
		t.Fatalf("encode maintenance state: %v", err)
	}
	if err := server.Set("authz:maintain", string(payload)); err != nil {
		t.Fatalf("seed maintenance state: %v", err)
	}

	loaded, err := repo.LoadMaintenanceState(ctx)
	if err != nil {
		t.Fatalf("LoadMaintenanceState returned error: %v", err)
	}
	if loaded == nil || !loaded.Enabled || loaded.Message != "scheduled upgrade" || len(loaded.ExcludeRoles) != 1 || loaded.ExcludeRoles[0] != 9 {
		t.Fatalf("unexpected state %+v", loaded)
	}
}

func TestMaintenanceRepository_LoadExternallyWritten(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewMaintenanceRepository(client, "")

	if err := server.Set(defaultMaintenanceKey, `{"enabled":true,"message":"down","excludeRoles":[1,2]}`); err != nil {
		t.Fatalf("seed maintenance state: %v", err)
	}

	loaded, err := repo.LoadMaintenanceState(context.Background())
	if err != nil {
		t.Fatalf("LoadMaintenanceState returned error: %v", err)
	}
	if !loaded.Enabled || loaded.Message != "down" || len(loaded.ExcludeRoles) != 2 {
		t.Fatalf("unexpected state %+v", loaded)
	}
}

func TestMaintenanceRepository_LoadMiss(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewMaintenanceRepository(client, "authz:maintain")

	loaded, err := repo.LoadMaintenanceState(context.Background())
	if err != nil {
		t.Fatalf("LoadMaintenanceState returned error: %v", err)
	}
	if loaded != nil {
		t.Fatalf("expected nil state, got %+v", loaded)
	}
}

func TestMaintenanceRepository_LoadMalformed(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewMaintenanceRepository(client, "authz:maintain")

	if err := server.Set("authz:maintain", "not-json"); err != nil {
		t.Fatalf("seed maintenance state: %v", err)
	}
	if _, err := repo.LoadMaintenanceState(context.Background()); err == nil {
		t.Fatalf("expected decode error")
	}
}
