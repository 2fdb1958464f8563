package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/platform-authz/internal/core/domain"
	"github.com/arklim/platform-authz/internal/core/port"
)

const defaultMaintenanceKey = "authz:maintenance"

// MaintenanceRepository reads the maintenance switch, a JSON document that operators
// write under a single key.
type MaintenanceRepository struct {
	client *red.Client
	key    string
}

// NewMaintenanceRepository wires a Redis client into a maintenance repository.
func NewMaintenanceRepository(client *red.Client, key string) *MaintenanceRepository {
	key = strings.TrimSpace(key)
	if key == "" {
		key = defaultMaintenanceKey
	}
	return &MaintenanceRepository{client: client, key: key}
}

var _ port.MaintenanceStore = (*MaintenanceRepository)(nil)

// LoadMaintenanceState returns the stored state, or nil when no state was ever written.
func (r *MaintenanceRepository) LoadMaintenanceState(ctx context.Context) (*domain.MaintenanceState, error) {
	payload, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get maintenance state: %w", err)
	}

	var state domain.MaintenanceState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("decode maintenance state: %w", err)
	}
	return &state, nil
}
