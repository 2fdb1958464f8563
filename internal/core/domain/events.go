package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChangeKind names the kind of write-side mutation a change event announces.
type ChangeKind string

const (
	ChangeRole        ChangeKind = "role-change"
	ChangeRoute       ChangeKind = "route-change"
	ChangeTokenRevoke ChangeKind = "token-revoke"
	ChangeUser        ChangeKind = "user-change"
	ChangeUserRole    ChangeKind = "user-role-change"
	ChangeHealthCheck ChangeKind = "health-check"
)

// ChangeKinds lists every kind the invalidation listener subscribes to.
func ChangeKinds() []ChangeKind {
	return []ChangeKind{ChangeRole, ChangeRoute, ChangeTokenRevoke, ChangeUser, ChangeUserRole, ChangeHealthCheck}
}

// ChangeEvent is a decoded message from a change channel.
type ChangeEvent struct {
	Kind       ChangeKind
	Channel    string
	IDs        []int64
	ReceivedAt time.Time
}

// ChannelNames maps each change kind to the channel it travels on.
type ChannelNames map[ChangeKind]string

// Name returns the configured channel for kind, falling back to the kind itself.
func (n ChannelNames) Name(kind ChangeKind) string {
	if name, ok := n[kind]; ok && name != "" {
		return name
	}
	return string(kind)
}

// Kind resolves a channel name back to its change kind.
func (n ChannelNames) Kind(channel string) (ChangeKind, bool) {
	for _, kind := range ChangeKinds() {
		if n.Name(kind) == channel {
			return kind, true
		}
	}
	return "", false
}

// All returns the channel name of every change kind.
func (n ChannelNames) All() []string {
	kinds := ChangeKinds()
	names := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		names = append(names, n.Name(kind))
	}
	return names
}

// EncodeIDs renders ids as the compact JSON array carried on change channels.
func EncodeIDs(ids []int64) ([]byte, error) {
	if ids == nil {
		ids = []int64{}
	}
	payload, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("encode change ids: %w", err)
	}
	return payload, nil
}

// DecodeIDs parses a change channel payload. An empty payload decodes to no ids.
func DecodeIDs(payload []byte) ([]int64, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var ids []int64
	if err := json.Unmarshal(payload, &ids); err != nil {
		return nil, fmt.Errorf("decode change ids: %w", err)
	}
	return ids, nil
}
