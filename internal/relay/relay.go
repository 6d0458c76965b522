package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"quizrooms/internal/apperr"
	"quizrooms/internal/model"
)

const channelPrefix = "quizrooms:events:"

// Presence resolves player ids to connection handles.
type Presence interface {
	ResolveMany(ctx context.Context, playerIDs []string) (map[string]string, error)
}

// LocalDelivery hands a frame to a connection held by this process. It
// reports false when the connection is gone or its buffer is full.
type LocalDelivery interface {
	Deliver(connID string, frame []byte) bool
}

// Relay publishes targeted events and delivers the ones addressed to
// connections on this instance.
type Relay struct {
	instanceID string
	broker     Broker
	presence   Presence
	local      LocalDelivery
	logger     *slog.Logger
}

func New(instanceID string, broker Broker, presence Presence, local LocalDelivery, logger *slog.Logger) *Relay {
	return &Relay{
		instanceID: instanceID,
		broker:     broker,
		presence:   presence,
		local:      local,
		logger:     logger.With("component", "relay", "instance", instanceID),
	}
}

// Channel names the broker channel of an event kind.
func Channel(kind model.EventKind) string {
	return channelPrefix + string(kind)
}

// InstanceID identifies this process in presence handles.
func (r *Relay) InstanceID() string {
	return r.instanceID
}

// Notify publishes payload to targets. It implements service.Broadcaster.
func (r *Relay) Notify(ctx context.Context, kind model.EventKind, targets []string, payload any) error {
	if len(targets) == 0 {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}
	env, err := json.Marshal(model.Envelope{Event: kind, Targets: targets, Data: data})
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", kind, err)
	}
	if err := r.broker.Publish(ctx, Channel(kind), env); err != nil {
		return apperr.Transient(err, "publish event")
	}
	return nil
}

// Run subscribes to every relayed kind and delivers until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	channels := make([]string, 0, len(model.RelayedKinds))
	for _, k := range model.RelayedKinds {
		channels = append(channels, Channel(k))
	}
	r.logger.Info("relay subscribed", "channels", strings.Join(channels, ","))
	return r.broker.Subscribe(ctx, channels, func(channel string, data []byte) {
		r.HandleMessage(ctx, data)
	})
}

// HandleMessage resolves an envelope's targets and delivers to the local
// ones. It returns how many connections received the frame.
func (r *Relay) HandleMessage(ctx context.Context, data []byte) int {
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.logger.Warn("dropping malformed envelope", "error", err)
		return 0
	}

	handles, err := r.presence.ResolveMany(ctx, env.Targets)
	if err != nil {
		r.logger.Error("failed to resolve targets", "event", env.Event, "error", err)
		return 0
	}

	var frame []byte
	delivered := 0
	for playerID, h := range handles {
		instanceID, connID, ok := ParseHandle(h)
		if !ok {
			r.logger.Warn("bad presence handle", "player", playerID, "handle", h)
			continue
		}
		if instanceID != r.instanceID {
			continue
		}
		if frame == nil {
			if frame, err = env.Frame(); err != nil {
				r.logger.Error("failed to encode frame", "event", env.Event, "error", err)
				return 0
			}
		}
		if r.local.Deliver(connID, frame) {
			delivered++
		} else {
			r.logger.Debug("stale or slow connection", "player", playerID, "conn", connID)
		}
	}
	return delivered
}
