package service

import (
	"context"

	"quizrooms/internal/model"
)

// Broadcaster delivers events to players wherever they are connected
// (avoids an import cycle with the relay)
type Broadcaster interface {
	Notify(ctx context.Context, kind model.EventKind, targets []string, payload any) error
}

type nopBroadcaster struct{}

func (nopBroadcaster) Notify(context.Context, model.EventKind, []string, any) error { return nil }
