package handlers

import (
	"context"

	"gobridgetracker/bridge"

	"github.com/rs/zerolog"
)

const DEFAULT_STREAM_BUFFER = 64

// API holds what the handlers share.
type API struct {
	svc          *bridge.Service
	health       func(ctx context.Context) error
	streamBuffer int
	logger       zerolog.Logger
}

// New builds the handlers over svc. health may be nil.
func New(svc *bridge.Service, health func(ctx context.Context) error, logger zerolog.Logger) *API {
	return &API{
		svc:          svc,
		health:       health,
		streamBuffer: DEFAULT_STREAM_BUFFER,
		logger:       logger.With().Str("component", "http_api").Logger(),
	}
}
