// Package svcctx provides service context for dependency injection via context.
// This package is separate from the CLI so that commands and helpers share
// one set of services without import cycles.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/ocrfuse/internal/config"
	"github.com/jackzampolin/ocrfuse/internal/fusion"
	"github.com/jackzampolin/ocrfuse/internal/home"
	"github.com/jackzampolin/ocrfuse/internal/ingest"
	"github.com/jackzampolin/ocrfuse/internal/providers"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Config   *config.Manager
	Engine   *fusion.Engine
	Registry *providers.Registry
	Loader   *ingest.Loader
	Logger   *slog.Logger
	Home     *home.Dir
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// ConfigFrom extracts the config manager from context.
func ConfigFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Config
	}
	return nil
}

// EngineFrom extracts the fusion engine from context.
func EngineFrom(ctx context.Context) *fusion.Engine {
	if s := ServicesFrom(ctx); s != nil {
		return s.Engine
	}
	return nil
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// LoaderFrom extracts the page loader from context.
func LoaderFrom(ctx context.Context) *ingest.Loader {
	if s := ServicesFrom(ctx); s != nil {
		return s.Loader
	}
	return nil
}

// LoggerFrom extracts the logger from context, falling back to the default.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil && s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}
