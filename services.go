package pipewright

import (
	"context"
	"log/slog"

	"github.com/tormod/pipewright/prompt"
)

// =============================================================================
// Context Injection Helpers
// =============================================================================
// These helpers allow pipeline services to be injected into context.Context
// so call sites and tests can swap adapters without threading every
// dependency by hand.

// serviceContextKey is a private type for context keys to avoid collisions
type serviceContextKey string

// Context keys for pipeline services
const (
	storeServiceKey    serviceContextKey = "pipewright.store"
	gatewayServiceKey  serviceContextKey = "pipewright.gateway"
	artifactServiceKey serviceContextKey = "pipewright.artifacts"
	promptServiceKey   serviceContextKey = "pipewright.prompts"
	runnerServiceKey   serviceContextKey = "pipewright.runner"
)

// WithItemStore adds an ItemStore to the context
func WithItemStore(ctx context.Context, store ItemStore) context.Context {
	return context.WithValue(ctx, storeServiceKey, store)
}

// ItemStoreFromContext extracts ItemStore from context
func ItemStoreFromContext(ctx context.Context) ItemStore {
	if store, ok := ctx.Value(storeServiceKey).(ItemStore); ok {
		return store
	}
	return nil
}

// MustItemStoreFromContext extracts ItemStore or panics
func MustItemStoreFromContext(ctx context.Context) ItemStore {
	store := ItemStoreFromContext(ctx)
	if store == nil {
		panic("pipewright: ItemStore not found in context")
	}
	return store
}

// WithGateway adds a Gateway to the context
func WithGateway(ctx context.Context, gw Gateway) context.Context {
	return context.WithValue(ctx, gatewayServiceKey, gw)
}

// GatewayFromContext extracts Gateway from context
func GatewayFromContext(ctx context.Context) Gateway {
	if gw, ok := ctx.Value(gatewayServiceKey).(Gateway); ok {
		return gw
	}
	return nil
}

// MustGatewayFromContext extracts Gateway or panics
func MustGatewayFromContext(ctx context.Context) Gateway {
	gw := GatewayFromContext(ctx)
	if gw == nil {
		panic("pipewright: Gateway not found in context")
	}
	return gw
}

// WithArtifactStore adds an ArtifactStore to the context
func WithArtifactStore(ctx context.Context, store ArtifactStore) context.Context {
	return context.WithValue(ctx, artifactServiceKey, store)
}

// ArtifactStoreFromContext extracts ArtifactStore from context
func ArtifactStoreFromContext(ctx context.Context) ArtifactStore {
	if store, ok := ctx.Value(artifactServiceKey).(ArtifactStore); ok {
		return store
	}
	return nil
}

// WithPromptLoader adds a PromptLoader to the context
func WithPromptLoader(ctx context.Context, loader *prompt.Loader) context.Context {
	return context.WithValue(ctx, promptServiceKey, loader)
}

// PromptLoaderFromContext extracts PromptLoader from context
func PromptLoaderFromContext(ctx context.Context) *prompt.Loader {
	if loader, ok := ctx.Value(promptServiceKey).(*prompt.Loader); ok {
		return loader
	}
	return nil
}

// WithAgentRunner adds an AgentRunner to the context.
func WithAgentRunner(ctx context.Context, runner AgentRunner) context.Context {
	return context.WithValue(ctx, runnerServiceKey, runner)
}

// AgentRunnerFromContext extracts AgentRunner from context.
// Returns nil if not set.
func AgentRunnerFromContext(ctx context.Context) AgentRunner {
	if runner, ok := ctx.Value(runnerServiceKey).(AgentRunner); ok {
		return runner
	}
	return nil
}

// Services wraps all pipeline adapters for convenient initialization.
type Services struct {
	Store     ItemStore
	Gateway   Gateway
	Artifacts ArtifactStore
	Prompts   *prompt.Loader
	Notifier  Notifier    // Optional notification service
	Runner    AgentRunner // Optional agent runner
	History   *RunHistory // Optional agent run history
	Logger    *slog.Logger
}

// InjectAll adds all configured services to the context
func (s *Services) InjectAll(ctx context.Context) context.Context {
	if s.Store != nil {
		ctx = WithItemStore(ctx, s.Store)
	}
	if s.Gateway != nil {
		ctx = WithGateway(ctx, s.Gateway)
	}
	if s.Artifacts != nil {
		ctx = WithArtifactStore(ctx, s.Artifacts)
	}
	if s.Prompts != nil {
		ctx = WithPromptLoader(ctx, s.Prompts)
	}
	if s.Notifier != nil {
		ctx = WithNotifier(ctx, s.Notifier)
	}
	if s.Runner != nil {
		ctx = WithAgentRunner(ctx, s.Runner)
	}
	return ctx
}

// logger returns the configured logger, falling back to slog.Default.
func (s *Services) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
