// Package commands implements the nexus CLI subcommands.
package commands

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"nexuslang/internal/knowledge"
	"nexuslang/internal/personality"
	"nexuslang/internal/repl"
	"nexuslang/internal/vm"
	"nexuslang/internal/voice"
)

// Environment variables consumed by the CLI. Everything is optional;
// absent collaborators fall back to console behavior or fault at the
// opcode that needs them.
const (
	EnvDebug         = "NEXUS_DEBUG"
	EnvKnowledgeURL  = "NEXUS_KNOWLEDGE_URL"
	EnvVoiceURL      = "NEXUS_VOICE_URL"
	EnvPersonalityDB = "NEXUS_PERSONALITY_DB"
)

const (
	collaboratorTimeout = 10 * time.Second
	defaultProfile      = "default"
)

// runtime bundles everything an executing command needs: the configured
// VM options plus the personality store for persistence around the run.
type runtime struct {
	opts    []vm.Option
	store   *personality.Store
	engine  *personality.Engine
	gateway *voice.GatewayClient
	logger  *zap.Logger
}

// buildRuntime wires collaborators from the environment.
func buildRuntime(ctx context.Context, logger *zap.Logger) (*runtime, error) {
	rt := &runtime{logger: logger, engine: personality.NewEngine()}
	rt.opts = append(rt.opts, vm.WithLogger(logger), vm.WithPersonality(rt.engine))

	if base := os.Getenv(EnvKnowledgeURL); base != "" {
		client, err := knowledge.NewHTTPClient(base, collaboratorTimeout, logger)
		if err != nil {
			return nil, err
		}
		rt.opts = append(rt.opts, vm.WithKnowledge(client))
	}

	if wsURL := os.Getenv(EnvVoiceURL); wsURL != "" {
		gw, err := voice.DialGateway(ctx, wsURL, logger)
		if err != nil {
			return nil, err
		}
		rt.gateway = gw
		rt.opts = append(rt.opts, vm.WithVoice(gw))
	} else {
		rt.opts = append(rt.opts, vm.WithVoice(voice.NewConsole(os.Stdout, os.Stdin)))
	}

	if dbPath := os.Getenv(EnvPersonalityDB); dbPath != "" {
		store, err := personality.OpenStore(dbPath)
		if err != nil {
			return nil, err
		}
		rt.store = store
		found, err := store.Load(ctx, defaultProfile, rt.engine)
		if err != nil {
			return nil, err
		}
		if found {
			logger.Debug("personality profile restored", zap.String("profile", defaultProfile))
		}
	}
	return rt, nil
}

// finish persists personality state and releases collaborator
// connections. Called even after a faulted run; traits learned before
// the fault are worth keeping.
func (rt *runtime) finish(ctx context.Context) {
	if rt.store != nil {
		if err := rt.store.Save(ctx, defaultProfile, rt.engine); err != nil {
			rt.logger.Warn("could not persist personality profile", zap.Error(err))
		}
		rt.store.Close()
	}
	if rt.gateway != nil {
		rt.gateway.Close()
	}
}

// newRepl builds the interactive loop over the configured runtime.
func (rt *runtime) newRepl() *repl.Repl {
	return repl.New(os.Stdin, os.Stdout, rt.opts...)
}
