package app

import (
	"context"
	"errors"
	"log/slog"

	"brandforge/internal/config"
	"brandforge/internal/module"
	"brandforge/internal/repo"
	"brandforge/modules/auditscore"
	"brandforge/modules/identitysynth"
	"brandforge/modules/positioning"
	"brandforge/modules/qualityscore"
	"brandforge/modules/tonerefine"
)

// Registrar is implemented by every built-in module package.
type Registrar interface {
	Register(r *module.Registry) error
}

// coreModules is the definitive list of modules compiled into the binary.
var coreModules = []Registrar{
	&identitysynth.Module{},
	&positioning.Module{},
	&auditscore.Module{},
	&tonerefine.Module{},
	&qualityscore.Module{},
}

// NewRegistry builds the module registry with all core modules registered.
// Descriptor mistakes (unknown slot, bad path) surface here, at startup.
func NewRegistry(logger *slog.Logger) (*module.Registry, error) {
	r := module.NewRegistry(logger)
	for _, m := range coreModules {
		if err := m.Register(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ResolveConfig loads the workspace config from the database, seeding the
// default config on first use.
func ResolveConfig(ctx context.Context, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetWorkspaceConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	cfg = config.Default()
	if err := r.UpsertWorkspaceConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
