package rbac

import (
	"context"
	"errors"
	"log/slog"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	reason  error
}

// Err returns nil when allowed, ErrUnauthenticated when no identity was
// supplied and ErrForbidden otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	if d.reason == nil {
		return ErrForbidden
	}
	return d.reason
}

// Gate is the entry point every protected operation calls.
type Gate struct {
	bootstrap *Bootstrapper
	resolver  *Resolver
	logger    *slog.Logger
	metrics   *Metrics
}

// NewGate constructs a Gate.
func NewGate(bootstrap *Bootstrapper, resolver *Resolver, logger *slog.Logger, metrics *Metrics) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{bootstrap: bootstrap, resolver: resolver, logger: logger, metrics: metrics}
}

// Authorize allows the identity when its effective permission set contains
// any of required, compared case-insensitively. An empty requirement admits
// any authenticated identity. The returned error reports store failures
// only; denials are carried by the Decision.
func (g *Gate) Authorize(ctx context.Context, id *Identity, required ...string) (Decision, error) {
	if !id.Authenticated() {
		g.metrics.observeDecision("unauthenticated")
		return Decision{reason: ErrUnauthenticated}, nil
	}
	if err := g.bootstrap.EnsureSelfRole(ctx, id.ID, id.Email); err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			g.metrics.observeDecision("unauthenticated")
			return Decision{reason: ErrUnauthenticated}, nil
		}
		g.metrics.observeDecision("error")
		return Decision{}, err
	}

	wanted := normalizePermissions(required)
	if len(wanted) == 0 {
		g.metrics.observeDecision("allowed")
		return Decision{Allowed: true}, nil
	}

	granted, err := g.resolver.EffectivePermissions(ctx, id.ID)
	if err != nil {
		g.metrics.observeDecision("error")
		return Decision{}, err
	}
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[NormalizePermission(p.Name)] = struct{}{}
	}
	for _, w := range wanted {
		if _, ok := set[w]; ok {
			g.metrics.observeDecision("allowed")
			return Decision{Allowed: true}, nil
		}
	}
	g.metrics.observeDecision("forbidden")
	g.logger.Debug("authorization denied", slog.Int64("user_id", id.ID), slog.Any("required", wanted))
	return Decision{reason: ErrForbidden}, nil
}

// PermissionStatus reports, for each requested name, whether the identity
// holds it. Keys are the names as given. An unauthenticated identity holds
// nothing.
func (g *Gate) PermissionStatus(ctx context.Context, id *Identity, names ...string) (map[string]bool, error) {
	status := make(map[string]bool, len(names))
	for _, n := range names {
		status[n] = false
	}
	if !id.Authenticated() {
		return status, nil
	}
	granted, err := g.resolver.EffectivePermissions(ctx, id.ID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[NormalizePermission(p.Name)] = struct{}{}
	}
	for _, n := range names {
		_, status[n] = set[NormalizePermission(n)]
	}
	return status, nil
}
