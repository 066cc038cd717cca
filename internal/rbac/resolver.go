package rbac

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"
)

// loadTimeout bounds a shared load once it is detached from the caller.
const loadTimeout = 5 * time.Second

// DecisionRecorder observes authorization outcomes.
type DecisionRecorder interface {
	ObserveDecision(check string, allowed bool)
}

// Resolver computes effective permissions. It never returns errors: any lookup
// failure degrades to fewer permissions and is logged.
type Resolver struct {
	repo     GrantsReader
	cache    *Cache
	logger   *slog.Logger
	recorder DecisionRecorder
	group    singleflight.Group
}

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithCache enables the Redis read-through cache.
func WithCache(cache *Cache) ResolverOption {
	return func(r *Resolver) {
		r.cache = cache
	}
}

// WithLogger sets the logger used for degraded lookups.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDecisionRecorder reports each HasFeature and IsAdminLike outcome.
func WithDecisionRecorder(rec DecisionRecorder) ResolverOption {
	return func(r *Resolver) {
		r.recorder = rec
	}
}

// NewResolver constructs a Resolver over the grants reader.
func NewResolver(repo GrantsReader, opts ...ResolverOption) *Resolver {
	r := &Resolver{repo: repo, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Snapshot resolves roles and effective permissions of a user in one pass.
func (r *Resolver) Snapshot(ctx context.Context, userID int64) Grants {
	if userID <= 0 {
		return Grants{UserID: userID}
	}
	if grants, ok := GrantsFromContext(ctx); ok && grants.UserID == userID {
		return grants
	}
	if grants, ok, err := r.cache.Get(ctx, userID); err != nil {
		r.logger.Debug("rbac cache get", slog.Int64("user_id", userID), slog.Any("error", err))
	} else if ok {
		return grants
	}

	v, _, _ := r.group.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		// Followers share this load; detach it from the leader's cancellation.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		ver, verErr := r.cache.Version(loadCtx)
		if verErr != nil {
			r.logger.Debug("rbac cache version", slog.Int64("user_id", userID), slog.Any("error", verErr))
		}
		grants := r.load(loadCtx, userID)
		if !grants.Degraded && verErr == nil {
			if err := r.cache.PutAt(loadCtx, ver, grants); err != nil {
				r.logger.Debug("rbac cache put", slog.Int64("user_id", userID), slog.Any("error", err))
			}
		}
		return grants, nil
	})
	return v.(Grants)
}

func (r *Resolver) load(ctx context.Context, userID int64) Grants {
	grants := Grants{UserID: userID, RoleIDs: []int64{}, RoleNames: []string{}, Permissions: []string{}}

	roles, err := r.repo.RolesForUser(ctx, userID)
	if err != nil {
		r.logger.Warn("rbac resolve roles", slog.Int64("user_id", userID), slog.Any("error", err))
		grants.Degraded = true
		return grants
	}
	for _, role := range roles {
		grants.RoleIDs = append(grants.RoleIDs, role.ID)
		grants.RoleNames = append(grants.RoleNames, role.Name)
	}

	var fromRoles, overrides []string
	if len(grants.RoleIDs) > 0 {
		fromRoles, err = r.repo.RolePermissionNames(ctx, grants.RoleIDs)
		if err != nil {
			r.logger.Warn("rbac resolve role permissions", slog.Int64("user_id", userID), slog.Any("error", err))
			grants.Degraded = true
			fromRoles = nil
		}
	}
	overrides, err = r.repo.UserPermissionNames(ctx, userID)
	if err != nil {
		r.logger.Warn("rbac resolve overrides", slog.Int64("user_id", userID), slog.Any("error", err))
		grants.Degraded = true
		overrides = nil
	}
	grants.Permissions = unionNames(fromRoles, overrides)
	return grants
}

// EffectivePermissions returns the sorted union of role-derived permissions
// and direct overrides. Unknown users get an empty set.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID int64) []string {
	return r.Snapshot(ctx, userID).Permissions
}

// HasFeature reports whether the user's effective set contains the feature.
func (r *Resolver) HasFeature(ctx context.Context, userID int64, feature string) bool {
	ok := r.Snapshot(ctx, userID).Has(feature)
	r.observe("feature", ok)
	return ok
}

// IsAdminLike reports create_role, admin_panel, or an admin-named role.
func (r *Resolver) IsAdminLike(ctx context.Context, userID int64) bool {
	ok := r.Snapshot(ctx, userID).AdminLike()
	r.observe("admin", ok)
	return ok
}

type grantsContextKey struct{}

// ContextWithGrants memoises resolved grants for the rest of the request.
func ContextWithGrants(ctx context.Context, grants Grants) context.Context {
	return context.WithValue(ctx, grantsContextKey{}, grants)
}

// GrantsFromContext returns grants memoised by ContextWithGrants.
func GrantsFromContext(ctx context.Context) (Grants, bool) {
	grants, ok := ctx.Value(grantsContextKey{}).(Grants)
	return grants, ok
}

func (r *Resolver) observe(check string, allowed bool) {
	if r.recorder != nil {
		r.recorder.ObserveDecision(check, allowed)
	}
}
