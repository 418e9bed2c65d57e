package rbac

import (
	"context"
	"errors"
	"sort"
)

// Resolver computes ancestor chains, descendant subtrees and effective
// permissions over the role graph. Every walk tracks visited ids, so it
// terminates even when the stored parent pointers form a cycle.
type Resolver struct {
	store Reader
}

// NewResolver constructs a Resolver reading from store.
func NewResolver(store Reader) *Resolver {
	return &Resolver{store: store}
}

// Ancestors returns the active parent chain of roleID, nearest first. The walk
// stops at the first deleted or missing parent. A missing or deleted start
// role has no ancestors.
func (r *Resolver) Ancestors(ctx context.Context, roleID int64) ([]Role, error) {
	return r.walkUp(ctx, roleID, true)
}

// Descendants returns every active role whose parent chain passes through
// roleID. Deleted roles are walked through but not reported.
func (r *Resolver) Descendants(ctx context.Context, roleID int64) ([]Role, error) {
	all, err := r.walkDown(ctx, roleID)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, role := range all {
		if !role.Deleted() {
			active = append(active, role)
		}
	}
	return active, nil
}

// chainIDs returns the ids on the raw parent chain of roleID, deleted roles
// included. Cycle checks use this chain so that restoring a deleted role
// cannot close a loop.
func (r *Resolver) chainIDs(ctx context.Context, roleID int64) (map[int64]struct{}, error) {
	chain, err := r.walkUp(ctx, roleID, false)
	if err != nil {
		return nil, err
	}
	ids := make(map[int64]struct{}, len(chain))
	for _, role := range chain {
		ids[role.ID] = struct{}{}
	}
	return ids, nil
}

func (r *Resolver) walkUp(ctx context.Context, roleID int64, activeOnly bool) ([]Role, error) {
	start, err := r.store.RoleByID(ctx, roleID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if activeOnly && start.Deleted() {
		return nil, nil
	}

	visited := map[int64]struct{}{start.ID: {}}
	var chain []Role
	next := start.ParentID
	for next != nil {
		if _, seen := visited[*next]; seen {
			break
		}
		visited[*next] = struct{}{}

		parent, err := r.store.RoleByID(ctx, *next)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		if activeOnly && parent.Deleted() {
			break
		}
		chain = append(chain, parent)
		next = parent.ParentID
	}
	return chain, nil
}

// walkDown collects the subtree below roleID breadth first, one store query
// per level.
func (r *Resolver) walkDown(ctx context.Context, roleID int64) ([]Role, error) {
	visited := map[int64]struct{}{roleID: {}}
	frontier := []int64{roleID}
	var subtree []Role
	for len(frontier) > 0 {
		children, err := r.store.ChildRoles(ctx, frontier)
		if err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, child := range children {
			if _, seen := visited[child.ID]; seen {
				continue
			}
			visited[child.ID] = struct{}{}
			subtree = append(subtree, child)
			frontier = append(frontier, child.ID)
		}
	}
	return subtree, nil
}

// UserRoles returns the user's directly assigned roles followed by the roles
// they inherit through the hierarchy, without duplicates.
func (r *Resolver) UserRoles(ctx context.Context, userID int64) ([]Role, error) {
	direct, err := r.store.DirectUserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{}, len(direct))
	roles := make([]Role, 0, len(direct))
	add := func(role Role) {
		if _, ok := seen[role.ID]; ok {
			return
		}
		seen[role.ID] = struct{}{}
		roles = append(roles, role)
	}
	for _, role := range direct {
		add(role)
	}
	for _, role := range direct {
		ancestors, err := r.Ancestors(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		for _, a := range ancestors {
			add(a)
		}
	}
	return roles, nil
}

// EffectivePermissions returns the permissions reachable from the user's
// directly assigned roles and all of their ancestors, de-duplicated by id and
// ordered by id. Names are normalized to upper case.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID int64) ([]Permission, error) {
	roles, err := r.UserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(roles))
	for _, role := range roles {
		ids = append(ids, role.ID)
	}
	granted, err := r.store.RolePermissions(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]Permission, len(granted))
	for _, g := range granted {
		if _, ok := byID[g.ID]; ok {
			continue
		}
		p := g.Permission
		p.Name = NormalizePermission(p.Name)
		byID[p.ID] = p
	}
	perms := make([]Permission, 0, len(byID))
	for _, p := range byID {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].ID < perms[j].ID })
	return perms, nil
}

// RoleDetail loads a role with its parent chain, subtree and the permissions
// it holds directly or inherits from ancestors. Each permission is attributed
// to the nearest role granting it.
func (r *Resolver) RoleDetail(ctx context.Context, roleID int64) (RoleDetail, error) {
	role, err := r.store.RoleByID(ctx, roleID)
	if err != nil {
		return RoleDetail{}, err
	}
	parents, err := r.Ancestors(ctx, roleID)
	if err != nil {
		return RoleDetail{}, err
	}
	children, err := r.Descendants(ctx, roleID)
	if err != nil {
		return RoleDetail{}, err
	}

	chain := append([]Role{role}, parents...)
	rank := make(map[int64]int, len(chain))
	ids := make([]int64, 0, len(chain))
	for i, c := range chain {
		rank[c.ID] = i
		ids = append(ids, c.ID)
	}
	granted, err := r.store.RolePermissions(ctx, ids)
	if err != nil {
		return RoleDetail{}, err
	}
	sort.SliceStable(granted, func(i, j int) bool {
		if granted[i].ID != granted[j].ID {
			return granted[i].ID < granted[j].ID
		}
		return rank[granted[i].RoleID] < rank[granted[j].RoleID]
	})
	perms := make([]GrantedPermission, 0, len(granted))
	for i, g := range granted {
		if i > 0 && granted[i-1].ID == g.ID {
			continue
		}
		g.Name = NormalizePermission(g.Name)
		g.RoleName = chain[rank[g.RoleID]].Name
		perms = append(perms, g)
	}

	return RoleDetail{
		Role:        role,
		ParentRoles: nonNil(parents),
		ChildRoles:  nonNil(children),
		Permissions: perms,
	}, nil
}

// ChildCandidates lists the active, non-self roles that can be attached below
// roleID without being rejected.
func (r *Resolver) ChildCandidates(ctx context.Context, roleID int64) ([]Role, error) {
	roles, err := r.store.ListRoles(ctx, RoleFilter{})
	if err != nil {
		return nil, err
	}
	chain, err := r.chainIDs(ctx, roleID)
	if err != nil {
		return nil, err
	}
	below, err := r.walkDown(ctx, roleID)
	if err != nil {
		return nil, err
	}
	excluded := make(map[int64]struct{}, len(chain)+len(below)+1)
	excluded[roleID] = struct{}{}
	for id := range chain {
		excluded[id] = struct{}{}
	}
	for _, b := range below {
		excluded[b.ID] = struct{}{}
	}

	candidates := make([]Role, 0, len(roles))
	for _, role := range roles {
		if role.IsSelfRole() || role.Deleted() {
			continue
		}
		if _, skip := excluded[role.ID]; skip {
			continue
		}
		candidates = append(candidates, role)
	}
	return candidates, nil
}

func nonNil(roles []Role) []Role {
	if roles == nil {
		return []Role{}
	}
	return roles
}
