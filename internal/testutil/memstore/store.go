// Package memstore is an in-memory backing store for service tests. One Store
// serves every repository port so cross-package flows see the same rows.
// Transactions hold the store lock and roll back to a snapshot on error.
package memstore

import (
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/projectdesk/projectdesk/internal/assignments"
	"github.com/projectdesk/projectdesk/internal/matrix"
	"github.com/projectdesk/projectdesk/internal/projects"
	"github.com/projectdesk/projectdesk/internal/rbac"
	"github.com/projectdesk/projectdesk/internal/shared"
	"github.com/projectdesk/projectdesk/internal/users"
)

type pair [2]int64

type state struct {
	seq         int64
	users       map[int64]users.User
	roles       map[int64]rbac.Role
	perms       map[int64]rbac.Permission
	rolePerms   map[pair]bool
	userRoles   map[pair]bool
	userPerms   map[pair]bool
	rules       map[matrix.Rule]bool
	projects    map[int64]projects.Project
	assignments map[int64]assignments.Assignment
	// children counts dependent rows per cascade step and project.
	children map[projects.CascadeStep]map[int64]int
}

func newState() *state {
	return &state{
		users:       map[int64]users.User{},
		roles:       map[int64]rbac.Role{},
		perms:       map[int64]rbac.Permission{},
		rolePerms:   map[pair]bool{},
		userRoles:   map[pair]bool{},
		userPerms:   map[pair]bool{},
		rules:       map[matrix.Rule]bool{},
		projects:    map[int64]projects.Project{},
		assignments: map[int64]assignments.Assignment{},
		children:    map[projects.CascadeStep]map[int64]int{},
	}
}

func (s *state) clone() *state {
	out := &state{
		seq:         s.seq,
		users:       maps.Clone(s.users),
		roles:       maps.Clone(s.roles),
		perms:       maps.Clone(s.perms),
		rolePerms:   maps.Clone(s.rolePerms),
		userRoles:   maps.Clone(s.userRoles),
		userPerms:   maps.Clone(s.userPerms),
		rules:       maps.Clone(s.rules),
		projects:    maps.Clone(s.projects),
		assignments: maps.Clone(s.assignments),
		children:    make(map[projects.CascadeStep]map[int64]int, len(s.children)),
	}
	for step, rows := range s.children {
		out.children[step] = maps.Clone(rows)
	}
	return out
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *state) roleByName(name string) (rbac.Role, bool) {
	want := shared.FoldName(name)
	for _, r := range s.roles {
		if shared.FoldName(r.Name) == want {
			return r, true
		}
	}
	return rbac.Role{}, false
}

func (s *state) permByName(name string) (rbac.Permission, bool) {
	want := shared.FoldName(name)
	for _, p := range s.perms {
		if shared.FoldName(p.Name) == want {
			return p, true
		}
	}
	return rbac.Permission{}, false
}

type failure struct {
	after int
	err   error
}

// Store is the shared in-memory state.
type Store struct {
	mu       sync.Mutex
	st       *state
	failures map[string]failure
	calls    map[string]int
	// Purged records cascade steps in execution order, including rolled back ones.
	Purged []projects.CascadeStep
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState(), failures: map[string]failure{}, calls: map[string]int{}}
}

// FailOn makes op return err once it has been called afterCalls times. A nil
// err clears the injected failure.
func (s *Store) FailOn(op string, afterCalls int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op] = 0
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = failure{after: afterCalls, err: err}
}

// Calls returns how often op was invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// view is one handle on the store, either autocommit or inside a transaction.
type view struct {
	s  *Store
	tx bool
}

func (v view) do(op string, fn func(st *state) error) error {
	if !v.tx {
		v.s.mu.Lock()
		defer v.s.mu.Unlock()
	}
	v.s.calls[op]++
	if f, ok := v.s.failures[op]; ok && v.s.calls[op] > f.after {
		return f.err
	}
	return fn(v.s.st)
}

func (v view) withTx(fn func(view) error) error {
	if v.tx {
		return fn(v)
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	snapshot := v.s.st.clone()
	if err := fn(view{s: v.s, tx: true}); err != nil {
		v.s.st = snapshot
		return err
	}
	return nil
}

// RBAC returns the rbac.Repository port.
func (s *Store) RBAC() *RBACRepo { return &RBACRepo{view{s: s}} }

// Matrix returns the matrix.Repository port.
func (s *Store) Matrix() *MatrixRepo { return &MatrixRepo{view{s: s}} }

// Projects returns the projects.Repository port.
func (s *Store) Projects() *ProjectsRepo { return &ProjectsRepo{view{s: s}} }

// Assignments returns the assignments.Repository port.
func (s *Store) Assignments() *AssignmentsRepo { return &AssignmentsRepo{view{s: s}} }

// Users returns the users.RepositoryPort port.
func (s *Store) Users() *UsersRepo { return &UsersRepo{view{s: s}} }

func (s *Store) seed(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

// AddUser seeds a user.
func (s *Store) AddUser(name string, status users.Status) users.User {
	return s.AddUserWithID(0, name, status)
}

// AddUserWithID seeds a user under a fixed id. Zero picks the next id.
func (s *Store) AddUserWithID(id int64, name string, status users.Status) users.User {
	var u users.User
	s.seed(func(st *state) {
		if id == 0 {
			id = st.nextID()
		} else if st.seq < id {
			st.seq = id
		}
		now := time.Now().UTC()
		u = users.User{
			ID:        id,
			Email:     strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
			Name:      name,
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
		}
		st.users[u.ID] = u
	})
	return u
}

// AddRole seeds a role.
func (s *Store) AddRole(name string) rbac.Role {
	var r rbac.Role
	s.seed(func(st *state) {
		now := time.Now().UTC()
		r = rbac.Role{ID: st.nextID(), Name: name, CreatedAt: now, UpdatedAt: now}
		st.roles[r.ID] = r
	})
	return r
}

// AddPermission seeds a permission.
func (s *Store) AddPermission(name string) rbac.Permission {
	var p rbac.Permission
	s.seed(func(st *state) {
		p = rbac.Permission{ID: st.nextID(), Name: name}
		st.perms[p.ID] = p
	})
	return p
}

// GrantRole gives the user the role.
func (s *Store) GrantRole(userID, roleID int64) {
	s.seed(func(st *state) { st.userRoles[pair{userID, roleID}] = true })
}

// GrantRolePermission attaches the permission to the role.
func (s *Store) GrantRolePermission(roleID, permissionID int64) {
	s.seed(func(st *state) { st.rolePerms[pair{roleID, permissionID}] = true })
}

// GrantUserPermission adds a direct override.
func (s *Store) GrantUserPermission(userID, permissionID int64) {
	s.seed(func(st *state) { st.userPerms[pair{userID, permissionID}] = true })
}

// Link adds an assignable rule.
func (s *Store) Link(managerRoleID, targetRoleID int64) {
	s.seed(func(st *state) { st.rules[matrix.Rule{ManagerRoleID: managerRoleID, TargetRoleID: targetRoleID}] = true })
}

// AddProject seeds a project owned by ownerID.
func (s *Store) AddProject(ownerID int64, name string) projects.Project {
	var p projects.Project
	s.seed(func(st *state) {
		p = projects.Project{ID: st.nextID(), Name: name, Methodology: projects.DefaultMethodology, OwnerID: ownerID, CreatedAt: time.Now().UTC()}
		st.projects[p.ID] = p
	})
	return p
}

// AddProjectWithID seeds a project under a fixed id.
func (s *Store) AddProjectWithID(id, ownerID int64, name string) projects.Project {
	p := projects.Project{ID: id, Name: name, Methodology: projects.DefaultMethodology, OwnerID: ownerID, CreatedAt: time.Now().UTC()}
	s.seed(func(st *state) {
		st.projects[id] = p
		if st.seq < id {
			st.seq = id
		}
	})
	return p
}

// AddChildren seeds n dependent rows of the cascade step for a project.
func (s *Store) AddChildren(projectID int64, step projects.CascadeStep, n int) {
	s.seed(func(st *state) {
		if st.children[step] == nil {
			st.children[step] = map[int64]int{}
		}
		st.children[step][projectID] += n
	})
}

// Children returns the number of dependent rows left for the step.
func (s *Store) Children(projectID int64, step projects.CascadeStep) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.children[step][projectID]
}

// Assign seeds an assignment.
func (s *Store) Assign(projectID, userID, roleID int64) assignments.Assignment {
	var a assignments.Assignment
	s.seed(func(st *state) {
		a = assignments.Assignment{ID: st.nextID(), ProjectID: projectID, UserID: userID, RoleID: roleID, CreatedAt: time.Now().UTC()}
		st.assignments[a.ID] = a
	})
	return a
}

// HasProject reports whether the project row is present.
func (s *Store) HasProject(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.st.projects[id]
	return ok
}

// UserRoles returns the role ids held by the user.
func (s *Store) UserRoles(userID int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for k := range s.st.userRoles {
		if k[0] == userID {
			out = append(out, k[1])
		}
	}
	sortInt64(out)
	return out
}

// RoleHasPermission reports whether the grant row exists.
func (s *Store) RoleHasPermission(roleID, permissionID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.rolePerms[pair{roleID, permissionID}]
}

func notFound(kind string, id int64) error {
	return fmt.Errorf("memstore: %s %d: %w", kind, id, shared.ErrNotFound)
}
