package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/projectdesk/projectdesk/internal/assignments"
	"github.com/projectdesk/projectdesk/internal/matrix"
	"github.com/projectdesk/projectdesk/internal/projects"
	"github.com/projectdesk/projectdesk/internal/rbac"
	"github.com/projectdesk/projectdesk/internal/shared"
	"github.com/projectdesk/projectdesk/internal/users"
)

// MatrixRepo implements matrix.Repository.
type MatrixRepo struct{ view }

var _ matrix.Repository = (*MatrixRepo)(nil)

func (r *MatrixRepo) ListRules(_ context.Context) ([]matrix.Rule, error) {
	var out []matrix.Rule
	err := r.do("ListRules", func(st *state) error {
		for rule := range st.rules {
			out = append(out, rule)
		}
		slices.SortFunc(out, func(a, b matrix.Rule) int {
			return cmp.Or(cmp.Compare(a.ManagerRoleID, b.ManagerRoleID), cmp.Compare(a.TargetRoleID, b.TargetRoleID))
		})
		return nil
	})
	return out, err
}

func (r *MatrixRepo) HasRule(_ context.Context, managerRoleIDs []int64, targetRoleID int64) (bool, error) {
	var found bool
	err := r.do("HasRule", func(st *state) error {
		for _, m := range managerRoleIDs {
			if st.rules[matrix.Rule{ManagerRoleID: m, TargetRoleID: targetRoleID}] {
				found = true
			}
		}
		return nil
	})
	return found, err
}

func (r *MatrixRepo) TargetsFor(_ context.Context, managerRoleIDs []int64) ([]int64, error) {
	var out []int64
	err := r.do("TargetsFor", func(st *state) error {
		for rule := range st.rules {
			if slices.Contains(managerRoleIDs, rule.ManagerRoleID) && !slices.Contains(out, rule.TargetRoleID) {
				out = append(out, rule.TargetRoleID)
			}
		}
		sortInt64(out)
		return nil
	})
	return out, err
}

func (r *MatrixRepo) Link(_ context.Context, rule matrix.Rule) error {
	return r.do("Link", func(st *state) error {
		if _, ok := st.roles[rule.ManagerRoleID]; !ok {
			return notFound("role", rule.ManagerRoleID)
		}
		if _, ok := st.roles[rule.TargetRoleID]; !ok {
			return notFound("role", rule.TargetRoleID)
		}
		st.rules[rule] = true
		return nil
	})
}

func (r *MatrixRepo) Unlink(_ context.Context, rule matrix.Rule) error {
	return r.do("Unlink", func(st *state) error {
		delete(st.rules, rule)
		return nil
	})
}

func (r *MatrixRepo) RoleExists(_ context.Context, roleID int64) (bool, error) {
	var ok bool
	err := r.do("RoleExists", func(st *state) error {
		_, ok = st.roles[roleID]
		return nil
	})
	return ok, err
}

func (r *MatrixRepo) ListRoles(_ context.Context) ([]rbac.Role, error) {
	var out []rbac.Role
	err := r.do("ListRoles", func(st *state) error {
		out = sortedRoles(st)
		return nil
	})
	return out, err
}

func (r *MatrixRepo) RolesWithFeature(_ context.Context, feature string) ([]rbac.Role, error) {
	var out []rbac.Role
	err := r.do("RolesWithFeature", func(st *state) error {
		want := shared.FoldName(feature)
		for _, role := range sortedRoles(st) {
			for k := range st.rolePerms {
				if k[0] == role.ID && shared.FoldName(st.perms[k[1]].Name) == want {
					out = append(out, role)
					break
				}
			}
		}
		return nil
	})
	return out, err
}

// ProjectsRepo implements projects.Repository.
type ProjectsRepo struct{ view }

var _ projects.Repository = (*ProjectsRepo)(nil)

func (r *ProjectsRepo) WithTx(ctx context.Context, fn func(context.Context, projects.Repository) error) error {
	return r.withTx(func(v view) error { return fn(ctx, &ProjectsRepo{v}) })
}

func (r *ProjectsRepo) Get(_ context.Context, id int64) (projects.Project, error) {
	var out projects.Project
	err := r.do("GetProject", func(st *state) error {
		p, ok := st.projects[id]
		if !ok {
			return notFound("project", id)
		}
		out = p
		return nil
	})
	return out, err
}

func (r *ProjectsRepo) Exists(_ context.Context, id int64) (bool, error) {
	var ok bool
	err := r.do("ProjectExists", func(st *state) error {
		_, ok = st.projects[id]
		return nil
	})
	return ok, err
}

func (r *ProjectsRepo) Create(_ context.Context, p projects.Project) (projects.Project, error) {
	err := r.do("CreateProject", func(st *state) error {
		if _, ok := st.users[p.OwnerID]; !ok {
			return notFound("user", p.OwnerID)
		}
		p.ID = st.nextID()
		p.CreatedAt = time.Now().UTC()
		st.projects[p.ID] = p
		return nil
	})
	if err != nil {
		return projects.Project{}, err
	}
	return p, nil
}

func (r *ProjectsRepo) ListAll(_ context.Context) ([]projects.Project, error) {
	var out []projects.Project
	err := r.do("ListAllProjects", func(st *state) error {
		for _, p := range st.projects {
			out = append(out, p)
		}
		slices.SortFunc(out, func(a, b projects.Project) int { return cmp.Compare(b.ID, a.ID) })
		return nil
	})
	return out, err
}

func (r *ProjectsRepo) ListVisibleTo(_ context.Context, userID int64) ([]projects.Project, error) {
	var out []projects.Project
	err := r.do("ListVisibleProjects", func(st *state) error {
		for _, p := range st.projects {
			if p.OwnerID == userID || assigned(st, p.ID, userID) {
				out = append(out, p)
			}
		}
		slices.SortFunc(out, func(a, b projects.Project) int { return cmp.Compare(b.ID, a.ID) })
		return nil
	})
	return out, err
}

func (r *ProjectsRepo) HasAssignment(_ context.Context, projectID, userID int64) (bool, error) {
	var ok bool
	err := r.do("HasAssignment", func(st *state) error {
		ok = assigned(st, projectID, userID)
		return nil
	})
	return ok, err
}

func (r *ProjectsRepo) Purge(_ context.Context, projectID int64, step projects.CascadeStep) (int64, error) {
	var n int64
	err := r.do("Purge:"+string(step), func(st *state) error {
		r.s.Purged = append(r.s.Purged, step)
		switch step {
		case projects.StepAssignments:
			for id, a := range st.assignments {
				if a.ProjectID == projectID {
					delete(st.assignments, id)
					n++
				}
			}
		case projects.StepProject:
			if _, ok := st.projects[projectID]; ok {
				delete(st.projects, projectID)
				n = 1
			}
		default:
			n = int64(st.children[step][projectID])
			delete(st.children[step], projectID)
		}
		return nil
	})
	return n, err
}

func assigned(st *state, projectID, userID int64) bool {
	for _, a := range st.assignments {
		if a.ProjectID == projectID && a.UserID == userID {
			return true
		}
	}
	return false
}

// AssignmentsRepo implements assignments.Repository.
type AssignmentsRepo struct{ view }

var _ assignments.Repository = (*AssignmentsRepo)(nil)

func (r *AssignmentsRepo) WithTx(ctx context.Context, fn func(context.Context, assignments.Repository) error) error {
	return r.withTx(func(v view) error { return fn(ctx, &AssignmentsRepo{v}) })
}

func (r *AssignmentsRepo) Get(_ context.Context, id int64) (assignments.Assignment, error) {
	var out assignments.Assignment
	err := r.do("GetAssignment", func(st *state) error {
		a, ok := st.assignments[id]
		if !ok {
			return notFound("assignment", id)
		}
		out = a
		return nil
	})
	return out, err
}

func (r *AssignmentsRepo) ListForProject(_ context.Context, projectID int64) ([]assignments.Member, error) {
	var out []assignments.Member
	err := r.do("ListForProject", func(st *state) error {
		for _, a := range st.assignments {
			if a.ProjectID != projectID {
				continue
			}
			u := st.users[a.UserID]
			out = append(out, assignments.Member{
				Assignment: a,
				UserName:   u.Name,
				UserEmail:  u.Email,
				RoleName:   st.roles[a.RoleID].Name,
			})
		}
		slices.SortFunc(out, func(a, b assignments.Member) int {
			return cmp.Or(strings.Compare(a.RoleName, b.RoleName), strings.Compare(a.UserName, b.UserName), cmp.Compare(a.ID, b.ID))
		})
		return nil
	})
	return out, err
}

func (r *AssignmentsRepo) ListSlot(_ context.Context, projectID, roleID int64) ([]assignments.Assignment, error) {
	var out []assignments.Assignment
	err := r.do("ListSlot", func(st *state) error {
		for _, a := range st.assignments {
			if a.ProjectID == projectID && a.RoleID == roleID {
				out = append(out, a)
			}
		}
		slices.SortFunc(out, func(a, b assignments.Assignment) int { return cmp.Compare(a.ID, b.ID) })
		return nil
	})
	return out, err
}

func (r *AssignmentsRepo) Exists(_ context.Context, projectID, userID, roleID int64) (bool, error) {
	var found bool
	err := r.do("AssignmentExists", func(st *state) error {
		found = tripleExists(st, projectID, userID, roleID)
		return nil
	})
	return found, err
}

func (r *AssignmentsRepo) Insert(_ context.Context, a assignments.Assignment) (assignments.Assignment, error) {
	err := r.do("InsertAssignment", func(st *state) error {
		if tripleExists(st, a.ProjectID, a.UserID, a.RoleID) {
			return fmt.Errorf("memstore: assignment exists: %w", shared.ErrConflict)
		}
		if _, ok := st.projects[a.ProjectID]; !ok {
			return notFound("project", a.ProjectID)
		}
		if _, ok := st.users[a.UserID]; !ok {
			return notFound("user", a.UserID)
		}
		if _, ok := st.roles[a.RoleID]; !ok {
			return notFound("role", a.RoleID)
		}
		a.ID = st.nextID()
		a.CreatedAt = time.Now().UTC()
		st.assignments[a.ID] = a
		return nil
	})
	if err != nil {
		return assignments.Assignment{}, err
	}
	return a, nil
}

func (r *AssignmentsRepo) DeleteSlot(_ context.Context, projectID, roleID int64) (int64, error) {
	var n int64
	err := r.do("DeleteSlot", func(st *state) error {
		for id, a := range st.assignments {
			if a.ProjectID == projectID && a.RoleID == roleID {
				delete(st.assignments, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *AssignmentsRepo) Delete(_ context.Context, id int64) error {
	return r.do("DeleteAssignment", func(st *state) error {
		if _, ok := st.assignments[id]; !ok {
			return notFound("assignment", id)
		}
		delete(st.assignments, id)
		return nil
	})
}

func tripleExists(st *state, projectID, userID, roleID int64) bool {
	for _, a := range st.assignments {
		if a.ProjectID == projectID && a.UserID == userID && a.RoleID == roleID {
			return true
		}
	}
	return false
}

// UsersRepo implements users.RepositoryPort.
type UsersRepo struct{ view }

var _ users.RepositoryPort = (*UsersRepo)(nil)

func (r *UsersRepo) WithTx(ctx context.Context, fn func(context.Context, users.RepositoryPort) error) error {
	return r.withTx(func(v view) error { return fn(ctx, &UsersRepo{v}) })
}

func (r *UsersRepo) ListUsers(_ context.Context) ([]users.User, error) {
	var out []users.User
	err := r.do("ListUsers", func(st *state) error {
		for _, u := range st.users {
			out = append(out, u)
		}
		slices.SortFunc(out, func(a, b users.User) int { return cmp.Compare(a.ID, b.ID) })
		return nil
	})
	return out, err
}

func (r *UsersRepo) ListByStatus(_ context.Context, status users.Status) ([]users.User, error) {
	var out []users.User
	err := r.do("ListByStatus", func(st *state) error {
		for _, u := range st.users {
			if u.Status == status {
				out = append(out, u)
			}
		}
		slices.SortFunc(out, func(a, b users.User) int {
			return cmp.Or(strings.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
		})
		return nil
	})
	return out, err
}

func (r *UsersRepo) Get(_ context.Context, id int64) (users.User, error) {
	var out users.User
	err := r.do("GetUser", func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return notFound("user", id)
		}
		out = u
		return nil
	})
	return out, err
}

func (r *UsersRepo) UpdateStatus(_ context.Context, id int64, status users.Status) (users.User, error) {
	var out users.User
	err := r.do("UpdateStatus", func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return notFound("user", id)
		}
		u.Status = status
		u.UpdatedAt = time.Now().UTC()
		st.users[id] = u
		out = u
		return nil
	})
	return out, err
}

func (r *UsersRepo) ApprovedAdmins(_ context.Context) ([]int64, error) {
	var out []int64
	err := r.do("ApprovedAdmins", func(st *state) error {
		for k := range st.userRoles {
			if shared.IsAdminRoleName(st.roles[k[1]].Name) && st.users[k[0]].Status == users.StatusApproved {
				out = append(out, k[0])
			}
		}
		sortInt64(out)
		return nil
	})
	return out, err
}
