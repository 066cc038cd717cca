package projects_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/projectdesk/projectdesk/internal/projects"
	"github.com/projectdesk/projectdesk/internal/shared"
)

type auditSpy struct {
	logs []shared.AuditLog
}

func (a *auditSpy) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func TestCreateRequiresFeature(t *testing.T) {
	f := newProjectFixture(t)
	ctx := context.Background()

	_, err := f.service.Create(ctx, projects.CreateInput{OwnerID: f.member.ID, Name: "Gemini"})
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = f.service.Create(ctx, projects.CreateInput{OwnerID: f.owner.ID, Name: "   "})
	require.ErrorIs(t, err, shared.ErrInvalidInput)

	project, err := f.service.Create(ctx, projects.CreateInput{OwnerID: f.owner.ID, Name: " Gemini ", Methodology: " Scrum "})
	require.NoError(t, err)
	require.Equal(t, "Gemini", project.Name)
	require.Equal(t, "scrum", project.Methodology)
	require.Equal(t, f.owner.ID, project.OwnerID)

	other, err := f.service.Create(ctx, projects.CreateInput{OwnerID: f.owner.ID, Name: "Mercury"})
	require.NoError(t, err)
	require.Equal(t, projects.DefaultMethodology, other.Methodology)
}

func TestListVisible(t *testing.T) {
	f := newProjectFixture(t)
	ctx := context.Background()
	private := f.store.AddProject(f.admin.ID, "Private")

	list, err := f.service.ListVisible(ctx, f.member.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, f.project.ID, list[0].ID)

	list, err = f.service.ListVisible(ctx, f.outsider.ID)
	require.NoError(t, err)
	require.Empty(t, list)

	list, err = f.service.ListVisible(ctx, f.admin.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, private.ID, list[0].ID, "newest first")
}

func TestDeleteCascadesChildrenFirst(t *testing.T) {
	f := newProjectFixture(t)
	audit := &auditSpy{}
	service := projects.NewService(f.store.Projects(), f.resolver, f.gate, audit, nil)
	f.store.AddChildren(f.project.ID, projects.StepDocuments, 3)
	f.store.AddChildren(f.project.ID, projects.StepDocumentFiles, 5)

	require.ErrorIs(t, service.Delete(context.Background(), f.owner.ID, f.project.ID), shared.ErrForbidden)
	require.True(t, f.store.HasProject(f.project.ID))

	require.NoError(t, service.Delete(context.Background(), f.admin.ID, f.project.ID))
	require.Equal(t, projects.CascadeOrder, f.store.Purged)
	require.False(t, f.store.HasProject(f.project.ID))
	require.Zero(t, f.store.Children(f.project.ID, projects.StepDocuments))

	require.Len(t, audit.logs, 1)
	require.Equal(t, "project.delete", audit.logs[0].Action)
	require.EqualValues(t, 5, audit.logs[0].Meta[string(projects.StepDocumentFiles)])
	require.EqualValues(t, 1, audit.logs[0].Meta[string(projects.StepAssignments)])

	require.ErrorIs(t, service.Delete(context.Background(), f.admin.ID, f.project.ID), shared.ErrNotFound)
}

func TestDeleteRollsBackOnFailure(t *testing.T) {
	f := newProjectFixture(t)
	f.store.AddChildren(f.project.ID, projects.StepDocuments, 2)
	boom := errors.New("fk violation")
	f.store.FailOn("Purge:"+string(projects.StepAssignments), 0, boom)

	err := f.service.Delete(context.Background(), f.admin.ID, f.project.ID)
	require.ErrorIs(t, err, boom)
	require.True(t, f.store.HasProject(f.project.ID))
	require.Equal(t, 2, f.store.Children(f.project.ID, projects.StepDocuments))

	ok, err := f.store.Projects().HasAssignment(context.Background(), f.project.ID, f.member.ID)
	require.NoError(t, err)
	require.True(t, ok)
}
