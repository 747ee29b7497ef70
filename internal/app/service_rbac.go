package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"testdocs/api/internal/authpw"
	"testdocs/api/internal/rbac"
	"testdocs/api/internal/store"
	"testdocs/api/internal/util"
	"testdocs/api/internal/validate"
)

// authorize is the single place project permissions are decided. It returns
// the caller's membership when the role grants action.
func (s *Service) authorize(ctx context.Context, projectID, userID string, action rbac.Action) (store.ProjectMember, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ProjectMember{}, notFound("Project not found")
		}
		return store.ProjectMember{}, err
	}
	member, err := s.store.GetMember(ctx, projectID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ProjectMember{}, forbidden("You are not a member of this project")
	}
	if err != nil {
		return store.ProjectMember{}, err
	}
	if !rbac.Can(rbac.Normalize(member.Role), action) {
		return store.ProjectMember{}, forbidden("Only project managers can do this")
	}
	return member, nil
}

type CreateProjectInput struct {
	Name         string   `json:"name" validate:"required,max=200"`
	Description  string   `json:"description" validate:"max=2000"`
	MemberEmails []string `json:"memberEmails" validate:"max=100"`
}

type UpdateProjectInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

type AddMemberInput struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"omitempty,oneof=MANAGER MEMBER"`
}

type UpdateMemberInput struct {
	UserID string `json:"userId" validate:"required"`
	Role   string `json:"role" validate:"required,oneof=MANAGER MEMBER"`
}

func (s *Service) projectWithMembers(ctx context.Context, project store.Project, role string) (ProjectView, error) {
	members, err := s.store.ListMembers(ctx, project.ID)
	if err != nil {
		return ProjectView{}, err
	}
	return projectView(project, role, members), nil
}

// ListProjects returns the caller's projects with their role and members.
func (s *Service) ListProjects(ctx context.Context, userID string) ([]ProjectView, error) {
	projects, err := s.store.ListProjectsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]ProjectView, 0, len(projects))
	for _, project := range projects {
		members, err := s.store.ListMembers(ctx, project.ID)
		if err != nil {
			return nil, err
		}
		role := ""
		for _, member := range members {
			if member.UserID == userID {
				role = member.Role
			}
		}
		out = append(out, projectView(project, role, members))
	}
	return out, nil
}

// CreateProject makes the caller MANAGER and every listed email a MEMBER.
// Any email that does not resolve fails the whole call.
func (s *Service) CreateProject(ctx context.Context, userID string, input CreateProjectInput) (ProjectView, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Description = strings.TrimSpace(input.Description)
	if err := validate.Struct(input); err != nil {
		return ProjectView{}, validationFailed(err)
	}
	creator, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return ProjectView{}, unauthorized()
	}
	if err != nil {
		return ProjectView{}, err
	}

	emails := make([]string, 0, len(input.MemberEmails))
	seen := map[string]bool{authpw.NormalizeEmail(creator.Email): true}
	for _, raw := range input.MemberEmails {
		email := authpw.NormalizeEmail(raw)
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true
		emails = append(emails, email)
	}

	users, err := s.store.FindUsersByEmails(ctx, emails)
	if err != nil {
		return ProjectView{}, err
	}
	byEmail := make(map[string]store.User, len(users))
	for _, user := range users {
		byEmail[authpw.NormalizeEmail(user.Email)] = user
	}
	var missing []string
	for _, email := range emails {
		if _, ok := byEmail[email]; !ok {
			missing = append(missing, email)
		}
	}
	if len(missing) > 0 {
		return ProjectView{}, domainError(http.StatusBadRequest, "USER_NOT_FOUND", "Some member emails do not belong to registered users", map[string]any{"emails": missing})
	}

	project := store.Project{ID: util.NewID("prj"), Name: input.Name, Description: input.Description}
	members := []store.ProjectMember{{ID: util.NewID("pm"), UserID: creator.ID, Role: string(rbac.RoleManager)}}
	for _, email := range emails {
		members = append(members, store.ProjectMember{ID: util.NewID("pm"), UserID: byEmail[email].ID, Role: string(rbac.RoleMember)})
	}

	created, err := s.store.CreateProject(ctx, project, members)
	if err != nil {
		return ProjectView{}, err
	}
	s.logger.Info("project created", zap.String("project_id", created.ID), zap.String("user_id", userID), zap.Int("members", len(members)))
	return s.projectWithMembers(ctx, created, string(rbac.RoleManager))
}

func (s *Service) GetProject(ctx context.Context, userID, projectID string) (ProjectView, error) {
	member, err := s.authorize(ctx, projectID, userID, rbac.ActionRead)
	if err != nil {
		return ProjectView{}, err
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return ProjectView{}, err
	}
	return s.projectWithMembers(ctx, project, member.Role)
}

func (s *Service) UpdateProject(ctx context.Context, userID, projectID string, input UpdateProjectInput) (ProjectView, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Description = strings.TrimSpace(input.Description)
	if err := validate.Struct(input); err != nil {
		return ProjectView{}, validationFailed(err)
	}
	member, err := s.authorize(ctx, projectID, userID, rbac.ActionManage)
	if err != nil {
		return ProjectView{}, err
	}
	project, err := s.store.UpdateProject(ctx, projectID, input.Name, input.Description)
	if err != nil {
		return ProjectView{}, err
	}
	return s.projectWithMembers(ctx, project, member.Role)
}

// DeleteProject removes the project and, through cascades, everything in it.
// Search entries for its documents are dropped afterwards.
func (s *Service) DeleteProject(ctx context.Context, userID, projectID string) error {
	if _, err := s.authorize(ctx, projectID, userID, rbac.ActionDelete); err != nil {
		return err
	}
	docs, err := s.store.ListDocuments(ctx, store.DocumentFilter{UserID: userID, ProjectID: projectID})
	if err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	for _, doc := range docs {
		s.search.DeleteDocument(doc.ID)
	}
	s.logger.Info("project deleted", zap.String("project_id", projectID), zap.String("user_id", userID), zap.Int("documents", len(docs)))
	return nil
}

func (s *Service) ListMembers(ctx context.Context, userID, projectID string) ([]MemberView, error) {
	if _, err := s.authorize(ctx, projectID, userID, rbac.ActionRead); err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return memberViews(members), nil
}

func (s *Service) AddMember(ctx context.Context, userID, projectID string, input AddMemberInput) (MemberView, error) {
	input.Email = authpw.NormalizeEmail(input.Email)
	input.Role = strings.ToUpper(strings.TrimSpace(input.Role))
	if err := validate.Struct(input); err != nil {
		return MemberView{}, validationFailed(err)
	}
	if input.Role == "" {
		input.Role = string(rbac.RoleMember)
	}
	if _, err := s.authorize(ctx, projectID, userID, rbac.ActionManage); err != nil {
		return MemberView{}, err
	}

	target, err := s.store.GetUserByEmail(ctx, input.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return MemberView{}, notFound("User not found")
	}
	if err != nil {
		return MemberView{}, err
	}

	member, err := s.store.AddMember(ctx, store.ProjectMember{
		ID:        util.NewID("pm"),
		ProjectID: projectID,
		UserID:    target.ID,
		Role:      input.Role,
	})
	if errors.Is(err, store.ErrDuplicate) {
		return MemberView{}, invalid("ALREADY_MEMBER", "User is already a member of this project")
	}
	if err != nil {
		return MemberView{}, err
	}
	return memberView(member), nil
}

func lastManagerError() *DomainError {
	return invalid("LAST_MANAGER", "A project must keep at least one manager")
}

func (s *Service) UpdateMemberRole(ctx context.Context, userID, projectID string, input UpdateMemberInput) (MemberView, error) {
	input.Role = strings.ToUpper(strings.TrimSpace(input.Role))
	if err := validate.Struct(input); err != nil {
		return MemberView{}, validationFailed(err)
	}
	if _, err := s.authorize(ctx, projectID, userID, rbac.ActionManage); err != nil {
		return MemberView{}, err
	}
	member, err := s.store.UpdateMemberRole(ctx, projectID, input.UserID, input.Role)
	switch {
	case errors.Is(err, store.ErrLastManager):
		return MemberView{}, lastManagerError()
	case errors.Is(err, sql.ErrNoRows):
		return MemberView{}, notFound("Member not found")
	case err != nil:
		return MemberView{}, err
	}
	return memberView(member), nil
}

func (s *Service) RemoveMember(ctx context.Context, userID, projectID, targetUserID string) error {
	if strings.TrimSpace(targetUserID) == "" {
		return invalid("VALIDATION_ERROR", "userId is required")
	}
	if _, err := s.authorize(ctx, projectID, userID, rbac.ActionManage); err != nil {
		return err
	}
	err := s.store.RemoveMember(ctx, projectID, targetUserID)
	switch {
	case errors.Is(err, store.ErrLastManager):
		return lastManagerError()
	case errors.Is(err, sql.ErrNoRows):
		return notFound("Member not found")
	}
	return err
}
