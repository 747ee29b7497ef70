package app

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"testdocs/api/internal/store"
)

// memStore is an in-memory dataStore with the same constraints the
// Postgres store enforces: unique emails, one manager minimum, atomic
// version bumps and direct-reply cascade on comment delete.
type memStore struct {
	mu       sync.Mutex
	clock    time.Time
	pingErr  error
	users    map[string]store.User
	projects map[string]store.Project
	members  map[string]map[string]store.ProjectMember
	docs     map[string]store.Document
	versions map[string][]store.DocumentVersion
	comments map[string]store.Comment
	revoked  map[string]time.Time
}

func newMemStore() *memStore {
	return &memStore{
		clock:    time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
		users:    map[string]store.User{},
		projects: map[string]store.Project{},
		members:  map[string]map[string]store.ProjectMember{},
		docs:     map[string]store.Document{},
		versions: map[string][]store.DocumentVersion{},
		comments: map[string]store.Comment{},
		revoked:  map[string]time.Time{},
	}
}

// tick advances the fake clock so every write gets a distinct timestamp.
func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) summary(userID string) store.UserSummary {
	return m.users[userID].Summary()
}

func (m *memStore) Ping(context.Context) error { return m.pingErr }

func (m *memStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if strings.EqualFold(user.Email, strings.TrimSpace(email)) {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) CreateUser(_ context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return store.ErrDuplicate
		}
	}
	now := m.tick()
	user.CreatedAt, user.UpdatedAt = now, now
	m.users[user.ID] = user
	return nil
}

func (m *memStore) FindUsersByEmails(_ context.Context, emails []string) ([]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.User{}
	for _, user := range m.users {
		for _, email := range emails {
			if strings.EqualFold(user.Email, strings.TrimSpace(email)) {
				out = append(out, user)
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) CreateProject(_ context.Context, project store.Project, members []store.ProjectMember) (store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, member := range members {
		if _, ok := m.users[member.UserID]; !ok {
			return store.Project{}, sql.ErrNoRows
		}
	}
	now := m.tick()
	project.CreatedAt, project.UpdatedAt = now, now
	m.projects[project.ID] = project
	m.members[project.ID] = map[string]store.ProjectMember{}
	for _, member := range members {
		member.ProjectID = project.ID
		member.User = m.summary(member.UserID)
		member.CreatedAt, member.UpdatedAt = m.tick(), now
		m.members[project.ID][member.UserID] = member
	}
	return project, nil
}

func (m *memStore) GetProject(_ context.Context, projectID string) (store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[projectID]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	return project, nil
}

func (m *memStore) ListProjectsForUser(_ context.Context, userID string) ([]store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Project{}
	for projectID, members := range m.members {
		if _, ok := members[userID]; ok {
			out = append(out, m.projects[projectID])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *memStore) UpdateProject(_ context.Context, projectID, name, description string) (store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[projectID]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	project.Name, project.Description, project.UpdatedAt = name, description, m.tick()
	m.projects[projectID] = project
	return project, nil
}

func (m *memStore) DeleteProject(_ context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[projectID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.projects, projectID)
	delete(m.members, projectID)
	for id, doc := range m.docs {
		if doc.ProjectID == projectID {
			m.deleteDocumentLocked(id)
		}
	}
	return nil
}

func (m *memStore) GetMember(_ context.Context, projectID, userID string) (store.ProjectMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[projectID][userID]
	if !ok {
		return store.ProjectMember{}, sql.ErrNoRows
	}
	return member, nil
}

func (m *memStore) ListMembers(_ context.Context, projectID string) ([]store.ProjectMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.ProjectMember{}
	for _, member := range m.members[projectID] {
		out = append(out, member)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) AddMember(_ context.Context, member store.ProjectMember) (store.ProjectMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[member.ProjectID][member.UserID]; ok {
		return store.ProjectMember{}, store.ErrDuplicate
	}
	now := m.tick()
	member.User = m.summary(member.UserID)
	member.CreatedAt, member.UpdatedAt = now, now
	m.members[member.ProjectID][member.UserID] = member
	return member, nil
}

func (m *memStore) managerCount(projectID string) int {
	count := 0
	for _, member := range m.members[projectID] {
		if member.Role == "MANAGER" {
			count++
		}
	}
	return count
}

func (m *memStore) UpdateMemberRole(_ context.Context, projectID, userID, role string) (store.ProjectMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[projectID][userID]
	if !ok {
		return store.ProjectMember{}, sql.ErrNoRows
	}
	if member.Role == "MANAGER" && role != "MANAGER" && m.managerCount(projectID) <= 1 {
		return store.ProjectMember{}, store.ErrLastManager
	}
	member.Role, member.UpdatedAt = role, m.tick()
	m.members[projectID][userID] = member
	return member, nil
}

func (m *memStore) RemoveMember(_ context.Context, projectID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[projectID][userID]
	if !ok {
		return sql.ErrNoRows
	}
	if member.Role == "MANAGER" && m.managerCount(projectID) <= 1 {
		return store.ErrLastManager
	}
	delete(m.members[projectID], userID)
	return nil
}

func (m *memStore) appendVersionLocked(doc store.Document, versionID, userID string) {
	m.versions[doc.ID] = append(m.versions[doc.ID], store.DocumentVersion{
		ID:         versionID,
		DocumentID: doc.ID,
		Version:    doc.Version,
		Title:      doc.Title,
		Content:    doc.Content,
		Status:     doc.Status,
		CreatedBy:  m.summary(userID),
		CreatedAt:  doc.UpdatedAt,
	})
}

func (m *memStore) CreateDocument(_ context.Context, doc store.Document, versionID string) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[doc.ProjectID]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	now := m.tick()
	doc.Version = 1
	doc.ProjectName = project.Name
	doc.CreatedAt, doc.UpdatedAt = now, now
	m.docs[doc.ID] = doc
	m.appendVersionLocked(doc, versionID, doc.CreatedBy)
	return doc, nil
}

func (m *memStore) GetDocument(_ context.Context, documentID string) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[documentID]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	return doc, nil
}

func (m *memStore) ListDocuments(_ context.Context, filter store.DocumentFilter) ([]store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	out := []store.Document{}
	for _, doc := range m.docs {
		if _, ok := m.members[doc.ProjectID][filter.UserID]; !ok {
			continue
		}
		if filter.ProjectID != "" && doc.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Type != "" && doc.Type != filter.Type {
			continue
		}
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(doc.Title), search) && !strings.Contains(strings.ToLower(doc.Content), search) {
			continue
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if filter.Limit > 0 {
		start := min(max(filter.Offset, 0), len(out))
		end := min(start+filter.Limit, len(out))
		out = out[start:end]
	}
	return out, nil
}

func (m *memStore) UpdateDocument(_ context.Context, update store.DocumentUpdate) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[update.ID]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	if update.ExpectedVersion != nil && *update.ExpectedVersion != doc.Version {
		return store.Document{}, store.ErrVersionConflict
	}
	doc.Title, doc.Content, doc.Status = update.Title, update.Content, update.Status
	doc.Version++
	doc.UpdatedAt = m.tick()
	m.docs[doc.ID] = doc
	m.appendVersionLocked(doc, update.VersionID, update.UpdatedBy)
	return doc, nil
}

func (m *memStore) deleteDocumentLocked(documentID string) {
	delete(m.docs, documentID)
	delete(m.versions, documentID)
	for id, comment := range m.comments {
		if comment.DocumentID == documentID {
			delete(m.comments, id)
		}
	}
}

func (m *memStore) DeleteDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[documentID]; !ok {
		return sql.ErrNoRows
	}
	m.deleteDocumentLocked(documentID)
	return nil
}

func (m *memStore) ListDocumentVersions(_ context.Context, documentID string) ([]store.DocumentVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	versions := m.versions[documentID]
	out := make([]store.DocumentVersion, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		out = append(out, versions[i])
	}
	return out, nil
}

func (m *memStore) GetDocumentVersion(_ context.Context, documentID, versionID string) (store.DocumentVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, version := range m.versions[documentID] {
		if version.ID == versionID {
			return version, nil
		}
	}
	return store.DocumentVersion{}, sql.ErrNoRows
}

func (m *memStore) InsertComment(_ context.Context, comment store.Comment) (store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	comment.User = m.summary(comment.UserID)
	comment.CreatedAt, comment.UpdatedAt = now, now
	m.comments[comment.ID] = comment
	return comment, nil
}

func (m *memStore) GetComment(_ context.Context, documentID, commentID string) (store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	comment, ok := m.comments[commentID]
	if !ok || comment.DocumentID != documentID {
		return store.Comment{}, sql.ErrNoRows
	}
	return comment, nil
}

func (m *memStore) ListComments(_ context.Context, documentID string) ([]store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Comment{}
	for _, comment := range m.comments {
		if comment.DocumentID == documentID {
			out = append(out, comment)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) UpdateComment(_ context.Context, documentID, commentID, content string) (store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	comment, ok := m.comments[commentID]
	if !ok || comment.DocumentID != documentID {
		return store.Comment{}, sql.ErrNoRows
	}
	comment.Content, comment.UpdatedAt = content, m.tick()
	m.comments[commentID] = comment
	return comment, nil
}

func (m *memStore) DeleteCommentThread(_ context.Context, documentID, commentID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, comment := range m.comments {
		if comment.DocumentID != documentID {
			continue
		}
		if id == commentID || (comment.ParentID != nil && *comment.ParentID == commentID) {
			delete(m.comments, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memStore) RevokeToken(_ context.Context, jti string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = expiresAt
	return nil
}

func (m *memStore) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[jti]
	return ok, nil
}
