package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.Role)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const userColumns = `id, name, email, password_hash, role, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, strings.TrimSpace(email))
	return scanUser(row)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	return scanUser(row)
}

func (s *PostgresStore) FindUsersByEmails(ctx context.Context, emails []string) ([]User, error) {
	if len(emails) == 0 {
		return []User{}, nil
	}
	lowered := make([]string, 0, len(emails))
	for _, email := range emails {
		lowered = append(lowered, strings.ToLower(strings.TrimSpace(email)))
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = ANY($1)`, lowered)
	if err != nil {
		return nil, fmt.Errorf("find users by email: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0, len(emails))
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// Projects

func (s *PostgresStore) CreateProject(ctx context.Context, project Project, members []ProjectMember) (Project, error) {
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO projects (id, name, description)
			VALUES ($1, $2, $3)
			RETURNING created_at, updated_at
		`, project.ID, project.Name, project.Description).Scan(&project.CreatedAt, &project.UpdatedAt); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		for _, member := range members {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO project_members (id, project_id, user_id, role)
				VALUES ($1, $2, $3, $4)
			`, member.ID, project.ID, member.UserID, member.Role); err != nil {
				if isUniqueViolation(err) {
					return ErrDuplicate
				}
				return fmt.Errorf("insert project member: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Project{}, err
	}
	return project, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var project Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM projects
		WHERE id = $1
	`, projectID).Scan(&project.ID, &project.Name, &project.Description, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	return project, nil
}

func (s *PostgresStore) ListProjectsForUser(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.description, p.created_at, p.updated_at
		FROM projects p
		JOIN project_members pm ON pm.project_id = p.id
		WHERE pm.user_id = $1
		ORDER BY p.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, projectID, name, description string) (Project, error) {
	var project Project
	err := s.db.QueryRowContext(ctx, `
		UPDATE projects
		SET name = $2, description = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING id, name, description, created_at, updated_at
	`, projectID, name, description).Scan(&project.ID, &project.Name, &project.Description, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	return project, nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return requireAffected(result)
}

// Members

const memberSelect = `
	SELECT pm.id, pm.project_id, pm.user_id, pm.role, pm.created_at, pm.updated_at, u.name, u.email
	FROM project_members pm
	JOIN users u ON u.id = pm.user_id
`

func scanMember(row interface{ Scan(...any) error }) (ProjectMember, error) {
	var member ProjectMember
	err := row.Scan(&member.ID, &member.ProjectID, &member.UserID, &member.Role, &member.CreatedAt, &member.UpdatedAt, &member.User.Name, &member.User.Email)
	member.User.ID = member.UserID
	return member, err
}

func (s *PostgresStore) GetMember(ctx context.Context, projectID, userID string) (ProjectMember, error) {
	return scanMember(s.db.QueryRowContext(ctx, memberSelect+` WHERE pm.project_id = $1 AND pm.user_id = $2`, projectID, userID))
}

func (s *PostgresStore) ListMembers(ctx context.Context, projectID string) ([]ProjectMember, error) {
	rows, err := s.db.QueryContext(ctx, memberSelect+` WHERE pm.project_id = $1 ORDER BY pm.created_at ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	items := make([]ProjectMember, 0)
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		items = append(items, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AddMember(ctx context.Context, member ProjectMember) (ProjectMember, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_members (id, project_id, user_id, role)
		VALUES ($1, $2, $3, $4)
	`, member.ID, member.ProjectID, member.UserID, member.Role)
	if isUniqueViolation(err) {
		return ProjectMember{}, ErrDuplicate
	}
	if err != nil {
		return ProjectMember{}, fmt.Errorf("insert member: %w", err)
	}
	return s.GetMember(ctx, member.ProjectID, member.UserID)
}

// lockManagers locks the project's manager rows so concurrent demotions and
// removals serialize on the last-manager check.
func lockManagers(ctx context.Context, tx *sql.Tx, projectID string) (int, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT user_id FROM project_members
		WHERE project_id = $1 AND role = 'MANAGER'
		FOR UPDATE
	`, projectID)
	if err != nil {
		return 0, fmt.Errorf("lock managers: %w", err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate managers: %w", err)
	}
	return count, nil
}

func memberRole(ctx context.Context, tx *sql.Tx, projectID, userID string) (string, error) {
	var role string
	err := tx.QueryRowContext(ctx, `SELECT role FROM project_members WHERE project_id = $1 AND user_id = $2`, projectID, userID).Scan(&role)
	return role, err
}

func (s *PostgresStore) UpdateMemberRole(ctx context.Context, projectID, userID, role string) (ProjectMember, error) {
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		managers, err := lockManagers(ctx, tx, projectID)
		if err != nil {
			return err
		}
		current, err := memberRole(ctx, tx, projectID, userID)
		if err != nil {
			return err
		}
		if current == "MANAGER" && role != "MANAGER" && managers <= 1 {
			return ErrLastManager
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE project_members SET role = $3, updated_at = NOW()
			WHERE project_id = $1 AND user_id = $2
		`, projectID, userID, role); err != nil {
			return fmt.Errorf("update member role: %w", err)
		}
		return nil
	})
	if err != nil {
		return ProjectMember{}, err
	}
	return s.GetMember(ctx, projectID, userID)
}

func (s *PostgresStore) RemoveMember(ctx context.Context, projectID, userID string) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		managers, err := lockManagers(ctx, tx, projectID)
		if err != nil {
			return err
		}
		current, err := memberRole(ctx, tx, projectID, userID)
		if err != nil {
			return err
		}
		if current == "MANAGER" && managers <= 1 {
			return ErrLastManager
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM project_members WHERE project_id = $1 AND user_id = $2`, projectID, userID); err != nil {
			return fmt.Errorf("delete member: %w", err)
		}
		return nil
	})
}

// Documents

const documentSelect = `
	SELECT d.id, d.project_id, p.name, d.title, d.content, d.type, d.status, d.version,
		COALESCE(d.created_by, ''), d.created_at, d.updated_at
	FROM documents d
	JOIN projects p ON p.id = d.project_id
`

func scanDocument(row interface{ Scan(...any) error }) (Document, error) {
	var item Document
	err := row.Scan(&item.ID, &item.ProjectID, &item.ProjectName, &item.Title, &item.Content, &item.Type, &item.Status, &item.Version, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func insertVersion(ctx context.Context, tx *sql.Tx, version DocumentVersion) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO document_versions (id, document_id, version, title, content, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
	`, version.ID, version.DocumentID, version.Version, version.Title, version.Content, version.Status, version.CreatedBy.ID)
	if err != nil {
		return fmt.Errorf("insert document version: %w", err)
	}
	return nil
}

// CreateDocument inserts the document at version 1 together with its first
// snapshot.
func (s *PostgresStore) CreateDocument(ctx context.Context, item Document, versionID string) (Document, error) {
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (id, project_id, title, content, type, status, version, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, 1, NULLIF($7, ''))
		`, item.ID, item.ProjectID, item.Title, item.Content, item.Type, item.Status, item.CreatedBy); err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		return insertVersion(ctx, tx, DocumentVersion{
			ID:         versionID,
			DocumentID: item.ID,
			Version:    1,
			Title:      item.Title,
			Content:    item.Content,
			Status:     item.Status,
			CreatedBy:  UserSummary{ID: item.CreatedBy},
		})
	})
	if err != nil {
		return Document{}, err
	}
	return s.GetDocument(ctx, item.ID)
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, documentSelect+` WHERE d.id = $1`, documentID))
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

// ListDocuments returns documents in projects the filter's user belongs to.
// All other filters are AND-combined.
func (s *PostgresStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]Document, error) {
	query := documentSelect + `
		JOIN project_members pm ON pm.project_id = d.project_id AND pm.user_id = $1
		WHERE TRUE`
	args := []any{filter.UserID}
	argN := 2

	if filter.ProjectID != "" {
		query += fmt.Sprintf(" AND d.project_id = $%d", argN)
		args = append(args, filter.ProjectID)
		argN++
	}
	if filter.Type != "" {
		query += fmt.Sprintf(" AND d.type = $%d", argN)
		args = append(args, filter.Type)
		argN++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND d.status = $%d", argN)
		args = append(args, filter.Status)
		argN++
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		query += fmt.Sprintf(` AND (d.title ILIKE $%d ESCAPE '\' OR d.content ILIKE $%d ESCAPE '\')`, argN, argN)
		args = append(args, "%"+escapeLike(search)+"%")
		argN++
	}
	query += " ORDER BY d.updated_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argN, argN+1)
		args = append(args, filter.Limit, max(filter.Offset, 0))
	}

	return s.queryDocuments(ctx, query, args...)
}

// ListAllDocuments returns every document regardless of membership. It feeds
// search reindexing and is never exposed over HTTP.
func (s *PostgresStore) ListAllDocuments(ctx context.Context) ([]Document, error) {
	return s.queryDocuments(ctx, documentSelect+` ORDER BY d.id`)
}

func (s *PostgresStore) queryDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// UpdateDocument overwrites the document and bumps its version by exactly one
// in the same statement, then appends the resulting snapshot.
func (s *PostgresStore) UpdateDocument(ctx context.Context, update DocumentUpdate) (Document, error) {
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		query := `
			UPDATE documents
			SET title = $2, content = $3, status = $4, version = version + 1, updated_at = NOW()
			WHERE id = $1`
		args := []any{update.ID, update.Title, update.Content, update.Status}
		if update.ExpectedVersion != nil {
			query += ` AND version = $5`
			args = append(args, *update.ExpectedVersion)
		}
		query += ` RETURNING version`

		var version int
		err := tx.QueryRowContext(ctx, query, args...).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) && update.ExpectedVersion != nil {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM documents WHERE id = $1)`, update.ID).Scan(&exists); err != nil {
				return fmt.Errorf("check document: %w", err)
			}
			if exists {
				return ErrVersionConflict
			}
			return sql.ErrNoRows
		}
		if err != nil {
			return err
		}
		return insertVersion(ctx, tx, DocumentVersion{
			ID:         update.VersionID,
			DocumentID: update.ID,
			Version:    version,
			Title:      update.Title,
			Content:    update.Content,
			Status:     update.Status,
			CreatedBy:  UserSummary{ID: update.UpdatedBy},
		})
	})
	if err != nil {
		return Document{}, err
	}
	return s.GetDocument(ctx, update.ID)
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return requireAffected(result)
}

const versionSelect = `
	SELECT v.id, v.document_id, v.version, v.title, v.content, v.status, v.created_at,
		COALESCE(u.id, ''), COALESCE(u.name, ''), COALESCE(u.email, '')
	FROM document_versions v
	LEFT JOIN users u ON u.id = v.created_by
`

func scanVersion(row interface{ Scan(...any) error }) (DocumentVersion, error) {
	var item DocumentVersion
	err := row.Scan(&item.ID, &item.DocumentID, &item.Version, &item.Title, &item.Content, &item.Status, &item.CreatedAt, &item.CreatedBy.ID, &item.CreatedBy.Name, &item.CreatedBy.Email)
	return item, err
}

func (s *PostgresStore) ListDocumentVersions(ctx context.Context, documentID string) ([]DocumentVersion, error) {
	rows, err := s.db.QueryContext(ctx, versionSelect+` WHERE v.document_id = $1 ORDER BY v.version DESC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list document versions: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentVersion, 0)
	for rows.Next() {
		item, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document versions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocumentVersion(ctx context.Context, documentID, versionID string) (DocumentVersion, error) {
	return scanVersion(s.db.QueryRowContext(ctx, versionSelect+` WHERE v.document_id = $1 AND v.id = $2`, documentID, versionID))
}

// Comments

const commentSelect = `
	SELECT c.id, c.document_id, c.user_id, c.parent_id, c.content, c.created_at, c.updated_at, u.name, u.email
	FROM document_comments c
	JOIN users u ON u.id = c.user_id
`

func scanComment(row interface{ Scan(...any) error }) (Comment, error) {
	var item Comment
	var parentID sql.NullString
	err := row.Scan(&item.ID, &item.DocumentID, &item.UserID, &parentID, &item.Content, &item.CreatedAt, &item.UpdatedAt, &item.User.Name, &item.User.Email)
	item.User.ID = item.UserID
	if parentID.Valid {
		item.ParentID = &parentID.String
	}
	return item, err
}

func (s *PostgresStore) InsertComment(ctx context.Context, item Comment) (Comment, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_comments (id, document_id, user_id, parent_id, content)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.DocumentID, item.UserID, item.ParentID, item.Content)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return s.GetComment(ctx, item.DocumentID, item.ID)
}

func (s *PostgresStore) GetComment(ctx context.Context, documentID, commentID string) (Comment, error) {
	return scanComment(s.db.QueryRowContext(ctx, commentSelect+` WHERE c.document_id = $1 AND c.id = $2`, documentID, commentID))
}

func (s *PostgresStore) ListComments(ctx context.Context, documentID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, commentSelect+` WHERE c.document_id = $1 ORDER BY c.created_at ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		item, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateComment(ctx context.Context, documentID, commentID, content string) (Comment, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE document_comments SET content = $3, updated_at = NOW()
		WHERE document_id = $1 AND id = $2
	`, documentID, commentID, content)
	if err != nil {
		return Comment{}, fmt.Errorf("update comment: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return Comment{}, err
	}
	return s.GetComment(ctx, documentID, commentID)
}

// DeleteCommentThread removes a comment and its direct replies.
func (s *PostgresStore) DeleteCommentThread(ctx context.Context, documentID, commentID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM document_comments
		WHERE document_id = $1 AND (id = $2 OR parent_id = $2)
	`, documentID, commentID)
	if err != nil {
		return 0, fmt.Errorf("delete comment: %w", err)
	}
	return result.RowsAffected()
}

// Token revocation, used when Redis is not configured.

func (s *PostgresStore) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti = $1 AND expires_at > NOW())`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
