package app

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"

	"testdocs/api/internal/rbac"
	"testdocs/api/internal/store"
	"testdocs/api/internal/util"
	"testdocs/api/internal/validate"
)

type CreateCommentInput struct {
	Content  string  `json:"content" validate:"required,max=10000"`
	ParentID *string `json:"parentId"`
}

type UpdateCommentInput struct {
	Content string `json:"content" validate:"required,max=10000"`
}

// threadComments arranges a flat comment list into top-level comments
// (newest first) each carrying its replies (oldest first).
func threadComments(comments []store.Comment) []CommentView {
	replies := map[string][]CommentView{}
	var top []CommentView
	for _, comment := range comments {
		view := commentView(comment)
		if comment.ParentID == nil {
			top = append(top, view)
			continue
		}
		replies[*comment.ParentID] = append(replies[*comment.ParentID], view)
	}

	sort.SliceStable(top, func(i, j int) bool {
		return top[i].CreatedAt.After(top[j].CreatedAt)
	})
	out := make([]CommentView, 0, len(top))
	for _, comment := range top {
		thread := replies[comment.ID]
		sort.SliceStable(thread, func(i, j int) bool {
			return thread[i].CreatedAt.Before(thread[j].CreatedAt)
		})
		comment.Replies = append([]CommentView{}, thread...)
		out = append(out, comment)
	}
	return out
}

func (s *Service) ListComments(ctx context.Context, userID, documentID string) ([]CommentView, error) {
	if _, _, err := s.documentAccess(ctx, userID, documentID, rbac.ActionRead); err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return threadComments(comments), nil
}

// CreateComment adds a top-level comment or a reply. Replies may only target
// top-level comments on the same document.
func (s *Service) CreateComment(ctx context.Context, userID, documentID string, input CreateCommentInput) (CommentView, error) {
	input.Content = strings.TrimSpace(input.Content)
	if err := validate.Struct(input); err != nil {
		return CommentView{}, validationFailed(err)
	}
	if _, _, err := s.documentAccess(ctx, userID, documentID, rbac.ActionComment); err != nil {
		return CommentView{}, err
	}

	var parentID *string
	if input.ParentID != nil && strings.TrimSpace(*input.ParentID) != "" {
		id := strings.TrimSpace(*input.ParentID)
		parent, err := s.store.GetComment(ctx, documentID, id)
		if errors.Is(err, sql.ErrNoRows) {
			return CommentView{}, notFound("Parent comment not found")
		}
		if err != nil {
			return CommentView{}, err
		}
		if parent.ParentID != nil {
			return CommentView{}, invalid("INVALID_REPLY", "Cannot reply to a reply")
		}
		parentID = &id
	}

	comment, err := s.store.InsertComment(ctx, store.Comment{
		ID:         util.NewID("cmt"),
		DocumentID: documentID,
		UserID:     userID,
		ParentID:   parentID,
		Content:    input.Content,
	})
	if err != nil {
		return CommentView{}, err
	}
	return commentView(comment), nil
}

func (s *Service) loadComment(ctx context.Context, documentID, commentID string) (store.Comment, error) {
	comment, err := s.store.GetComment(ctx, documentID, commentID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Comment{}, notFound("Comment not found")
	}
	return comment, err
}

// UpdateComment lets authors edit their own comments.
func (s *Service) UpdateComment(ctx context.Context, userID, documentID, commentID string, input UpdateCommentInput) (CommentView, error) {
	input.Content = strings.TrimSpace(input.Content)
	if err := validate.Struct(input); err != nil {
		return CommentView{}, validationFailed(err)
	}
	if _, _, err := s.documentAccess(ctx, userID, documentID, rbac.ActionComment); err != nil {
		return CommentView{}, err
	}
	comment, err := s.loadComment(ctx, documentID, commentID)
	if err != nil {
		return CommentView{}, err
	}
	if comment.UserID != userID {
		return CommentView{}, forbidden("Only the author can edit this comment")
	}
	updated, err := s.store.UpdateComment(ctx, documentID, commentID, input.Content)
	if err != nil {
		return CommentView{}, err
	}
	return commentView(updated), nil
}

// DeleteComment removes a comment together with its direct replies. The
// author or a project manager may delete.
func (s *Service) DeleteComment(ctx context.Context, userID, documentID, commentID string) (int64, error) {
	_, member, err := s.documentAccess(ctx, userID, documentID, rbac.ActionRead)
	if err != nil {
		return 0, err
	}
	comment, err := s.loadComment(ctx, documentID, commentID)
	if err != nil {
		return 0, err
	}
	if comment.UserID != userID && !rbac.Can(rbac.Normalize(member.Role), rbac.ActionManage) {
		return 0, forbidden("Only the author or a project manager can delete this comment")
	}
	return s.store.DeleteCommentThread(ctx, documentID, commentID)
}
