package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"testdocs/api/internal/auth"
	"testdocs/api/internal/authpw"
	"testdocs/api/internal/store"
	"testdocs/api/internal/util"
)

func (s *Service) Register(ctx context.Context, req authpw.RegisterRequest) (store.UserSummary, error) {
	user, err := s.auth.Register(ctx, req)
	if errors.Is(err, authpw.ErrEmailExists) {
		return store.UserSummary{}, invalid("EMAIL_EXISTS", "Email already registered")
	}
	if err != nil {
		return store.UserSummary{}, validationFailed(err)
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return user.Summary(), nil
}

// Login verifies credentials and issues a session token. Both an unknown
// email and a wrong password yield the same 401.
func (s *Service) Login(ctx context.Context, req authpw.LoginRequest) (LoginResult, error) {
	user, err := s.auth.Login(ctx, req)
	if errors.Is(err, authpw.ErrInvalidCredentials) {
		return LoginResult{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	if err != nil {
		return LoginResult{}, validationFailed(err)
	}

	claims := auth.NewClaims(user.ID, user.Email, user.Role, util.NewID("jti"), s.now(), s.cfg.TokenTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{User: user.Summary(), Token: token, ExpiresAt: claims.Expiry()}, nil
}

// Authenticate resolves a bearer or cookie token into an identity. Revoked
// tokens are reported as auth.ErrInvalidToken.
func (s *Service) Authenticate(ctx context.Context, token string) (Identity, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Identity{}, err
	}
	if s.revoked != nil {
		revoked, err := s.revoked.IsTokenRevoked(ctx, claims.ID)
		if err != nil {
			return Identity{}, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return Identity{}, auth.ErrInvalidToken
		}
	}
	return Identity{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Role:      claims.Role,
		TokenID:   claims.ID,
		ExpiresAt: claims.Expiry(),
	}, nil
}

func (s *Service) Logout(ctx context.Context, identity Identity) error {
	if identity.TokenID == "" || s.revoked == nil {
		return nil
	}
	if err := s.revoked.RevokeToken(ctx, identity.TokenID, identity.ExpiresAt); err != nil {
		return err
	}
	return nil
}

func (s *Service) CurrentUser(ctx context.Context, identity Identity) (CurrentUserView, error) {
	if identity.UserID == "" {
		return CurrentUserView{}, unauthorized()
	}
	user, err := s.store.GetUserByID(ctx, identity.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return CurrentUserView{}, notFound("User not found")
	}
	if err != nil {
		return CurrentUserView{}, err
	}

	projects, err := s.ListProjects(ctx, user.ID)
	if err != nil {
		return CurrentUserView{}, err
	}
	return CurrentUserView{
		ID:       user.ID,
		Name:     user.Name,
		Email:    user.Email,
		Role:     user.Role,
		Projects: projects,
	}, nil
}
