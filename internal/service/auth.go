package service

import (
	"context"
	"strconv"
	"time"

	"Stencil/internal/biz"
	"Stencil/internal/data"
	pkglog "Stencil/pkg/log"

	kratoserrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
)

// Operation names for the auth surface. The auth middleware keys its public
// allowlist off these.
const (
	OperationAuthRegister       = "/stencil.v1.Auth/Register"
	OperationAuthLogin          = "/stencil.v1.Auth/Login"
	OperationAuthRefresh        = "/stencil.v1.Auth/Refresh"
	OperationAuthLogout         = "/stencil.v1.Auth/Logout"
	OperationAuthChangePassword = "/stencil.v1.Auth/ChangePassword"
	OperationAuthMe             = "/stencil.v1.Auth/Me"
	OperationAuthCreateAPIKey   = "/stencil.v1.Auth/CreateAPIKey"
	OperationAuthListAPIKeys    = "/stencil.v1.Auth/ListAPIKeys"
	OperationAuthRevokeAPIKey   = "/stencil.v1.Auth/RevokeAPIKey"
)

// ErrUnauthenticated is returned when a protected handler runs without a
// resolved identity.
var ErrUnauthenticated = kratoserrors.Unauthorized("UNAUTHENTICATED", "authentication required")

// AuthService exposes registration, login, token and API key endpoints.
type AuthService struct {
	uc     *biz.AuthUsecase
	logger *log.Helper
}

// NewAuthService creates the auth service.
func NewAuthService(uc *biz.AuthUsecase, logger log.Logger) *AuthService {
	return &AuthService{
		uc:     uc,
		logger: log.NewHelper(logger),
	}
}

// RegisterRoutes mounts the auth endpoints on the router.
func (s *AuthService) RegisterRoutes(r *khttp.Router) {
	r.POST("/auth/register", s.Register)
	r.POST("/auth/login", s.Login)
	r.POST("/auth/refresh", s.Refresh)
	r.POST("/auth/logout", s.Logout)
	r.POST("/auth/change-password", s.ChangePassword)
	r.GET("/auth/me", s.Me)
	r.POST("/auth/api-keys", s.CreateAPIKey)
	r.GET("/auth/api-keys", s.ListAPIKeys)
	r.DELETE("/auth/api-keys/{id}", s.RevokeAPIKey)
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type createAPIKeyRequest struct {
	Name      string `json:"name"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

type userView struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	FullName  string `json:"full_name,omitempty"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

type tokenView struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type apiKeyView struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	KeyPrefix  string `json:"key_prefix"`
	IsActive   bool   `json:"is_active"`
	LastUsedAt string `json:"last_used_at,omitempty"`
	ExpiresAt  string `json:"expires_at,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func newUserView(u *data.User) userView {
	return userView{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		FullName:  u.FullName,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func newAPIKeyView(k *data.APIKey) apiKeyView {
	v := apiKeyView{
		ID:        k.ID,
		Name:      k.Name,
		KeyPrefix: k.KeyPrefix,
		IsActive:  k.IsActive,
		CreatedAt: k.CreatedAt.UTC().Format(time.RFC3339),
	}
	if k.LastUsedAt != nil {
		v.LastUsedAt = k.LastUsedAt.UTC().Format(time.RFC3339)
	}
	if k.ExpiresAt != nil {
		v.ExpiresAt = k.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return v
}

// Register handles POST /auth/register.
func (s *AuthService) Register(ctx khttp.Context) error {
	var req registerRequest
	if err := ctx.Bind(&req); err != nil {
		return kratoserrors.BadRequest("INVALID_BODY", "request body is not valid JSON")
	}
	if req.Email == "" || req.Username == "" || req.Password == "" {
		return kratoserrors.BadRequest("MISSING_FIELDS", "email, username and password are required")
	}

	khttp.SetOperation(ctx, OperationAuthRegister)
	h := ctx.Middleware(func(c context.Context, in interface{}) (interface{}, error) {
		r := in.(*registerRequest)
		user, err := s.uc.Register(c, r.Email, r.Username, r.FullName, r.Password)
		if err != nil {
			return nil, err
		}
		pkglog.SetStatusCode(c, 201)
		return Success(c, "user registered", newUserView(user)), nil
	})
	out, err := h(ctx, &req)
	if err != nil {
		return err
	}
	return ctx.Result(201, out)
}

// Login handles POST /auth/login.
func (s *AuthService) Login(ctx khttp.Context) error {
	var req loginRequest
	if err := ctx.Bind(&req); err != nil {
		return kratoserrors.BadRequest("INVALID_BODY", "request body is not valid JSON")
	}

	khttp.SetOperation(ctx, OperationAuthLogin)
	h := ctx.Middleware(func(c context.Context, in interface{}) (interface{}, error) {
		r := in.(*loginRequest)
		pair, user, err := s.uc.Login(c, r.Username, r.Password)
		if err != nil {
			return nil, err
		}
		return Success(c, "login successful", map[string]any{
			"user": newUserView(user),
			"token": tokenView{
				AccessToken:  pair.AccessToken,
				RefreshToken: pair.RefreshToken,
				TokenType:    "bearer",
				ExpiresIn:    pair.ExpiresIn,
			},
		}), nil
	})
	out, err := h(ctx, &req)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// Refresh handles POST /auth/refresh.
func (s *AuthService) Refresh(ctx khttp.Context) error {
	var req refreshRequest
	if err := ctx.Bind(&req); err != nil || req.RefreshToken == "" {
		return kratoserrors.BadRequest("INVALID_BODY", "refresh_token is required")
	}

	khttp.SetOperation(ctx, OperationAuthRefresh)
	h := ctx.Middleware(func(c context.Context, in interface{}) (interface{}, error) {
		r := in.(*refreshRequest)
		pair, err := s.uc.Refresh(c, r.RefreshToken)
		if err != nil {
			return nil, err
		}
		return Success(c, "token refreshed", tokenView{
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			TokenType:    "bearer",
			ExpiresIn:    pair.ExpiresIn,
		}), nil
	})
	out, err := h(ctx, &req)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// Logout handles POST /auth/logout.
func (s *AuthService) Logout(ctx khttp.Context) error {
	var req refreshRequest
	if err := ctx.Bind(&req); err != nil || req.RefreshToken == "" {
		return kratoserrors.BadRequest("INVALID_BODY", "refresh_token is required")
	}

	khttp.SetOperation(ctx, OperationAuthLogout)
	h := ctx.Middleware(func(c context.Context, in interface{}) (interface{}, error) {
		r := in.(*refreshRequest)
		if err := s.uc.Logout(c, r.RefreshToken); err != nil {
			return nil, err
		}
		return Success(c, "logged out", nil), nil
	})
	out, err := h(ctx, &req)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// ChangePassword handles POST /auth/change-password.
func (s *AuthService) ChangePassword(ctx khttp.Context) error {
	var req changePasswordRequest
	if err := ctx.Bind(&req); err != nil {
		return kratoserrors.BadRequest("INVALID_BODY", "request body is not valid JSON")
	}

	khttp.SetOperation(ctx, OperationAuthChangePassword)
	h := ctx.Middleware(func(c context.Context, in interface{}) (interface{}, error) {
		id, ok := biz.IdentityFromContext(c)
		if !ok {
			return nil, ErrUnauthenticated
		}
		r := in.(*changePasswordRequest)
		if err := s.uc.ChangePassword(c, id.UserID, r.CurrentPassword, r.NewPassword); err != nil {
			return nil, err
		}
		return Success(c, "password changed", nil), nil
	})
	out, err := h(ctx, &req)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// Me handles GET /auth/me.
func (s *AuthService) Me(ctx khttp.Context) error {
	khttp.SetOperation(ctx, OperationAuthMe)
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		id, ok := biz.IdentityFromContext(c)
		if !ok {
			return nil, ErrUnauthenticated
		}
		user, err := s.uc.GetUser(c, id.UserID)
		if err != nil {
			return nil, err
		}
		return Success(c, "", newUserView(user)), nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// CreateAPIKey handles POST /auth/api-keys.
func (s *AuthService) CreateAPIKey(ctx khttp.Context) error {
	var req createAPIKeyRequest
	if err := ctx.Bind(&req); err != nil || req.Name == "" {
		return kratoserrors.BadRequest("INVALID_BODY", "name is required")
	}

	var expiresAt *time.Time
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			return kratoserrors.BadRequest("INVALID_EXPIRY", "expires_at must be RFC3339")
		}
		expiresAt = &t
	}

	khttp.SetOperation(ctx, OperationAuthCreateAPIKey)
	h := ctx.Middleware(func(c context.Context, in interface{}) (interface{}, error) {
		id, ok := biz.IdentityFromContext(c)
		if !ok {
			return nil, ErrUnauthenticated
		}
		r := in.(*createAPIKeyRequest)
		plaintext, key, err := s.uc.CreateAPIKey(c, id.UserID, r.Name, expiresAt)
		if err != nil {
			return nil, err
		}
		pkglog.SetStatusCode(c, 201)
		return Success(c, "api key created; store it now, it will not be shown again", map[string]any{
			"api_key": plaintext,
			"key":     newAPIKeyView(key),
		}), nil
	})
	out, err := h(ctx, &req)
	if err != nil {
		return err
	}
	return ctx.Result(201, out)
}

// ListAPIKeys handles GET /auth/api-keys.
func (s *AuthService) ListAPIKeys(ctx khttp.Context) error {
	khttp.SetOperation(ctx, OperationAuthListAPIKeys)
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		id, ok := biz.IdentityFromContext(c)
		if !ok {
			return nil, ErrUnauthenticated
		}
		keys, err := s.uc.ListAPIKeys(c, id.UserID)
		if err != nil {
			return nil, err
		}
		views := make([]apiKeyView, 0, len(keys))
		for _, k := range keys {
			views = append(views, newAPIKeyView(k))
		}
		return Success(c, "", views), nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// RevokeAPIKey handles DELETE /auth/api-keys/{id}.
func (s *AuthService) RevokeAPIKey(ctx khttp.Context) error {
	keyID, err := strconv.ParseInt(ctx.Vars().Get("id"), 10, 64)
	if err != nil {
		return kratoserrors.BadRequest("INVALID_KEY_ID", "key id must be numeric")
	}

	khttp.SetOperation(ctx, OperationAuthRevokeAPIKey)
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		id, ok := biz.IdentityFromContext(c)
		if !ok {
			return nil, ErrUnauthenticated
		}
		if err := s.uc.RevokeAPIKey(c, id.UserID, keyID); err != nil {
			return nil, err
		}
		return Success(c, "api key revoked", nil), nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}
