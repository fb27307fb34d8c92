package biz

import (
	"context"
	"os"
	"testing"
	"time"

	"Stencil/internal/conf"
	"Stencil/internal/data"
	"Stencil/pkg/crypto"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-sql-driver/mysql"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

// fakeUserRepo is an in-memory UserRepo.
type fakeUserRepo struct {
	users   map[int64]*data.User
	tokens  map[string]*data.RefreshToken // keyed by digest
	nextID  int64
	touched map[int64]time.Time
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		users:   make(map[int64]*data.User),
		tokens:  make(map[string]*data.RefreshToken),
		nextID:  1,
		touched: make(map[int64]time.Time),
	}
}

func (r *fakeUserRepo) CreateUser(_ context.Context, user *data.User) error {
	for _, existing := range r.users {
		if existing.Email == user.Email || existing.Username == user.Username {
			return &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
		}
	}
	user.ID = r.nextID
	r.nextID++
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) GetUser(_ context.Context, id int64) (*data.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	return u, nil
}

func (r *fakeUserRepo) GetUserByUsername(_ context.Context, username string) (*data.User, error) {
	for _, u := range r.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, data.ErrNotFound
}

func (r *fakeUserRepo) GetUserByEmail(_ context.Context, email string) (*data.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, data.ErrNotFound
}

func (r *fakeUserRepo) UpdateUser(_ context.Context, user *data.User) error {
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) UpdateLastLogin(_ context.Context, userID int64, at time.Time) error {
	r.touched[userID] = at
	return nil
}

func (r *fakeUserRepo) UpdatePassword(_ context.Context, userID int64, hashedPassword string) error {
	u, ok := r.users[userID]
	if !ok {
		return data.ErrNotFound
	}
	u.HashedPassword = hashedPassword
	return nil
}

func (r *fakeUserRepo) CreateRefreshToken(_ context.Context, token *data.RefreshToken) error {
	r.tokens[token.TokenDigest] = token
	return nil
}

func (r *fakeUserRepo) GetRefreshTokenByDigest(_ context.Context, digest string) (*data.RefreshToken, error) {
	t, ok := r.tokens[digest]
	if !ok || t.RevokedAt != nil || t.ExpiresAt.Before(time.Now()) {
		return nil, data.ErrNotFound
	}
	return t, nil
}

func (r *fakeUserRepo) RevokeRefreshToken(_ context.Context, digest string) error {
	if t, ok := r.tokens[digest]; ok {
		now := time.Now()
		t.RevokedAt = &now
	}
	return nil
}

func (r *fakeUserRepo) RevokeUserRefreshTokens(_ context.Context, userID int64) error {
	now := time.Now()
	for _, t := range r.tokens {
		if t.UserID == userID {
			t.RevokedAt = &now
		}
	}
	return nil
}

// fakeAPIKeyRepo is an in-memory APIKeyRepo.
type fakeAPIKeyRepo struct {
	keys   map[int64]*data.APIKey
	nextID int64
	hits   map[int64]int
}

func newFakeAPIKeyRepo() *fakeAPIKeyRepo {
	return &fakeAPIKeyRepo{
		keys:   make(map[int64]*data.APIKey),
		nextID: 1,
		hits:   make(map[int64]int),
	}
}

func (r *fakeAPIKeyRepo) CreateAPIKey(_ context.Context, key *data.APIKey) error {
	key.ID = r.nextID
	r.nextID++
	r.keys[key.ID] = key
	return nil
}

func (r *fakeAPIKeyRepo) GetAPIKeyByDigest(_ context.Context, digest string) (*data.APIKey, error) {
	for _, k := range r.keys {
		if k.KeyDigest == digest && k.IsActive {
			if k.ExpiresAt != nil && k.ExpiresAt.Before(time.Now()) {
				continue
			}
			return k, nil
		}
	}
	return nil, data.ErrNotFound
}

func (r *fakeAPIKeyRepo) ListAPIKeys(_ context.Context, userID int64) ([]*data.APIKey, error) {
	var out []*data.APIKey
	for _, k := range r.keys {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (r *fakeAPIKeyRepo) TouchAPIKey(_ context.Context, id int64) {
	r.hits[id]++
}

func (r *fakeAPIKeyRepo) RevokeAPIKey(_ context.Context, userID, id int64) error {
	k, ok := r.keys[id]
	if !ok || k.UserID != userID || !k.IsActive {
		return data.ErrNotFound
	}
	k.IsActive = false
	return nil
}

func newTestAuthUsecase(t *testing.T) (*AuthUsecase, *fakeUserRepo, *fakeAPIKeyRepo) {
	t.Helper()

	aes, err := crypto.NewAESCrypto([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	users := newFakeUserRepo()
	apiKeys := newFakeAPIKeyRepo()

	uc, err := NewAuthUsecase(&conf.Auth{
		Jwt: &conf.Auth_JWT{
			Secret:  "test-secret",
			Expires: durationpb.New(30 * time.Minute),
		},
	}, users, apiKeys, aes, log.NewStdLogger(os.Stdout))
	require.NoError(t, err)

	return uc, users, apiKeys
}

func registerTestUser(t *testing.T, uc *AuthUsecase) *data.User {
	t.Helper()
	user, err := uc.Register(context.Background(), "user@example.com", "testuser", "Test User", "password123")
	require.NoError(t, err)
	return user
}

func TestNewAuthUsecase_RequiresJWTSecret(t *testing.T) {
	_, err := NewAuthUsecase(&conf.Auth{Jwt: &conf.Auth_JWT{}}, newFakeUserRepo(), newFakeAPIKeyRepo(), nil, log.NewStdLogger(os.Stdout))
	assert.Error(t, err)
}

func TestRegister_HashesPassword(t *testing.T) {
	uc, users, _ := newTestAuthUsecase(t)

	user := registerTestUser(t, uc)

	stored := users.users[user.ID]
	assert.NotEqual(t, "password123", stored.HashedPassword)
	assert.True(t, stored.IsActive)
}

func TestRegister_RejectsWeakPassword(t *testing.T) {
	uc, _, _ := newTestAuthUsecase(t)

	_, err := uc.Register(context.Background(), "a@b.com", "shortpw", "A", "short")
	assert.ErrorIs(t, err, ErrWeakPassword)
}

func TestRegister_DuplicateUser(t *testing.T) {
	uc, _, _ := newTestAuthUsecase(t)
	registerTestUser(t, uc)

	_, err := uc.Register(context.Background(), "user@example.com", "otheruser", "Other", "password123")
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestLogin_IssuesValidTokenPair(t *testing.T) {
	uc, users, _ := newTestAuthUsecase(t)
	registered := registerTestUser(t, uc)

	pair, user, err := uc.Login(context.Background(), "testuser", "password123")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, int64(1800), pair.ExpiresIn)

	// The access token validates back to the same identity.
	id, err := uc.ValidateToken(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, id.UserID)
	assert.Equal(t, "testuser", id.Username)
	assert.Equal(t, "jwt", id.Via)

	// Last login was recorded.
	assert.Contains(t, users.touched, registered.ID)
}

func TestLogin_WrongPassword(t *testing.T) {
	uc, _, _ := newTestAuthUsecase(t)
	registerTestUser(t, uc)

	_, _, err := uc.Login(context.Background(), "testuser", "wrongpassword")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_UnknownUser(t *testing.T) {
	uc, _, _ := newTestAuthUsecase(t)

	_, _, err := uc.Login(context.Background(), "nobody", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_InactiveUser(t *testing.T) {
	uc, users, _ := newTestAuthUsecase(t)
	user := registerTestUser(t, uc)
	users.users[user.ID].IsActive = false

	_, _, err := uc.Login(context.Background(), "testuser", "password123")
	assert.ErrorIs(t, err, ErrUserInactive)
}

func TestRefresh_RotatesToken(t *testing.T) {
	uc, _, _ := newTestAuthUsecase(t)
	registerTestUser(t, uc)

	pair, _, err := uc.Login(context.Background(), "testuser", "password123")
	require.NoError(t, err)

	newPair, err := uc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, newPair.RefreshToken)

	// The used refresh token is revoked and cannot be replayed.
	_, err = uc.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefresh_UnknownToken(t *testing.T) {
	uc, _, _ := newTestAuthUsecase(t)

	_, err := uc.Refresh(context.Background(), "not-a-real-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshToken_StoredEncryptedWithDigestIndex(t *testing.T) {
	uc, users, _ := newTestAuthUsecase(t)
	registerTestUser(t, uc)

	pair, _, err := uc.Login(context.Background(), "testuser", "password123")
	require.NoError(t, err)

	require.Len(t, users.tokens, 1)
	for digest, stored := range users.tokens {
		assert.Len(t, digest, 64)
		assert.NotEqual(t, pair.RefreshToken, stored.TokenEncrypted)
		assert.NotContains(t, stored.TokenEncrypted, pair.RefreshToken)
	}
}

func TestLogout_RevokesRefreshToken(t *testing.T) {
	uc, _, _ := newTestAuthUsecase(t)
	registerTestUser(t, uc)

	pair, _, err := uc.Login(context.Background(), "testuser", "password123")
	require.NoError(t, err)

	require.NoError(t, uc.Logout(context.Background(), pair.RefreshToken))

	_, err = uc.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestChangePassword(t *testing.T) {
	uc, _, _ := newTestAuthUsecase(t)
	user := registerTestUser(t, uc)

	pair, _, err := uc.Login(context.Background(), "testuser", "password123")
	require.NoError(t, err)

	err = uc.ChangePassword(context.Background(), user.ID, "password123", "newpassword456")
	require.NoError(t, err)

	// Old password no longer works, new one does.
	_, _, err = uc.Login(context.Background(), "testuser", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = uc.Login(context.Background(), "testuser", "newpassword456")
	assert.NoError(t, err)

	// All refresh tokens issued before the change are revoked.
	_, err = uc.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestChangePassword_WrongCurrent(t *testing.T) {
	uc, _, _ := newTestAuthUsecase(t)
	user := registerTestUser(t, uc)

	err := uc.ChangePassword(context.Background(), user.ID, "wrongcurrent", "newpassword456")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateToken_RejectsWrongSecret(t *testing.T) {
	uc, _, _ := newTestAuthUsecase(t)

	claims := &Claims{
		UserID:   1,
		Username: "testuser",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
	require.NoError(t, err)

	_, err = uc.ValidateToken(context.Background(), forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_RejectsExpired(t *testing.T) {
	uc, _, _ := newTestAuthUsecase(t)

	claims := &Claims{
		UserID:   1,
		Username: "testuser",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = uc.ValidateToken(context.Background(), expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCreateAPIKey_PlaintextReturnedOnce(t *testing.T) {
	uc, _, apiKeys := newTestAuthUsecase(t)
	user := registerTestUser(t, uc)

	plaintext, key, err := uc.CreateAPIKey(context.Background(), user.ID, "ci key", nil)
	require.NoError(t, err)

	assert.Regexp(t, "^stk_[0-9a-f]{40}$", plaintext)
	assert.Equal(t, plaintext[:12], key.KeyPrefix)
	assert.Len(t, key.KeyDigest, 64)

	// Plaintext never lands in the store.
	stored := apiKeys.keys[key.ID]
	assert.NotEqual(t, plaintext, stored.KeyDigest)
	assert.NotEqual(t, plaintext, stored.KeyPrefix)
}

func TestValidateAPIKey_ResolvesIdentityAndCaches(t *testing.T) {
	uc, _, apiKeys := newTestAuthUsecase(t)
	user := registerTestUser(t, uc)

	plaintext, key, err := uc.CreateAPIKey(context.Background(), user.ID, "ci key", nil)
	require.NoError(t, err)

	id, err := uc.ValidateAPIKey(context.Background(), plaintext)
	require.NoError(t, err)
	assert.Equal(t, user.ID, id.UserID)
	assert.Equal(t, "api_key", id.Via)
	assert.Equal(t, 1, apiKeys.hits[key.ID])

	// Second validation is served from the cache: no extra touch.
	_, err = uc.ValidateAPIKey(context.Background(), plaintext)
	require.NoError(t, err)
	assert.Equal(t, 1, apiKeys.hits[key.ID])
}

func TestValidateAPIKey_UnknownKey(t *testing.T) {
	uc, _, _ := newTestAuthUsecase(t)

	_, err := uc.ValidateAPIKey(context.Background(), "stk_0000000000000000000000000000000000000000")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestRevokeAPIKey_PurgesCache(t *testing.T) {
	uc, _, _ := newTestAuthUsecase(t)
	user := registerTestUser(t, uc)

	plaintext, key, err := uc.CreateAPIKey(context.Background(), user.ID, "ci key", nil)
	require.NoError(t, err)

	_, err = uc.ValidateAPIKey(context.Background(), plaintext)
	require.NoError(t, err)

	require.NoError(t, uc.RevokeAPIKey(context.Background(), user.ID, key.ID))

	_, err = uc.ValidateAPIKey(context.Background(), plaintext)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestRevokeAPIKey_WrongOwner(t *testing.T) {
	uc, _, _ := newTestAuthUsecase(t)
	user := registerTestUser(t, uc)

	_, key, err := uc.CreateAPIKey(context.Background(), user.ID, "ci key", nil)
	require.NoError(t, err)

	err = uc.RevokeAPIKey(context.Background(), user.ID+100, key.ID)
	assert.Error(t, err)
}

func TestValidateAPIKey_ExpiredKey(t *testing.T) {
	uc, _, _ := newTestAuthUsecase(t)
	user := registerTestUser(t, uc)

	past := time.Now().Add(-time.Hour)
	plaintext, _, err := uc.CreateAPIKey(context.Background(), user.ID, "expired", &past)
	require.NoError(t, err)

	_, err = uc.ValidateAPIKey(context.Background(), plaintext)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}
