package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dimasfr/bimbel-admin-api/internal/models"
	appErrors "github.com/dimasfr/bimbel-admin-api/pkg/errors"
)

type mockUserRepo struct {
	users      map[string]models.User
	lastLogins map[string]time.Time
	audits     []models.AuditLog
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	if m.lastLogins == nil {
		m.lastLogins = make(map[string]time.Time)
	}
	m.lastLogins[id] = at
	return nil
}

func (m *mockUserRepo) ListAuditLogs(ctx context.Context, resource, resourceID string, limit int) ([]models.AuditLog, error) {
	var out []models.AuditLog
	for _, l := range m.audits {
		if l.Resource == resource && l.ResourceID != nil && *l.ResourceID == resourceID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.audits = append(m.audits, *log)
	return nil
}

func newAuthFixture(t *testing.T, active bool) (*AuthService, *mockUserRepo) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	repo := &mockUserRepo{users: map[string]models.User{
		"u1": {ID: "u1", Email: "admin@bimbel.id", PasswordHash: string(hash), FullName: "Admin", Role: models.RoleAdmin, Active: active},
	}}
	cfg := AuthConfig{Secret: "test-secret", Expiration: time.Hour, Issuer: "bimbel-admin-api"}
	// Token validity is checked against the wall clock, so the fixture
	// clock has to issue tokens that are valid right now.
	svc := NewAuthService(repo, cfg, fixedClock{now: time.Now()}, nil, nil)
	return svc, repo
}

func TestAuthServiceLogin(t *testing.T) {
	svc, repo := newAuthFixture(t, true)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@bimbel.id", Password: "s3cret-pass", IP: "10.0.0.1", UserAgent: "test"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, "u1", resp.User.ID)
	assert.Equal(t, models.RoleAdmin, resp.User.Role)

	assert.Contains(t, repo.lastLogins, "u1")
	require.Len(t, repo.audits, 1)
	assert.Equal(t, models.AuditActionLogin, repo.audits[0].Action)
	assert.Equal(t, "10.0.0.1", repo.audits[0].IPAddress)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	svc, _ := newAuthFixture(t, true)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@bimbel.id", Password: "wrong"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginUnknownEmail(t *testing.T) {
	svc, _ := newAuthFixture(t, true)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ghost@bimbel.id", Password: "whatever"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginInactiveAccount(t *testing.T) {
	svc, _ := newAuthFixture(t, false)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@bimbel.id", Password: "s3cret-pass"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceValidateToken(t *testing.T) {
	svc, _ := newAuthFixture(t, true)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@bimbel.id", Password: "s3cret-pass"})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)
}

func TestAuthServiceValidateTokenWrongSecret(t *testing.T) {
	svc, _ := newAuthFixture(t, true)
	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@bimbel.id", Password: "s3cret-pass"})
	require.NoError(t, err)

	other := NewAuthService(&mockUserRepo{}, AuthConfig{Secret: "other-secret", Expiration: time.Hour, Issuer: "bimbel-admin-api"}, nil, nil, nil)
	_, err = other.ValidateToken(resp.AccessToken)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceMe(t *testing.T) {
	svc, _ := newAuthFixture(t, true)

	info, err := svc.Me(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "admin@bimbel.id", info.Email)

	_, err = svc.Me(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceAuditTrail(t *testing.T) {
	svc, repo := newAuthFixture(t, true)
	enrollmentID := "e1"
	repo.audits = append(repo.audits,
		models.AuditLog{Action: models.AuditActionEnrollmentCreate, Resource: "enrollment", ResourceID: &enrollmentID},
		models.AuditLog{Action: models.AuditActionEnrollmentLock, Resource: "enrollment", ResourceID: &enrollmentID},
	)

	logs, err := svc.AuditTrail(context.Background(), "enrollment", "e1", 50)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.AuditActionEnrollmentCreate, logs[0].Action)

	logs, err = svc.AuditTrail(context.Background(), "payment", "e1", 50)
	require.NoError(t, err)
	assert.Empty(t, logs)
}
