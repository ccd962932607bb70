package auth

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-turnos/internal/apperr"
	"ms-turnos/internal/logger"
	"ms-turnos/internal/models"
)

const secret = "test-secret"

func signToken(t *testing.T, key, subject string, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

type stubUsers map[string]*models.User

func (s stubUsers) ByID(_ context.Context, id string) (*models.User, error) {
	if u, ok := s[id]; ok {
		return u, nil
	}
	return nil, apperr.New(apperr.NotFound, apperr.ReasonUserNotFound, "user not found")
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(UserID(r.Context())))
	})
}

func TestMiddlewareAcceptsSignedToken(t *testing.T) {
	h := Middleware(&HMACVerifier{Secret: []byte(secret)}, logger.Discard())(echoUser())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, secret, "student-1", time.Hour))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "student-1", rec.Body.String())
}

func TestMiddlewareRejectsBadTokens(t *testing.T) {
	h := Middleware(&HMACVerifier{Secret: []byte(secret)}, logger.Discard())(echoUser())

	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic abc",
		"wrong key":      "Bearer " + signToken(t, "other", "student-1", time.Hour),
		"expired":        "Bearer " + signToken(t, secret, "student-1", -time.Minute),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestRejectedTokenIsLoggedAsSecurityEvent(t *testing.T) {
	var buf bytes.Buffer
	h := Middleware(&HMACVerifier{Secret: []byte(secret)}, logger.NewWithWriter("auth", &buf))(echoUser())

	req := httptest.NewRequest(http.MethodGet, "/api/turns/mine", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "other", "student-1", time.Hour))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, buf.String(), "SECURITY")
	assert.Contains(t, buf.String(), "[TOKEN_REJECTED] GET /api/turns/mine")

	buf.Reset()
	req = httptest.NewRequest(http.MethodGet, "/api/turns/mine", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, secret, "student-1", time.Hour))
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.NotContains(t, buf.String(), "SECURITY")
}

func TestRequireStaff(t *testing.T) {
	users := stubUsers{
		"admin-1":   {ID: "admin-1", Role: models.RoleAdmin},
		"student-1": {ID: "student-1", Role: models.RoleStudent},
	}
	h := RequireStaff(users)(echoUser())

	cases := map[string]int{
		"admin-1":   http.StatusOK,
		"student-1": http.StatusForbidden,
		"ghost":     http.StatusForbidden,
		"":          http.StatusUnauthorized,
	}
	for userID, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithUserID(req.Context(), userID))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, "user %q", userID)
	}
}

func TestNewVerifierNeedsConfiguration(t *testing.T) {
	_, err := NewVerifier(context.Background(), "", "")
	assert.Error(t, err)

	v, err := NewVerifier(context.Background(), "", secret)
	require.NoError(t, err)
	assert.IsType(t, &HMACVerifier{}, v)
}
