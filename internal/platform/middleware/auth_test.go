package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"captable/pkg/requestcontext"
)

var signingKey = []byte("test-signing-key")

func mintToken(t *testing.T, role string, expiresIn time.Duration) string {
	t.Helper()
	claims := ActorClaims{
		Email: "admin@example.com",
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	require.NoError(t, err)
	return token
}

func protectedEndpoint(t *testing.T) (http.Handler, *requestcontextCapture) {
	t.Helper()
	capture := &requestcontextCapture{}
	guard := RequireRole("admin", signingKey, slog.New(slog.DiscardHandler))
	return guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capture.actorID = requestcontext.ActorID(r.Context())
		capture.role = requestcontext.ActorRole(r.Context())
		w.WriteHeader(http.StatusOK)
	})), capture
}

type requestcontextCapture struct {
	actorID string
	role    string
}

func doRequest(handler http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/audit/events", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRequireRole_AdminTokenPasses(t *testing.T) {
	handler, capture := protectedEndpoint(t)

	rec := doRequest(handler, "Bearer "+mintToken(t, "admin", time.Hour))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", capture.actorID, "claims are lifted into the request context")
	assert.Equal(t, "admin", capture.role)
}

func TestRequireRole_MissingTokenUnauthorized(t *testing.T) {
	handler, _ := protectedEndpoint(t)
	rec := doRequest(handler, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole_ExpiredTokenUnauthorized(t *testing.T) {
	handler, _ := protectedEndpoint(t)
	rec := doRequest(handler, "Bearer "+mintToken(t, "admin", -time.Hour))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole_WrongRoleForbidden(t *testing.T) {
	handler, _ := protectedEndpoint(t)
	rec := doRequest(handler, "Bearer "+mintToken(t, "shareholder", time.Hour))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireRole_WrongKeyUnauthorized(t *testing.T) {
	claims := ActorClaims{Role: "admin"}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-key"))
	require.NoError(t, err)

	handler, _ := protectedEndpoint(t)
	rec := doRequest(handler, "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
