package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	tokens := NewTokens([]byte("secret"), "bankledger")
	user := uuid.New()

	raw, err := tokens.Issue(user, time.Hour)
	require.NoError(t, err)

	p, err := tokens.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, user, p.UserID)
}

func TestVerifyRejects(t *testing.T) {
	tokens := NewTokens([]byte("secret"), "bankledger")
	user := uuid.New()

	expired, err := tokens.Issue(user, -time.Minute)
	require.NoError(t, err)

	otherIssuer, err := NewTokens([]byte("secret"), "someone-else").Issue(user, time.Hour)
	require.NoError(t, err)

	otherKey, err := NewTokens([]byte("other"), "bankledger").Issue(user, time.Hour)
	require.NoError(t, err)

	notAUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "alice", Issuer: "bankledger", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: user.String(), Issuer: "bankledger",
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject: user.String(), Issuer: "bankledger", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, raw := range map[string]string{
		"expired":      expired,
		"other issuer": otherIssuer,
		"other key":    otherKey,
		"bad subject":  notAUser,
		"no expiry":    noExpiry,
		"alg none":     unsigned,
		"garbage":      "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := tokens.Verify(raw)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestMiddleware(t *testing.T) {
	tokens := NewTokens([]byte("secret"), "bankledger")
	user := uuid.New()
	raw, err := tokens.Issue(user, time.Hour)
	require.NoError(t, err)

	var failed error
	h := tokens.Middleware(func(w http.ResponseWriter, _ *http.Request, err error) {
		failed = err
		w.WriteHeader(http.StatusUnauthorized)
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		require.True(t, ok)
		assert.Equal(t, user, p.UserID)
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NoError(t, failed)

	for _, header := range []string{"", "Bearer ", "Basic abc", "Bearer nope"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
		assert.ErrorIs(t, failed, ErrUnauthenticated)
	}
}
