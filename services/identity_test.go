package services

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestSessionIssueAndVerify(t *testing.T) {
	m := NewSessionManager(newTestDB(t), "test-secret", time.Hour)

	token, exp, err := m.Issue(Principal{UID: "uid-1", Email: "Ana@Example.com", DisplayName: "Ana"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := m.Verify(bg, token)
	require.NoError(t, err)
	assert.Equal(t, Principal{UID: "uid-1", Email: "ana@example.com", DisplayName: "Ana"}, claims.Principal())
	assert.NotEmpty(t, claims.ID)
}

func TestSessionRejectsBadTokens(t *testing.T) {
	db := newTestDB(t)
	m := NewSessionManager(db, "test-secret", time.Hour)
	other := NewSessionManager(db, "another-secret", time.Hour)

	token, _, err := other.Issue(Principal{UID: "uid-1", Email: "a@example.com"})
	require.NoError(t, err)
	_, err = m.Verify(bg, token)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = m.Verify(bg, "not-a-jwt")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, _, err = m.Issue(Principal{Email: "a@example.com"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSessionExpires(t *testing.T) {
	m := NewSessionManager(newTestDB(t), "test-secret", time.Minute)
	issuedAt := time.Now()
	m.now = func() time.Time { return issuedAt }
	token, _, err := m.Issue(Principal{UID: "uid-1", Email: "a@example.com"})
	require.NoError(t, err)

	m.now = func() time.Time { return issuedAt.Add(2 * time.Minute) }
	_, err = m.Verify(bg, token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSessionRevokeAndPrune(t *testing.T) {
	m := NewSessionManager(newTestDB(t), "test-secret", time.Minute)
	token, _, err := m.Issue(Principal{UID: "uid-1", Email: "a@example.com"})
	require.NoError(t, err)
	claims, err := m.Verify(bg, token)
	require.NoError(t, err)

	require.NoError(t, m.Revoke(bg, claims))
	require.NoError(t, m.Revoke(bg, claims))
	_, err = m.Verify(bg, token)
	assert.ErrorIs(t, err, ErrSessionRevoked)

	n, err := m.PruneRevoked(bg)
	require.NoError(t, err)
	assert.Zero(t, n)

	later := time.Now().Add(time.Hour)
	m.now = func() time.Time { return later }
	n, err = m.PruneRevoked(bg)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestGoogleIdentityDisabledWithoutCredentials(t *testing.T) {
	g := NewGoogleIdentity("", "", "")
	assert.False(t, g.Enabled())

	_, err := g.Exchange(bg, "code")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func newFakeGoogle(t *testing.T, userinfo string) *GoogleIdentity {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-123","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(userinfo))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	g := NewGoogleIdentity("client", "secret", "http://localhost/callback")
	g.oauth.Endpoint = oauth2.Endpoint{TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams}
	g.UserInfoURL = srv.URL + "/userinfo"
	return g
}

func TestGoogleExchange(t *testing.T) {
	g := newFakeGoogle(t, `{"sub":"g-1","email":"Leo@Example.com","email_verified":true,"name":"Leo","picture":"https://p/leo.png"}`)
	p, err := g.Exchange(bg, "code")
	require.NoError(t, err)
	assert.Equal(t, Principal{UID: "g-1", Email: "leo@example.com", DisplayName: "Leo", PhotoURL: "https://p/leo.png"}, p)
	assert.Contains(t, g.AuthCodeURL("state-1"), "state=state-1")
}

func TestGoogleExchangeRejectsUnverifiedEmail(t *testing.T) {
	g := newFakeGoogle(t, `{"sub":"g-2","email":"x@example.com","email_verified":false}`)
	_, err := g.Exchange(bg, "code")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
