package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"rpg-portal/logger"
	"rpg-portal/models"
	"rpg-portal/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Principal is the authenticated identity as reported by the provider.
type Principal struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url,omitempty"`
}

// SessionClaims is the JWT payload of a portal session.
type SessionClaims struct {
	Email       string `json:"email"`
	DisplayName string `json:"name,omitempty"`
	PhotoURL    string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// Principal rebuilds the identity carried by the claims.
func (c *SessionClaims) Principal() Principal {
	return Principal{
		UID:         c.Subject,
		Email:       c.Email,
		DisplayName: c.DisplayName,
		PhotoURL:    c.PhotoURL,
	}
}

// SessionManager issues, verifies and revokes HS256 session tokens.
type SessionManager struct {
	DB     *gorm.DB
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSessionManager(db *gorm.DB, secret string, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionManager{DB: db, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a session token for p.
func (m *SessionManager) Issue(p Principal) (string, time.Time, error) {
	if p.UID == "" || p.Email == "" {
		return "", time.Time{}, fmt.Errorf("%w: principal needs uid and email", ErrValidation)
	}
	now := m.now()
	exp := now.Add(m.ttl)
	claims := SessionClaims{
		Email:       NormalizeEmail(p.Email),
		DisplayName: p.DisplayName,
		PhotoURL:    p.PhotoURL,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   p.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return signed, exp, nil
}

// Verify parses token and checks signature, expiry and revocation.
func (m *SessionManager) Verify(ctx context.Context, token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Subject == "" || claims.Email == "" {
		return nil, fmt.Errorf("%w: incomplete claims", ErrUnauthenticated)
	}

	var count int64
	if err := m.DB.WithContext(ctx).Model(&models.RevokedSession{}).
		Where("jti = ?", claims.ID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("%w: revocation lookup: %v", ErrUnavailable, err)
	}
	if count > 0 {
		return nil, ErrSessionRevoked
	}
	return claims, nil
}

// Revoke signs a session out. Revoking twice is a no-op.
func (m *SessionManager) Revoke(ctx context.Context, claims *SessionClaims) error {
	exp := m.now().Add(m.ttl)
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	row := models.RevokedSession{JTI: claims.ID, UserID: claims.Subject, ExpiresAt: exp}
	return m.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

// PruneRevoked drops revocation rows whose tokens have expired anyway.
func (m *SessionManager) PruneRevoked(ctx context.Context) (int64, error) {
	res := m.DB.WithContext(ctx).Where("expires_at < ?", m.now()).Delete(&models.RevokedSession{})
	return res.RowsAffected, res.Error
}

// GoogleIdentity runs the OAuth authorization-code flow against Google
// and turns the userinfo document into a Principal.
type GoogleIdentity struct {
	oauth   *oauth2.Config
	breaker *gobreaker.CircuitBreaker
	// UserInfoURL is overridable for tests.
	UserInfoURL string
}

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func NewGoogleIdentity(clientID, clientSecret, redirectURL string) *GoogleIdentity {
	return &GoogleIdentity{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "google-userinfo",
			MaxRequests: 3,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
					Msg("⚠️ Circuit breaker state changed")
			},
		}),
		UserInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
	}
}

// Enabled reports whether client credentials are configured.
func (g *GoogleIdentity) Enabled() bool {
	return g != nil && g.oauth.ClientID != "" && g.oauth.ClientSecret != ""
}

// AuthCodeURL is where the browser is sent to sign in.
func (g *GoogleIdentity) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades an authorization code for the signed-in Principal.
func (g *GoogleIdentity) Exchange(ctx context.Context, code string) (Principal, error) {
	if !g.Enabled() {
		return Principal{}, fmt.Errorf("%w: google sign-in is not configured", ErrUnavailable)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, utils.HTTPClient)
	tok, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: code exchange: %v", ErrUnauthenticated, err)
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.fetchUserInfo(ctx, g.oauth.Client(ctx, tok))
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Principal{}, fmt.Errorf("%w: identity provider", ErrUnavailable)
	}
	if err != nil {
		return Principal{}, err
	}

	info := out.(*googleUserInfo)
	if info.Sub == "" || info.Email == "" || !info.EmailVerified {
		return Principal{}, fmt.Errorf("%w: unverified google account", ErrUnauthenticated)
	}
	return Principal{
		UID:         info.Sub,
		Email:       NormalizeEmail(info.Email),
		DisplayName: info.Name,
		PhotoURL:    info.Picture,
	}, nil
}

func (g *GoogleIdentity) fetchUserInfo(ctx context.Context, client *http.Client) (*googleUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.UserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: userinfo request: %v", ErrUnavailable, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		logger.Warn().Int("status", resp.StatusCode).Str("body", string(body)).Msg("❌ userinfo returned non-200")
		return nil, fmt.Errorf("%w: userinfo status %d", ErrUnavailable, resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	return &info, nil
}
