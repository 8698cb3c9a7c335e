package auth

import (
	"context"
	"slices"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	v1 "github.com/psyberpunk/CoWork-OS-sub010/shared/contracts/controlplane/v1"
)

// Claims is the payload of a control plane token.
type Claims struct {
	Subject   string
	Role      string
	Scopes    []string
	DeviceID  string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenManager issues and verifies PASETO v4.public tokens.
// Built from a public key only, it verifies but cannot issue.
type TokenManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret *paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewTokenManager builds a manager from cfg. The secret key wins when both keys are set.
func NewTokenManager(cfg Config) (*TokenManager, error) {
	m := &TokenManager{
		issuer:    cfg.Issuer,
		ttl:       cfg.TokenTTL,
		clockSkew: cfg.ClockSkew,
	}

	switch {
	case cfg.SecretKeyHex != "":
		secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.SecretKeyHex)
		if err != nil {
			return nil, ErrConfig
		}
		m.secret = &secret
		m.public = secret.Public()
	case cfg.PublicKeyHex != "":
		public, err := paseto.NewV4AsymmetricPublicKeyFromHex(cfg.PublicKeyHex)
		if err != nil {
			return nil, ErrConfig
		}
		m.public = public
	default:
		return nil, ErrConfig
	}

	if m.ttl <= 0 {
		m.ttl = DefaultConfig().TokenTTL
	}
	return m, nil
}

// PublicKeyHex returns the verification key.
func (m *TokenManager) PublicKeyHex() string {
	return m.public.ExportHex()
}

// CanIssue reports whether the manager holds a signing key.
func (m *TokenManager) CanIssue() bool {
	return m.secret != nil
}

// Issue signs c. A zero ttl uses the configured token TTL.
func (m *TokenManager) Issue(c Claims, now time.Time, ttl time.Duration) (string, time.Time, error) {
	if m.secret == nil {
		return "", time.Time{}, ErrSigningDisabled
	}
	if strings.TrimSpace(c.Subject) == "" {
		return "", time.Time{}, ErrConfig
	}
	if c.Role == "" {
		c.Role = v1.RoleOperator
	}
	if ttl <= 0 {
		ttl = m.ttl
	}
	exp := now.Add(ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetSubject(c.Subject)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)

	_ = tok.Set("role", c.Role)
	_ = tok.Set("scopes", c.Scopes)
	if c.DeviceID != "" {
		_ = tok.Set("device_id", c.DeviceID)
	}

	return tok.V4Sign(*m.secret, nil), exp, nil
}

// Verify checks signature, issuer and validity window. Clock skew shifts the validation instant
// forward so a token issued by a slightly-ahead clock is accepted.
func (m *TokenManager) Verify(token string, now time.Time) (Claims, error) {
	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(paseto.NotExpired())
	p.AddRule(paseto.ValidAt(now.Add(m.clockSkew)))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	sub, err := parsed.GetSubject()
	if err != nil || sub == "" {
		return Claims{}, ErrInvalidToken
	}
	role, err := parsed.GetString("role")
	if err != nil || (role != v1.RoleOperator && role != v1.RoleNode) {
		return Claims{}, ErrInvalidToken
	}

	var scopes []string
	if err := parsed.Get("scopes", &scopes); err != nil {
		return Claims{}, ErrInvalidToken
	}
	deviceID, _ := parsed.GetString("device_id")

	iss, _ := parsed.GetIssuer()
	iat, _ := parsed.GetIssuedAt()
	exp, _ := parsed.GetExpiration()

	return Claims{
		Subject:   sub,
		Role:      role,
		Scopes:    scopes,
		DeviceID:  deviceID,
		Issuer:    iss,
		IssuedAt:  iat,
		ExpiresAt: exp,
	}, nil
}

// TokenAuthenticator authenticates requests carrying a token.
type TokenAuthenticator struct {
	tokens *TokenManager
	now    func() time.Time
}

// NewTokenAuthenticator wraps tokens. A nil clock uses time.Now.
func NewTokenAuthenticator(tokens *TokenManager, now func() time.Time) *TokenAuthenticator {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &TokenAuthenticator{tokens: tokens, now: now}
}

func (a *TokenAuthenticator) Authenticate(_ context.Context, req Request) (Grant, error) {
	if strings.TrimSpace(req.Token) == "" {
		return Grant{}, ErrNoCredentials
	}

	c, err := a.tokens.Verify(req.Token, a.now())
	if err != nil {
		return Grant{}, err
	}
	if c.Role != req.role() {
		return Grant{}, ErrRoleMismatch
	}
	if c.DeviceID != "" && c.DeviceID != req.DeviceID {
		return Grant{}, ErrDeviceMismatch
	}

	return Grant{
		Subject:   c.Subject,
		Role:      c.Role,
		Scopes:    slices.Clone(c.Scopes),
		DeviceID:  c.DeviceID,
		Method:    MethodToken,
		ExpiresAt: c.ExpiresAt,
	}, nil
}
