package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/payflow/internal/common"
)

// claimRules are the contextual checks applied after signature verification.
type claimRules struct {
	issuer    string
	audience  string
	clockSkew time.Duration
}

func (r claimRules) validate(tok jwt.Token, now time.Time) error {
	options := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
	}
	if r.clockSkew > 0 {
		options = append(options, jwt.WithAcceptableSkew(r.clockSkew))
	}
	if r.issuer != "" {
		options = append(options, jwt.WithIssuer(r.issuer))
	}
	if r.audience != "" {
		options = append(options, jwt.WithAudience(r.audience))
	}
	return jwt.Validate(tok, options...)
}

// Verifier checks bearer tokens issued by the identity service and
// extracts the payer identifier from the subject claim.
type Verifier struct {
	secret    []byte
	algorithm jwa.SignatureAlgorithm
	rules     claimRules
	now       func() time.Time
}

// NewVerifier constructs a Verifier for HS256 tokens signed with secret.
func NewVerifier(secret string, issuer, audience string, skew time.Duration) (*Verifier, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, errors.New("auth: secret must not be empty")
	}
	return &Verifier{
		secret:    []byte(trimmed),
		algorithm: jwa.HS256,
		rules: claimRules{
			issuer:    issuer,
			audience:  audience,
			clockSkew: skew,
		},
		now: time.Now,
	}, nil
}

// VerifyToken parses and validates an access token, returning the subject.
func (v *Verifier) VerifyToken(token string) (string, error) {
	if v == nil {
		return "", common.NewAppError(common.CodeUnauthorized, "verifier not configured", http.StatusUnauthorized, nil)
	}
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return "", common.NewAppError(common.CodeUnauthorized, "missing token", http.StatusUnauthorized, nil)
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return "", common.NewAppError(common.CodeUnauthorized, "invalid token", http.StatusUnauthorized, err)
	}
	// the algorithm is pinned before any key material is used, so a token
	// cannot downgrade the verification scheme
	if algorithm != v.algorithm {
		return "", common.NewAppError(common.CodeUnauthorized, "invalid token", http.StatusUnauthorized, fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, v.secret))
	if err != nil {
		return "", common.NewAppError(common.CodeUnauthorized, "invalid token", http.StatusUnauthorized, err)
	}
	if err := v.rules.validate(parsed, v.now()); err != nil {
		return "", common.NewAppError(common.CodeUnauthorized, "invalid token", http.StatusUnauthorized, err)
	}
	subject := parsed.Subject()
	if subject == "" {
		return "", common.NewAppError(common.CodeUnauthorized, "token missing subject", http.StatusUnauthorized, nil)
	}
	return subject, nil
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) == 0 {
		return "", errors.New("auth: token contains no signatures")
	}
	var algorithm jwa.SignatureAlgorithm
	for _, sig := range signatures {
		headers := sig.ProtectedHeaders()
		if headers == nil {
			return "", errors.New("auth: token missing protected headers")
		}
		alg := headers.Algorithm()
		if alg == "" {
			return "", errors.New("auth: token missing algorithm")
		}
		if algorithm != "" && algorithm != alg {
			return "", errors.New("auth: token signatures disagree on algorithm")
		}
		algorithm = alg
	}
	return algorithm, nil
}
