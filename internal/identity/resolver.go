package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Daily request limits by tier. The limit is fixed by the tier at admission
// time and is not configurable elsewhere.
const (
	LimitAuthenticated = 15
	LimitAnonymous     = 5
)

// ErrInvalidToken marks a presented-but-invalid bearer credential. This is a
// hard failure for the request: a bad token is never downgraded to an
// anonymous identity.
var ErrInvalidToken = errors.New("identity: invalid or expired token")

// ErrNoEvidence means the request carried nothing an identity could be
// derived from: no credential, no visitor id, no usable network origin.
var ErrNoEvidence = errors.New("identity: no identity evidence in request")

// Tier classifies a requester and determines the applicable daily limit.
type Tier string

const (
	TierAuthenticated Tier = "AUTHENTICATED"
	TierAnonymous     Tier = "ANONYMOUS"
)

// DailyLimit returns the per-UTC-day request limit for the tier.
func (t Tier) DailyLimit() int {
	if t == TierAuthenticated {
		return LimitAuthenticated
	}
	return LimitAnonymous
}

// Identity is the resolved requester. It is derived per request and used only
// to form quota keys; it is never persisted as an entity of its own.
type Identity struct {
	Key  string
	Tier Tier
}

// Evidence is the raw request metadata an identity can be derived from.
type Evidence struct {
	BearerToken string // credential with any "Bearer " prefix already stripped
	VisitorID   string // client-supplied X-Visitor-ID header
	RemoteAddr  string // network origin, last-resort fallback
}

// TokenVerifier validates a bearer credential with the identity provider and
// returns the stable subject id it belongs to.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Resolver derives exactly one Identity from request evidence by evaluating an
// ordered list of strategies; the first strategy that matches wins.
type Resolver struct {
	strategies []strategy
}

// strategy inspects the evidence and either resolves an identity or reports no
// match. An error aborts resolution entirely (no fallback to later strategies).
type strategy func(ctx context.Context, ev Evidence) (Identity, bool, error)

// NewResolver builds a Resolver with the fixed precedence order:
// verified bearer credential, then visitor id, then remote address.
func NewResolver(verifier TokenVerifier) (*Resolver, error) {
	if verifier == nil {
		return nil, errors.New("identity: token verifier must not be nil")
	}
	return &Resolver{
		strategies: []strategy{
			bearerStrategy(verifier),
			visitorStrategy,
			remoteAddrStrategy,
		},
	}, nil
}

// Resolve evaluates the strategies in order and returns the first match.
func (r *Resolver) Resolve(ctx context.Context, ev Evidence) (Identity, error) {
	for _, s := range r.strategies {
		id, ok, err := s(ctx, ev)
		if err != nil {
			return Identity{}, err
		}
		if ok {
			return id, nil
		}
	}
	return Identity{}, ErrNoEvidence
}

func bearerStrategy(verifier TokenVerifier) strategy {
	return func(ctx context.Context, ev Evidence) (Identity, bool, error) {
		token := strings.TrimSpace(ev.BearerToken)
		if token == "" {
			return Identity{}, false, nil
		}
		subject, err := verifier.Verify(ctx, token)
		if err != nil {
			// The verifier distinguishes a rejected token (ErrInvalidToken)
			// from its own infrastructure failing; a provider outage must not
			// be reported to the caller as a bad credential. Either way the
			// request aborts: a presented token is never downgraded.
			if errors.Is(err, ErrInvalidToken) {
				return Identity{}, false, err
			}
			return Identity{}, false, fmt.Errorf("identity: verify bearer token: %w", err)
		}
		return Identity{Key: subject, Tier: TierAuthenticated}, true, nil
	}
}

func visitorStrategy(_ context.Context, ev Evidence) (Identity, bool, error) {
	visitor := strings.TrimSpace(ev.VisitorID)
	if visitor == "" {
		return Identity{}, false, nil
	}
	return Identity{Key: visitor, Tier: TierAnonymous}, true, nil
}

// remoteAddrStrategy is the last resort; distinct users behind the same
// address share one quota bucket.
func remoteAddrStrategy(_ context.Context, ev Evidence) (Identity, bool, error) {
	addr := strings.TrimSpace(ev.RemoteAddr)
	if addr == "" {
		return Identity{}, false, nil
	}
	return Identity{Key: addr, Tier: TierAnonymous}, true, nil
}
