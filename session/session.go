/*
	Package session resolves OMERO.web session keys into backend credentials.  Session
	documents may live in redis or postgres, as written by OMERO.web, or be carried in a
	signed JWT.  A static resolver serves development setups and tests.
*/
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"
)

// DefaultCookie is the name of the OMERO.web session cookie.
const DefaultCookie = "sessionid"

// ErrInvalidSession is returned for missing, expired or unknown session keys.
var ErrInvalidSession = errors.New("invalid session")

// Resolver maps an opaque session key onto a backend credential.
type Resolver interface {
	// Resolve returns a lease on the credential for the key.  Unknown or expired keys
	// fail with KindUnauthorized, unreachable backends with KindStoreError.
	Resolve(ctx context.Context, key string) (*Lease, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Config holds the [session] section of the server configuration.
type Config struct {
	// Type is one of "redis", "postgres", "jwt" or "static".
	Type string

	// URI of the redis or postgres session store.
	URI string

	// Cookie names the session cookie.  Defaults to "sessionid".
	Cookie string

	// KeyPrefix is prepended to session keys in redis.
	KeyPrefix string `toml:"key_prefix"`

	// Secret is the HMAC key for jwt sessions.
	Secret string

	// Static maps session keys to credentials for the static resolver.
	Static map[string]StaticSession
}

// New returns the resolver selected by the configuration.
func New(ctx context.Context, c Config) (Resolver, error) {
	switch c.Type {
	case "redis":
		return NewRedisResolver(c.URI, c.KeyPrefix)
	case "postgres":
		return NewPostgresResolver(ctx, c.URI)
	case "jwt":
		return NewJWTResolver(c.Secret)
	case "static":
		return NewStaticResolver(c.Static), nil
	case "":
		return nil, fmt.Errorf("no session store type configured")
	default:
		return nil, fmt.Errorf("unknown session store type %q", c.Type)
	}
}

// KeyFromRequest returns the session key presented by the request: the session cookie
// if present, otherwise an Authorization bearer token.
func KeyFromRequest(r *http.Request, cookie string) string {
	if cookie == "" {
		cookie = DefaultCookie
	}
	if c, err := r.Cookie(cookie); err == nil && c.Value != "" {
		return c.Value
	}
	const scheme = "bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(scheme) && strings.EqualFold(auth[:len(scheme)], scheme) {
		return strings.TrimSpace(auth[len(scheme):])
	}
	return ""
}

// Lease holds one request's credential.  Release must be called once the request's job
// has finished; further calls are no-ops.
type Lease struct {
	cred    pixbuf.Credential
	once    sync.Once
	release func()
}

// NewLease returns a lease on cred that calls release, if not nil, when released.
func NewLease(cred pixbuf.Credential, release func()) *Lease {
	return &Lease{cred: cred, release: release}
}

// Credential returns a copy of the leased credential.
func (l *Lease) Credential() pixbuf.Credential {
	return l.cred.Clone()
}

func (l *Lease) Release() {
	l.once.Do(func() {
		if l.release != nil {
			l.release()
		}
	})
}

// leases counts outstanding leases handed out by a resolver.
type leases struct {
	n int64
}

func (ls *leases) lease(cred pixbuf.Credential) *Lease {
	atomic.AddInt64(&ls.n, 1)
	return NewLease(cred, func() { atomic.AddInt64(&ls.n, -1) })
}

// Outstanding returns the number of leases not yet released.
func (ls *leases) Outstanding() int64 {
	return atomic.LoadInt64(&ls.n)
}

func invalid(format string, args ...interface{}) error {
	return pixbuf.WrapError(pixbuf.KindUnauthorized, "session", fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidSession}, args...)...))
}

func unavailable(err error) error {
	return pixbuf.WrapError(pixbuf.KindStoreError, "session", err)
}
