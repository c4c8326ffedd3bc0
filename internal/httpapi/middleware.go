package httpapi

import (
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/zann-project/zann/internal/access"
	pkgcrypto "github.com/zann-project/zann/internal/crypto"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/repository"
)

// Logging logs one structured line per request, metadata only, matching the
// teacher's grpcserver.LoggingUnary idiom adapted to net/http.
func Logging(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.Info("http",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Duration("dur", time.Since(start)),
				zap.String("remote", r.RemoteAddr),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Recover converts a panic in a handler into an Internal envelope response,
// matching the teacher's grpcserver.RecoverUnary idiom. Stack traces never
// cross the response boundary; they are logged only.
func Recover(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic",
						zap.Any("reason", rec),
						zap.ByteString("stack", debug.Stack()),
						zap.String("path", r.URL.Path),
					)
					writeErr(w, errs.New(errs.KindInternal, "internal error", nil))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// MaxBody rejects request bodies exceeding maxBytes before they are parsed,
// per spec.md §5.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeErr(w, errs.New(errs.KindBodyTooLarge, "request body too large", nil))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// Authenticator resolves a bearer token into an authenticated Principal. It
// accepts either an opaque human session access token (hashed and looked up
// by SessionRepository) or a self-contained service-account JWT minted by
// AuthService.ServiceAccountLogin.
type Authenticator struct {
	sessions           repository.SessionRepository
	tokenPepper        []byte
	serviceAccountSign []byte
	trustedProxies     []*net.IPNet
}

// NewAuthenticator constructs an Authenticator. trustedProxies lists CIDR
// ranges (server.trusted_proxies) allowed to set X-Forwarded-For.
func NewAuthenticator(sessions repository.SessionRepository, tokenPepper, serviceAccountSign []byte, trustedProxies []string) *Authenticator {
	var nets []*net.IPNet
	for _, cidr := range trustedProxies {
		if _, n, err := net.ParseCIDR(cidr); err == nil {
			nets = append(nets, n)
		}
	}
	return &Authenticator{sessions: sessions, tokenPepper: tokenPepper, serviceAccountSign: serviceAccountSign, trustedProxies: nets}
}

type serviceAccountClaims struct {
	jwt.RegisteredClaims
	ServiceAccount bool `json:"sa"`
}

// Require rejects any request without a valid bearer token.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.authenticate(r)
		if err != nil {
			writeErr(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func (a *Authenticator) authenticate(r *http.Request) (access.Principal, error) {
	token, err := bearerToken(r)
	if err != nil {
		return access.Principal{}, errs.New(errs.KindUnauthenticated, "missing bearer token", err)
	}

	if claims, ok := a.parseServiceAccountJWT(token); ok {
		saID, err := parseUUIDClaim(claims.Subject)
		if err != nil {
			return access.Principal{}, errs.New(errs.KindUnauthenticated, "invalid service account subject", err)
		}
		return access.Principal{ServiceAccountID: saID, ClientIP: a.clientIP(r)}, nil
	}

	accessHash := pkgcrypto.HashToken(a.tokenPepper, []byte(token))
	sess, err := a.sessions.GetByAccessHash(r.Context(), accessHash)
	if err != nil {
		return access.Principal{}, errs.New(errs.KindUnauthenticated, "invalid session token", err)
	}
	if time.Now().After(sess.AccessExpiry) {
		return access.Principal{}, errs.New(errs.KindSessionExpired, "access token expired", errs.ErrSessionExpired)
	}
	return access.Principal{UserID: sess.UserID, ClientIP: a.clientIP(r)}, nil
}

func (a *Authenticator) parseServiceAccountJWT(token string) (*serviceAccountClaims, bool) {
	var claims serviceAccountClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errs.ErrInvalidPayload
		}
		return a.serviceAccountSign, nil
	})
	if err != nil || !parsed.Valid || !claims.ServiceAccount {
		return nil, false
	}
	return &claims, true
}

func bearerToken(r *http.Request) (string, error) {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < 7 || !strings.EqualFold(v[:7], "bearer ") {
		return "", errs.ErrUnauthorized
	}
	t := strings.TrimSpace(v[7:])
	if t == "" {
		return "", errs.ErrUnauthorized
	}
	return t, nil
}

// clientIP honors X-Forwarded-For only when RemoteAddr is itself a
// configured trusted proxy, per spec.md §6's server.trusted_proxies.
func (a *Authenticator) clientIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	remote := net.ParseIP(host)

	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" && a.isTrustedProxy(remote) {
		parts := strings.Split(fwd, ",")
		if ip := net.ParseIP(strings.TrimSpace(parts[0])); ip != nil {
			return ip
		}
	}
	return remote
}

func (a *Authenticator) isTrustedProxy(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range a.trustedProxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func parseUUIDClaim(s string) (uuid.UUID, error) {
	return uuid.FromString(s)
}
