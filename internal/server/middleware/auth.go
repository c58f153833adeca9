package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketengine/internal/crypto"
)

// Request headers carrying a signed principal.
const (
	HeaderPrincipal = "X-Principal"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

type principalKey struct{}

// WithPrincipal returns ctx carrying the authenticated principal.
func WithPrincipal(ctx context.Context, p common.Address) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// Principal returns the authenticated principal, if any.
func Principal(ctx context.Context) (common.Address, bool) {
	p, ok := ctx.Value(principalKey{}).(common.Address)
	return p, ok
}

// AuthConfig configures Auth.
type AuthConfig struct {
	// APIKey admits Bearer callers as Operator. Empty disables the key.
	APIKey   string
	Operator common.Address
	// MaxSkew bounds how far X-Timestamp may be from now.
	MaxSkew time.Duration
	Now     func() time.Time
}

// Auth resolves the caller's principal. A request may present a static API
// key (Authorization: Bearer) or an EIP-191 signature over
// "METHOD path unix-timestamp". Requests with no credentials pass through
// anonymously; handlers that mutate state reject them. Bad credentials are
// rejected here.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = 5 * time.Minute
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := bearerToken(r); token != "" {
				if cfg.APIKey == "" || subtle.ConstantTimeCompare([]byte(token), []byte(cfg.APIKey)) != 1 {
					writeUnauthorized(w, "invalid authentication token")
					return
				}
				notePrincipal(w, cfg.Operator.Hex())
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), cfg.Operator)))
				return
			}

			claimed := strings.TrimSpace(r.Header.Get(HeaderPrincipal))
			if claimed == "" {
				next.ServeHTTP(w, r)
				return
			}
			p, err := verifySignature(r, claimed, cfg)
			if err != "" {
				writeUnauthorized(w, err)
				return
			}
			notePrincipal(w, p.Hex())
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func verifySignature(r *http.Request, claimed string, cfg AuthConfig) (common.Address, string) {
	if !common.IsHexAddress(claimed) {
		return common.Address{}, "malformed principal"
	}
	unix, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return common.Address{}, "missing or malformed timestamp"
	}
	ts := time.Unix(unix, 0)
	if skew := cfg.Now().Sub(ts); skew > cfg.MaxSkew || skew < -cfg.MaxSkew {
		return common.Address{}, "timestamp outside allowed window"
	}
	p := common.HexToAddress(claimed)
	msg := crypto.RequestMessage(r.Method, r.URL.Path, ts)
	if crypto.Verify(p, msg, r.Header.Get(HeaderSignature)) != nil {
		return common.Address{}, "invalid signature"
	}
	return p, ""
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
