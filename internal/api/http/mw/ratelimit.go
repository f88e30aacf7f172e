package mw

import (
	"context"
	"divvi/internal/config"
	"divvi/internal/security"
	rds "divvi/internal/stores/redis"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

// Two independent token buckets: per client IP and per JWT subject. A
// request must pass both
type RateLimitMiddleware struct {
	Cfg      *config.RateLimitConfig
	Rdb      *rds.Client
	Verifier *security.RS256Verifier // not necessarily
}

func NewRateLimit(cfg *config.RateLimitConfig, rdb *rds.Client, verifier *security.RS256Verifier) *RateLimitMiddleware {
	if cfg == nil {
		panic("rate limit config cannot be nil")
	}
	if rdb == nil {
		panic("redis client cannot be nil")
	}

	// sane defaults
	if cfg.ByJWT.TTL == 0 {
		cfg.ByJWT.TTL = 2 * time.Minute
	}
	if cfg.ByIP.TTL == 0 {
		cfg.ByIP.TTL = 2 * time.Minute
	}

	return &RateLimitMiddleware{Cfg: cfg, Rdb: rdb, Verifier: verifier}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		now := time.Now()

		// by ip
		ip := extractClientIP(r, m.Cfg.TrustedProxiesList)
		okIP, leftIP := m.allow(ctx, "rl:ip:"+ip, now, m.Cfg.ByIP)
		w.Header().Set("X-RateLimit-Limit-IP", strconv.Itoa(m.Cfg.ByIP.Burst))
		w.Header().Set("X-RateLimit-Remaining-IP", strconv.Itoa(int(leftIP)))

		// by JWT if exists/valid
		okJWT := true

		sub := subjectFromContext(r)
		if sub == "" && m.Verifier != nil {
			// try to parse ourselves
			if cl, err := m.Verifier.VerifyBearer(r.Header.Get("Authorization")); err == nil {
				if rc, ok := cl.(*jwt.RegisteredClaims); ok && rc.Subject != "" {
					sub = rc.Subject
				}
			}
		}
		if sub != "" {
			var leftJWT float64
			okJWT, leftJWT = m.allow(ctx, "rl:jwt:"+sub, now, m.Cfg.ByJWT)
			w.Header().Set("X-RateLimit-Limit-JWT", strconv.Itoa(m.Cfg.ByJWT.Burst))
			w.Header().Set("X-RateLimit-Remaining-JWT", strconv.Itoa(int(leftJWT)))
		}

		if !(okIP && okJWT) {
			w.Header().Set("Retry-After", strconv.Itoa(m.calculateRetryAfter(okIP, okJWT)))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Seconds until the slowest exceeded bucket refills one token, at least 1
func (m *RateLimitMiddleware) calculateRetryAfter(okIP, okJWT bool) int {
	retry := 1
	if !okIP && m.Cfg.ByIP.RefillPerSec > 0 {
		if s := int(math.Ceil(1 / float64(m.Cfg.ByIP.RefillPerSec))); s > retry {
			retry = s
		}
	}
	if !okJWT && m.Cfg.ByJWT.RefillPerSec > 0 {
		if s := int(math.Ceil(1 / float64(m.Cfg.ByJWT.RefillPerSec))); s > retry {
			retry = s
		}
	}
	return retry
}

func subjectFromContext(r *http.Request) string {
	if v := r.Context().Value(claimsCtxKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}

	return ""
}

// --- redis token-bucket (Lua) for atomic and one query ---
var luaTokenBucket = redis.NewScript(`
-- KEYS[1] = key
-- ARGV[1] = now_ms
-- ARGV[2] = refill_per_sec (integer)
-- ARGV[3] = burst (integer)
-- ARGV[4] = ttl_seconds
local key   = KEYS[1]
local now   = tonumber(ARGV[1])
local rate  = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local ttl   = tonumber(ARGV[4])

-- read state
local last_ms = tonumber(redis.call('HGET', key, 'ts') or now)
local tokens  = tonumber(redis.call('HGET', key, 'tok') or burst)

-- replenish
if now > last_ms then
  local delta = (now - last_ms) / 1000.0
  tokens = math.min(burst, tokens + (delta * rate))
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', key, 'tok', tokens, 'ts', now)
redis.call('EXPIRE', key, ttl)

return {allowed, tokens}
`)

func (m *RateLimitMiddleware) allow(ctx context.Context, key string, now time.Time, b config.RateBucket) (bool, float64) {
	ttl := int(b.TTL.Seconds())
	if ttl <= 0 {
		ttl = 120
	}

	res, err := luaTokenBucket.Run(ctx, m.Rdb, []string{key},
		now.UnixMilli(),
		b.RefillPerSec,
		b.Burst,
		ttl,
	).Result()
	if err != nil { // if failure then don't crash
		return true, 0
	}

	arr := res.([]any)
	if len(arr) == 0 {
		return false, 0
	}

	allowed := arr[0].(int64) == 1

	// redis replies with integers for Lua numbers
	var tokenLeft float64
	switch v := arr[1].(type) {
	case int64:
		tokenLeft = float64(v)
	case float64:
		tokenLeft = v
	}

	return allowed, tokenLeft
}

// extractClientIP walks the forwarding chain: trusted proxy hops are
// stripped from the right of X-Forwarded-For, then the leftmost remaining
// entry is the client. Falls back to X-Real-IP, then RemoteAddr
func extractClientIP(r *http.Request, trustedProxies []string) string {
	chain := parseXFF(r.Header.Get("X-Forwarded-For"))
	for len(chain) > 0 && isTrusted(chain[len(chain)-1], trustedProxies) {
		chain = chain[:len(chain)-1]
	}
	if len(chain) > 0 {
		return chain[0]
	}

	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" && net.ParseIP(rip) != nil {
		return rip
	}

	return remoteAddrIP(r.RemoteAddr)
}

// isTrusted matches ip against exact addresses or CIDR ranges
func isTrusted(ip string, trusted []string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}

	for _, t := range trusted {
		if strings.Contains(t, "/") {
			if _, cidr, err := net.ParseCIDR(t); err == nil && cidr.Contains(parsed) {
				return true
			}
			continue
		}
		if t == ip {
			return true
		}
	}
	return false
}

// isPublicIP reports whether ip is routable on the public internet
func isPublicIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return !(parsed.IsPrivate() ||
		parsed.IsLoopback() ||
		parsed.IsLinkLocalUnicast() ||
		parsed.IsLinkLocalMulticast() ||
		parsed.IsUnspecified())
}

// parseXFF returns the valid IPs from an X-Forwarded-For value in order
func parseXFF(xff string) []string {
	out := []string{}
	for _, part := range strings.Split(xff, ",") {
		ip := strings.TrimSpace(part)
		if ip == "" || net.ParseIP(ip) == nil {
			continue
		}
		out = append(out, ip)
	}
	return out
}

func remoteAddrIP(remoteAddr string) string {
	addr := strings.TrimSpace(remoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if net.ParseIP(addr) == nil {
		return "unknown"
	}
	return addr
}
