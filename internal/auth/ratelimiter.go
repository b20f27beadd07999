package auth

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TenantRateLimiter enforces a token bucket per tenant -- an authenticated
// account, or the originating IP when no account is attached to the
// request -- over the client-facing REST surface.
type TenantRateLimiter struct {
	mu             sync.RWMutex
	limiters       map[string]*rate.Limiter
	lastAccess     map[string]time.Time
	defaultRate    rate.Limit
	defaultBurst   int
	cleanupTTL     time.Duration
	trustedProxies []*net.IPNet
}

// TenantRateLimiterConfig configures a TenantRateLimiter.
type TenantRateLimiterConfig struct {
	DefaultRPM        int           // requests per minute per tenant
	DefaultBurst      int           // token bucket burst size
	CleanupTTL        time.Duration // evict a tenant's limiter after this much idle time
	TrustedProxyCIDRs []string      // proxies allowed to set X-Forwarded-For/X-Real-IP
}

// NewTenantRateLimiter constructs a TenantRateLimiter and starts its
// background eviction loop. The loop runs for the process lifetime; there
// is no Stop, matching the broker's other long-lived singletons.
func NewTenantRateLimiter(cfg TenantRateLimiterConfig) *TenantRateLimiter {
	if cfg.DefaultRPM <= 0 {
		cfg.DefaultRPM = 600
	}
	if cfg.DefaultBurst <= 0 {
		cfg.DefaultBurst = 20
	}
	if cfg.CleanupTTL <= 0 {
		cfg.CleanupTTL = 10 * time.Minute
	}

	trl := &TenantRateLimiter{
		limiters:       make(map[string]*rate.Limiter),
		lastAccess:     make(map[string]time.Time),
		defaultRate:    rate.Limit(float64(cfg.DefaultRPM) / 60.0),
		defaultBurst:   cfg.DefaultBurst,
		cleanupTTL:     cfg.CleanupTTL,
		trustedProxies: parseTrustedProxyCIDRs(cfg.TrustedProxyCIDRs),
	}
	go trl.cleanupLoop()
	return trl
}

// Allow reports whether a request for tenantID may proceed, consuming a
// token from its bucket if so.
func (trl *TenantRateLimiter) Allow(tenantID string) bool {
	return trl.limiterFor(tenantID).Allow()
}

func (trl *TenantRateLimiter) limiterFor(tenantID string) *rate.Limiter {
	trl.mu.RLock()
	lim, ok := trl.limiters[tenantID]
	trl.mu.RUnlock()
	if ok {
		trl.mu.Lock()
		trl.lastAccess[tenantID] = time.Now()
		trl.mu.Unlock()
		return lim
	}

	trl.mu.Lock()
	defer trl.mu.Unlock()
	if lim, ok = trl.limiters[tenantID]; ok {
		trl.lastAccess[tenantID] = time.Now()
		return lim
	}
	lim = rate.NewLimiter(trl.defaultRate, trl.defaultBurst)
	trl.limiters[tenantID] = lim
	trl.lastAccess[tenantID] = time.Now()
	return lim
}

// cleanupLoop evicts limiters for tenants that have gone quiet, so a
// broker fielding traffic from many distinct accounts or anonymous IPs
// does not grow its limiter map without bound.
func (trl *TenantRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(trl.cleanupTTL / 2)
	defer ticker.Stop()
	for range ticker.C {
		trl.cleanup()
	}
}

func (trl *TenantRateLimiter) cleanup() {
	trl.mu.Lock()
	defer trl.mu.Unlock()
	now := time.Now()
	for tenantID, last := range trl.lastAccess {
		if now.Sub(last) > trl.cleanupTTL {
			delete(trl.limiters, tenantID)
			delete(trl.lastAccess, tenantID)
		}
	}
}

// RateLimitMiddleware enforces the per-tenant token bucket over an HTTP
// handler chain. It keys on the authenticated account id, falling back to
// the client's IP (resolved through trusted proxy headers) for requests
// with no attached AuthContext.
func (trl *TenantRateLimiter) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := trl.AnonymousKey(r)
		if authCtx := GetAuthContext(r.Context()); authCtx != nil && authCtx.Account != nil {
			tenantID = authCtx.Account.ID
		}
		if !trl.Allow(tenantID) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limit exceeded","type":"rate_limit_error"}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AnonymousKey derives the rate-limit key for a request with no
// authenticated account, honoring X-Forwarded-For/X-Real-IP only when the
// immediate peer is a configured trusted proxy.
func (trl *TenantRateLimiter) AnonymousKey(r *http.Request) string {
	return anonymousRateLimitKey(r, trl.trustedProxies)
}

func anonymousRateLimitKey(r *http.Request, trustedProxies []*net.IPNet) string {
	if r == nil {
		return ""
	}
	remoteHost := remoteAddrHost(r.RemoteAddr)
	if remoteHost == "" {
		return ""
	}
	if len(trustedProxies) == 0 {
		return remoteHost
	}
	remoteIP := parseIP(remoteHost)
	if remoteIP == nil || !ipInNets(remoteIP, trustedProxies) {
		return remoteHost
	}
	if ip := forwardedClientIP(r.Header.Get("Forwarded"), trustedProxies); ip != "" {
		return ip
	}
	if ip := xForwardedForClientIP(r.Header.Get("X-Forwarded-For"), trustedProxies); ip != "" {
		return ip
	}
	if ip := headerClientIP(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return remoteHost
}

func remoteAddrHost(addr string) string {
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	return addr
}

func forwardedClientIP(header string, trustedProxies []*net.IPNet) string {
	return selectClientIP(parseForwardedFor(header), trustedProxies)
}

func xForwardedForClientIP(header string, trustedProxies []*net.IPNet) string {
	return selectClientIP(parseXForwardedFor(header), trustedProxies)
}

func headerClientIP(value string) string {
	ip := parseIP(value)
	if ip == nil {
		return ""
	}
	return ip.String()
}

func selectClientIP(ips []net.IP, trustedProxies []*net.IPNet) string {
	if len(ips) == 0 {
		return ""
	}
	for i := len(ips) - 1; i >= 0; i-- {
		ip := normalizeIP(ips[i])
		if ip == nil {
			continue
		}
		if !ipInNets(ip, trustedProxies) {
			return ip.String()
		}
	}
	for _, ip := range ips {
		if ip = normalizeIP(ip); ip != nil {
			return ip.String()
		}
	}
	return ""
}

func parseForwardedFor(header string) []net.IP {
	if header == "" {
		return nil
	}
	var ips []net.IP
	for _, part := range strings.Split(header, ",") {
		for _, param := range strings.Split(part, ";") {
			param = strings.TrimSpace(param)
			if len(param) < 4 || !strings.EqualFold(param[:4], "for=") {
				continue
			}
			if ip := parseForwardedForValue(strings.TrimSpace(param[4:])); ip != nil {
				ips = append(ips, ip)
			}
		}
	}
	return ips
}

func parseXForwardedFor(header string) []net.IP {
	if header == "" {
		return nil
	}
	var ips []net.IP
	for _, part := range strings.Split(header, ",") {
		if ip := parseIP(part); ip != nil {
			ips = append(ips, ip)
		}
	}
	return ips
}

func parseForwardedForValue(value string) net.IP {
	value = strings.Trim(strings.TrimSpace(value), "\"")
	if value == "" || strings.EqualFold(value, "unknown") {
		return nil
	}
	if strings.HasPrefix(value, "[") {
		if idx := strings.Index(value, "]"); idx != -1 {
			return parseIP(value[1:idx])
		}
	}
	if host, _, err := net.SplitHostPort(value); err == nil {
		return parseIP(host)
	}
	return parseIP(value)
}

func parseIP(value string) net.IP {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if idx := strings.IndexByte(value, '%'); idx != -1 {
		value = value[:idx]
	}
	return normalizeIP(net.ParseIP(value))
}

func normalizeIP(ip net.IP) net.IP {
	if ip == nil {
		return nil
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ip4
	}
	return ip
}

func ipInNets(ip net.IP, nets []*net.IPNet) bool {
	if ip == nil {
		return false
	}
	for _, n := range nets {
		if n != nil && n.Contains(ip) {
			return true
		}
	}
	return false
}

func parseTrustedProxyCIDRs(values []string) []*net.IPNet {
	trusted := make([]*net.IPNet, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if strings.Contains(value, "/") {
			if _, ipNet, err := net.ParseCIDR(value); err == nil {
				trusted = append(trusted, ipNet)
			}
			continue
		}
		ip := normalizeIP(net.ParseIP(value))
		if ip == nil {
			continue
		}
		maskBits := 128
		if ip.To4() != nil {
			maskBits = 32
		}
		trusted = append(trusted, &net.IPNet{IP: ip, Mask: net.CIDRMask(maskBits, maskBits)})
	}
	return trusted
}
