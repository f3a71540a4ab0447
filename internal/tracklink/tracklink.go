// Package tracklink recovers the real destination behind email-marketing
// click-tracking URLs.
//
// Unwrapping is tried statically first (the destination is usually carried
// in a query parameter); only when that fails does the resolver issue a
// manual-redirect probe and read the Location header. Probe failures are
// soft - the caller always gets a usable URL back, at worst the wrapped
// original.
package tracklink

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/abelbrown/dailybrief/internal/logging"
	"golang.org/x/time/rate"
)

// redirectorHosts are hostnames (matched by suffix) of known
// click-tracking platforms.
var redirectorHosts = []string{
	"click.convertkit-mail.com",
	"click.convertkit-mail2.com",
	"clicks.mlsend.com",
	"email.mg.substack.com",
	"link.mail.beehiiv.com",
	"links.substack.com",
	"mandrillapp.com",
	"sendgrid.net",
	"tracking.tldrnewsletter.com",
	"url.emailprotect.link",
	"list-manage.com",
	"mailchi.mp",
	"hubspotlinks.com",
}

// trackingPathSegments flag a URL as a tracker by path shape even when the
// hostname is unknown.
var trackingPathSegments = []string{
	"/ls/click",
	"/wf/click",
	"/ss/c/",
	"/track/click",
	"/e/c/",
	"/u/click",
}

// destParams are the query parameters that commonly carry the wrapped
// destination, in the order they are tried.
var destParams = []string{"url", "u", "redirect", "link", "r", "destination"}

// IsTracking reports whether href looks like a click-tracking link.
func IsTracking(href string) bool {
	u, err := url.Parse(href)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range redirectorHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	lowPath := strings.ToLower(u.Path)
	for _, seg := range trackingPathSegments {
		if strings.Contains(lowPath, seg) {
			return true
		}
	}
	return false
}

// Unwrap attempts to statically recover the destination of a tracking
// link. It returns the input unchanged with false when href is not a
// tracking link or carries no decodable destination. No network I/O.
func Unwrap(href string) (string, bool) {
	if !IsTracking(href) {
		return href, false
	}

	u, err := url.Parse(href)
	if err != nil {
		return href, false
	}

	q := u.Query()
	for _, param := range destParams {
		raw := q.Get(param)
		if raw == "" {
			continue
		}
		// Values are often double-encoded; QueryUnescape is a no-op on
		// already-plain URLs.
		if dec, err := url.QueryUnescape(raw); err == nil {
			raw = dec
		}
		if isAbsoluteHTTP(raw) {
			return raw, true
		}
	}

	return href, false
}

func isAbsoluteHTTP(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Cache memoizes redirect resolutions for one document. Failures are
// cached too (as the original href) so a flaky tracker costs one probe.
// A Cache must not be shared across documents or runs.
type Cache struct {
	mu sync.Mutex
	m  map[string]string
}

// NewCache creates an empty per-document cache.
func NewCache() *Cache {
	return &Cache{m: make(map[string]string)}
}

func (c *Cache) get(href string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[href]
	return v, ok
}

func (c *Cache) put(href, resolved string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[href] = resolved
}

// Resolver probes tracking links that could not be unwrapped statically.
type Resolver struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewResolver creates a resolver with the given probe timeout. Probes
// never follow redirects - the Location header is all we want.
func NewResolver(timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Resolver{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		// Be polite to tracking endpoints: a burst per document is fine,
		// sustained hammering is not.
		limiter: rate.NewLimiter(rate.Limit(10), 10),
	}
}

// Resolve returns the destination behind a tracking href, consulting and
// filling cache. Any failure (network error, timeout, missing Location)
// returns the original href unchanged; it never returns an error.
func (r *Resolver) Resolve(ctx context.Context, href string, cache *Cache) string {
	if cache != nil {
		if resolved, ok := cache.get(href); ok {
			return resolved
		}
	}

	resolved := r.probe(ctx, href)
	if cache != nil {
		cache.put(href, resolved)
	}
	return resolved
}

func (r *Resolver) probe(ctx context.Context, href string) string {
	if err := r.limiter.Wait(ctx); err != nil {
		return href
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return href
	}

	resp, err := r.client.Do(req)
	if err != nil {
		logging.Debug("redirect probe failed", "url", href, "error", err)
		return href
	}
	defer resp.Body.Close()

	loc := resp.Header.Get("Location")
	if loc == "" {
		logging.Debug("redirect probe returned no Location", "url", href, "status", resp.StatusCode)
		return href
	}

	// Relative Location headers resolve against the probe origin.
	base, err := url.Parse(href)
	if err != nil {
		return href
	}
	target, err := url.Parse(loc)
	if err != nil {
		return href
	}
	return base.ResolveReference(target).String()
}

// ResolveAll resolves every tracking href in hrefs concurrently, memoized
// through cache so duplicate links in one document cost a single probe.
// The returned map covers only the hrefs that were actually tracking
// links; others are absent.
func (r *Resolver) ResolveAll(ctx context.Context, hrefs []string, cache *Cache) map[string]string {
	if cache == nil {
		cache = NewCache()
	}

	// Deduplicate first so the fan-out is one goroutine per unique href.
	unique := make(map[string]struct{}, len(hrefs))
	for _, h := range hrefs {
		if IsTracking(h) {
			unique[h] = struct{}{}
		}
	}

	var wg sync.WaitGroup
	for h := range unique {
		wg.Add(1)
		go func(href string) {
			defer wg.Done()
			r.Resolve(ctx, href, cache)
		}(h)
	}
	wg.Wait()

	out := make(map[string]string, len(unique))
	for h := range unique {
		if resolved, ok := cache.get(h); ok {
			out[h] = resolved
		}
	}
	return out
}
