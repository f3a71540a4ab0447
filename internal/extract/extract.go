// Package extract narrows the anchor soup of a newsletter down to the few
// links that look like real articles.
//
// Two pipelines share the same tracking-resolution and dedup discipline:
// the heuristic one in this file (pure filtering plus a permalink-shape
// score) and the model-assisted one in model.go.
package extract

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/abelbrown/dailybrief/internal/logging"
	"github.com/abelbrown/dailybrief/internal/tracklink"
)

// Candidate is one anchor that survived extraction.
type Candidate struct {
	Href  string
	Text  string
	Score int
}

// Default tuning values. These came out of eyeballing real newsletters,
// not from any principled derivation - callers can override all of them.
const (
	DefaultMinArticleScore = 2
	DefaultMinTextLength   = 8
	DefaultMaxModelLinks   = 10
)

// defaultExcludeText is the display-text vocabulary of nav/footer junk.
var defaultExcludeText = []string{
	"unsubscribe",
	"subscribe",
	"privacy",
	"terms",
	"contact",
	"manage preferences",
	"forward",
	"share",
	"tweet",
	"facebook",
	"twitter",
	"linkedin",
	"instagram",
	"youtube",
	"rss",
}

// defaultExcludePathKeywords drop links by URL path shape.
var defaultExcludePathKeywords = []string{
	"/webinar/",
	"/category/",
	"/unsubscribe",
	"/subscribe",
	"/privacy",
	"/terms",
	"/contact",
}

// Rules tunes one source's extraction. The zero value gets the package
// defaults; per-source exclusion lists are merged with (not substituted
// for) the default vocabularies.
type Rules struct {
	ExcludeText         []string
	IncludeDomains      []string
	ExcludeDomains      []string
	IncludePathKeywords []string
	ExcludePathKeywords []string
	MinArticleScore     int
	MinTextLength       int
	MaxModelLinks       int

	// SkipTrackingResolution disables redirect probing; static
	// unwrapping still happens.
	SkipTrackingResolution bool

	// Debug logs each dropped candidate with the stage that dropped it.
	Debug bool
}

func (r Rules) withDefaults() Rules {
	if r.MinArticleScore == 0 {
		r.MinArticleScore = DefaultMinArticleScore
	}
	if r.MinTextLength == 0 {
		r.MinTextLength = DefaultMinTextLength
	}
	if r.MaxModelLinks == 0 {
		r.MaxModelLinks = DefaultMaxModelLinks
	}
	return r
}

// textExtractors is the display-text fallback chain: anchor text, then
// child image alt, then aria-label, then title. First non-empty wins.
var textExtractors = []func(*goquery.Selection) string{
	func(s *goquery.Selection) string { return s.Text() },
	func(s *goquery.Selection) string { return s.Find("img").AttrOr("alt", "") },
	func(s *goquery.Selection) string { return s.AttrOr("aria-label", "") },
	func(s *goquery.Selection) string { return s.AttrOr("title", "") },
}

func displayText(s *goquery.Selection) string {
	for _, ex := range textExtractors {
		if t := strings.Join(strings.Fields(ex(s)), " "); t != "" {
			return t
		}
	}
	return ""
}

// Extract runs the heuristic pipeline over one HTML document.
//
// base, when non-empty, resolves relative hrefs. Malformed HTML simply
// yields fewer (or zero) candidates; zero survivors is a valid outcome,
// not an error.
func Extract(ctx context.Context, html, base string, rules Rules, resolver *tracklink.Resolver) ([]Candidate, error) {
	rules = rules.withDefaults()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		// goquery's parser is extremely forgiving; an actual error here
		// means the input wasn't HTML at all.
		return nil, nil
	}

	var baseURL *url.URL
	if base != "" {
		baseURL, _ = url.Parse(base)
	}

	// Stage 1: collect every anchor with a resolved href and its best
	// display text.
	var cands []Candidate
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" {
			return
		}
		// Fragment-only, mailto: and tel: hrefs are dropped later by
		// prefix; resolving them against base would hide that.
		if baseURL != nil && !strings.HasPrefix(href, "#") &&
			!strings.HasPrefix(href, "mailto:") && !strings.HasPrefix(href, "tel:") {
			if ref, err := url.Parse(href); err == nil {
				href = baseURL.ResolveReference(ref).String()
			}
		}
		cands = append(cands, Candidate{Href: href, Text: displayText(s)})
	})

	// Stage 2: unwrap tracking links statically, then probe whatever is
	// still wrapped.
	for i := range cands {
		if unwrapped, ok := tracklink.Unwrap(cands[i].Href); ok {
			cands[i].Href = unwrapped
		}
	}
	if !rules.SkipTrackingResolution && resolver != nil {
		cache := tracklink.NewCache()
		hrefs := make([]string, len(cands))
		for i, c := range cands {
			hrefs[i] = c.Href
		}
		resolved := resolver.ResolveAll(ctx, hrefs, cache)
		for i := range cands {
			if dest, ok := resolved[cands[i].Href]; ok {
				cands[i].Href = dest
			}
		}
	}

	// Stage 3: scheme and display-text exclusions.
	excludeText := append(append([]string{}, defaultExcludeText...), rules.ExcludeText...)
	kept := cands[:0]
	for _, c := range cands {
		switch {
		case strings.HasPrefix(c.Href, "mailto:"), strings.HasPrefix(c.Href, "tel:"), strings.HasPrefix(c.Href, "#"):
			drop(rules, c, "scheme")
		case matchesAny(strings.ToLower(c.Text), excludeText):
			drop(rules, c, "text")
		default:
			kept = append(kept, c)
		}
	}
	cands = kept

	// Stage 4: dedup by final href, keeping the longer display text and
	// first-seen position.
	byHref := make(map[string]int, len(cands))
	deduped := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if i, seen := byHref[c.Href]; seen {
			if len(c.Text) > len(deduped[i].Text) {
				deduped[i].Text = c.Text
			}
			continue
		}
		byHref[c.Href] = len(deduped)
		deduped = append(deduped, c)
	}
	cands = deduped

	// Stages 5-6: domain and path filters.
	excludePaths := append(append([]string{}, defaultExcludePathKeywords...), rules.ExcludePathKeywords...)
	kept = cands[:0]
	for _, c := range cands {
		u, err := url.Parse(c.Href)
		if err != nil {
			drop(rules, c, "unparseable")
			continue
		}
		host := strings.ToLower(u.Hostname())
		if len(rules.IncludeDomains) > 0 && !matchesAny(host, rules.IncludeDomains) {
			drop(rules, c, "include_domains")
			continue
		}
		if matchesAny(host, rules.ExcludeDomains) {
			drop(rules, c, "exclude_domains")
			continue
		}
		if matchesAny(strings.ToLower(u.Path), excludePaths) {
			drop(rules, c, "path")
			continue
		}
		kept = append(kept, c)
	}
	cands = kept

	// Stage 7: score and threshold.
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		c.Score = ScoreLink(c.Href, c.Text, rules)
		if c.Score < rules.MinArticleScore {
			drop(rules, c, "score")
			continue
		}
		out = append(out, c)
	}

	return out, nil
}

// ScoreLink rates how much a link looks like an article permalink rather
// than a nav/footer link, without fetching it. Range is 0-4; an href
// that doesn't parse as an absolute http(s) URL scores -1 and is always
// excluded.
func ScoreLink(href, text string, rules Rules) int {
	rules = rules.withDefaults()

	u, err := url.Parse(href)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return -1
	}

	segments := make([]string, 0, 4)
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}

	score := 0
	if len(segments) >= 2 {
		score++
	}
	if len(segments) > 0 {
		last := segments[len(segments)-1]
		if len(last) >= 10 && strings.ContainsAny(last, "-_") {
			score++ // slug-shaped final segment
		}
	}
	if matchesAny(strings.ToLower(u.Path), rules.IncludePathKeywords) {
		score++
	}
	if len([]rune(text)) >= rules.MinTextLength {
		score++
	}
	return score
}

// URLKey is the dedup key for a link: the URL with its fragment stripped.
func URLKey(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	u.Fragment = ""
	return u.String()
}

func matchesAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if k == "" {
			continue
		}
		if strings.Contains(s, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func drop(rules Rules, c Candidate, stage string) {
	if rules.Debug {
		logging.Debug("dropped link candidate", "stage", stage, "href", c.Href, "text", c.Text)
	}
}
