package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/abelbrown/dailybrief/internal/brain"
	"github.com/abelbrown/dailybrief/internal/logging"
	"github.com/abelbrown/dailybrief/internal/tracklink"
)

// ModelLink is one article link the model picked out of a newsletter.
type ModelLink struct {
	Link  string `json:"link"`
	Title string `json:"title,omitempty"`
}

const extractSystemPrompt = `You identify the actual article links inside email newsletters.
Ignore navigation, social media, sponsor, unsubscribe and legal links.
Respond with only a JSON array of objects, each with "link" (required)
and "title" (optional). No prose, no markdown.`

const strictRetryPrompt = `Your previous reply was not valid JSON.
Respond with ONLY a valid JSON array of {"link","title"} objects.
No explanation, no code fences, nothing before or after the array.`

// ExtractWithModel asks a language model to pick the article links out of
// a newsletter. The HTML is flattened to text with link targets inline so
// the model sees resolved URLs; the reply is parsed permissively with one
// strict retry, then normalized through the same tracking and dedup
// discipline as the heuristic path.
//
// Failures (provider error, unusable output after the retry) surface as
// errors; the caller decides to skip just this message.
func ExtractWithModel(ctx context.Context, subject, html string, rules Rules, provider brain.Provider, resolver *tracklink.Resolver) ([]ModelLink, error) {
	rules = rules.withDefaults()

	if provider == nil {
		return nil, fmt.Errorf("no model provider available")
	}

	text := HTMLToText(html)
	if text == "" {
		return nil, fmt.Errorf("newsletter body flattened to empty text")
	}

	prompt := buildPrompt(subject, text, rules)

	resp, err := provider.Generate(ctx, brain.Request{
		SystemPrompt: extractSystemPrompt,
		UserPrompt:   prompt,
		JSONMode:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("model call failed: %w", err)
	}

	links := parseModelLinks(resp.Content)
	if len(links) == 0 && strings.TrimSpace(resp.Content) != "" {
		// One retry with a stricter instruction, then give up.
		logging.Warn("model output unparseable, retrying", "provider", provider.Name())
		resp, err = provider.Generate(ctx, brain.Request{
			SystemPrompt: strictRetryPrompt,
			UserPrompt:   prompt,
			JSONMode:     true,
		})
		if err != nil {
			return nil, fmt.Errorf("model retry failed: %w", err)
		}
		links = parseModelLinks(resp.Content)
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("model returned no usable links")
	}

	return normalizeModelLinks(ctx, links, rules, resolver), nil
}

func buildPrompt(subject, text string, rules Rules) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Newsletter subject: %s\n", subject)
	if len(rules.IncludeDomains) > 0 {
		fmt.Fprintf(&b, "Only include links whose domain contains one of: %s\n", strings.Join(rules.IncludeDomains, ", "))
	}
	if len(rules.ExcludeDomains) > 0 {
		fmt.Fprintf(&b, "Never include links whose domain contains: %s\n", strings.Join(rules.ExcludeDomains, ", "))
	}
	if len(rules.ExcludePathKeywords) > 0 {
		fmt.Fprintf(&b, "Never include links whose path contains: %s\n", strings.Join(rules.ExcludePathKeywords, ", "))
	}
	fmt.Fprintf(&b, "Return at most %d links.\n\nNewsletter content:\n%s", rules.MaxModelLinks, text)
	return b.String()
}

// parseModelLinks pulls a JSON array out of a model reply that may be
// wrapped in code fences or prose. Returns nil when nothing usable is
// found.
func parseModelLinks(raw string) []ModelLink {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}

	// Strip markdown code fences if present.
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	// Some providers in JSON mode wrap the array in an object.
	if strings.HasPrefix(s, "{") {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal([]byte(s), &wrapper); err == nil {
			for _, v := range wrapper {
				var links []ModelLink
				if err := json.Unmarshal(v, &links); err == nil && len(links) > 0 {
					return usable(links)
				}
			}
		}
	}

	// Otherwise take the first top-level [...] span.
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end <= start {
		return nil
	}

	var links []ModelLink
	if err := json.Unmarshal([]byte(s[start:end+1]), &links); err != nil {
		return nil
	}
	return usable(links)
}

func usable(links []ModelLink) []ModelLink {
	out := links[:0]
	for _, l := range links {
		if strings.TrimSpace(l.Link) != "" {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// normalizeModelLinks cleans what the model returned: trailing punctuation
// trimmed, scheme enforced, residual tracking wrappers resolved, dedup by
// fragment-stripped URL, capped at the item limit.
func normalizeModelLinks(ctx context.Context, links []ModelLink, rules Rules, resolver *tracklink.Resolver) []ModelLink {
	seen := make(map[string]struct{}, len(links))
	out := make([]ModelLink, 0, len(links))
	cache := tracklink.NewCache()

	for _, l := range links {
		href := strings.TrimSpace(l.Link)
		href = strings.TrimRight(href, `.,;:!?)"'`)

		if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
			continue
		}

		if unwrapped, ok := tracklink.Unwrap(href); ok {
			href = unwrapped
		} else if tracklink.IsTracking(href) && !rules.SkipTrackingResolution && resolver != nil {
			// The model echoed a tracking URL verbatim; probe it.
			href = resolver.Resolve(ctx, href, cache)
		}

		key := URLKey(href)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		out = append(out, ModelLink{Link: href, Title: strings.TrimSpace(l.Title)})
		if len(out) >= rules.MaxModelLinks {
			break
		}
	}

	return out
}
