package sources

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/abelbrown/dailybrief/internal/config"
	"github.com/abelbrown/dailybrief/internal/extract"
	"github.com/abelbrown/dailybrief/internal/logging"
	"github.com/abelbrown/dailybrief/internal/mailbox"
	"github.com/abelbrown/dailybrief/internal/timewindow"
	"github.com/abelbrown/dailybrief/internal/tracklink"
)

// archivePhrases mark the "view in browser" anchor newsletters carry. The
// archive page usually has far cleaner HTML than the email body.
var archivePhrases = []string{
	"view in browser",
	"view in your browser",
	"read online",
	"view online",
	"web version",
	"view this email",
}

// nonProdMessageCap bounds per-label message fan-out outside production.
const nonProdMessageCap = 2

// harvestGmail collects Stories from one labeled newsletter mailbox.
//
// Each message is processed independently: a failure (API error, empty
// body, model trouble) is logged and skips that message only.
func (d *Dispatcher) harvestGmail(ctx context.Context, src config.SourceConfig, win timewindow.Window) ([]Story, error) {
	if d.mailbox == nil {
		return nil, fmt.Errorf("gmail source configured but no mailbox client available")
	}

	max := src.MaxMessages
	if os.Getenv("DAILYBRIEF_ENV") != "production" && max > nonProdMessageCap {
		max = nonProdMessageCap
	}

	query := mailbox.BuildQuery(src.Label, win)
	logging.Debug("listing mailbox", "source", src.Name, "query", query, "max", max)

	refs, err := d.mailbox.List(ctx, query, max)
	if err != nil {
		return nil, fmt.Errorf("mailbox list failed: %w", err)
	}

	// Per-message result fold: errors are discarded here, successes
	// accumulate. Nothing a single message does can abort the batch.
	var stories []Story
	for _, ref := range refs {
		msgStories, err := d.messageStories(ctx, src, win, ref.ID)
		if err != nil {
			logging.Warn("skipping newsletter message", "source", src.Name, "message", ref.ID, "error", err)
			continue
		}
		stories = append(stories, msgStories...)
	}
	return stories, nil
}

func (d *Dispatcher) messageStories(ctx context.Context, src config.SourceConfig, win timewindow.Window, id string) ([]Story, error) {
	msg, err := d.mailbox.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !win.Contains(msg.Received) {
		logging.Debug("message outside window", "message", id, "received", msg.Received)
		return nil, nil
	}

	body := msg.HTML
	if body == "" {
		body = msg.Text
	}
	if body == "" {
		return nil, fmt.Errorf("message has no usable body")
	}

	// Prefer the hosted archive copy when the email links to one.
	content, base := body, ""
	if archiveURL := findArchiveURL(body); archiveURL != "" {
		if page, err := d.fetcher.Get(ctx, archiveURL); err != nil {
			logging.Warn("archive page fetch failed, using email body",
				"message", id, "url", archiveURL, "error", err)
		} else {
			content, base = string(page), archiveURL
		}
	}

	rules := linkRules(src.LinkRules)

	var links []extract.ModelLink
	if src.Extractor == "model" {
		provider := d.models.GetAvailable()
		links, err = extract.ExtractWithModel(ctx, msg.Subject, content, rules, provider, d.resolver)
		if err != nil {
			return nil, err
		}
	} else {
		cands, err := extract.Extract(ctx, content, base, rules, d.resolver)
		if err != nil {
			return nil, err
		}
		for _, c := range cands {
			links = append(links, extract.ModelLink{Link: c.Href, Title: c.Text})
		}
	}

	stories := make([]Story, 0, len(links))
	for i, l := range links {
		if !validStoryURL(l.Link) {
			continue
		}
		title := l.Title
		if title == "" {
			title = msg.Subject
		}
		t := msg.Received
		stories = append(stories, Story{
			ID:              fmt.Sprintf("%s:%d", msg.ID, i),
			Title:           title,
			URL:             l.Link,
			SourceName:      src.Name,
			SourceURL:       src.URL,
			PublishedAt:     &t,
			SourceItemID:    msg.ID,
			SourceItemTitle: msg.Subject,
		})
	}

	logging.Info("newsletter processed", "source", src.Name, "message", id,
		"subject", msg.Subject, "links", len(stories))
	return stories, nil
}

// findArchiveURL locates a "view in browser" style anchor in the email
// body and returns its (unwrapped) target, or "".
func findArchiveURL(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	found := ""
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.ToLower(strings.Join(strings.Fields(s.Text()), " "))
		for _, phrase := range archivePhrases {
			if strings.Contains(text, phrase) {
				href := s.AttrOr("href", "")
				if unwrapped, ok := tracklink.Unwrap(href); ok {
					href = unwrapped
				}
				if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
					found = href
					return false
				}
			}
		}
		return true
	})
	return found
}

// linkRules maps the config's optional fields onto extraction rules.
func linkRules(lr config.LinkRules) extract.Rules {
	rules := extract.Rules{
		ExcludeText:         lr.ExcludeText,
		IncludeDomains:      lr.IncludeDomains,
		ExcludeDomains:      lr.ExcludeDomains,
		IncludePathKeywords: lr.IncludePathKeywords,
		ExcludePathKeywords: lr.ExcludePathKeywords,
		Debug:               lr.Debug,
	}
	if lr.MinArticleScore != nil {
		rules.MinArticleScore = *lr.MinArticleScore
	}
	if lr.MinTextLength != nil {
		rules.MinTextLength = *lr.MinTextLength
	}
	if lr.MaxModelLinks != nil {
		rules.MaxModelLinks = *lr.MaxModelLinks
	}
	if lr.ResolveTrackingLinks != nil && !*lr.ResolveTrackingLinks {
		rules.SkipTrackingResolution = true
	}
	return rules
}
