package sources

import (
	"context"
	"fmt"

	"github.com/abelbrown/dailybrief/internal/config"
	"github.com/abelbrown/dailybrief/internal/logging"
	"github.com/abelbrown/dailybrief/internal/timewindow"
	"github.com/mmcdole/gofeed"
)

// harvestRSS fetches one feed and keeps the items inside the window.
//
// gofeed detects RSS vs Atom on its own; items whose publish date can't
// be parsed are dropped with a warning rather than defaulted to "now",
// since a fake timestamp would smuggle stale items into the window.
func (d *Dispatcher) harvestRSS(ctx context.Context, src config.SourceConfig, win timewindow.Window) ([]Story, error) {
	body, err := d.fetcher.Get(ctx, src.URL)
	if err != nil {
		return nil, fmt.Errorf("feed fetch failed: %w", err)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("feed parse failed: %w", err)
	}

	stories := make([]Story, 0, len(feed.Items))
	for _, item := range feed.Items {
		published := item.PublishedParsed
		if published == nil {
			published = item.UpdatedParsed
		}
		if published == nil {
			logging.Warn("feed item has no parseable date, dropping",
				"source", src.Name, "title", item.Title)
			continue
		}
		if !win.Contains(*published) {
			continue
		}
		if !validStoryURL(item.Link) {
			logging.Warn("feed item has no usable link, dropping",
				"source", src.Name, "title", item.Title)
			continue
		}

		id := item.GUID
		if id == "" {
			id = item.Link
		}

		t := *published
		stories = append(stories, Story{
			ID:          id,
			Title:       item.Title,
			URL:         item.Link,
			SourceName:  src.Name,
			SourceURL:   src.URL,
			PublishedAt: &t,
		})
	}

	return stories, nil
}
