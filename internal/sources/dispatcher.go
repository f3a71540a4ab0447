package sources

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/abelbrown/dailybrief/internal/brain"
	"github.com/abelbrown/dailybrief/internal/config"
	"github.com/abelbrown/dailybrief/internal/fetch"
	"github.com/abelbrown/dailybrief/internal/logging"
	"github.com/abelbrown/dailybrief/internal/mailbox"
	"github.com/abelbrown/dailybrief/internal/timewindow"
	"github.com/abelbrown/dailybrief/internal/tracklink"
	"github.com/google/uuid"
)

// Options selects the window for one harvest. When Window is set it takes
// precedence over the configured mode/lookback for every source.
type Options struct {
	Now    time.Time
	Window *timewindow.Window
}

// Dispatcher runs all enabled sources and merges their Stories.
type Dispatcher struct {
	cfg      *config.Config
	fetcher  *fetch.Client
	resolver *tracklink.Resolver
	mailbox  *mailbox.Client
	models   *brain.ProviderManager
}

// New creates a Dispatcher. mailbox may be nil when no gmail sources are
// configured; models may be nil when no source uses the model extractor.
func New(cfg *config.Config, fetcher *fetch.Client, resolver *tracklink.Resolver, mb *mailbox.Client, models *brain.ProviderManager) *Dispatcher {
	if fetcher == nil {
		fetcher = fetch.NewClient(0)
	}
	if resolver == nil {
		resolver = tracklink.NewResolver(0)
	}
	if models == nil {
		models = brain.NewProviderManager()
	}
	return &Dispatcher{
		cfg:      cfg,
		fetcher:  fetcher,
		resolver: resolver,
		mailbox:  mb,
		models:   models,
	}
}

// GetStories evaluates every enabled source concurrently and returns the
// concatenation of their results in source declaration order.
//
// One source failing - bad URL, unreachable feed, mailbox trouble - is
// logged and contributes zero stories; it never takes the run down.
// Configuration errors (an unresolvable time zone) do, since they mean
// the deployment is broken rather than content being absent.
func (d *Dispatcher) GetStories(ctx context.Context, opts Options) ([]Story, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	runID := uuid.NewString()[:8]

	enabled := make([]config.SourceConfig, 0, len(d.cfg.Sources))
	for _, src := range d.cfg.Sources {
		if src.IsEnabled() {
			enabled = append(enabled, src)
		}
	}
	logging.Info("harvest starting", "run", runID, "sources", len(enabled))

	// Windows are resolved up front so a bad time zone fails the run
	// before any network I/O.
	windows := make([]timewindow.Window, len(enabled))
	for i, src := range enabled {
		win, err := d.sourceWindow(now, src, opts.Window)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", src.ID, err)
		}
		windows[i] = win
	}

	// Fan out one goroutine per source into an indexed slot; the merge
	// below keeps declaration order regardless of completion order.
	results := make([][]Story, len(enabled))
	var wg sync.WaitGroup
	for i, src := range enabled {
		wg.Add(1)
		go func(i int, src config.SourceConfig) {
			defer wg.Done()
			stories, err := d.harvest(ctx, src, windows[i])
			if err != nil {
				logging.Warn("source failed", "run", runID, "source", src.ID, "error", err)
				return
			}
			logging.Info("source done", "run", runID, "source", src.ID, "stories", len(stories))
			results[i] = stories
		}(i, src)
	}
	wg.Wait()

	var all []Story
	for _, r := range results {
		all = append(all, r...)
	}

	logging.Info("harvest complete", "run", runID, "stories", len(all))
	return all, nil
}

func (d *Dispatcher) harvest(ctx context.Context, src config.SourceConfig, win timewindow.Window) ([]Story, error) {
	switch src.Type {
	case config.SourceRSS:
		return d.harvestRSS(ctx, src, win)
	case config.SourceGmail:
		return d.harvestGmail(ctx, src, win)
	case config.SourceURL:
		// One synthetic story, no extraction.
		if !validStoryURL(src.URL) {
			return nil, fmt.Errorf("url source has invalid url %q", src.URL)
		}
		return []Story{{
			ID:         src.URL,
			Title:      src.Name,
			URL:        src.URL,
			SourceName: src.Name,
			SourceURL:  src.URL,
		}}, nil
	default:
		// Config validation rejects unknown types already.
		return nil, fmt.Errorf("unknown source type %q", src.Type)
	}
}

// sourceWindow resolves the effective window for one source: an explicit
// override wins; otherwise the configured mode plus the source's lookback
// (falling back to the global default).
func (d *Dispatcher) sourceWindow(now time.Time, src config.SourceConfig, override *timewindow.Window) (timewindow.Window, error) {
	if override != nil {
		return *override, nil
	}

	days := d.cfg.LookbackDays
	if src.LookbackDays != nil && *src.LookbackDays > 0 {
		days = *src.LookbackDays
	}

	mode := timewindow.Mode(d.cfg.WindowMode)
	hours := d.cfg.Hours
	if mode == timewindow.ModeRolling && (hours <= 0 || src.LookbackDays != nil) {
		hours = days * 24
	}

	win, err := timewindow.Resolve(now, mode, hours, d.cfg.TimeZone)
	if err != nil {
		return timewindow.Window{}, err
	}

	// A multi-day lookback widens a calendar window backwards; the end
	// stays pinned to yesterday 23:59:59.
	if mode == timewindow.ModeCalendar && days > 1 {
		win.Start = win.Start.AddDate(0, 0, -(days - 1))
	}
	return win, nil
}
