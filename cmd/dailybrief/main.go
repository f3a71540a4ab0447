// Command dailybrief runs one harvest: it resolves the time window,
// collects candidate stories from every configured source, and prints the
// result as JSON on stdout for the downstream summarization pipeline.
//
// Usage:
//
//	dailybrief -config sources.yaml
//	dailybrief -config sources.yaml -mode rolling -hours 12
//
// Environment:
//
//	GMAIL_CLIENT_ID / GMAIL_CLIENT_SECRET / GMAIL_REFRESH_TOKEN
//	                        Mailbox credentials for gmail sources
//	OPENAI_API_KEY, GEMINI_API_KEY, OLLAMA_ENDPOINT
//	                        Model providers for model-extractor sources
//	DAILYBRIEF_ENV          "production" lifts the newsletter message cap
//	DAILYBRIEF_DEBUG        Any value enables debug logging
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/abelbrown/dailybrief/internal/brain"
	"github.com/abelbrown/dailybrief/internal/config"
	"github.com/abelbrown/dailybrief/internal/fetch"
	"github.com/abelbrown/dailybrief/internal/logging"
	"github.com/abelbrown/dailybrief/internal/mailbox"
	"github.com/abelbrown/dailybrief/internal/sources"
	"github.com/abelbrown/dailybrief/internal/timewindow"
	"github.com/abelbrown/dailybrief/internal/tracklink"
)

func main() {
	configPath := flag.String("config", "sources.yaml", "path to the source configuration file")
	mode := flag.String("mode", "", "window mode override: calendar or rolling")
	hours := flag.Int("hours", 0, "rolling window length in hours (rolling mode)")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall harvest timeout")
	flag.Parse()

	// Missing .env is fine - real deployments use actual env vars.
	_ = godotenv.Load()

	if err := logging.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	defer logging.Close()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("Failed to load config: %v", err)
	}
	if *mode != "" {
		cfg.WindowMode = *mode
	}
	if *hours > 0 {
		cfg.Hours = *hours
	}
	if err := cfg.Validate(); err != nil {
		fatal("Invalid config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	now := time.Now()
	win, err := timewindow.Resolve(now, timewindow.Mode(cfg.WindowMode), cfg.Hours, cfg.TimeZone)
	if err != nil {
		fatal("Failed to resolve window: %v", err)
	}
	logging.Info("window resolved", "mode", cfg.WindowMode, "date", win.DateKey(),
		"start", win.Start.Format(time.RFC3339), "end", win.End.Format(time.RFC3339))

	var mb *mailbox.Client
	for _, src := range cfg.Sources {
		if src.Type == config.SourceGmail && src.IsEnabled() {
			mb = mailbox.NewClient(mailbox.RefreshFromEnv())
			break
		}
	}

	dispatcher := sources.New(cfg,
		fetch.NewClient(20*time.Second),
		tracklink.NewResolver(5*time.Second),
		mb,
		brain.FromEnv(),
	)

	stories, err := dispatcher.GetStories(ctx, sources.Options{Now: now})
	if err != nil {
		fatal("Harvest failed: %v", err)
	}

	// Zero stories is a legitimate outcome; the surrounding workflow
	// just ends without output.
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(stories); err != nil {
		fatal("Failed to encode stories: %v", err)
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
