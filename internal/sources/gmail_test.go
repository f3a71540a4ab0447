package sources

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/abelbrown/dailybrief/internal/brain"
	"github.com/abelbrown/dailybrief/internal/config"
	"github.com/abelbrown/dailybrief/internal/mailbox"
)

// gmailServer fakes the two Gmail endpoints the client uses, serving one
// message per entry in bodies (keyed by message id).
func gmailServer(t *testing.T, received time.Time, bodies map[string]string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/users/me/messages" {
			var refs []map[string]string
			for id := range bodies {
				refs = append(refs, map[string]string{"id": id})
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"messages": refs})
			return
		}

		id := r.URL.Path[len("/users/me/messages/"):]
		body, ok := bodies[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":           id,
			"internalDate": strconv.FormatInt(received.UnixMilli(), 10),
			"payload": map[string]interface{}{
				"mimeType": "text/html",
				"headers": []map[string]string{
					{"name": "Subject", "value": "Morning links"},
				},
				"body": map[string]string{
					"data": base64.RawURLEncoding.EncodeToString([]byte(body)),
				},
			},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func newGmailDispatcher(cfg *config.Config, gmailURL string, models *brain.ProviderManager) *Dispatcher {
	mb := mailbox.NewClient(mailbox.StaticToken("test-token"))
	mb.BaseURL = gmailURL
	return New(cfg, nil, nil, mb, models)
}

func gmailSource(extractor string) config.SourceConfig {
	off := false
	return config.SourceConfig{
		ID:          "nl",
		Name:        "Newsletter",
		Type:        config.SourceGmail,
		Label:       "newsletters",
		MaxMessages: 2,
		Extractor:   extractor,
		LinkRules:   config.LinkRules{ResolveTrackingLinks: &off},
	}
}

func TestGmailHeuristicHarvest(t *testing.T) {
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	received := now.Add(-2 * time.Hour)

	// The archive page is where the real article links live.
	archive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="https://news.example.com/2024/05/a-long-article-slug">A fine article headline</a>
			<a href="https://news.example.com/unsubscribe">Unsubscribe</a>
		</body></html>`)
	}))
	defer archive.Close()

	email := `<html><body>
		<a href="` + archive.URL + `/archive/123">View in browser</a>
		<p>Teaser text</p>
	</body></html>`

	server := gmailServer(t, received, map[string]string{"msg1": email})
	cfg := testConfig(gmailSource("heuristic"))
	d := newGmailDispatcher(cfg, server.URL, nil)

	stories, err := d.GetStories(context.Background(), Options{Now: now})
	if err != nil {
		t.Fatalf("GetStories failed: %v", err)
	}

	if len(stories) != 1 {
		t.Fatalf("expected 1 story from the archive page, got %d: %+v", len(stories), stories)
	}
	s := stories[0]
	if s.URL != "https://news.example.com/2024/05/a-long-article-slug" {
		t.Errorf("unexpected story url %q", s.URL)
	}
	if s.ID != "msg1:0" {
		t.Errorf("expected messageID:index id, got %q", s.ID)
	}
	if s.SourceItemID != "msg1" || s.SourceItemTitle != "Morning links" {
		t.Errorf("expected newsletter grouping fields, got %+v", s)
	}
	if s.PublishedAt == nil || !s.PublishedAt.Equal(received) {
		t.Errorf("expected received time as published, got %v", s.PublishedAt)
	}
}

func TestGmailFallsBackToEmailBody(t *testing.T) {
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

	// No archive anchor; links must come from the body itself.
	email := `<html><body>
		<a href="https://news.example.com/2024/05/body-long-slug">Straight from the body</a>
	</body></html>`

	server := gmailServer(t, now.Add(-time.Hour), map[string]string{"msg1": email})
	cfg := testConfig(gmailSource("heuristic"))
	d := newGmailDispatcher(cfg, server.URL, nil)

	stories, err := d.GetStories(context.Background(), Options{Now: now})
	if err != nil {
		t.Fatalf("GetStories failed: %v", err)
	}
	if len(stories) != 1 || stories[0].URL != "https://news.example.com/2024/05/body-long-slug" {
		t.Errorf("expected body-extracted story, got %+v", stories)
	}
}

func TestGmailSkipsMessagesOutsideWindow(t *testing.T) {
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

	email := `<a href="https://news.example.com/2024/05/too-old-long-slug">An old article link</a>`
	server := gmailServer(t, now.Add(-72*time.Hour), map[string]string{"msg1": email})
	cfg := testConfig(gmailSource("heuristic"))
	d := newGmailDispatcher(cfg, server.URL, nil)

	stories, err := d.GetStories(context.Background(), Options{Now: now})
	if err != nil {
		t.Fatalf("GetStories failed: %v", err)
	}
	if len(stories) != 0 {
		t.Errorf("message outside window must yield nothing, got %+v", stories)
	}
}

type scriptedProvider struct {
	responses []string
	calls     int
}

func (s *scriptedProvider) Name() string    { return "scripted" }
func (s *scriptedProvider) Available() bool { return true }
func (s *scriptedProvider) Generate(ctx context.Context, req brain.Request) (brain.Response, error) {
	if s.calls >= len(s.responses) {
		return brain.Response{}, fmt.Errorf("no more scripted responses")
	}
	resp := s.responses[s.calls]
	s.calls++
	return brain.Response{Content: resp, Model: "scripted"}, nil
}

func TestGmailModelExtractor(t *testing.T) {
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

	email := `<html><body>
		<a href="https://news.example.com/2024/05/first-long-slug">First story</a>
		<a href="https://news.example.com/unsubscribe">Unsubscribe</a>
	</body></html>`

	server := gmailServer(t, now.Add(-time.Hour), map[string]string{"msg1": email})

	models := brain.NewProviderManager()
	models.AddProvider(&scriptedProvider{responses: []string{
		`[{"link":"https://news.example.com/2024/05/first-long-slug","title":"First story"}]`,
	}})

	cfg := testConfig(gmailSource("model"))
	d := newGmailDispatcher(cfg, server.URL, models)

	stories, err := d.GetStories(context.Background(), Options{Now: now})
	if err != nil {
		t.Fatalf("GetStories failed: %v", err)
	}
	if len(stories) != 1 {
		t.Fatalf("expected 1 story via model extractor, got %d", len(stories))
	}
	if stories[0].Title != "First story" {
		t.Errorf("expected model-provided title, got %q", stories[0].Title)
	}
}

func TestGmailModelFailureSkipsMessageOnly(t *testing.T) {
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

	// Model sources fail without a provider; the message is skipped but
	// the source (and run) stays healthy.
	email := `<a href="https://news.example.com/2024/05/slug-long-enough">Some article text</a>`
	server := gmailServer(t, now.Add(-time.Hour), map[string]string{"msg1": email})

	cfg := testConfig(gmailSource("model"))
	d := newGmailDispatcher(cfg, server.URL, brain.NewProviderManager())

	stories, err := d.GetStories(context.Background(), Options{Now: now})
	if err != nil {
		t.Fatalf("model failure must not abort the run: %v", err)
	}
	if len(stories) != 0 {
		t.Errorf("expected zero stories, got %+v", stories)
	}
}

func TestFindArchiveURL(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			"plain anchor",
			`<a href="https://nl.example.com/archive/1">View in browser</a>`,
			"https://nl.example.com/archive/1",
		},
		{
			"case and phrasing",
			`<a href="https://nl.example.com/web">Read Online</a>`,
			"https://nl.example.com/web",
		},
		{
			"tracking wrapped",
			`<a href="https://links.substack.com/c?url=https%3A%2F%2Fnl.example.com%2Fp%2Fweb">View in browser</a>`,
			"https://nl.example.com/p/web",
		},
		{
			"absent",
			`<a href="https://nl.example.com/article">A normal link</a>`,
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findArchiveURL(tt.html); got != tt.want {
				t.Errorf("findArchiveURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLinkRulesMapping(t *testing.T) {
	score, length, max := 3, 12, 5
	off := false
	lr := config.LinkRules{
		ExcludeText:          []string{"promo"},
		MinArticleScore:      &score,
		MinTextLength:        &length,
		MaxModelLinks:        &max,
		ResolveTrackingLinks: &off,
		Debug:                true,
	}

	rules := linkRules(lr)
	if rules.MinArticleScore != 3 || rules.MinTextLength != 12 || rules.MaxModelLinks != 5 {
		t.Errorf("thresholds not mapped: %+v", rules)
	}
	if !rules.SkipTrackingResolution {
		t.Error("resolve_tracking_links=false must disable probing")
	}
	if !rules.Debug || len(rules.ExcludeText) != 1 {
		t.Errorf("flags not mapped: %+v", rules)
	}
}
