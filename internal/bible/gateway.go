package bible

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

const defaultGatewayURL = "https://www.biblegateway.com"

var passageSelectors = []string{
	".passage-text .std-text",
	".passage-text",
	".result-text-style-normal",
	".text",
	"#passage-text",
}

// GatewaySource scrapes passages from BibleGateway, one request per interval.
type GatewaySource struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewGatewaySource(baseURL string, interval time.Duration, client *http.Client) *GatewaySource {
	if baseURL == "" {
		baseURL = defaultGatewayURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}

	return &GatewaySource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
		limiter:    rate.NewLimiter(limit, 1),
	}
}

func (g *GatewaySource) FetchChapter(ctx context.Context, book string, chapter int, version string) (*Chapter, error) {
	if version == "" {
		version = "NIV"
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("search", fmt.Sprintf("%s %d", book, chapter))
	q.Set("version", version)
	reqURL := g.baseURL + "/passage/?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch passage: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: failed to fetch page", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	raw := extractPassage(doc)
	if raw == "" {
		return nil, ErrPassageNotFound
	}

	text := CleanText(raw)
	return &Chapter{
		Text:     text,
		Metadata: newMetadata(book, chapter, version, text, "biblegateway"),
	}, nil
}

func extractPassage(doc *goquery.Document) string {
	for _, sel := range passageSelectors {
		found := doc.Find(sel)
		if found.Length() == 0 {
			continue
		}
		// Footnote and cross-reference blocks live inside the passage container.
		found.Find(".footnotes, .crossrefs, sup.footnote, sup.crossreference, h3").Remove()
		if text := strings.TrimSpace(found.Text()); text != "" {
			return text
		}
	}
	return ""
}
