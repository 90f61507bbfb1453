package bible

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const defaultLocalURL = "http://localhost:3005/api"

// LocalSource reads chapters from a local chapter API that serves
// {success, data:{verses:[{text}]}} documents.
type LocalSource struct {
	baseURL    string
	httpClient *http.Client
}

type localChapterResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Verses []struct {
			Verse int    `json:"verse"`
			Text  string `json:"text"`
		} `json:"verses"`
	} `json:"data"`
	Error string `json:"error"`
}

func NewLocalSource(baseURL string, client *http.Client) *LocalSource {
	if baseURL == "" {
		baseURL = defaultLocalURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &LocalSource{baseURL: strings.TrimRight(baseURL, "/"), httpClient: client}
}

func (l *LocalSource) FetchChapter(ctx context.Context, book string, chapter int, version string) (*Chapter, error) {
	if version == "" {
		version = "WEB"
	}

	reqURL := fmt.Sprintf("%s/books/%s/chapters/%d", l.baseURL, url.PathEscape(book), chapter)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chapter: %w", err)
	}
	defer resp.Body.Close()

	var body localChapterResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse chapter response: %w", err)
	}

	if !body.Success {
		msg := body.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("chapter api returned unsuccessful response: %s", msg)
	}
	if body.Data == nil || len(body.Data.Verses) == 0 {
		return nil, fmt.Errorf("invalid chapter response: no verses")
	}

	parts := make([]string, 0, len(body.Data.Verses))
	for _, v := range body.Data.Verses {
		parts = append(parts, strings.TrimSpace(v.Text))
	}
	text := strings.Join(parts, " ")

	meta := newMetadata(book, chapter, version, text, "api")
	meta.VerseCount = len(body.Data.Verses)
	return &Chapter{Text: text, Metadata: meta}, nil
}
