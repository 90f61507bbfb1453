// Package tts talks to the Fish Audio text-to-speech API.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL  = "https://api.fish.audio/v1"
	DefaultTimeout  = 60 * time.Second
	DefaultInterval = time.Second
)

// Credentials identify the caller and the voice model to speak with.
type Credentials struct {
	APIKey       string `json:"-"`
	VoiceModelID string `json:"voiceModelId,omitempty"`
}

func (c Credentials) Complete() bool {
	return c.APIKey != "" && c.VoiceModelID != ""
}

type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Interval time.Duration
	Bitrate  int
}

type Client struct {
	baseURL    string
	bitrate    int
	httpClient *http.Client
	limiter    *rate.Limiter
}

type speechRequest struct {
	Text        string `json:"text"`
	ReferenceID string `json:"reference_id"`
	Format      string `json:"format"`
	MP3Bitrate  int    `json:"mp3_bitrate"`
	Normalize   bool   `json:"normalize"`
	Latency     string `json:"latency"`
}

// APIError is a non-2xx answer from the provider.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Bitrate <= 0 {
		cfg.Bitrate = 128
	}

	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		bitrate: cfg.Bitrate,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Synthesize returns MP3 bytes for text. Calls are paced by the client's
// limiter so consecutive requests are at least one interval apart.
func (c *Client) Synthesize(ctx context.Context, text string, creds Credentials) ([]byte, error) {
	if !creds.Complete() {
		return nil, fmt.Errorf("fish audio credentials not configured")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for rate limiter: %w", err)
	}

	body, err := json.Marshal(speechRequest{
		Text:        text,
		ReferenceID: creds.VoiceModelID,
		Format:      "mp3",
		MP3Bitrate:  c.bitrate,
		Normalize:   true,
		Latency:     "normal",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+creds.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(resp.StatusCode, respBody)
	}

	return respBody, nil
}

func newAPIError(status int, body []byte) *APIError {
	switch status {
	case http.StatusUnauthorized:
		return &APIError{StatusCode: status, Message: "Invalid Fish.Audio API key"}
	case http.StatusBadRequest:
		return &APIError{StatusCode: status, Message: "Invalid request parameters"}
	case http.StatusTooManyRequests:
		return &APIError{StatusCode: status, Message: "Rate limit exceeded. Please try again later."}
	default:
		return &APIError{StatusCode: status, Message: fmt.Sprintf("API error: %d - %s", status, strings.TrimSpace(string(body)))}
	}
}

// SynthesizeToFile writes the synthesized audio for text to path.
func (c *Client) SynthesizeToFile(ctx context.Context, text string, creds Credentials, path string) error {
	audio, err := c.Synthesize(ctx, text, creds)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, audio, 0644); err != nil {
		return fmt.Errorf("failed to write audio file: %w", err)
	}
	return nil
}

// ValidateCredentials performs a tiny synthesis and discards the result.
func (c *Client) ValidateCredentials(ctx context.Context, creds Credentials) error {
	if !creds.Complete() {
		return errors.New("both fishApiKey and voiceModelId are required")
	}
	_, err := c.Synthesize(ctx, "Testing API credentials.", creds)
	return err
}
