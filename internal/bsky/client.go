package bsky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/DistPub/sync-163yaowen-to-bsky/internal/compose"
	"github.com/DistPub/sync-163yaowen-to-bsky/internal/retry"
)

// ErrBlobTooLarge marks the service rejecting a post because the attached
// blob exceeds its size limit. The publisher degrades on this error.
var ErrBlobTooLarge = errors.New("blob exceeds service size limit")

// APIError is the structured XRPC error body.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("xrpc error %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Blob is the service's reference to an uploaded binary asset.
type Blob struct {
	Type     string  `json:"$type"`
	Ref      BlobRef `json:"ref"`
	MimeType string  `json:"mimeType"`
	Size     int64   `json:"size"`
}

type BlobRef struct {
	Link string `json:"$link"`
}

// External is the link-preview payload of an external embed.
type External struct {
	URI         string `json:"uri"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Thumb       *Blob  `json:"thumb,omitempty"`
}

type ExternalEmbed struct {
	Type     string   `json:"$type"`
	External External `json:"external"`
}

func NewExternalEmbed(external External) *ExternalEmbed {
	return &ExternalEmbed{
		Type:     "app.bsky.embed.external",
		External: external,
	}
}

// Post is an app.bsky.feed.post record.
type Post struct {
	Type      string          `json:"$type"`
	Text      string          `json:"text"`
	Facets    []compose.Facet `json:"facets,omitempty"`
	Langs     []string        `json:"langs,omitempty"`
	Embed     *ExternalEmbed  `json:"embed,omitempty"`
	CreatedAt string          `json:"createdAt"`
}

// Client talks XRPC to a PDS endpoint. Login must succeed before UploadBlob
// or SendPost are used.
type Client struct {
	base  string
	http  *http.Client
	retry retry.Config

	accessJwt string
	did       string
}

func NewClient(base string, timeout time.Duration, retryCfg retry.Config) *Client {
	return &Client{
		base:  strings.TrimRight(base, "/"),
		http:  &http.Client{Timeout: timeout},
		retry: retryCfg,
	}
}

type sessionResponse struct {
	AccessJwt string `json:"accessJwt"`
	Did       string `json:"did"`
}

// Login creates a session with the account identity and secret, with
// bounded retry.
func (c *Client) Login(ctx context.Context, identifier, password string) error {
	body, err := json.Marshal(map[string]string{
		"identifier": identifier,
		"password":   password,
	})
	if err != nil {
		return fmt.Errorf("marshal session request: %w", err)
	}

	return retry.Do(ctx, c.retry, func() error {
		var session sessionResponse
		if err := c.post(ctx, "com.atproto.server.createSession", "application/json", bytes.NewReader(body), &session); err != nil {
			return err
		}
		c.accessJwt = session.AccessJwt
		c.did = session.Did
		return nil
	})
}

type uploadBlobResponse struct {
	Blob Blob `json:"blob"`
}

// UploadBlob pushes raw image bytes and returns the service's blob
// reference. The content type is sniffed from the payload.
func (c *Client) UploadBlob(ctx context.Context, data []byte) (*Blob, error) {
	contentType := http.DetectContentType(data)

	var out uploadBlobResponse
	if err := c.post(ctx, "com.atproto.repo.uploadBlob", contentType, bytes.NewReader(data), &out); err != nil {
		return nil, err
	}
	return &out.Blob, nil
}

// SendPost creates the post record. An oversized-blob rejection surfaces as
// ErrBlobTooLarge so the caller can degrade; everything else is final.
func (c *Client) SendPost(ctx context.Context, post Post) error {
	post.Type = "app.bsky.feed.post"
	if post.CreatedAt == "" {
		post.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	body, err := json.Marshal(map[string]interface{}{
		"repo":       c.did,
		"collection": "app.bsky.feed.post",
		"record":     post,
	})
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	if err := c.post(ctx, "com.atproto.repo.createRecord", "application/json", bytes.NewReader(body), nil); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && isBlobTooLarge(apiErr) {
			return fmt.Errorf("%v: %w", apiErr, ErrBlobTooLarge)
		}
		return err
	}
	return nil
}

// PDS implementations differ in whether the size rejection rides the error
// code or the message text, so both are checked.
func isBlobTooLarge(e *APIError) bool {
	if strings.EqualFold(e.Code, "BlobTooLarge") {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "blob too large") || strings.Contains(msg, "exceeds the maximum allowed size")
}

func (c *Client) post(ctx context.Context, method, contentType string, body io.Reader, out interface{}) error {
	endpoint := c.base + "/xrpc/" + method

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.accessJwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessJwt)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(respBody, apiErr); err != nil {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", method, err)
		}
	}
	return nil
}
