// Package backend is the HTTP client for the document-QA service. It covers
// the full management surface (files, chunks, ingest, stats) plus the
// streaming query endpoint, whose response body carries the sse frame
// protocol and is handed back to the caller unread.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Client communicates with a docq backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// streamClient has no timeout: a query stream stays open for as long
	// as the server takes to produce the answer.
	streamClient *http.Client
}

// New creates a client for the backend at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: defaultTimeout},
		streamClient: &http.Client{Timeout: 0},
	}
}

// NewWithTimeout creates a client with a custom timeout for the
// non-streaming endpoints.
func NewWithTimeout(baseURL string, timeout time.Duration) *Client {
	c := New(baseURL)
	c.httpClient.Timeout = timeout
	return c
}

// APIError is a structured error body returned by the backend on a
// non-success status. Every field is optional on the wire.
type APIError struct {
	Status        int    `json:"-"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	Hint          string `json:"hint"`
	CorrelationID string `json:"correlation_id"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Status != 0 {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return "query failed"
}

// Format renders the error the way the conversation view shows it:
// message, hint in parentheses, correlation id in brackets.
func (e *APIError) Format() string {
	out := e.Error()
	if e.Hint != "" {
		out += fmt.Sprintf(" (%s)", e.Hint)
	}
	if e.CorrelationID != "" {
		out += fmt.Sprintf(" [%s]", e.CorrelationID)
	}
	return out
}

// ParseAPIError decodes a JSON error descriptor. All fields are optional;
// a body that is not a JSON object yields an APIError with only the status
// set. It never fails.
func ParseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	// Malformed bodies fall back to the bare status.
	_ = json.Unmarshal(body, apiErr)
	apiErr.Status = status
	return apiErr
}

func (c *Client) errorFromResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
	}
	return ParseAPIError(resp.StatusCode, body)
}

// Query opens a streaming query. The returned body carries the sse frame
// protocol; the caller owns it and must close it. A non-success status is
// decoded into *APIError before any body is handed out.
func (c *Client) Query(ctx context.Context, req QueryRequest) (io.ReadCloser, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshalling query: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.errorFromResponse(resp)
	}

	return resp.Body, nil
}

// ListFiles returns the current document list.
func (c *Client) ListFiles(ctx context.Context) ([]FileMeta, error) {
	var files []FileMeta
	if err := c.getJSON(ctx, "/files", &files); err != nil {
		return nil, err
	}
	if files == nil {
		files = []FileMeta{}
	}
	return files, nil
}

// FileChunks returns every chunk of one document, in chunk-index order.
func (c *Client) FileChunks(ctx context.Context, fileID int64) ([]Chunk, error) {
	var chunks []Chunk
	path := fmt.Sprintf("/file/%d/chunks", fileID)
	if err := c.getJSON(ctx, path, &chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}

// Ingest uploads a new document as multipart form data. filename is the
// name presented to the server, not a local path.
func (c *Client) Ingest(ctx context.Context, filename string, r io.Reader) (IngestResult, error) {
	return c.upload(ctx, http.MethodPost, "/ingest", filename, r)
}

// Reingest replaces the content of an existing document.
func (c *Client) Reingest(ctx context.Context, fileID int64, filename string, r io.Reader) (IngestResult, error) {
	return c.upload(ctx, http.MethodPut, fmt.Sprintf("/file/%d", fileID), filename, r)
}

func (c *Client) upload(ctx context.Context, method, path, filename string, r io.Reader) (IngestResult, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return IngestResult{}, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return IngestResult{}, fmt.Errorf("reading upload content: %w", err)
	}
	if err := w.Close(); err != nil {
		return IngestResult{}, fmt.Errorf("finalizing form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return IngestResult{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return IngestResult{}, fmt.Errorf("uploading %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return IngestResult{}, c.errorFromResponse(resp)
	}

	var result IngestResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return IngestResult{}, fmt.Errorf("decoding ingest response: %w", err)
	}
	return result, nil
}

// DeleteFile removes a document and its chunks from the backend.
func (c *Client) DeleteFile(ctx context.Context, fileID int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/file/%d", c.baseURL, fileID), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deleting file %d: %w", fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.errorFromResponse(resp)
	}
	return nil
}

// Stats returns document and chunk counts.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := c.getJSON(ctx, "/stats", &s)
	return s, err
}

// Health reports whether the backend answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.getJSON(ctx, "/health", &struct{}{})
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.errorFromResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
