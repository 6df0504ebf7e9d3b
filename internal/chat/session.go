// Package chat owns the streaming query session: it opens one query stream
// at a time, folds protocol events into an in-progress answer, and finalizes
// each session into exactly one assistant message in the conversation.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/keldan/docq/internal/backend"
	"github.com/keldan/docq/internal/sse"
)

var (
	// ErrEmptyQuery is returned when the submitted query is blank.
	ErrEmptyQuery = errors.New("empty query")
	// ErrSessionActive is returned when a submit or clear arrives while a
	// query stream is still open. Only one session may be active at a time.
	ErrSessionActive = errors.New("a query is already streaming")
)

// Streamer opens a streaming query against the document service.
// *backend.Client satisfies it.
type Streamer interface {
	Query(ctx context.Context, req backend.QueryRequest) (io.ReadCloser, error)
}

// Options configures a chat client.
type Options struct {
	// TopK is forwarded to the backend with every query. Zero lets the
	// server pick its default.
	TopK int
	// Notify receives the transient notices; nil means NopNotifier.
	Notify Notifier
	// OnDelta, when set, is called with each answer increment as it
	// arrives. It runs on the goroutine driving Ask.
	OnDelta func(delta string)
}

// Client runs streaming query sessions against one conversation.
//
// At most one session is active at a time; the accumulated answer buffer
// belongs exclusively to that session and is reset when it finalizes,
// whatever the outcome. Observers may read CurrentAnswer and Streaming
// concurrently with a running session.
type Client struct {
	streamer Streamer
	notify   Notifier
	topK     int
	onDelta  func(string)
	conv     *Conversation

	mu       sync.Mutex
	answer   strings.Builder
	contexts []ContextChunk
	active   bool
}

// New creates a chat client on a fresh conversation.
func New(s Streamer, opts Options) *Client {
	n := opts.Notify
	if n == nil {
		n = NopNotifier{}
	}
	return &Client{
		streamer: s,
		notify:   n,
		topK:     opts.TopK,
		onDelta:  opts.OnDelta,
		conv:     NewConversation(),
	}
}

// Conversation returns the underlying message history.
func (c *Client) Conversation() *Conversation {
	return c.conv
}

// Messages returns the finalized conversation history.
func (c *Client) Messages() []Message {
	return c.conv.Messages()
}

// Streaming reports whether a session is currently active.
func (c *Client) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// CurrentAnswer returns the answer accumulated so far by the active
// session. Empty when idle.
func (c *Client) CurrentAnswer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answer.String()
}

// Clear empties the conversation. Rejected while a session is active.
func (c *Client) Clear() error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		c.notify.Warning("Cannot clear while a response is streaming")
		return ErrSessionActive
	}
	c.mu.Unlock()
	c.conv.Clear()
	return nil
}

// Ask submits one query scoped to the given file ids (nil or empty scope
// means all documents). The user message is appended immediately; the
// stream is consumed on the calling goroutine until a terminal event, and
// exactly one assistant message is appended on completion or on a
// server-reported error. Transport failures notify but leave the
// conversation untouched.
func (c *Client) Ask(ctx context.Context, query string, scope []int64) error {
	query = strings.TrimSpace(query)
	if query == "" {
		c.notify.Warning("Please enter a question")
		return ErrEmptyQuery
	}

	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		c.notify.Warning("A response is already streaming")
		return ErrSessionActive
	}
	c.active = true
	c.answer.Reset()
	c.contexts = nil
	c.mu.Unlock()
	defer c.reset()

	c.conv.Append(newMessage(RoleUser, query, nil))

	body, err := c.streamer.Query(ctx, backend.QueryRequest{
		Query:   query,
		TopK:    c.topK,
		Stream:  true,
		FileIDs: scope,
	})
	if err != nil {
		// A decoded error body means the server answered and refused;
		// anything else means we never spoke to it. Neither touches the
		// conversation: only in-stream error frames become history.
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) {
			c.notify.Error(apiErr.Format())
		} else {
			c.notify.Error("Could not reach the document service")
		}
		slog.Debug("query submit failed", "error", err)
		return err
	}
	defer body.Close()

	return c.consume(sse.NewReader(body))
}

// consume drives the session state machine over the event stream.
func (c *Client) consume(r *sse.Reader) error {
	for {
		ev, ok := r.Next()
		if !ok {
			break
		}

		switch ev.Kind {
		case sse.KindMessage:
			if ev.Data == "" {
				continue
			}
			c.appendDelta(extractText(ev.Data))

		case sse.KindContext:
			if ev.Data == "" {
				continue
			}
			var chunks []ContextChunk
			if err := json.Unmarshal([]byte(ev.Data), &chunks); err != nil {
				// Not fatal: the answer finalizes without citations.
				slog.Warn("discarding malformed context payload", "error", err)
				continue
			}
			c.setContexts(chunks)

		case sse.KindError:
			// Terminal. The partial answer is discarded; the formatted
			// server error becomes the assistant message.
			apiErr := backend.ParseAPIError(0, []byte(ev.Data))
			text := apiErr.Format()
			c.conv.Append(newMessage(RoleAssistant, text, nil))
			c.notify.Error(text)
			return apiErr

		case sse.KindEnd:
			c.complete()
			return nil

		default:
			// Unknown event kinds (the server currently emits "start")
			// are skipped for forward compatibility.
			slog.Debug("skipping unrecognized event", "kind", ev.Kind)
		}
	}

	// An interrupted stream, whether a transport failure or a cancelled
	// session, abandons the partial answer without touching the history.
	if err := r.Err(); err != nil {
		c.notify.Error("Stream error occurred")
		return err
	}

	// Natural close without an end frame is a completion.
	c.complete()
	return nil
}

// complete finalizes a successful session into one assistant message.
func (c *Client) complete() {
	c.mu.Lock()
	answer := c.answer.String()
	contexts := c.contexts
	c.mu.Unlock()

	c.conv.Append(newMessage(RoleAssistant, answer, contexts))
	c.notify.Success("Response received")
}

// reset returns the client to idle, clearing session-owned state.
func (c *Client) reset() {
	c.mu.Lock()
	c.answer.Reset()
	c.contexts = nil
	c.active = false
	c.mu.Unlock()
}

func (c *Client) appendDelta(delta string) {
	if delta == "" {
		return
	}
	c.mu.Lock()
	c.answer.WriteString(delta)
	c.mu.Unlock()
	if c.onDelta != nil {
		c.onDelta(delta)
	}
}

func (c *Client) setContexts(chunks []ContextChunk) {
	c.mu.Lock()
	c.contexts = chunks
	c.mu.Unlock()
}

// extractText pulls the display text out of a message payload. Payloads are
// normally JSON objects with a "cleaned" field; anything that fails to
// decode is treated as literal text.
func extractText(data string) string {
	var payload struct {
		Cleaned string `json:"cleaned"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return data
	}
	return payload.Cleaned
}
