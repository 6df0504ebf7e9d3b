package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/keldan/docq/internal/backend"
)

// fragmentReader yields exactly one configured fragment per Read call,
// reproducing a specific network chunking.
type fragmentReader struct {
	fragments []string
	pos       int
	final     error
}

func (f *fragmentReader) Read(p []byte) (int, error) {
	if f.pos >= len(f.fragments) {
		if f.final != nil {
			return 0, f.final
		}
		return 0, io.EOF
	}
	n := copy(p, f.fragments[f.pos])
	f.pos++
	return n, nil
}

func (f *fragmentReader) Close() error { return nil }

type fakeStreamer struct {
	body io.ReadCloser
	err  error
	got  backend.QueryRequest
}

func (f *fakeStreamer) Query(_ context.Context, req backend.QueryRequest) (io.ReadCloser, error) {
	f.got = req
	return f.body, f.err
}

type recordingNotifier struct {
	successes, infos, warnings, errors []string
}

func (n *recordingNotifier) Success(m string) { n.successes = append(n.successes, m) }
func (n *recordingNotifier) Info(m string)    { n.infos = append(n.infos, m) }
func (n *recordingNotifier) Warning(m string) { n.warnings = append(n.warnings, m) }
func (n *recordingNotifier) Error(m string)   { n.errors = append(n.errors, m) }

func streamOf(fragments ...string) *fakeStreamer {
	return &fakeStreamer{body: &fragmentReader{fragments: fragments}}
}

func waitStreaming(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !c.Streaming() {
		if time.Now().After(deadline) {
			t.Fatal("session never became active")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAskFullScenario(t *testing.T) {
	// The canonical fragment sequence: context, two answer deltas, end.
	s := streamOf(
		"event: context\ndata: [{\"chunk\":\"x\",\"citation\":{\"doc_id\":\"d1\"}}]\n\n",
		"data: {\"cleaned\":\"Hel\"}\n\n",
		"data: {\"cleaned\":\"lo\"}\n\nevent: end\ndata:\n\n",
	)
	notify := &recordingNotifier{}
	c := New(s, Options{Notify: notify})

	if err := c.Ask(context.Background(), "what is x?", nil); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "what is x?" {
		t.Errorf("user message = %+v", msgs[0])
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content != "Hello" {
		t.Errorf("assistant content = %q, want %q", msgs[1].Content, "Hello")
	}
	if len(msgs[1].Contexts) != 1 || msgs[1].Contexts[0].Citation.DocID != "d1" {
		t.Errorf("contexts = %+v, want one chunk for d1", msgs[1].Contexts)
	}
	if len(notify.successes) != 1 {
		t.Errorf("successes = %v, want one", notify.successes)
	}
	if c.Streaming() {
		t.Error("still streaming after finalize")
	}
	if c.CurrentAnswer() != "" {
		t.Errorf("CurrentAnswer = %q after finalize, want empty", c.CurrentAnswer())
	}
}

func TestAskRawTextFallback(t *testing.T) {
	s := streamOf("data: plain text, not json\n\nevent: end\ndata:\n\n")
	c := New(s, Options{})

	if err := c.Ask(context.Background(), "q", nil); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	msgs := c.Messages()
	if got := msgs[1].Content; got != " plain text, not json" {
		t.Errorf("content = %q, want raw payload verbatim", got)
	}
}

func TestAskErrorFrameDiscardsPartialAnswer(t *testing.T) {
	s := streamOf(
		"data: {\"cleaned\":\"partial \"}\n\n",
		"event: error\ndata: {\"message\":\"model crashed\",\"hint\":\"retry\",\"correlation_id\":\"req-9\"}\n\n",
		// Anything after the error frame must be ignored.
		"data: {\"cleaned\":\"ghost\"}\n\nevent: end\ndata:\n\n",
	)
	notify := &recordingNotifier{}
	c := New(s, Options{Notify: notify})

	err := c.Ask(context.Background(), "q", nil)
	var apiErr *backend.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *backend.APIError", err)
	}

	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	want := "model crashed (retry) [req-9]"
	if msgs[1].Content != want {
		t.Errorf("assistant content = %q, want %q", msgs[1].Content, want)
	}
	if strings.Contains(msgs[1].Content, "partial") {
		t.Error("partial answer leaked into the error message")
	}
	if len(notify.errors) != 1 || notify.errors[0] != want {
		t.Errorf("error notices = %v, want [%q]", notify.errors, want)
	}
	if c.Streaming() {
		t.Error("stuck in streaming state after error frame")
	}
}

func TestAskContextParseFailureIsNonFatal(t *testing.T) {
	s := streamOf(
		"event: context\ndata: not-json\n\n",
		"data: {\"cleaned\":\"answer\"}\n\nevent: end\ndata:\n\n",
	)
	c := New(s, Options{})

	if err := c.Ask(context.Background(), "q", nil); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	msgs := c.Messages()
	if msgs[1].Content != "answer" {
		t.Errorf("content = %q, want %q", msgs[1].Content, "answer")
	}
	if len(msgs[1].Contexts) != 0 {
		t.Errorf("contexts = %+v, want none after parse failure", msgs[1].Contexts)
	}
}

func TestAskLastContextWins(t *testing.T) {
	s := streamOf(
		"event: context\ndata: [{\"chunk\":\"old\",\"citation\":{\"doc_id\":\"d1\"}}]\n\n",
		"event: context\ndata: [{\"chunk\":\"new\",\"citation\":{\"doc_id\":\"d2\"}},{\"chunk\":\"new2\",\"citation\":{\"doc_id\":\"d3\"}}]\n\n",
		"event: end\ndata:\n\n",
	)
	c := New(s, Options{})

	if err := c.Ask(context.Background(), "q", nil); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	ctxs := c.Messages()[1].Contexts
	if len(ctxs) != 2 || ctxs[0].Citation.DocID != "d2" {
		t.Errorf("contexts = %+v, want the second payload", ctxs)
	}
}

func TestAskUnknownEventKindsIgnored(t *testing.T) {
	s := streamOf(
		"event: start\n\n",
		"event: heartbeat\ndata: {\"cleaned\":\"should not appear\"}\n\n",
		"data: {\"cleaned\":\"ok\"}\n\nevent: end\ndata:\n\n",
	)
	c := New(s, Options{})

	if err := c.Ask(context.Background(), "q", nil); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got := c.Messages()[1].Content; got != "ok" {
		t.Errorf("content = %q, want %q", got, "ok")
	}
}

func TestAskNaturalCloseCompletes(t *testing.T) {
	// No end frame: EOF finalizes as completed.
	s := streamOf("data: {\"cleaned\":\"done\"}\n\n")
	c := New(s, Options{})

	if err := c.Ask(context.Background(), "q", nil); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got := c.Messages()[1].Content; got != "done" {
		t.Errorf("content = %q, want %q", got, "done")
	}
}

func TestAskTransportFailureLeavesHistoryAlone(t *testing.T) {
	t.Run("cannot open stream", func(t *testing.T) {
		s := &fakeStreamer{err: errors.New("dial tcp: connection refused")}
		notify := &recordingNotifier{}
		c := New(s, Options{Notify: notify})

		if err := c.Ask(context.Background(), "q", nil); err == nil {
			t.Fatal("expected error")
		}
		// The user message stays; no assistant message is synthesized.
		if got := c.Messages(); len(got) != 1 || got[0].Role != RoleUser {
			t.Errorf("messages = %+v, want only the user message", got)
		}
		if len(notify.errors) != 1 {
			t.Errorf("error notices = %v, want one generic notice", notify.errors)
		}
		if c.Streaming() {
			t.Error("stuck in streaming state")
		}
	})

	t.Run("mid-stream read failure", func(t *testing.T) {
		s := &fakeStreamer{body: &fragmentReader{
			fragments: []string{"data: {\"cleaned\":\"par\"}\n\n"},
			final:     errors.New("connection reset"),
		}}
		notify := &recordingNotifier{}
		c := New(s, Options{Notify: notify})

		if err := c.Ask(context.Background(), "q", nil); err == nil {
			t.Fatal("expected error")
		}
		if got := c.Messages(); len(got) != 1 {
			t.Errorf("messages = %+v, want only the user message", got)
		}
	})

	t.Run("refused with error body", func(t *testing.T) {
		s := &fakeStreamer{err: &backend.APIError{Status: 503, Message: "overloaded"}}
		notify := &recordingNotifier{}
		c := New(s, Options{Notify: notify})

		if err := c.Ask(context.Background(), "q", nil); err == nil {
			t.Fatal("expected error")
		}
		if got := c.Messages(); len(got) != 1 {
			t.Errorf("messages = %+v, want only the user message", got)
		}
		if len(notify.errors) != 1 || notify.errors[0] != "overloaded" {
			t.Errorf("error notices = %v, want [overloaded]", notify.errors)
		}
	})
}

func TestAskCancellationAbandonsPartialAnswer(t *testing.T) {
	s := &fakeStreamer{body: &fragmentReader{
		fragments: []string{"data: {\"cleaned\":\"par\"}\n\n"},
		final:     context.Canceled,
	}}
	notify := &recordingNotifier{}
	c := New(s, Options{Notify: notify})

	err := c.Ask(context.Background(), "q", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	// A cancelled session is an interrupted stream, not a completion: the
	// partial answer must not be committed to the history.
	if got := c.Messages(); len(got) != 1 || got[0].Role != RoleUser {
		t.Errorf("messages = %+v, want only the user message", got)
	}
	if len(notify.successes) != 0 {
		t.Errorf("successes = %v, want none", notify.successes)
	}
	if len(notify.errors) != 1 || notify.errors[0] != "Stream error occurred" {
		t.Errorf("error notices = %v, want [Stream error occurred]", notify.errors)
	}
	if c.Streaming() {
		t.Error("stuck in streaming state after cancellation")
	}
	if c.CurrentAnswer() != "" {
		t.Errorf("CurrentAnswer = %q after cancellation, want empty", c.CurrentAnswer())
	}
}

func TestAskBlankQueryRejected(t *testing.T) {
	s := streamOf()
	notify := &recordingNotifier{}
	c := New(s, Options{Notify: notify})

	if err := c.Ask(context.Background(), "   \n", nil); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("err = %v, want ErrEmptyQuery", err)
	}
	if got := len(c.Messages()); got != 0 {
		t.Errorf("got %d messages, want 0", got)
	}
	if len(notify.warnings) != 1 {
		t.Errorf("warnings = %v, want one", notify.warnings)
	}
}

func TestAskRejectedWhileActive(t *testing.T) {
	pr, pw := io.Pipe()
	s := &fakeStreamer{body: pr}
	notify := &recordingNotifier{}
	c := New(s, Options{Notify: notify})

	done := make(chan error, 1)
	go func() {
		done <- c.Ask(context.Background(), "first", nil)
	}()

	// Hold the stream open until the session is observably active.
	io.WriteString(pw, "data: {\"cleaned\":\"a\"}\n\n")
	waitStreaming(t, c)
	lenBefore := c.Conversation().Len()

	if err := c.Ask(context.Background(), "second", nil); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("concurrent Ask err = %v, want ErrSessionActive", err)
	}
	if got := c.Conversation().Len(); got != lenBefore {
		t.Errorf("conversation length changed from %d to %d on rejected submit", lenBefore, got)
	}

	io.WriteString(pw, "event: end\ndata:\n\n")
	pw.Close()
	if err := <-done; err != nil {
		t.Fatalf("first Ask: %v", err)
	}
}

func TestCurrentAnswerObservableMidStream(t *testing.T) {
	pr, pw := io.Pipe()
	s := &fakeStreamer{body: pr}
	deltas := make(chan string, 8)
	c := New(s, Options{OnDelta: func(d string) { deltas <- d }})

	done := make(chan error, 1)
	go func() {
		done <- c.Ask(context.Background(), "q", nil)
	}()

	io.WriteString(pw, "data: {\"cleaned\":\"Hel\"}\n\n")
	if d := <-deltas; d != "Hel" {
		t.Errorf("delta = %q, want %q", d, "Hel")
	}
	if got := c.CurrentAnswer(); got != "Hel" {
		t.Errorf("CurrentAnswer mid-stream = %q, want %q", got, "Hel")
	}
	if !c.Streaming() {
		t.Error("Streaming() = false mid-stream")
	}

	io.WriteString(pw, "data: {\"cleaned\":\"lo\"}\n\nevent: end\ndata:\n\n")
	if d := <-deltas; d != "lo" {
		t.Errorf("delta = %q, want %q", d, "lo")
	}
	pw.Close()

	if err := <-done; err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got := c.Messages()[1].Content; got != "Hello" {
		t.Errorf("final content = %q, want %q", got, "Hello")
	}
}

func TestClearBlockedWhileActive(t *testing.T) {
	pr, pw := io.Pipe()
	s := &fakeStreamer{body: pr}
	c := New(s, Options{})

	done := make(chan error, 1)
	go func() {
		done <- c.Ask(context.Background(), "q", nil)
	}()
	io.WriteString(pw, "data: {\"cleaned\":\"a\"}\n\n")
	waitStreaming(t, c)

	if err := c.Clear(); !errors.Is(err, ErrSessionActive) {
		t.Errorf("Clear while active = %v, want ErrSessionActive", err)
	}

	io.WriteString(pw, "event: end\ndata:\n\n")
	pw.Close()
	<-done

	if err := c.Clear(); err != nil {
		t.Fatalf("Clear after finalize: %v", err)
	}
	if err := c.Clear(); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
	if got := c.Conversation().Len(); got != 0 {
		t.Errorf("length after double clear = %d, want 0", got)
	}
}

func TestAskForwardsScopeAndTopK(t *testing.T) {
	s := streamOf("event: end\ndata:\n\n")
	c := New(s, Options{TopK: 7})

	if err := c.Ask(context.Background(), "q", []int64{3, 9}); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if s.got.TopK != 7 || !s.got.Stream {
		t.Errorf("request = %+v, want TopK=7 Stream=true", s.got)
	}
	if len(s.got.FileIDs) != 2 || s.got.FileIDs[0] != 3 {
		t.Errorf("FileIDs = %v, want [3 9]", s.got.FileIDs)
	}
}
