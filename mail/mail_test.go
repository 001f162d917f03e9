package mail

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"scholars-backend/results"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}

func notification(to string) results.Notification {
	return results.Notification{
		To:       to,
		Template: results.TemplateResultsPublished,
		Payload: map[string]any{
			"competition":    "spring-2026",
			"registrationId": "REG-001",
			"score":          "87.5",
			"rank":           3,
		},
	}
}

func TestPlainTextKeepsLinksAndParagraphs(t *testing.T) {
	html := `<html><head><style>p{}</style></head><body>
		<h2>Hello</h2>
		<p>First   line</p>
		<p><a href="https://example.org/r">View</a></p>
	</body></html>`

	text, err := PlainText(html)
	require.NoError(t, err)
	assert.Equal(t, "Hello\n\nFirst line\n\nView (https://example.org/r)", text)
}

func TestRendererResultsPublished(t *testing.T) {
	r := NewRenderer("https://scholars.example")
	n := notification("ana@example.org")

	msg, err := r.Render(n.To, n.Template, n.Payload)
	require.NoError(t, err)

	assert.Equal(t, "ana@example.org", msg.To)
	assert.Equal(t, "Your spring-2026 results", msg.Subject)
	assert.Contains(t, msg.HTML, "Score: 87.5")
	assert.NotContains(t, msg.HTML, "Percentile:")
	assert.Contains(t, msg.Text, "Rank: 3")
	assert.Contains(t, msg.Text, "(https://scholars.example/results/spring-2026)")
}

func TestRendererUnknownTemplate(t *testing.T) {
	_, err := NewRenderer("").Render("a@example.org", "nope", nil)
	assert.Error(t, err)
}

func TestDispatcherDeliversQueuedNotifications(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, NewRenderer("https://scholars.example"), WithWorkers(3), WithQueueSize(16))
	d.Start(context.Background())

	d.Dispatch(context.Background(), []results.Notification{
		notification("a@example.org"),
		notification("b@example.org"),
		notification("c@example.org"),
	})
	require.NoError(t, d.Close())

	got := map[string]bool{}
	for _, m := range sender.messages() {
		got[m.To] = true
	}
	assert.Equal(t, map[string]bool{"a@example.org": true, "b@example.org": true, "c@example.org": true}, got)
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, NewRenderer(""), WithWorkers(1), WithQueueSize(1))

	// Workers are not started, so only one message fits.
	d.Dispatch(context.Background(), []results.Notification{
		notification("a@example.org"),
		notification("b@example.org"),
	})
	d.Start(context.Background())
	require.NoError(t, d.Close())

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "a@example.org", msgs[0].To)
}

func TestDispatcherSendFailureIsNotFatal(t *testing.T) {
	sender := &recordingSender{err: errors.New("smtp down")}
	d := NewDispatcher(sender, NewRenderer(""), WithWorkers(1))
	d.Start(context.Background())

	d.Dispatch(context.Background(), []results.Notification{notification("a@example.org")})
	assert.NoError(t, d.Close())
	assert.Empty(t, sender.messages())
}

func TestDispatchAfterCloseIsDropped(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, NewRenderer(""))
	d.Start(context.Background())
	require.NoError(t, d.Close())

	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), []results.Notification{notification("a@example.org")})
	})
	assert.NoError(t, d.Close())
	assert.Empty(t, sender.messages())
}
