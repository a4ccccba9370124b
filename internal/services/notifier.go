package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"councilboard/internal/models"

	"go.uber.org/zap"
)

// WebhookMessage is the body accepted by chat webhooks.
type WebhookMessage struct {
	Content    string  `json:"content,omitempty"`
	Username   string  `json:"username,omitempty"`
	ThreadName string  `json:"thread_name,omitempty"`
	Embeds     []Embed `json:"embeds,omitempty"`
}

type Embed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	Color       int    `json:"color,omitempty"`
}

// WebhookClient posts messages and returns the created message id.
type WebhookClient struct {
	client *http.Client
}

func NewWebhookClient(timeout time.Duration) *WebhookClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookClient{client: &http.Client{Timeout: timeout}}
}

// Send posts msg to webhookURL, inside threadID when set. The returned id can be
// used as threadID for follow-up messages.
func (c *WebhookClient) Send(ctx context.Context, webhookURL string, msg WebhookMessage, threadID string) (string, error) {
	u, err := url.Parse(webhookURL)
	if err != nil {
		return "", fmt.Errorf("parse webhook url: %w", err)
	}
	q := u.Query()
	q.Set("wait", "true")
	if threadID != "" {
		q.Set("thread_id", threadID)
	}
	u.RawQuery = q.Encode()

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode webhook message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode webhook response: %w", err)
	}
	return created.ID, nil
}

// MessageIDStore persists the per-channel message handles of an issue.
type MessageIDStore interface {
	SaveMessageIDs(ctx context.Context, issueID uint, council, student string) error
	MessageIDs(ctx context.Context, issueID uint) (council, student string, err error)
}

type NotifierConfig struct {
	CouncilURL string
	StudentURL string
	SiteURL    string
	Timeout    time.Duration
}

const (
	colorOpen     = 0x2ecc71
	colorArchived = 0x95a5a6
	colorOfficial = 0x3498db
)

// Notifier fans issue events out to the council and student channels. Every
// dispatch runs in the background; failures are logged and never reach the caller.
type Notifier struct {
	client     *WebhookClient
	store      MessageIDStore
	log        *zap.Logger
	councilURL string
	studentURL string
	siteURL    string
	timeout    time.Duration
	wg         sync.WaitGroup

	// Issues whose threads are still being opened; closed once the handles are saved.
	mu      sync.Mutex
	opening map[uint]chan struct{}
}

func NewNotifier(cfg NotifierConfig, store MessageIDStore, log *zap.Logger) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		client:     NewWebhookClient(timeout),
		store:      store,
		log:        log,
		councilURL: cfg.CouncilURL,
		studentURL: cfg.StudentURL,
		siteURL:    strings.TrimSuffix(cfg.SiteURL, "/"),
		timeout:    timeout,
		opening:    make(map[uint]chan struct{}),
	}
}

// IssueCreated opens a thread per channel and stores the returned handles.
func (n *Notifier) IssueCreated(issue models.Issue) {
	if !n.enabled() {
		return
	}
	done := make(chan struct{})
	n.mu.Lock()
	n.opening[issue.ID] = done
	n.mu.Unlock()

	n.dispatch("issue_created", issue.ID, func(ctx context.Context) error {
		defer n.threadsOpened(issue.ID, done)

		msg := WebhookMessage{
			ThreadName: truncate(issue.Title, 100),
			Embeds: []Embed{{
				Title:       issue.Title,
				Description: truncate(issue.Description, 2000),
				URL:         n.issueURL(issue.ID),
				Color:       colorOpen,
			}},
		}

		var council, student string
		var firstErr error
		if n.councilURL != "" {
			id, err := n.client.Send(ctx, n.councilURL, msg, "")
			if err != nil {
				firstErr = fmt.Errorf("council channel: %w", err)
			}
			council = id
		}
		if n.studentURL != "" {
			id, err := n.client.Send(ctx, n.studentURL, msg, "")
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("student channel: %w", err)
			}
			student = id
		}

		if council != "" || student != "" {
			if err := n.store.SaveMessageIDs(ctx, issue.ID, council, student); err != nil {
				return fmt.Errorf("save message ids: %w", err)
			}
		}
		return firstErr
	})
}

// CommentCreated posts into the council thread. Official statements are also
// posted into the student thread.
func (n *Notifier) CommentCreated(issue models.Issue, comment models.Comment) {
	opening := n.openingThreads(issue.ID)
	n.dispatch("comment_created", issue.ID, func(ctx context.Context) error {
		council, student := n.threads(ctx, issue, opening)
		title := "New comment"
		color := colorOpen
		if comment.Official {
			title = "Official statement"
			color = colorOfficial
		}
		msg := WebhookMessage{Embeds: []Embed{{
			Title:       title,
			Description: truncate(comment.Text, 2000),
			URL:         n.issueURL(issue.ID),
			Color:       color,
		}}}

		if n.councilURL != "" {
			if _, err := n.client.Send(ctx, n.councilURL, msg, council); err != nil {
				return fmt.Errorf("council channel: %w", err)
			}
		}
		if comment.Official && n.studentURL != "" {
			if _, err := n.client.Send(ctx, n.studentURL, msg, student); err != nil {
				return fmt.Errorf("student channel: %w", err)
			}
		}
		return nil
	})
}

// IssueArchived posts a status line into both threads.
func (n *Notifier) IssueArchived(issue models.Issue, archived bool) {
	opening := n.openingThreads(issue.ID)
	n.dispatch("issue_archived", issue.ID, func(ctx context.Context) error {
		council, student := n.threads(ctx, issue, opening)
		content := "This issue has been archived."
		if !archived {
			content = "This issue has been reopened."
		}
		msg := WebhookMessage{Content: content}

		if n.councilURL != "" {
			if _, err := n.client.Send(ctx, n.councilURL, msg, council); err != nil {
				return fmt.Errorf("council channel: %w", err)
			}
		}
		if n.studentURL != "" {
			if _, err := n.client.Send(ctx, n.studentURL, msg, student); err != nil {
				return fmt.Errorf("student channel: %w", err)
			}
		}
		return nil
	})
}

// Wait blocks until every in-flight dispatch has finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) enabled() bool {
	return n.councilURL != "" || n.studentURL != ""
}

func (n *Notifier) threadsOpened(issueID uint, done chan struct{}) {
	n.mu.Lock()
	if n.opening[issueID] == done {
		delete(n.opening, issueID)
	}
	n.mu.Unlock()
	close(done)
}

// openingThreads returns a channel that closes when the issue's threads exist,
// or nil when no IssueCreated dispatch is in flight.
func (n *Notifier) openingThreads(issueID uint) <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.opening[issueID]
}

// threads returns the current message handles of issue. The copy the caller read
// may predate IssueCreated saving them, so they are reloaded from the store.
func (n *Notifier) threads(ctx context.Context, issue models.Issue, opening <-chan struct{}) (council, student string) {
	if opening != nil {
		select {
		case <-opening:
		case <-ctx.Done():
		}
	}
	council, student, err := n.store.MessageIDs(ctx, issue.ID)
	if err != nil {
		n.log.Warn("reload message ids", zap.Uint("issue_id", issue.ID), zap.Error(err))
		return issue.CouncilMessageID, issue.StudentMessageID
	}
	return council, student
}

func (n *Notifier) dispatch(event string, issueID uint, fn func(ctx context.Context) error) {
	if !n.enabled() {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*n.timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			n.log.Warn("notification failed",
				zap.String("event", event),
				zap.Uint("issue_id", issueID),
				zap.Error(err))
		}
	}()
}

func (n *Notifier) issueURL(id uint) string {
	if n.siteURL == "" {
		return ""
	}
	return n.siteURL + "/issues/" + strconv.FormatUint(uint64(id), 10)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
