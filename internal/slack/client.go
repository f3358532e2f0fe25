// Package slack is a minimal Slack Web API client covering the two calls
// this service makes: posting a threaded message and resolving the bot's own
// identity for loop prevention. It deliberately stays a thin HTTP wrapper;
// retry and backoff for outbound sends are out of scope.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mizuki-dev/slack-relay-bot/internal/sysutil"
)

// Client talks to the Slack Web API with a bearer token.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client

	mu       sync.Mutex
	botID    string
	resolved bool
}

// New constructs a Client. An empty baseURL falls back to the public API.
func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "https://slack.com/api"
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

type postMessageReq struct {
	Channel  string `json:"channel"`
	ThreadTS string `json:"thread_ts,omitempty"`
	Text     string `json:"text"`
}

type postMessageResp struct {
	OK      bool   `json:"ok"`
	TS      string `json:"ts"`
	Error   string `json:"error"`
	Message *struct {
		TS string `json:"ts"`
	} `json:"message"`
}

type authTestResp struct {
	OK     bool   `json:"ok"`
	BotID  string `json:"bot_id"`
	UserID string `json:"user_id"`
	Error  string `json:"error"`
}

// Send posts text to a channel thread via chat.postMessage and returns the
// platform-assigned message timestamp. An ok:false payload surfaces as an
// error; the returned ts may be empty even on success for some workspaces,
// in which case the caller generates a fallback.
func (c *Client) Send(ctx context.Context, channelID, threadTS, text string) (string, error) {
	body, err := json.Marshal(postMessageReq{
		Channel:  channelID,
		ThreadTS: threadTS,
		Text:     text,
	})
	if err != nil {
		return "", err
	}

	var decoded postMessageResp
	if err := c.post(ctx, "/chat.postMessage", body, &decoded); err != nil {
		return "", err
	}
	if !decoded.OK {
		return "", fmt.Errorf("slack: chat.postMessage failed: %s", orUnknown(decoded.Error))
	}

	ts := decoded.TS
	if ts == "" && decoded.Message != nil {
		ts = decoded.Message.TS
	}
	return ts, nil
}

// BotID returns the workspace identity of this bot, used to ignore the
// bot's own events. A successful auth.test lookup is cached for the life of
// the process; concurrent callers share the cached result. A failed lookup
// returns empty without caching, so the next event retries the lookup and a
// transient API outage cannot permanently disable loop prevention.
func (c *Client) BotID(ctx context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolved {
		return c.botID
	}

	var decoded authTestResp
	if err := c.post(ctx, "/auth.test", []byte("{}"), &decoded); err != nil || !decoded.OK {
		return ""
	}
	c.botID = sysutil.FirstNonEmpty(decoded.BotID, decoded.UserID)
	c.resolved = true
	return c.botID
}

// SetBotID seeds the cached identity, skipping the auth.test lookup.
// Used when SLACK_BOT_ID is configured.
func (c *Client) SetBotID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id != "" {
		c.botID = id
		c.resolved = true
	}
}

func (c *Client) post(ctx context.Context, path string, body []byte, out any) error {
	if c.HTTP == nil {
		return errors.New("slack: http client is nil")
	}
	if strings.TrimSpace(c.Token) == "" {
		return errors.New("slack: bot token is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(snippet))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("slack: %s: %s", path, msg)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown error"
	}
	return s
}
