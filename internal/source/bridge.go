package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultRetryAfter     = 30 * time.Second
	maxBodyBytes          = 8 << 20 // 8 MiB per page
)

// BridgeTransport talks to a Telethon bridge service over HTTP. The bridge
// owns the MTProto session and exposes channel history as JSON:
//
//	GET {base}/api/channels/{channel}/messages?limit=N&offset_id=I&min_id=M
//	  -> {"messages": [{...}, ...]}   newest first
//
// 404 means the channel could not be resolved, 429 carries a Retry-After
// header with the flood-wait seconds.
type BridgeTransport struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewBridge creates a transport for the bridge at baseURL. The token is
// optional; when set it is sent as a bearer credential.
func NewBridge(baseURL, token string) (*BridgeTransport, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("bridge: base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("bridge: invalid base URL: %w", err)
	}

	return &BridgeTransport{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: defaultRequestTimeout},
	}, nil
}

// bridgeMessage is the wire schema emitted by the bridge.
type bridgeMessage struct {
	ID        int64          `json:"id"`
	Text      string         `json:"text"`
	Date      string         `json:"date"`
	Views     int            `json:"views"`
	Forwards  int            `json:"forwards"`
	Replies   int            `json:"replies"`
	Reactions map[string]int `json:"reactions"`
}

type bridgePage struct {
	Messages []bridgeMessage `json:"messages"`
}

// Recent lists one page of channel history, newest first.
func (t *BridgeTransport) Recent(ctx context.Context, channel string, opts RecentOptions) ([]Message, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.OffsetID > 0 {
		q.Set("offset_id", strconv.FormatInt(opts.OffsetID, 10))
	}
	if opts.MinID > 0 {
		q.Set("min_id", strconv.FormatInt(opts.MinID, 10))
	}

	endpoint := fmt.Sprintf("%s/api/channels/%s/messages", t.baseURL, url.PathEscape(channel))
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bridge: %s: %w", channel, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to decode
	case http.StatusNotFound:
		return nil, fmt.Errorf("bridge: %s: %w", channel, ErrSourceNotFound)
	case http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: retryAfter(resp)}
	default:
		return nil, fmt.Errorf("bridge: %s: unexpected status %d", channel, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("bridge: %s: read body: %w", channel, err)
	}

	var page bridgePage
	if err := json.Unmarshal(body, &page.Messages); err != nil {
		// Envelope form; the bridge emitted a bare array otherwise.
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("bridge: %s: decode page: %w", channel, err)
		}
	}

	msgs := make([]Message, 0, len(page.Messages))
	for _, bm := range page.Messages {
		msgs = append(msgs, bm.toMessage(channel))
	}
	return msgs, nil
}

func (bm bridgeMessage) toMessage(channel string) Message {
	m := Message{
		Channel: channel,
		ID:      bm.ID,
		Text:    bm.Text,
		URL:     MessageURL(channel, bm.ID),
	}

	if bm.Date != "" {
		if ts, err := time.Parse(time.RFC3339, bm.Date); err == nil {
			m.Date = ts.UTC()
		}
	}

	if bm.Views != 0 || bm.Forwards != 0 || bm.Replies != 0 || len(bm.Reactions) > 0 {
		m.Engagement = &Engagement{
			Views:     bm.Views,
			Forwards:  bm.Forwards,
			Replies:   bm.Replies,
			Reactions: bm.Reactions,
		}
	}

	return m
}

// retryAfter parses the Retry-After header, falling back to a conservative
// default when the bridge omitted or mangled it.
func retryAfter(resp *http.Response) time.Duration {
	raw := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if raw == "" {
		return defaultRetryAfter
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}
