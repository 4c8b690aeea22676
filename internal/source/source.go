// Package source fetches messages from remote Telegram channels through a
// pluggable transport and turns the transport's "list recent" capability
// into bounded bootstrap/incremental fetches.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Message is a single message observed in one channel. Messages are
// immutable once observed; the transport never rewrites history.
type Message struct {
	Channel    string      `json:"channel"`              // channel identifier
	ID         int64       `json:"id"`                   // monotonically increasing within a channel
	Text       string      `json:"text,omitempty"`       // message body, may be empty
	Engagement *Engagement `json:"engagement,omitempty"` // opaque pass-through counters
	Date       time.Time   `json:"date"`                 // publication timestamp
	URL        string      `json:"url"`                  // derived from channel and id
}

// Engagement carries whatever counters the transport reports. The collector
// never interprets these, it only stores them.
type Engagement struct {
	Views     int            `json:"views,omitempty"`
	Forwards  int            `json:"forwards,omitempty"`
	Replies   int            `json:"replies,omitempty"`
	Reactions map[string]int `json:"reactions,omitempty"`
}

// Key identifies a message across the whole dataset. A struct rather than a
// formatted string so a channel name containing a delimiter cannot collide.
type Key struct {
	Channel string
	ID      int64
}

// KeyOf returns the identity key of m.
func KeyOf(m Message) Key {
	return Key{Channel: m.Channel, ID: m.ID}
}

// MessageURL derives the canonical public link for a message.
func MessageURL(channel string, id int64) string {
	return fmt.Sprintf("https://t.me/%s/%d", channel, id)
}

// RecentOptions narrows a Transport.Recent call.
type RecentOptions struct {
	// OffsetID requests messages strictly older than this id (newest-first
	// pagination). Zero means start from the newest message.
	OffsetID int64

	// MinID requests messages strictly newer than this id. The transport
	// applies it server-side; the fetcher never filters client-side.
	MinID int64

	// Limit caps the page size.
	Limit int
}

// Transport lists recent messages of a channel, newest first. It is the
// single long-lived handle to the remote service; implementations may share
// one underlying connection across calls.
//
// Recent may return a partial page together with an error: messages yielded
// before a rate-limit signal or a mid-stream failure are still returned.
type Transport interface {
	Recent(ctx context.Context, channel string, opts RecentOptions) ([]Message, error)
}

// ErrSourceNotFound reports that a channel could not be resolved. The
// fetcher treats it as non-fatal and isolates it to the one channel.
var ErrSourceNotFound = errors.New("source: channel not found")

// RateLimitError is the transport's soft back-off signal. It tells the
// caller how long the remote side wants us to wait.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("source: rate limited, retry after %s", e.RetryAfter)
}
