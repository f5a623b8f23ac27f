package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	dialTimeout       = 15 * time.Second
	heartbeatInterval = 30 * time.Second
	writeTimeout      = 10 * time.Second
)

// Client is a phoenix-channel style change-feed client over a
// websocket connection. Each Subscribe call opens its own connection
// and joins one topic; Close leaves the topic and drops the socket.
type Client struct {
	url    string
	apiKey string
}

// Ensure Client implements FeedInterface
var _ FeedInterface = (*Client)(nil)

// NewClient creates a change-feed client for the given websocket URL.
func NewClient(url, apiKey string) *Client {
	return &Client{url: url, apiKey: apiKey}
}

// message is the phoenix wire envelope.
type message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

// changePayload is the body of a postgres_changes event.
type changePayload struct {
	Data struct {
		Type   string          `json:"type"`
		Table  string          `json:"table"`
		Record json.RawMessage `json:"record"`
	} `json:"data"`
}

type subscription struct {
	topic     string
	conn      *websocket.Conn
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// Subscribe dials the feed, joins a topic scoped to opts and dispatches
// change events to handler until Close is called or the connection
// drops.
func (c *Client) Subscribe(opts Options, handler Handler) (Subscription, error) {
	if c.url == "" {
		return nil, fmt.Errorf("realtime URL is not configured")
	}

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	url := c.url
	if c.apiKey != "" {
		url = fmt.Sprintf("%s?apikey=%s", c.url, c.apiKey)
	}

	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial change-feed: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	topic := "realtime:" + opts.Channel

	join := map[string]interface{}{
		"config": map[string]interface{}{
			"postgres_changes": []map[string]string{
				{
					"event":  "*",
					"schema": opts.Schema,
					"table":  opts.Table,
					"filter": opts.Filter,
				},
			},
		},
	}
	if err := writeMessage(ctx, conn, topic, "phx_join", join); err != nil {
		cancel()
		conn.Close(websocket.StatusInternalError, "join failed")
		return nil, fmt.Errorf("failed to join channel %s: %w", topic, err)
	}

	sub := &subscription{topic: topic, conn: conn, cancel: cancel}

	go sub.readLoop(ctx, handler)
	go sub.heartbeatLoop(ctx)

	logrus.Infof("Subscribed to change-feed channel %s (table %s.%s)", topic, opts.Schema, opts.Table)
	return sub, nil
}

// Close leaves the topic and closes the connection. Safe to call more
// than once.
func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		leaveCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := writeMessage(leaveCtx, s.conn, s.topic, "phx_leave", map[string]interface{}{}); err != nil {
			logrus.Debugf("Leave message for %s failed: %v", s.topic, err)
		}
		cancel()

		s.cancel()
		s.closeErr = s.conn.Close(websocket.StatusNormalClosure, "unsubscribed")
		logrus.Infof("Unsubscribed from change-feed channel %s", s.topic)
	})
	return s.closeErr
}

func (s *subscription) readLoop(ctx context.Context, handler Handler) {
	for {
		var msg message
		if err := wsjson.Read(ctx, s.conn, &msg); err != nil {
			if ctx.Err() == nil {
				logrus.Errorf("Change-feed read on %s failed: %v", s.topic, err)
			}
			return
		}

		switch msg.Event {
		case "postgres_changes":
			var payload changePayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				logrus.Debugf("Undecodable change payload on %s: %v", s.topic, err)
				continue
			}
			handler(Event{
				Type:    payload.Data.Type,
				Table:   payload.Data.Table,
				Payload: payload.Data.Record,
			})
		case "phx_reply", "presence_state":
			// Join acks and presence frames carry nothing we act on.
		default:
			logrus.Debugf("Ignoring change-feed event %q on %s", msg.Event, s.topic)
		}
	}
}

func (s *subscription) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeMessage(ctx, s.conn, "phoenix", "heartbeat", map[string]interface{}{}); err != nil {
				if ctx.Err() == nil {
					logrus.Errorf("Change-feed heartbeat on %s failed: %v", s.topic, err)
				}
				return
			}
		}
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, topic, event string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	return wsjson.Write(writeCtx, conn, message{
		Topic:   topic,
		Event:   event,
		Payload: body,
		Ref:     uuid.NewString(),
	})
}
