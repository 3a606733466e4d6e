package feed

import (
	"bytes"
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

	"github.com/google/uuid"
	"github.com/vedran77/pulsecore/internal/domain"
	"github.com/vedran77/pulsecore/pkg/wire"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// APIError is an error response from the HTTP API.
type APIError struct {
	Status  int               `json:"-"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

// Client talks to the chat core on behalf of one user.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a client for baseURL (for example
// "http://localhost:8080"). A nil httpClient uses a 15s timeout client.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

type PostInput struct {
	Content     string              `json:"content"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
	ParentID    *uuid.UUID          `json:"parent_message_id,omitempty"`
	ClientNonce string              `json:"client_nonce,omitempty"`
}

// ListMessages fetches one page of a channel, newest page when before is
// empty.
func (c *Client) ListMessages(ctx context.Context, channelID uuid.UUID, before string, limit int) (*Page, error) {
	q := url.Values{}
	if before != "" {
		q.Set("before", before)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var page Page
	if err := c.do(ctx, http.MethodGet, "/api/v1/channels/"+channelID.String()+"/messages", q, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) ListReplies(ctx context.Context, parentID uuid.UUID) ([]domain.Message, error) {
	var replies []domain.Message
	if err := c.do(ctx, http.MethodGet, "/api/v1/messages/"+parentID.String()+"/replies", nil, nil, &replies); err != nil {
		return nil, err
	}
	return replies, nil
}

func (c *Client) PostMessage(ctx context.Context, channelID uuid.UUID, input PostInput) (*domain.Message, error) {
	var msg domain.Message
	if err := c.do(ctx, http.MethodPost, "/api/v1/channels/"+channelID.String()+"/messages", nil, input, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Send posts a message and reconciles f: the tentative entry shows at once
// and is replaced by the stored message, or dropped on failure.
func (c *Client) Send(ctx context.Context, f *Feed, input PostInput) (*domain.Message, error) {
	if input.ClientNonce == "" {
		input.ClientNonce = uuid.NewString()
	}
	f.AddTentative(input.ClientNonce, input.Content, input.Attachments, time.Now().UTC())

	msg, err := c.PostMessage(ctx, f.ChannelID(), input)
	if err != nil {
		f.Fail(input.ClientNonce)
		return nil, err
	}
	f.Confirm(input.ClientNonce, *msg)
	return msg, nil
}

func (c *Client) DeleteMessage(ctx context.Context, messageID uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/messages/"+messageID.String(), nil, nil, nil)
}

// SetHidden hides or restores a message for everyone; admins only.
func (c *Client) SetHidden(ctx context.Context, messageID uuid.UUID, hidden bool) (*domain.Message, error) {
	var msg domain.Message
	body := map[string]bool{"hidden": hidden}
	if err := c.do(ctx, http.MethodPatch, "/api/v1/messages/"+messageID.String()+"/hidden", nil, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) JoinChannel(ctx context.Context, channelID uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/api/v1/channels/"+channelID.String()+"/join", nil, nil, nil)
}

// LeaveChannel drops the membership. The server ends the stream's
// subscriptions to the channel with unsubscribed frames.
func (c *Client) LeaveChannel(ctx context.Context, channelID uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/api/v1/channels/"+channelID.String()+"/leave", nil, nil, nil)
}

// ToggleReaction reports whether the reaction is now present.
func (c *Client) ToggleReaction(ctx context.Context, messageID uuid.UUID, emoji string) (bool, error) {
	var out struct {
		Applied bool `json:"applied"`
	}
	body := map[string]string{"emoji": emoji}
	if err := c.do(ctx, http.MethodPost, "/api/v1/messages/"+messageID.String()+"/reactions", nil, body, &out); err != nil {
		return false, err
	}
	return out.Applied, nil
}

func (c *Client) Reactions(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]domain.ReactionGroup, error) {
	groups := make(map[uuid.UUID][]domain.ReactionGroup)
	if len(messageIDs) == 0 {
		return groups, nil
	}
	ids := make([]string, len(messageIDs))
	for i, id := range messageIDs {
		ids[i] = id.String()
	}
	q := url.Values{"message_ids": {strings.Join(ids, ",")}}
	if err := c.do(ctx, http.MethodGet, "/api/v1/reactions", q, nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&envelope) == nil && envelope.Error != nil {
			envelope.Error.Status = resp.StatusCode
			apiErr = envelope.Error
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Frame is one decoded server frame. Exactly one of the pointers is set.
type Frame struct {
	Type         string
	Event        *wire.Event
	Subscribed   *wire.Subscribed
	Unsubscribed *wire.Unsubscribed
	Error        *wire.Error
}

// Stream is a realtime WebSocket session.
type Stream struct {
	conn *websocket.Conn
}

// Dial opens the realtime stream.
func (c *Client) Dial(ctx context.Context) (*Stream, error) {
	u := c.baseURL + "/ws?" + url.Values{"token": {c.token}}.Encode()
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}

	// The handshake is bounded by ctx; websocket refuses clients with a
	// Timeout since it would also cut the open stream.
	hc := *c.http
	hc.Timeout = 0

	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPClient: &hc})
	if err != nil {
		return nil, fmt.Errorf("dial realtime stream: %w", err)
	}
	return &Stream{conn: conn}, nil
}

func (s *Stream) Subscribe(ctx context.Context, scope wire.Scope, id uuid.UUID) error {
	return wsjson.Write(ctx, s.conn, wire.ClientFrame{Type: wire.TypeSubscribe, Scope: scope, ID: id})
}

func (s *Stream) Unsubscribe(ctx context.Context, scope wire.Scope, id uuid.UUID) error {
	return wsjson.Write(ctx, s.conn, wire.ClientFrame{Type: wire.TypeUnsubscribe, Scope: scope, ID: id})
}

func (s *Stream) Typing(ctx context.Context, channelID uuid.UUID, typing bool) error {
	frameType := wire.TypeTypingStop
	if typing {
		frameType = wire.TypeTypingStart
	}
	return wsjson.Write(ctx, s.conn, wire.ClientFrame{Type: frameType, ChannelID: channelID})
}

func (s *Stream) Ping(ctx context.Context) error {
	return wsjson.Write(ctx, s.conn, wire.ClientFrame{Type: wire.TypePing})
}

// Next blocks for the next frame.
func (s *Stream) Next(ctx context.Context) (*Frame, error) {
	var raw json.RawMessage
	if err := wsjson.Read(ctx, s.conn, &raw); err != nil {
		return nil, err
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}

	frame := &Frame{Type: head.Type}
	var target any
	switch head.Type {
	case wire.TypeSubscribed:
		frame.Subscribed = &wire.Subscribed{}
		target = frame.Subscribed
	case wire.TypeUnsubscribed:
		frame.Unsubscribed = &wire.Unsubscribed{}
		target = frame.Unsubscribed
	case wire.TypeError:
		frame.Error = &wire.Error{}
		target = frame.Error
	case wire.TypePong:
		return frame, nil
	default:
		frame.Event = &wire.Event{}
		target = frame.Event
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("decoding %s frame: %w", head.Type, err)
	}
	return frame, nil
}

func (s *Stream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

// ErrSubscribeRejected wraps the error frame the server sent instead of an
// acknowledgement.
var ErrSubscribeRejected = errors.New("subscribe rejected")

// Sync subscribes s to the channel (or the thread in opts) and returns a
// feed loaded with the newest page. Events that arrived while the page was
// being fetched are already applied.
func Sync(ctx context.Context, c *Client, s *Stream, channelID, viewerID uuid.UUID, opts Options) (*Feed, error) {
	scope, id := wire.ScopeChannel, channelID
	if opts.ThreadID != nil {
		scope, id = wire.ScopeThread, *opts.ThreadID
	}
	if err := s.Subscribe(ctx, scope, id); err != nil {
		return nil, err
	}

	var ack *wire.Subscribed
	var pending []*wire.Event
	for ack == nil {
		frame, err := s.Next(ctx)
		if err != nil {
			return nil, err
		}
		switch {
		case frame.Subscribed != nil && frame.Subscribed.Scope == scope && frame.Subscribed.ID == id:
			ack = frame.Subscribed
		case frame.Error != nil:
			return nil, fmt.Errorf("%w: %s: %s", ErrSubscribeRejected, frame.Error.Code, frame.Error.Message)
		case frame.Event != nil:
			pending = append(pending, frame.Event)
		}
	}

	var page *Page
	if opts.ThreadID != nil {
		replies, err := c.ListReplies(ctx, *opts.ThreadID)
		if err != nil {
			return nil, err
		}
		page = &Page{Messages: replies}
	} else {
		p, err := c.ListMessages(ctx, channelID, "", 0)
		if err != nil {
			return nil, err
		}
		page = p
	}

	f := New(channelID, viewerID, opts)
	f.Load(page, ack.Seq)

	ids := make([]uuid.UUID, 0, len(page.Messages))
	for _, m := range page.Messages {
		ids = append(ids, m.ID)
	}
	groups, err := c.Reactions(ctx, ids)
	if err != nil {
		return nil, err
	}
	f.SetReactions(groups)

	for _, ev := range pending {
		if _, err := f.Apply(ev); err != nil {
			return nil, err
		}
	}
	return f, nil
}
