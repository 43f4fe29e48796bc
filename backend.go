package chatter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ============================================================================
// Backend Interface
// ============================================================================

// Backend is the fetch half of the event source: the async operations the
// caches depend on. The caches never talk to the transport directly, so a
// test can substitute a fake and a host app can substitute any SDK.
type Backend interface {
	// FetchChannels lists every channel the current user is subscribed to.
	FetchChannels(ctx context.Context) ([]Channel, error)

	// FetchChannel returns a single channel by id.
	FetchChannel(ctx context.Context, id string) (Channel, error)

	// FetchMessages returns up to count messages for the channel. A non-nil
	// before restricts the result to indices strictly less than *before;
	// nil means "the most recent count messages".
	FetchMessages(ctx context.Context, channelID string, before *int64, count int) ([]Message, error)

	// SendMessage submits a message and returns the server-confirmed copy
	// (index assigned, status delivered).
	SendMessage(ctx context.Context, channelID string, msg Message) (Message, error)

	// LeaveChannel removes the current user from the channel.
	LeaveChannel(ctx context.Context, channelID string) error

	// DeleteChannel destroys the channel.
	DeleteChannel(ctx context.Context, channelID string) error

	// MarkRead records consumer as having read the message.
	MarkRead(ctx context.Context, channelID, messageID, consumer string) error
}

// ============================================================================
// REST Backend
// ============================================================================

const (
	DefaultBaseURL = "https://api.chattermesh.io"
	DefaultTimeout = 30 * time.Second
)

// apiError is an error payload returned by the REST API.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return e.Code + ": " + e.Message
}

// apiResult is the uniform REST response wrapper.
type apiResult struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *apiError       `json:"error,omitempty"`
}

// RESTBackend implements Backend over the HTTP API.
type RESTBackend struct {
	token      string
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// BackendOption configures a RESTBackend.
type BackendOption func(*RESTBackend)

func WithBaseURL(u string) BackendOption {
	return func(b *RESTBackend) { b.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) BackendOption {
	return func(b *RESTBackend) { b.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) BackendOption {
	return func(b *RESTBackend) { b.httpClient = client }
}

func WithUserAgent(agent string) BackendOption {
	return func(b *RESTBackend) { b.userAgent = agent }
}

// NewRESTBackend creates a REST backend authenticated with token.
func NewRESTBackend(token string, opts ...BackendOption) *RESTBackend {
	b := &RESTBackend{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetToken replaces the auth token, e.g. after a refresh.
func (b *RESTBackend) SetToken(token string) {
	b.token = token
}

// BaseURL returns the configured API root.
func (b *RESTBackend) BaseURL() string {
	return b.baseURL
}

func (b *RESTBackend) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := b.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	if b.userAgent != "" {
		req.Header.Set("User-Agent", b.userAgent)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// call performs the request and unwraps the uniform response envelope.
func (b *RESTBackend) call(ctx context.Context, method, path string, body interface{}, query map[string]string) (json.RawMessage, error) {
	data, err := b.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	var result apiResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !result.OK {
		if result.Error != nil {
			return nil, result.Error
		}
		return nil, fmt.Errorf("request not ok")
	}
	return result.Data, nil
}

func (b *RESTBackend) FetchChannels(ctx context.Context) ([]Channel, error) {
	data, err := b.call(ctx, "GET", "/api/channels", nil, nil)
	if err != nil {
		return nil, err
	}
	var wires []wireChannel
	if err := json.Unmarshal(data, &wires); err != nil {
		return nil, fmt.Errorf("failed to decode channels: %w", err)
	}
	channels := make([]Channel, 0, len(wires))
	for _, w := range wires {
		channels = append(channels, w.model())
	}
	return channels, nil
}

func (b *RESTBackend) FetchChannel(ctx context.Context, id string) (Channel, error) {
	data, err := b.call(ctx, "GET", "/api/channels/"+id, nil, nil)
	if err != nil {
		return Channel{}, err
	}
	var w wireChannel
	if err := json.Unmarshal(data, &w); err != nil {
		return Channel{}, fmt.Errorf("failed to decode channel: %w", err)
	}
	return w.model(), nil
}

func (b *RESTBackend) FetchMessages(ctx context.Context, channelID string, before *int64, count int) ([]Message, error) {
	query := map[string]string{"limit": fmt.Sprintf("%d", count)}
	if before != nil {
		query["before"] = fmt.Sprintf("%d", *before)
	}
	data, err := b.call(ctx, "GET", "/api/channels/"+channelID+"/messages", nil, query)
	if err != nil {
		return nil, err
	}
	var wires []wireMessage
	if err := json.Unmarshal(data, &wires); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	msgs := make([]Message, 0, len(wires))
	for _, w := range wires {
		msgs = append(msgs, w.model())
	}
	return msgs, nil
}

func (b *RESTBackend) SendMessage(ctx context.Context, channelID string, msg Message) (Message, error) {
	payload := wireMessage{
		ChannelID:     channelID,
		Author:        msg.Author,
		Body:          msg.Body,
		CorrelationID: msg.CorrelationID,
		CreatedAt:     msg.CreatedAt,
	}
	data, err := b.call(ctx, "POST", "/api/channels/"+channelID+"/messages", payload, nil)
	if err != nil {
		return Message{}, err
	}
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("failed to decode sent message: %w", err)
	}
	return w.model(), nil
}

func (b *RESTBackend) LeaveChannel(ctx context.Context, channelID string) error {
	_, err := b.call(ctx, "POST", "/api/channels/"+channelID+"/leave", nil, nil)
	return err
}

func (b *RESTBackend) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := b.call(ctx, "DELETE", "/api/channels/"+channelID, nil, nil)
	return err
}

func (b *RESTBackend) MarkRead(ctx context.Context, channelID, messageID, consumer string) error {
	_, err := b.call(ctx, "POST", "/api/channels/"+channelID+"/messages/"+messageID+"/read",
		map[string]string{"consumer": consumer}, nil)
	return err
}
