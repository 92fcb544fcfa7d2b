package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrUnregistered is returned when the gateway reports that a device token is
// no longer valid. Callers should stop sending to that device.
var ErrUnregistered = errors.New("device token is not registered")

// Message is a push notification for a single device.
type Message struct {
	Token    string
	Platform string
	Title    string
	Body     string
	Data     map[string]string
}

// APIError is a non-2xx response from the push gateway.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d %s): %s", e.StatusCode, e.Status, e.Body)
}

// Client sends notifications to an FCM HTTP v1 compatible endpoint, for
// example https://fcm.googleapis.com/v1/projects/<project>/messages:send.
type Client struct {
	endpoint    string
	accessToken string
	httpClient  *http.Client
}

// NewClient creates a push gateway client. The access token is sent as a
// bearer token when set.
func NewClient(endpoint, accessToken string) *Client {
	return &Client{
		endpoint:    endpoint,
		accessToken: accessToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Send delivers msg. It returns ErrUnregistered (wrapped) when the token is
// stale and an *APIError for any other gateway failure.
func (c *Client) Send(ctx context.Context, msg Message) error {
	body := sendRequest{
		Message: fcmMessage{
			Token: msg.Token,
			Notification: &fcmNotification{
				Title: msg.Title,
				Body:  msg.Body,
			},
			Data: msg.Data,
		},
	}
	switch msg.Platform {
	case "android":
		body.Message.Android = &androidConfig{Priority: "high"}
	case "ios":
		body.Message.APNS = &apnsConfig{Payload: apnsPayload{APS: apsDictionary{Sound: "default"}}}
	}

	var resp sendResponse
	if err := c.post(ctx, body, &resp); err != nil {
		return err
	}
	return nil
}

func (c *Client) post(ctx context.Context, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

func classifyError(statusCode int, body []byte) error {
	apiErr := &APIError{StatusCode: statusCode, Body: string(body)}

	var parsed errorResponse
	if json.Unmarshal(body, &parsed) == nil {
		apiErr.Status = parsed.Error.Status
		for _, d := range parsed.Error.Details {
			if d.ErrorCode == "UNREGISTERED" {
				return fmt.Errorf("%w: %w", ErrUnregistered, apiErr)
			}
		}
	}

	if statusCode == http.StatusNotFound || statusCode == http.StatusGone || apiErr.Status == "UNREGISTERED" {
		return fmt.Errorf("%w: %w", ErrUnregistered, apiErr)
	}
	return apiErr
}

// LogGateway logs notifications instead of sending them. It is used when no
// push endpoint is configured.
type LogGateway struct {
	logger *slog.Logger
}

// NewLogGateway creates a LogGateway.
func NewLogGateway(logger *slog.Logger) *LogGateway {
	return &LogGateway{logger: logger}
}

// Send logs msg and always succeeds.
func (g *LogGateway) Send(_ context.Context, msg Message) error {
	g.logger.Info("push notification (not sent, no gateway configured)",
		"platform", msg.Platform,
		"title", msg.Title,
		"body", msg.Body,
		"type", msg.Data["type"],
	)
	return nil
}

type sendRequest struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string            `json:"token"`
	Notification *fcmNotification  `json:"notification,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	Android      *androidConfig    `json:"android,omitempty"`
	APNS         *apnsConfig       `json:"apns,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type androidConfig struct {
	Priority string `json:"priority"`
}

type apnsConfig struct {
	Payload apnsPayload `json:"payload"`
}

type apnsPayload struct {
	APS apsDictionary `json:"aps"`
}

type apsDictionary struct {
	Sound string `json:"sound,omitempty"`
}

type sendResponse struct {
	Name string `json:"name"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type      string `json:"@type"`
			ErrorCode string `json:"errorCode"`
		} `json:"details"`
	} `json:"error"`
}
