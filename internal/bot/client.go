package bot

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// Update is a single event delivered by the messenger long-poll API.
type Update struct {
	Type      string  `json:"update_type"`
	Timestamp int64   `json:"timestamp"`
	Message   Message `json:"message"`
	Callback  struct {
		Payload string `json:"payload"`
		User    Sender `json:"user"`
	} `json:"callback"`
}

// Message is the inbound message payload.
type Message struct {
	Sender    Sender `json:"sender"`
	Recipient struct {
		ChatID int64 `json:"chat_id"`
	} `json:"recipient"`
	Body struct {
		Text string `json:"text"`
	} `json:"body"`
}

// Sender identifies the messenger user behind an update.
type Sender struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
}

// UpdateBatch is the long-poll response: updates plus the next marker.
type UpdateBatch struct {
	Updates []Update `json:"updates"`
	Marker  *int64   `json:"marker"`
}

// Button is a single inline keyboard button.
type Button struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Payload string `json:"payload,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Keyboard is the inline keyboard attachment payload.
type Keyboard struct {
	Buttons [][]Button `json:"buttons"`
}

// CallbackButton builds a callback-type keyboard button.
func CallbackButton(text, payload string) Button {
	return Button{Type: "callback", Text: text, Payload: payload}
}

// LinkButton builds a link-type keyboard button.
func LinkButton(text, url string) Button {
	return Button{Type: "link", Text: text, URL: url}
}

// Client talks to the messenger bot HTTP API.
type Client struct {
	http        *resty.Client
	token       string
	pollTimeout time.Duration
}

// NewClient constructs a messenger API client.
func NewClient(baseURL, token string, pollTimeout time.Duration) *Client {
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(pollTimeout + 10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)
	return &Client{http: httpClient, token: token, pollTimeout: pollTimeout}
}

// GetUpdates long-polls for new updates starting from the given marker.
func (c *Client) GetUpdates(ctx context.Context, marker int64) (*UpdateBatch, error) {
	var batch UpdateBatch
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("access_token", c.token).
		SetQueryParam("timeout", strconv.Itoa(int(c.pollTimeout.Seconds()))).
		SetResult(&batch)
	if marker > 0 {
		req.SetQueryParam("marker", strconv.FormatInt(marker, 10))
	}
	resp, err := req.Get("/updates")
	if err != nil {
		return nil, fmt.Errorf("get updates: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("get updates: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &batch, nil
}

// SendMessage delivers a text message, optionally with an inline keyboard.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, keyboard *Keyboard) error {
	body := map[string]interface{}{
		"text": text,
	}
	if keyboard != nil {
		body["attachments"] = []map[string]interface{}{
			{
				"type":    "inline_keyboard",
				"payload": keyboard,
			},
		}
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("access_token", c.token).
		SetQueryParam("chat_id", strconv.FormatInt(chatID, 10)).
		SetBody(body).
		Post("/messages")
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("send message: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
