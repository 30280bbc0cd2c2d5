// Package httpapi talks to the message-source connector over its HTTP JSON
// API. The connector is opaque: it yields messages with attachment handles
// and accepts outbound replies, nothing more is assumed about it.
package httpapi

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

	"github.com/kirillkom/receipt-pipeline/internal/core/domain"
	"github.com/kirillkom/receipt-pipeline/internal/core/ports"
	"github.com/kirillkom/receipt-pipeline/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	RequestTimeout     time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(baseURL string) *Client {
	return NewWithOptions(baseURL, Options{})
}

func NewWithOptions(baseURL string, options Options) *Client {
	timeout := options.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
	}
}

type messagePayload struct {
	ID          string    `json:"id"`
	Sender      string    `json:"sender"`
	Timestamp   time.Time `json:"timestamp"`
	Text        string    `json:"text"`
	FromSelf    bool      `json:"from_self"`
	Attachments []struct {
		Path     string `json:"path"`
		MimeType string `json:"mime_type"`
	} `json:"attachments"`
}

type messagesResponse struct {
	Messages    []messagePayload `json:"messages"`
	Total       int              `json:"total"`
	UnreadCount int              `json:"unread_count"`
}

func (c *Client) GetMessages(ctx context.Context, filter ports.MessageFilter) (ports.MessageBatch, error) {
	query := url.Values{}
	if filter.Sender != "" {
		query.Set("sender", filter.Sender)
	}
	if !filter.Since.IsZero() {
		query.Set("since", filter.Since.UTC().Format(time.RFC3339Nano))
	}
	endpoint := c.baseURL + "/messages"
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var payload messagesResponse
	call := func(callCtx context.Context) error {
		return c.getJSON(callCtx, endpoint, &payload, "messages")
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "connector.messages", call, classifyConnectorError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return ports.MessageBatch{}, wrapTemporaryIfNeeded("get messages", err)
	}

	batch := ports.MessageBatch{
		Messages:    make([]domain.Message, 0, len(payload.Messages)),
		Total:       payload.Total,
		UnreadCount: payload.UnreadCount,
	}
	for _, m := range payload.Messages {
		msg := domain.Message{
			ID:        m.ID,
			Sender:    m.Sender,
			Timestamp: m.Timestamp,
			Text:      m.Text,
			FromSelf:  m.FromSelf,
		}
		for _, att := range m.Attachments {
			msg.Attachments = append(msg.Attachments, domain.Attachment{
				Path:      att.Path,
				MimeType:  att.MimeType,
				MessageID: m.ID,
			})
		}
		batch.Messages = append(batch.Messages, msg)
	}
	return batch, nil
}

func (c *Client) Send(ctx context.Context, recipient, text string) error {
	body := map[string]string{"recipient": recipient, "text": text}

	call := func(callCtx context.Context) error {
		return c.postJSON(callCtx, c.baseURL+"/send", body, "send")
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "connector.send", call, classifyConnectorError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded("send message", err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any, operation string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connector %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(operation, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connector %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(operation, resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func statusError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &HTTPStatusError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
	}
}
