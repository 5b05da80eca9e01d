// ABOUTME: Agent gateway client used by the bridge
// ABOUTME: Posts a user message and collects the streamed SSE answer

package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SSE event types sent by the gateway.
const (
	eventText  = "text"
	eventDone  = "done"
	eventError = "error"
)

// AgentRequest is the request body for POST /api/send.
type AgentRequest struct {
	ThreadID  string `json:"thread_id,omitempty"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Frontend  string `json:"frontend"`
	ChannelID string `json:"channel_id"`
}

type textEventData struct {
	Text         string `json:"text,omitempty"`
	FullResponse string `json:"full_response,omitempty"`
}

type errorEventData struct {
	Error string `json:"error"`
}

// GatewayClient talks to the agent gateway HTTP API.
type GatewayClient struct {
	baseURL string
	client  *http.Client
}

// NewGatewayClient creates a gateway client for baseURL.
func NewGatewayClient(baseURL string) *GatewayClient {
	return &GatewayClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
	}
}

// Ask sends a message and returns the agent's complete answer. The done
// event's full response wins over the accumulated text chunks.
func (g *GatewayClient) Ask(ctx context.Context, req AgentRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/send", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errorFromResponse(resp)
	}

	var chunks strings.Builder
	var full string
	err = readEvents(ctx, resp.Body, func(eventType, data string) error {
		switch eventType {
		case eventText:
			var d textEventData
			if json.Unmarshal([]byte(data), &d) == nil {
				chunks.WriteString(d.Text)
			}
		case eventDone:
			var d textEventData
			if json.Unmarshal([]byte(data), &d) == nil {
				full = d.FullResponse
			}
		case eventError:
			var d errorEventData
			if json.Unmarshal([]byte(data), &d) == nil {
				return fmt.Errorf("agent error: %s", d.Error)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if full != "" {
		return full, nil
	}
	return chunks.String(), nil
}

// errorFromResponse extracts an error message from a non-200 response.
func errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var e errorEventData
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("gateway error (%d): %s", resp.StatusCode, e.Error)
		}
	}
	return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// readEvents parses an SSE stream and calls fn for every complete event.
func readEvents(ctx context.Context, body io.Reader, fn func(eventType, data string) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventType string
	var data []string

	flush := func() error {
		defer func() {
			eventType = ""
			data = nil
		}()
		if eventType == "" || len(data) == 0 {
			return nil
		}
		return fn(eventType, strings.Join(data, "\n"))
	}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading SSE stream: %w", err)
	}
	// A stream may end without a trailing blank line.
	return flush()
}
