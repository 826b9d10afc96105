// Package gradio is a minimal client for apps served by Gradio (including Hugging Face
// Spaces): resolve the app, upload a file, call a named endpoint and wait for the
// server-sent "complete" event.
package gradio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

const DefaultHubURL = "https://huggingface.co"

var spaceIDPattern = regexp.MustCompile(`^[\w.-]+/[\w.-]+$`)

// Options configures Connect.
type Options struct {
	Token      string
	HTTPClient *http.Client
	HubURL     string
}

// Client talks to one Gradio app. It holds no per-call state and is safe for
// concurrent use.
type Client struct {
	root   string
	prefix string
	token  string
	http   *http.Client
}

// FileData is Gradio's file reference, used both for uploaded inputs and file outputs.
type FileData struct {
	Path     string            `json:"path"`
	URL      string            `json:"url,omitempty"`
	OrigName string            `json:"orig_name,omitempty"`
	MimeType string            `json:"mime_type,omitempty"`
	Meta     map[string]string `json:"meta,omitempty"`
}

type appConfig struct {
	Version   string `json:"version"`
	APIPrefix string `json:"api_prefix"`
}

// StatusError is a non-2xx HTTP response from the app or the hub.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Code, e.Body)
}

// EndpointError is an "error" event raised by the endpoint itself.
type EndpointError struct {
	Message string
}

func (e *EndpointError) Error() string {
	if e.Message == "" || e.Message == "null" {
		return "endpoint raised an error"
	}
	return "endpoint raised an error: " + e.Message
}

// Connect resolves endpoint (a base URL or a Space id like "owner/name") and checks
// that the app answers its /config route.
func Connect(ctx context.Context, endpoint string, opts Options) (*Client, error) {
	c := &Client{token: opts.Token, http: opts.HTTPClient}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	hub := opts.HubURL
	if hub == "" {
		hub = DefaultHubURL
	}

	root, err := c.resolveRoot(ctx, endpoint, hub)
	if err != nil {
		return nil, err
	}
	c.root = root

	var conf appConfig
	if err := c.getJSON(ctx, "config", c.root+"/config", &conf); err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", endpoint, err)
	}
	c.prefix = strings.TrimRight(conf.APIPrefix, "/")
	return c, nil
}

// Root returns the resolved base URL of the app.
func (c *Client) Root() string {
	return c.root
}

func (c *Client) resolveRoot(ctx context.Context, endpoint, hub string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return strings.TrimRight(endpoint, "/"), nil
	}
	if !spaceIDPattern.MatchString(endpoint) {
		return "", fmt.Errorf("invalid endpoint %q: want a URL or a Space id (owner/name)", endpoint)
	}

	var host struct {
		Host string `json:"host"`
	}
	u := strings.TrimRight(hub, "/") + "/api/spaces/" + endpoint + "/host"
	if err := c.getJSON(ctx, "resolve space", u, &host); err != nil {
		return "", fmt.Errorf("failed to resolve space %s: %w", endpoint, err)
	}
	if host.Host == "" {
		return "", fmt.Errorf("space %s has no host (is it running?)", endpoint)
	}
	return strings.TrimRight(host.Host, "/"), nil
}

// Upload sends one file to the app's upload route and returns its server side reference.
func (c *Client) Upload(ctx context.Context, name string, data []byte, mime string) (FileData, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("files", name)
	if err != nil {
		return FileData{}, err
	}
	if _, err := part.Write(data); err != nil {
		return FileData{}, err
	}
	if err := mw.Close(); err != nil {
		return FileData{}, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.apiURL("upload"), &body)
	if err != nil {
		return FileData{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var paths []string
	if err := c.doJSON(req, "upload", &paths); err != nil {
		return FileData{}, err
	}
	if len(paths) == 0 {
		return FileData{}, fmt.Errorf("upload: server returned no file path")
	}

	return FileData{
		Path:     paths[0],
		OrigName: name,
		MimeType: mime,
		Meta:     map[string]string{"_type": "gradio.FileData"},
	}, nil
}

// Predict calls the named endpoint (e.g. "/predict") with data and blocks until the
// app reports completion. It returns the raw output array.
func (c *Client) Predict(ctx context.Context, apiName string, data []any) ([]json.RawMessage, error) {
	name := strings.TrimPrefix(apiName, "/")

	payload, err := json.Marshal(map[string]any{"data": data})
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.apiURL("call/"+name), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var submitted struct {
		EventID string `json:"event_id"`
	}
	if err := c.doJSON(req, "submit", &submitted); err != nil {
		return nil, err
	}
	if submitted.EventID == "" {
		return nil, fmt.Errorf("submit: server returned no event id")
	}

	return c.await(ctx, name, submitted.EventID)
}

func (c *Client) await(ctx context.Context, name, eventID string) ([]json.RawMessage, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.apiURL("call/"+name+"/"+url.PathEscape(eventID)), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus("result", resp); err != nil {
		return nil, err
	}

	return readEvents(resp.Body)
}

// readEvents consumes the SSE stream until a terminal event.
func readEvents(r io.Reader) ([]json.RawMessage, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	event := ""
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			switch event {
			case "complete":
				var out []json.RawMessage
				if err := json.Unmarshal([]byte(data), &out); err != nil {
					return nil, fmt.Errorf("malformed result: %w", err)
				}
				return out, nil
			case "error":
				var msg string
				if json.Unmarshal([]byte(data), &msg) != nil {
					msg = data
				}
				return nil, &EndpointError{Message: msg}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("result stream closed before completion")
}

// FileURL returns a fetchable URL for a file output.
func (c *Client) FileURL(fd FileData) string {
	if fd.URL != "" {
		return fd.URL
	}
	return c.apiURL("file=" + fd.Path)
}

func (c *Client) apiURL(route string) string {
	return c.root + c.prefix + "/" + route
}

func (c *Client) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, op, u string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, op, out)
}

func (c *Client) doJSON(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(op, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: malformed response: %w", op, err)
	}
	return nil
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
