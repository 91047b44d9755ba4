// Package api is the HTTP client for the form server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/matthewbaird/formsync/internal/analytics"
	"github.com/matthewbaird/formsync/internal/form"
)

// ErrNotFound matches (via errors.Is) any 404 from the server.
var ErrNotFound = errors.New("not found")

// Error is a failed request. Status is 0 when the server was never reached.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("api: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("api: HTTP %d: %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Client talks to the server's /api routes.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client for baseURL, which includes the /api prefix
// (e.g. http://localhost:8080/api).
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// formBody is the create/update request body.
type formBody struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Fields      []form.Field `json:"fields"`
}

// submitBody is the response submission body.
type submitBody struct {
	FormID    string         `json:"formId"`
	Responses map[string]any `json:"responses"`
}

type errorBody struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// --- Forms ---

// GetForm loads a form by id.
func (c *Client) GetForm(ctx context.Context, id string) (*form.Form, error) {
	var f form.Form
	if err := c.do(ctx, http.MethodGet, "/forms/"+url.PathEscape(id), nil, &f); err != nil {
		return nil, err
	}
	f = form.Normalize(f)
	return &f, nil
}

// GetFormByShareableLink loads the public view of a form.
func (c *Client) GetFormByShareableLink(ctx context.Context, link string) (*form.Form, error) {
	var f form.Form
	if err := c.do(ctx, http.MethodGet, "/forms/shareable/"+url.PathEscape(link), nil, &f); err != nil {
		return nil, err
	}
	f = form.Normalize(f)
	return &f, nil
}

// ListForms returns every form, most recently created first.
func (c *Client) ListForms(ctx context.Context) ([]form.Form, error) {
	var forms []form.Form
	if err := c.do(ctx, http.MethodGet, "/forms", nil, &forms); err != nil {
		return nil, err
	}
	return forms, nil
}

// CreateForm stores f and returns it with the server-assigned id.
func (c *Client) CreateForm(ctx context.Context, f form.Form) (*form.Form, error) {
	var saved form.Form
	body := formBody{Title: f.Title, Description: f.Description, Fields: f.Fields}
	if err := c.do(ctx, http.MethodPost, "/forms", body, &saved); err != nil {
		return nil, err
	}
	if saved.ID == "" {
		return nil, &Error{Status: http.StatusOK, Message: "create returned no form id"}
	}
	return &saved, nil
}

// UpdateForm replaces the definition of form id.
func (c *Client) UpdateForm(ctx context.Context, id string, f form.Form) (*form.Form, error) {
	var saved form.Form
	body := formBody{Title: f.Title, Description: f.Description, Fields: f.Fields}
	if err := c.do(ctx, http.MethodPut, "/forms/"+url.PathEscape(id), body, &saved); err != nil {
		return nil, err
	}
	if saved.ID == "" {
		saved.ID = id
	}
	return &saved, nil
}

// DeleteForm removes a form and its responses.
func (c *Client) DeleteForm(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/forms/"+url.PathEscape(id), nil, nil)
}

// --- Responses ---

// SubmitResponse records one set of answers to formID.
func (c *Client) SubmitResponse(ctx context.Context, formID string, answers map[string]any) (*form.Response, error) {
	var saved form.Response
	body := submitBody{FormID: formID, Responses: answers}
	if err := c.do(ctx, http.MethodPost, "/responses", body, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

// ListResponses returns every response to formID, newest first.
func (c *Client) ListResponses(ctx context.Context, formID string) ([]form.Response, error) {
	var out []form.Response
	if err := c.do(ctx, http.MethodGet, "/responses/"+url.PathEscape(formID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ExportResponsesCSV downloads the responses to formID as CSV.
func (c *Client) ExportResponsesCSV(ctx context.Context, formID string) ([]byte, error) {
	var out []byte
	if err := c.do(ctx, http.MethodGet, "/responses/"+url.PathEscape(formID)+"/csv", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// --- Analytics ---

// GetAnalytics fetches the current aggregate for formID.
func (c *Client) GetAnalytics(ctx context.Context, formID string) (*analytics.Analytics, error) {
	var a analytics.Analytics
	if err := c.do(ctx, http.MethodGet, "/analytics/"+url.PathEscape(formID), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// do issues one request. A *[]byte result receives the raw body; any other
// non-nil result is JSON-decoded.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &Error{Message: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Message: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(respBody))
		var eb errorBody
		if json.Unmarshal(respBody, &eb) == nil && eb.Error != "" {
			msg = eb.Error
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		apiErr := &Error{Status: resp.StatusCode, Message: msg}
		if resp.StatusCode == http.StatusNotFound {
			apiErr.Err = ErrNotFound
		}
		return apiErr
	}

	if raw, ok := result.(*[]byte); ok {
		*raw = respBody
		return nil
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
