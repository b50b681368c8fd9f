package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dialscope/dialscope/pkg/core/types"
)

// DefaultBaseURL is the default provider REST endpoint (Twilio-compatible
// 2010-04-01 API shape).
const DefaultBaseURL = "https://api.twilio.com/2010-04-01"

// Client is a REST implementation of the provider API. Credentials are
// read-mostly configuration; the client is safe for concurrent use.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the provider endpoint (used in tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a provider REST client.
func NewClient(accountSID, authToken string, opts ...Option) *Client {
	c := &Client{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type callResource struct {
	SID        string `json:"sid"`
	Status     string `json:"status"`
	AnsweredBy string `json:"answered_by"`
	Duration   string `json:"duration"`
}

type recordingResource struct {
	SID      string `json:"sid"`
	URI      string `json:"uri"`
	Duration string `json:"duration"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// Place creates an outbound call.
func (c *Client) Place(ctx context.Context, p PlaceParams) (CallRef, error) {
	form := url.Values{}
	form.Set("To", p.To)
	form.Set("From", p.From)
	if p.MachineDetection != "" {
		form.Set("MachineDetection", p.MachineDetection)
		if p.MachineDetectionTimeout > 0 {
			form.Set("MachineDetectionTimeout", strconv.Itoa(int(p.MachineDetectionTimeout.Seconds())))
		}
	}
	if p.Record {
		form.Set("Record", "true")
	}
	if p.StatusCallback != "" {
		form.Set("StatusCallback", p.StatusCallback)
		form.Set("StatusCallbackMethod", "POST")
		for _, ev := range p.StatusCallbackEvents {
			form.Add("StatusCallbackEvent", ev)
		}
	}
	// Prompt carries the inner verbs of the call document (Say/Pause); the
	// client owns the enclosing Response element. A media subscription, if
	// any, is prepended so the provider connects the stream on answer.
	if p.MediaStreamURL != "" {
		form.Set("Twiml", streamDocument(p.MediaStreamURL, p.Prompt))
	} else if p.Prompt != "" {
		form.Set("Twiml", "<Response>"+p.Prompt+"</Response>")
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", c.baseURL, c.accountSID)
	body, err := c.do(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return CallRef{}, err
	}

	var res callResource
	if err := json.Unmarshal(body, &res); err != nil {
		return CallRef{}, &Error{Code: CodeProvider, Message: fmt.Sprintf("malformed placement response: %v", err)}
	}
	if res.SID == "" {
		return CallRef{}, &Error{Code: CodeProvider, Message: "placement response missing call sid"}
	}
	return CallRef{ProviderCallID: res.SID, Status: res.Status}, nil
}

// FetchStatus reads the current call status from the provider.
func (c *Client) FetchStatus(ctx context.Context, providerCallID string) (types.StatusEvent, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, url.PathEscape(providerCallID))
	body, err := c.do(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return types.StatusEvent{}, err
	}

	var res callResource
	if err := json.Unmarshal(body, &res); err != nil {
		return types.StatusEvent{}, &Error{Code: CodeProvider, Message: fmt.Sprintf("malformed status response: %v", err)}
	}
	status, ok := types.MapProviderStatus(res.Status)
	if !ok {
		return types.StatusEvent{}, &Error{Code: CodeProvider, Message: fmt.Sprintf("unknown provider status %q", res.Status)}
	}
	return types.StatusEvent{
		ProviderCallID: providerCallID,
		Status:         status,
		AnsweredBy:     res.AnsweredBy,
		Payload:        json.RawMessage(body),
	}, nil
}

// Recordings lists up to limit recordings for a call, most recent first.
func (c *Client) Recordings(ctx context.Context, providerCallID string, limit int) ([]Recording, error) {
	if limit <= 0 {
		limit = 1
	}
	endpoint := fmt.Sprintf("%s/Accounts/%s/Recordings.json?CallSid=%s&PageSize=%d",
		c.baseURL, c.accountSID, url.QueryEscape(providerCallID), limit)
	body, err := c.do(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return nil, err
	}

	var res struct {
		Recordings []recordingResource `json:"recordings"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, &Error{Code: CodeProvider, Message: fmt.Sprintf("malformed recordings response: %v", err)}
	}
	out := make([]Recording, 0, len(res.Recordings))
	for _, r := range res.Recordings {
		secs, _ := strconv.Atoi(r.Duration)
		out = append(out, Recording{
			ID:       r.SID,
			URI:      r.URI,
			Duration: time.Duration(secs) * time.Second,
		})
	}
	return out, nil
}

// Download fetches the audio artifact for a recording. Recording media
// requires the same basic-auth credentials as the REST API.
func (c *Client) Download(ctx context.Context, rec Recording) ([]byte, string, error) {
	uri := strings.TrimSuffix(rec.URI, ".json") + ".mp3"
	endpoint := uri
	if !strings.HasPrefix(uri, "http") {
		endpoint = strings.TrimSuffix(c.baseURL, "/2010-04-01") + uri
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", &Error{Code: CodeProvider, Message: fmt.Sprintf("download recording: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", &Error{Code: CodeProvider, Message: fmt.Sprintf("download recording: status %d", resp.StatusCode), HTTPStatus: resp.StatusCode}
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &Error{Code: CodeProvider, Message: fmt.Sprintf("read recording body: %v", err)}
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "audio/mpeg"
	}
	return audio, mime, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Code: CodeProvider, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Code: CodeProvider, Message: fmt.Sprintf("read response: %v", err)}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}
	return nil, parseAPIError(resp.StatusCode, raw)
}

// parseAPIError maps provider error codes to the typed placement errors the
// orchestrator understands.
func parseAPIError(httpStatus int, raw []byte) *Error {
	var apiErr apiError
	if err := json.Unmarshal(raw, &apiErr); err != nil || apiErr.Message == "" {
		return &Error{Code: CodeProvider, Message: strings.TrimSpace(string(raw)), HTTPStatus: httpStatus}
	}

	code := CodeProvider
	switch apiErr.Code {
	case 21211: // 'To' number is not a valid phone number
		code = CodeMalformedNumber
	case 21210, 21608: // caller/destination not verified (trial restriction)
		code = CodeUnverifiedDestination
	case 20429: // too many requests
		code = CodeQuotaExceeded
	}
	return &Error{Code: code, Message: apiErr.Message, HTTPStatus: httpStatus}
}

// streamDocument builds the call document that subscribes a bidirectional
// media stream and then plays the detection prompt.
func streamDocument(streamURL, prompt string) string {
	var b strings.Builder
	b.WriteString("<Response><Start><Stream url=\"")
	b.WriteString(streamURL)
	b.WriteString("\" track=\"both_tracks\"/></Start>")
	if prompt != "" {
		b.WriteString(prompt)
	}
	b.WriteString("</Response>")
	return b.String()
}
