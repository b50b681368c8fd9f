// Package gemini implements the Google Gemini inference backend used for
// recording-based classification. It sends the recorded audio inline and
// asks the model for a structured verdict.
package gemini

import (
	"context"
	"net/http"

	"github.com/dialscope/dialscope/pkg/core/detect"
)

const (
	// DefaultBaseURL is the default Gemini API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultModel is the model used when none is configured.
	DefaultModel = "gemini-2.0-flash"
)

// Provider implements audio classification against the Gemini API.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// New creates a new Gemini provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Classify submits the audio for classification and returns the model's
// verdict. Errors cover transport and API failures; an unparseable but
// successful response degrades to an undecided result rather than an error.
func (p *Provider) Classify(ctx context.Context, audioData []byte, mimeType string) (detect.Result, error) {
	req := p.buildRequest(audioData, mimeType)

	respBody, err := p.doRequest(ctx, req)
	if err != nil {
		return detect.Result{}, err
	}

	return p.parseResponse(respBody)
}
