package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// classificationPrompt instructs the model to answer with bare JSON so the
// response can be decoded without free-text scraping.
const classificationPrompt = `Listen to this recording of the first seconds of an outbound phone call.
Decide whether the call was answered by a live human or by an answering
machine / voicemail system. Respond with only a JSON object:
{"classification": "human" | "machine" | "undecided", "confidence": <0.0-1.0>}`

// geminiRequest is the generateContent request format.
// Note: the Gemini API uses camelCase for JSON field names.
type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *geminiBlob `json:"inlineData,omitempty"`
}

// geminiBlob represents inline binary data.
type geminiBlob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64 encoded
}

type geminiGenConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	ResponseMIMEType string   `json:"responseMimeType,omitempty"`
}

// buildRequest assembles a generateContent call carrying the prompt and the
// audio as inline data.
func (p *Provider) buildRequest(audioData []byte, mimeType string) *geminiRequest {
	temp := 0.0
	return &geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{Text: classificationPrompt},
				{InlineData: &geminiBlob{
					MIMEType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(audioData),
				}},
			},
		}},
		GenerationConfig: &geminiGenConfig{
			Temperature:      &temp,
			ResponseMIMEType: "application/json",
		},
	}
}

// doRequest sends a generateContent request to Gemini.
func (p *Provider) doRequest(ctx context.Context, req *geminiRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, p.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, p.parseError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return respBody, nil
}
