package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dialscope/dialscope/pkg/core/detect"
	"github.com/dialscope/dialscope/pkg/core/types"
)

// geminiResponse is the generateContent response format, reduced to the
// fields the classifier reads.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

// classification is the JSON shape the prompt asks for.
type classification struct {
	Classification string  `json:"classification"`
	Confidence     float64 `json:"confidence"`
}

// parseResponse extracts the verdict from a successful generateContent
// response. A response that carries no parseable verdict degrades to
// undecided at zero confidence.
func (p *Provider) parseResponse(body []byte) (detect.Result, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return detect.Result{}, &Error{
			Type:    ErrProvider,
			Message: fmt.Sprintf("decode response: %v", err),
		}
	}

	text := candidateText(&resp)
	if text == "" {
		return detect.Result{Verdict: types.VerdictUndecided, Confidence: 0}, nil
	}

	if res, ok := decodeClassification(text); ok {
		return res, nil
	}
	return sniffVerdict(text), nil
}

// candidateText joins the text parts of the first candidate.
func candidateText(resp *geminiResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return strings.TrimSpace(b.String())
}

// decodeClassification parses the structured verdict, tolerating markdown
// code fences around the JSON.
func decodeClassification(text string) (detect.Result, bool) {
	text = stripFences(text)

	var c classification
	if err := json.Unmarshal([]byte(text), &c); err != nil {
		return detect.Result{}, false
	}
	v, err := types.ParseVerdict(c.Classification)
	if err != nil {
		return detect.Result{}, false
	}
	conf := c.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return detect.Result{Verdict: v, Confidence: conf}, true
}

// stripFences removes a surrounding ```json ... ``` fence when present.
func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// sniffVerdict falls back to keyword detection when the model answered in
// prose instead of JSON.
func sniffVerdict(text string) detect.Result {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "voicemail"), strings.Contains(lower, "machine"):
		return detect.Result{Verdict: types.VerdictMachine, Confidence: 0.6}
	case strings.Contains(lower, "human"):
		return detect.Result{Verdict: types.VerdictHuman, Confidence: 0.6}
	default:
		return detect.Result{Verdict: types.VerdictUndecided, Confidence: 0}
	}
}
