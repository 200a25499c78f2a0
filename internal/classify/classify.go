// Package classify talks to the external AI classifier. The classifier is
// an Ollama instance reached over HTTP; its reply is expected to be a JSON
// object with category, confidence and reasoning, parsed leniently because
// models wrap JSON in prose more often than not.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/nyviadk/nexus/internal/browser"
)

// FailedCategory is the sentinel written when the classifier reply cannot
// be parsed at all.
const FailedCategory = "Fejl"

// Result is one classification outcome.
type Result struct {
	Category   string `json:"category"`
	Confidence int    `json:"confidence"` // 0-100
	Reasoning  string `json:"reasoning"`
}

// Classifier is the external classification endpoint: page text in,
// category out, or failure.
type Classifier interface {
	Classify(ctx context.Context, title, url string, meta browser.PageMeta) (Result, error)
}

const promptTemplate = `You are a browser tab organizer. Classify the page below into a single short category such as Work, Shopping, News, Social, Research, Entertainment, Documentation, Finance.

Title: %s
URL: %s
Description: %s
Heading: %s

Respond with ONLY a JSON object: {"category": "...", "confidence": 0-100, "reasoning": "..."}`

// BuildPrompt constructs the classification prompt from the tab fields and
// extracted page metadata.
func BuildPrompt(title, url string, meta browser.PageMeta) string {
	desc := meta.MetaDescription
	if desc == "" {
		desc = meta.OGDescription
	}
	return fmt.Sprintf(promptTemplate, title, url, desc, meta.FirstHeading)
}

// ParseResult parses a classifier reply. It tries a strict JSON parse
// first, then extracts the outermost brace-delimited block. Total failure
// yields the sentinel result instead of an error — a bad reply must not
// poison the queue.
func ParseResult(reply string) Result {
	var r Result
	if err := json.Unmarshal([]byte(reply), &r); err == nil && r.Category != "" {
		return clamp(r)
	}

	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(reply[start:end+1]), &r); err == nil && r.Category != "" {
			return clamp(r)
		}
	}

	return Result{Category: FailedCategory, Confidence: 0, Reasoning: "unparseable classifier reply"}
}

func clamp(r Result) Result {
	if r.Confidence < 0 {
		r.Confidence = 0
	}
	if r.Confidence > 100 {
		r.Confidence = 100
	}
	return r
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

// Ollama is the default Classifier implementation.
type Ollama struct {
	Model string
	Host  string // e.g. http://localhost:11434
}

// Classify sends the tab to Ollama and parses the reply.
func (o *Ollama) Classify(ctx context.Context, title, url string, meta browser.PageMeta) (Result, error) {
	reqBody := ollamaRequest{
		Model:  o.Model,
		Prompt: BuildPrompt(title, url, meta),
		Stream: false,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("ollama returned HTTP %d", resp.StatusCode)
	}

	var result ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decode ollama response: %w", err)
	}

	return ParseResult(result.Response), nil
}
