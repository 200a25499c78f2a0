package classify

import (
	"strings"
	"testing"

	"github.com/nyviadk/nexus/internal/browser"
)

func TestBuildPrompt(t *testing.T) {
	meta := browser.PageMeta{
		MetaDescription: "A productivity tool",
		FirstHeading:    "Welcome",
	}
	prompt := BuildPrompt("Linear", "https://linear.app", meta)
	for _, want := range []string{"Linear", "https://linear.app", "A productivity tool", "Welcome"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildPromptFallsBackToOGDescription(t *testing.T) {
	meta := browser.PageMeta{OGDescription: "og text"}
	if !strings.Contains(BuildPrompt("t", "u", meta), "og text") {
		t.Error("og:description not used when meta description empty")
	}
}

func TestParseResult(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		category   string
		confidence int
	}{
		{
			name:       "strict json",
			reply:      `{"category":"Work","confidence":90,"reasoning":"project tracker"}`,
			category:   "Work",
			confidence: 90,
		},
		{
			name:       "json wrapped in prose",
			reply:      "Sure! Here is the classification:\n```json\n{\"category\":\"News\",\"confidence\":75,\"reasoning\":\"headline page\"}\n```\nHope that helps.",
			category:   "News",
			confidence: 75,
		},
		{
			name:       "confidence clamped",
			reply:      `{"category":"Work","confidence":150,"reasoning":"x"}`,
			category:   "Work",
			confidence: 100,
		},
		{
			name:       "unparseable reply yields sentinel",
			reply:      "I cannot classify this page.",
			category:   FailedCategory,
			confidence: 0,
		},
		{
			name:       "empty category treated as failure",
			reply:      `{"confidence":50}`,
			category:   FailedCategory,
			confidence: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ParseResult(tt.reply)
			if r.Category != tt.category {
				t.Errorf("category = %q, want %q", r.Category, tt.category)
			}
			if r.Confidence != tt.confidence {
				t.Errorf("confidence = %d, want %d", r.Confidence, tt.confidence)
			}
		})
	}
}

func TestFetchPageMetaSkipsInternalURLs(t *testing.T) {
	for _, url := range []string{"about:blank", "chrome://settings", "moz-extension://abc/page.html"} {
		if _, err := FetchPageMeta(url); err == nil {
			t.Errorf("expected error for %q", url)
		}
	}
}
