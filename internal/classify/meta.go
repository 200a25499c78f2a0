package classify

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/nyviadk/nexus/internal/browser"
)

var skipPrefixes = []string{"about:", "chrome:", "chrome-extension:", "moz-extension:", "file:", "resource:", "data:"}

// FetchPageMeta fetches a URL over HTTP and extracts page metadata through
// readability. Used as the fallback when the bridge cannot run the in-tab
// extraction script (tab gone, extension disconnected).
func FetchPageMeta(url string) (browser.PageMeta, error) {
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(url, prefix) {
			return browser.PageMeta{}, fmt.Errorf("skipping non-HTTP URL: %s", url)
		}
	}

	client := &http.Client{Timeout: 15 * time.Second}
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return browser.PageMeta{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	resp, err := client.Do(req)
	if err != nil {
		return browser.PageMeta{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return browser.PageMeta{}, fmt.Errorf("fetch %s: HTTP %d", url, resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, nil)
	if err != nil {
		return browser.PageMeta{}, fmt.Errorf("extract content from %s: %w", url, err)
	}

	return browser.PageMeta{
		Title:           article.Title,
		MetaDescription: article.Excerpt,
	}, nil
}
