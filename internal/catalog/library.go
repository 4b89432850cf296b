package catalog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/sync/singleflight"

	"github.com/kalambet/ollamaup/internal/models"
)

// DefaultLibraryURL is the public model library.
const DefaultLibraryURL = "https://ollama.com/library"

const maxPageSize = 4 << 20

// infoDelimiter separates digest and size in the library page's file header.
const infoDelimiter = " · "

// Library scrapes model pages of the public library. Results, including
// failures, are memoized for the lifetime of the Library; there is no
// invalidation.
type Library struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.Mutex
	cache map[string]*models.Info // nil value memoizes a failed lookup
	group singleflight.Group
}

// NewLibrary creates a Library reading pages under baseURL with the given
// per-fetch timeout. Zero values select the defaults.
func NewLibrary(baseURL string, timeout time.Duration) *Library {
	if baseURL == "" {
		baseURL = DefaultLibraryURL
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Library{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     slog.Default(),
		cache:      make(map[string]*models.Info),
	}
}

// RemoteInfo returns the digest and size shown on the model's library page.
func (l *Library) RemoteInfo(ctx context.Context, id string) (models.Info, bool) {
	key := models.Canonical(id)
	if key == "" {
		return models.Info{}, false
	}

	l.mu.Lock()
	cached, hit := l.cache[key]
	l.mu.Unlock()
	if hit {
		if cached == nil {
			return models.Info{}, false
		}
		return *cached, true
	}

	v, _, _ := l.group.Do(key, func() (any, error) {
		l.mu.Lock()
		if cached, hit := l.cache[key]; hit {
			l.mu.Unlock()
			return cached, nil
		}
		l.mu.Unlock()

		start := time.Now()
		info, err := l.fetch(ctx, key)
		l.logger.Debug("catalog: fetched remote info", "model", key, "elapsed", time.Since(start), "error", err)

		l.mu.Lock()
		defer l.mu.Unlock()
		if err != nil {
			l.cache[key] = nil
			return (*models.Info)(nil), nil
		}
		l.cache[key] = &info
		return &info, nil
	})

	info, _ := v.(*models.Info)
	if info == nil {
		return models.Info{}, false
	}
	return *info, true
}

func (l *Library) fetch(ctx context.Context, key string) (models.Info, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/"+key, nil)
	if err != nil {
		return models.Info{}, fmt.Errorf("creating request: %w", err)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return models.Info{}, fmt.Errorf("fetching model page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Info{}, fmt.Errorf("fetching model page: unexpected status %d", resp.StatusCode)
	}

	digest, size, err := parseModelPage(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return models.Info{}, err
	}
	return models.Info{ID: key, Size: size, Digest: digest}, nil
}

// parseModelPage extracts "<digest> · <size>" from the last paragraph of the
// first .items-center element inside #file-explorer.
func parseModelPage(r io.Reader) (digest, size string, err error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", fmt.Errorf("parsing model page: %w", err)
	}

	explorer := findFirst(doc, func(n *html.Node) bool { return attr(n, "id") == "file-explorer" })
	if explorer == nil {
		return "", "", fmt.Errorf("parsing model page: #file-explorer not found")
	}
	header := findFirst(explorer, func(n *html.Node) bool { return n != explorer && hasClass(n, "items-center") })
	if header == nil {
		return "", "", fmt.Errorf("parsing model page: file header not found")
	}

	var last *html.Node
	walk(header, func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "p" {
			last = n
		}
	})
	if last == nil {
		return "", "", fmt.Errorf("parsing model page: no paragraph in file header")
	}

	text := strings.TrimSpace(textContent(last))
	parts := strings.SplitN(text, infoDelimiter, 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("parsing model page: unexpected file header %q", text)
	}
	digest, size = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if digest == "" || size == "" {
		return "", "", fmt.Errorf("parsing model page: empty digest or size in %q", text)
	}
	return digest, size, nil
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	})
	return sb.String()
}
