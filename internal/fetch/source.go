package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultBaseURL   = "https://archiveofourown.org"
	DefaultUserAgent = "shipstats/1.0 (relationship tag statistics)"
)

// PageSource returns the raw markup of one listing page of a tag.
type PageSource interface {
	FetchPage(ctx context.Context, tag string, page int) ([]byte, error)
}

// Error is a transport or HTTP failure while fetching a listing page.
type Error struct {
	Tag        string
	Page       int
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching %q page %d: %d %s", e.Tag, e.Page, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("fetching %q page %d: %v", e.Tag, e.Page, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPSource fetches tag listing pages from the archive over HTTP.
type HTTPSource struct {
	baseURL string
	client  *resty.Client
}

// Option configures an HTTPSource.
type Option func(*HTTPSource)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *HTTPSource) {
		s.client.SetTimeout(d)
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(s *HTTPSource) {
		s.client.SetHeader("User-Agent", ua)
	}
}

// NewHTTPSource creates a source for the archive at baseURL.
func NewHTTPSource(baseURL string, opts ...Option) *HTTPSource {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := resty.New().
		SetTimeout(30*time.Second).
		SetHeader("User-Agent", DefaultUserAgent).
		SetHeader("Accept-Language", "en-US,en;q=0.9")

	s := &HTTPSource{baseURL: strings.TrimRight(baseURL, "/"), client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PageURL returns the listing URL of page for tag.
func (s *HTTPSource) PageURL(tag string, page int) string {
	u := s.baseURL + "/tags/" + EncodeTag(tag) + "/works"
	if page > 1 {
		u += "?page=" + strconv.Itoa(page)
	}
	return u
}

// FetchPage implements PageSource.
func (s *HTTPSource) FetchPage(ctx context.Context, tag string, page int) ([]byte, error) {
	res, err := s.client.R().
		SetContext(ctx).
		Get(s.PageURL(tag, page))
	if err != nil {
		return nil, &Error{Tag: tag, Page: page, Err: err}
	}
	if res.IsError() {
		return nil, &Error{Tag: tag, Page: page, StatusCode: res.StatusCode()}
	}
	return res.Body(), nil
}

// The archive's tag URLs replace these characters before escaping.
var tagReplacer = strings.NewReplacer(
	"/", "*s*",
	"&", "*a*",
	".", "*d*",
	"?", "*q*",
	"#", "*h*",
)

// EncodeTag converts a tag name to its URL path segment, e.g.
// "Jayce/Viktor (League of Legends)" -> "Jayce*s*Viktor%20%28League%20of%20Legends%29".
func EncodeTag(tag string) string {
	replaced := tagReplacer.Replace(tag)
	var b strings.Builder
	for i := 0; i < len(replaced); i++ {
		c := replaced[i]
		if isUnescaped(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func isUnescaped(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("-_.~*", c) >= 0
}
