package executor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/hupe1980/obsmesh/internal/util"
	"github.com/hupe1980/obsmesh/logging"
	"github.com/hupe1980/obsmesh/observation"
)

// DefaultMaxPageBytes caps how much of a response body Browser keeps.
const DefaultMaxPageBytes = 2 << 20

type browseArgs struct {
	URL string `json:"url" description:"Absolute http(s) URL to fetch"`
}

// BrowserOptions configures a Browser.
type BrowserOptions struct {
	Client    *http.Client
	MaxBytes  int64
	UserAgent string
	// Limiter throttles outgoing requests; nil means unlimited.
	Limiter *rate.Limiter
	Logger  logging.Logger
}

// Browser produces browse observations by fetching a URL over HTTP. Any HTTP
// response, including non-2xx, is a successful browse carrying its status code;
// transport errors are failures.
type Browser struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
	limiter   *rate.Limiter
	logger    logging.Logger
}

// NewBrowser creates a Browser.
func NewBrowser(optFns ...func(o *BrowserOptions)) *Browser {
	opts := BrowserOptions{
		Client:    &http.Client{Timeout: 30 * time.Second},
		MaxBytes:  DefaultMaxPageBytes,
		UserAgent: "obsmesh/1.0",
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Browser{
		client:    opts.Client,
		maxBytes:  opts.MaxBytes,
		userAgent: opts.UserAgent,
		limiter:   opts.Limiter,
		logger:    logging.OrNoOp(opts.Logger),
	}
}

// Kind returns observation.KindBrowse.
func (b *Browser) Kind() observation.Kind { return observation.KindBrowse }

// Parameters returns the argument schema.
func (b *Browser) Parameters() map[string]any { return util.CreateSchema(browseArgs{}) }

// Execute fetches the page named by the "url" argument.
func (b *Browser) Execute(ctx context.Context, a Action) (observation.Observation, error) {
	if err := checkKind(a, observation.KindBrowse); err != nil {
		return observation.Observation{}, err
	}
	args, err := bindArgs[browseArgs](a)
	if err != nil {
		return fail(observation.KindBrowse, a, observation.FailureError, err)
	}
	if !strings.HasPrefix(args.URL, "http://") && !strings.HasPrefix(args.URL, "https://") {
		return fail(observation.KindBrowse, a, observation.FailureError, fmt.Errorf("unsupported URL %q", args.URL))
	}

	ctx, cancel := withTimeout(ctx, a, 0)
	defer cancel()

	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return b.failWithURL(ctx, a, args.URL, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
	if err != nil {
		return fail(observation.KindBrowse, a, observation.FailureError, err)
	}
	req.Header.Set("User-Agent", b.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", acceptEncoding)

	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Debug("Browse failed", "url", args.URL, "error", err)
		return b.failWithURL(ctx, a, args.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := decodeBody(resp)
	if err != nil {
		return b.failWithURL(ctx, a, args.URL, err)
	}
	if b.maxBytes > 0 {
		body = io.LimitReader(body, b.maxBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return b.failWithURL(ctx, a, args.URL, err)
	}
	html := string(data)

	return observation.Classify(observation.KindBrowse, observation.BrowsePayload{
		URL:        resp.Request.URL.String(),
		HTML:       html,
		Title:      pageTitle(html),
		StatusCode: resp.StatusCode,
	}, envelope(a))
}

func (b *Browser) failWithURL(ctx context.Context, a Action, url string, err error) (observation.Observation, error) {
	return observation.Classify(observation.KindBrowse, observation.BrowsePayload{
		URL:     url,
		Failure: &observation.Failure{Reason: FailureReason(ctx, err), Message: err.Error()},
	}, envelope(a))
}

func pageTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
