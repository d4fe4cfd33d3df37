package nsp

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/quay/nspmirror"
	"github.com/quay/nspmirror/internal/httputil"
)

// ErrNoProgress is reported when the server returns an empty page before the
// advertised total has been reached. Continuing would request the same offset
// forever.
var ErrNoProgress = errors.New("page made no progress")

// Fetcher walks the pages of the advisory feed.
type Fetcher struct {
	client  *http.Client
	root    *url.URL
	limiter *rate.Limiter
	tracer  trace.Tracer
}

// FetcherOption configures a [Fetcher].
type FetcherOption func(*Fetcher)

// WithRateLimit limits page requests to r per second. A non-positive r means
// no limit.
func WithRateLimit(r float64) FetcherOption {
	return func(f *Fetcher) {
		if r > 0 {
			f.limiter = rate.NewLimiter(rate.Limit(r), 1)
		}
	}
}

// WithTracerProvider sets the provider spans are created from.
func WithTracerProvider(tp trace.TracerProvider) FetcherOption {
	return func(f *Fetcher) {
		f.tracer = tp.Tracer(instrumentationName)
	}
}

// NewFetcher returns a Fetcher using the client c against the feed rooted at
// root. If root is nil, [DefaultURL] is used.
func NewFetcher(c *http.Client, root *url.URL, opts ...FetcherOption) *Fetcher {
	if root == nil {
		root, _ = url.Parse(DefaultURL)
	}
	f := &Fetcher{
		client:  c,
		root:    root,
		limiter: rate.NewLimiter(rate.Inf, 1),
		tracer:  defaultTracer(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Pages returns an iterator over the pages of the feed, in increasing offset
// order.
//
// The sequence ends once the running offset reaches the total reported by the
// most recent page. Any error is yielded once and ends the sequence; the
// sequence cannot be resumed after an error. An empty feed yields nothing.
func (f *Fetcher) Pages(ctx context.Context) iter.Seq2[*Page, error] {
	return func(yield func(*Page, error) bool) {
		offset := 0
		for {
			p, err := f.page(ctx, offset)
			if err != nil {
				yield(nil, err)
				return
			}
			switch {
			case p.Count == 0 && p.Total == 0:
				slog.DebugContext(ctx, "empty feed")
				return
			case p.Count == 0 && offset < p.Total:
				yield(nil, &nspmirror.Error{
					Op:      "nsp/Fetcher.Pages",
					Kind:    nspmirror.ErrPermanent,
					Message: fmt.Sprintf("empty page at offset %d of %d", offset, p.Total),
					Inner:   ErrNoProgress,
				})
				return
			}
			if p.Count != len(p.Advisories) {
				slog.WarnContext(ctx, "page count disagrees with contents",
					"offset", offset,
					"count", p.Count,
					"len", len(p.Advisories))
			}
			advisoryCounter.Add(float64(len(p.Advisories)))
			if !yield(p, nil) {
				return
			}
			offset += p.Count
			if offset >= p.Total {
				return
			}
		}
	}
}

func (f *Fetcher) page(ctx context.Context, offset int) (_ *Page, err error) {
	const op = "nsp/Fetcher.page"
	ctx, span := f.tracer.Start(ctx, "FetchPage",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("nsp.offset", offset)))
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "page fetch failed")
		}
		pageCounter.WithLabelValues(result).Inc()
		pageDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
		span.End()
	}()

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, &nspmirror.Error{Op: op, Kind: nspmirror.ErrTransient, Message: "rate limiter", Inner: err}
	}

	u := *f.root
	q := u.Query()
	q.Set("offset", strconv.Itoa(offset))
	u.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &nspmirror.Error{Op: op, Kind: nspmirror.ErrInternal, Message: "unable to construct request", Inner: err}
	}
	req.Header.Set("Accept", "application/json")
	slog.DebugContext(ctx, "requesting page", "url", u.String())

	res, err := f.client.Do(req)
	if err != nil {
		return nil, &nspmirror.Error{Op: op, Kind: nspmirror.ErrTransient, Message: "request failed", Inner: err}
	}
	defer res.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", res.StatusCode))
	if err := httputil.CheckResponse(res, http.StatusOK); err != nil {
		kind := nspmirror.ErrPermanent
		var se *httputil.StatusError
		if errors.As(err, &se) && se.Temporary() {
			kind = nspmirror.ErrTransient
		}
		return nil, &nspmirror.Error{Op: op, Kind: kind, Message: fmt.Sprintf("offset %d", offset), Inner: err}
	}
	p, err := ParsePage(res.Body)
	if err != nil {
		return nil, &nspmirror.Error{Op: op, Kind: nspmirror.ErrTransient, Message: fmt.Sprintf("offset %d", offset), Inner: err}
	}
	span.SetAttributes(
		attribute.Int("nsp.count", p.Count),
		attribute.Int("nsp.total", p.Total),
	)
	slog.DebugContext(ctx, "received page",
		"offset", offset,
		"count", p.Count,
		"total", p.Total)
	return p, nil
}
