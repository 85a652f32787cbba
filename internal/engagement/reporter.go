// Package engagement sends best-effort impression, click and close
// notifications to the advertisement backend.
package engagement

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/observability"
)

// Report kinds, also used as metric labels.
const (
	KindImpression = "impression"
	KindClick      = "click"
	KindClose      = "close"
)

var tracer = observability.Tracer("engagement")

// HTTPReporter fires POST {apiBase}/advertisements/{id}/{kind} without
// waiting for the outcome. Failures are logged and counted only.
type HTTPReporter struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	metrics    observability.MetricsRegistry

	wg sync.WaitGroup
}

// NewHTTPReporter creates a reporter. timeout bounds each request.
func NewHTTPReporter(baseURL string, timeout time.Duration, logger *zap.Logger, metrics observability.MetricsRegistry) *HTTPReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &HTTPReporter{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger:  logger,
		metrics: metrics,
	}
}

// ReportImpression notifies the backend that adID was displayed.
func (r *HTTPReporter) ReportImpression(adID string) { r.fire(KindImpression, adID) }

// ReportClick notifies the backend that adID was clicked.
func (r *HTTPReporter) ReportClick(adID string) { r.fire(KindClick, adID) }

// ReportClose notifies the backend that adID left the screen.
func (r *HTTPReporter) ReportClose(adID string) { r.fire(KindClose, adID) }

// Wait blocks until every in-flight report has finished. Used on shutdown.
func (r *HTTPReporter) Wait() { r.wg.Wait() }

func (r *HTTPReporter) fire(kind, adID string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.send(context.Background(), kind, adID); err != nil {
			r.logger.Warn("engagement report failed",
				zap.String("kind", kind),
				zap.String("ad_id", adID),
				zap.Error(err))
		}
	}()
}

func (r *HTTPReporter) send(ctx context.Context, kind, adID string) (err error) {
	ctx, span := tracer.Start(ctx, "engagement."+kind)
	span.SetAttributes(attribute.String("ad.id", adID))
	outcome := "success"
	defer func() {
		r.metrics.IncrementEngagementReports(kind, outcome)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	endpoint := fmt.Sprintf("%s/advertisements/%s/%s", r.baseURL, url.PathEscape(adID), kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		outcome = "failure"
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		outcome = "failure"
		return fmt.Errorf("http request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			r.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		outcome = "failure"
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	return nil
}

// NoopReporter discards every report.
type NoopReporter struct{}

func (NoopReporter) ReportImpression(string) {}
func (NoopReporter) ReportClick(string)      {}
func (NoopReporter) ReportClose(string)      {}
