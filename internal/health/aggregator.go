// Package health probes the backend services. Checks are advisory: they fold
// every failure into status text and never return an error.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/companion/internal/config"
	"github.com/stellarlinkco/companion/internal/metrics"
)

const (
	InferenceLabel = "inference engine"
	GatewayLabel   = "gateway"
)

// Status is the outcome of one liveness check.
type Status struct {
	Service string
	Healthy bool
	// Detail is empty when healthy, otherwise the reason.
	Detail string
}

func (s Status) String() string {
	if s.Healthy {
		return s.Service + ": operational"
	}
	return s.Service + ": " + s.Detail
}

// Report holds both checks in display order.
type Report struct {
	Inference Status
	Gateway   Status
	CheckedAt time.Time
}

func (r Report) String() string {
	return r.Inference.String() + "\n" + r.Gateway.String()
}

// Healthy reports whether both services answered.
func (r Report) Healthy() bool {
	return r.Inference.Healthy && r.Gateway.Healthy
}

type Aggregator struct {
	gatewayURL   string
	inferenceURL string
	client       *http.Client
	log          zerolog.Logger
	metrics      *metrics.Metrics
}

type Option func(*Aggregator)

func WithHTTPClient(c *http.Client) Option  { return func(a *Aggregator) { a.client = c } }
func WithLogger(l zerolog.Logger) Option    { return func(a *Aggregator) { a.log = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(a *Aggregator) { a.metrics = m } }

// NewAggregator probes <gatewayURL>/health and the inference liveness URL as given.
func NewAggregator(gatewayURL, inferenceURL string, opts ...Option) *Aggregator {
	a := &Aggregator{
		gatewayURL:   strings.TrimRight(gatewayURL, "/"),
		inferenceURL: inferenceURL,
		client:       &http.Client{Timeout: time.Duration(config.DefaultHealthTimeoutMs) * time.Millisecond},
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CheckGateway treats any HTTP response as reachable.
func (a *Aggregator) CheckGateway(ctx context.Context) Status {
	st := Status{Service: GatewayLabel}
	if _, err := a.get(ctx, a.gatewayURL+"/health"); err != nil {
		st.Detail = fmt.Sprintf("unavailable (%v)", err)
	} else {
		st.Healthy = true
	}
	a.record(config.ServiceGateway, st)
	return st
}

// CheckInferenceEngine requires a 2xx answer.
func (a *Aggregator) CheckInferenceEngine(ctx context.Context) Status {
	st := Status{Service: InferenceLabel}
	code, err := a.get(ctx, a.inferenceURL)
	switch {
	case err != nil:
		st.Detail = fmt.Sprintf("unavailable (%v)", err)
	case code < 200 || code > 299:
		st.Detail = fmt.Sprintf("unhealthy (HTTP %d)", code)
	default:
		st.Healthy = true
	}
	a.record(config.ServiceInference, st)
	return st
}

// CheckAll runs both checks concurrently.
func (a *Aggregator) CheckAll(ctx context.Context) Report {
	var (
		wg     sync.WaitGroup
		report Report
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		report.Inference = a.CheckInferenceEngine(ctx)
	}()
	go func() {
		defer wg.Done()
		report.Gateway = a.CheckGateway(ctx)
	}()
	wg.Wait()
	report.CheckedAt = time.Now()
	return report
}

// ProbeGateway is a strict readiness probe: nil only on 2xx.
func (a *Aggregator) ProbeGateway(ctx context.Context) error {
	return a.probe(ctx, a.gatewayURL+"/health")
}

// ProbeInference is a strict readiness probe: nil only on 2xx.
func (a *Aggregator) ProbeInference(ctx context.Context) error {
	return a.probe(ctx, a.inferenceURL)
}

func (a *Aggregator) probe(ctx context.Context, url string) error {
	code, err := a.get(ctx, url)
	if err != nil {
		return err
	}
	if code < 200 || code > 299 {
		return fmt.Errorf("health %s: http %d", url, code)
	}
	return nil
}

func (a *Aggregator) get(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (a *Aggregator) record(service string, st Status) {
	a.metrics.SetServiceUp(service, st.Healthy)
	if !st.Healthy {
		a.log.Debug().Str("backend", service).Str("detail", st.Detail).Msg("health check failed")
	}
}
