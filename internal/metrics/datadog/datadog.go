// Package datadog implements a Datadog backend for the internal/metrics
// facade.
//
// Submission model:
//   - metric writes buffer in memory under a mutex (fast, no network)
//   - a ticker flushes periodically (default once per minute), so long runs
//     produce a real time series instead of a single end-of-job spike
//   - Close() stops the loop and flushes one final time
//
// A SIGKILL/OOM skips Close(); no backend can fix that.
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"spsync/internal/metrics"
)

// Facade metric name → Datadog series name. Unknown names are ignored by
// design: the backend publishes a fixed operational contract, not arbitrary
// strings.
var seriesNames = map[string]string{
	"sync_step_total":            "spsync.step.total",
	"sync_rows_total":            "spsync.rows.total",
	"sync_batches_total":         "spsync.batches.total",
	"sync_http_requests_total":   "spsync.http_requests.total",
	"sync_step_duration_seconds": "spsync.step.duration_seconds",
}

// Options controls backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "spsync".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"service:spsync"}).
	Tags []string

	// FlushEvery controls submission cadence. <= 0 defaults to 60 seconds.
	FlushEvery time.Duration

	// Unexported test seams. Production never sets these; unit tests use
	// them to avoid real clocks, tickers and HTTP.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the minimal slice of the Datadog SDK we depend on,
// kept private so tests can substitute a fake without HTTP.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

type counterBuf struct {
	metric string
	tags   []string
	value  float64
}

type sampleBuf struct {
	metric string
	tags   []string
	values []float64
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api        metricsSubmitter
	ctx        context.Context
	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu       sync.Mutex
	counters map[string]*counterBuf
	samples  map[string]*sampleBuf
}

// ParseTagsCSV splits a comma-separated tag list, trimming blanks.
func ParseTagsCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client and
// starts its periodic flush goroutine.
//
// Edge cases:
//   - FlushEvery <= 0 defaults to 60s; empty JobName defaults to "spsync".
//   - Environment tag selection uses ENV then DD_ENV, otherwise env:unknown.
//
// Errors:
//   - Client construction does not hit the network; failures surface from
//     Flush().
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "spsync"
	}

	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		client := dd.NewAPIClient(dd.NewConfiguration())
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		counters:   make(map[string]*counterBuf),
		samples:    make(map[string]*sampleBuf),
	}

	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the background flush loop and performs one final Flush().
// Call once, at process exit.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// tagsFor renders labels into sorted datadog tags on top of baseTags.
func (b *Backend) tagsFor(labels metrics.Labels) []string {
	tags := make([]string, 0, len(b.baseTags)+len(labels))
	tags = append(tags, b.baseTags...)
	for k, v := range labels {
		if v == "" {
			continue
		}
		tags = append(tags, k+":"+v)
	}
	sort.Strings(tags[len(b.baseTags):])
	return tags
}

func bufKey(metric string, tags []string) string {
	return metric + "|" + strings.Join(tags, ",")
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	metric, ok := seriesNames[name]
	if !ok || delta <= 0 {
		return
	}
	tags := b.tagsFor(labels)
	key := bufKey(metric, tags)

	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.counters[key]
	if !ok {
		buf = &counterBuf{metric: metric, tags: tags}
		b.counters[key] = buf
	}
	buf.value += delta
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	metric, ok := seriesNames[name]
	if !ok || value < 0 {
		return
	}
	tags := b.tagsFor(labels)
	key := bufKey(metric, tags)

	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.samples[key]
	if !ok {
		buf = &sampleBuf{metric: metric, tags: tags}
		b.samples[key] = buf
	}
	buf.values = append(buf.values, value)
}

// snapshotAndReset grabs buffered metrics and resets the buffers so Flush can
// submit out-of-lock.
func (b *Backend) snapshotAndReset() (map[string]*counterBuf, map[string]*sampleBuf) {
	b.mu.Lock()
	defer b.mu.Unlock()

	counters, samples := b.counters, b.samples
	b.counters = make(map[string]*counterBuf)
	b.samples = make(map[string]*sampleBuf)
	return counters, samples
}

// Flush submits buffered metrics and resets local buffers. Buffers reset even
// if submission fails, to keep the pipeline's hot path from backing up behind
// a broken metrics endpoint.
func (b *Backend) Flush() error {
	counters, samples := b.snapshotAndReset()
	if len(counters) == 0 && len(samples) == 0 {
		return nil
	}

	series := buildSeries(counters, samples, b.now().Unix())
	_, _, err := b.api.SubmitMetrics(b.ctx, datadogV2.MetricPayload{Series: series},
		*datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries is pure (no locks, network, or clocks) so it can be unit
// tested directly. Counters become COUNT points; each histogram key becomes
// percentile gauges (p50/p90/p95/p99/max) plus a sample count.
func buildSeries(counters map[string]*counterBuf, samples map[string]*sampleBuf, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(counters)+6*len(samples))

	keys := make([]string, 0, len(counters))
	for k := range counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c := counters[k]
		if c.value == 0 {
			continue
		}
		series = append(series, pointSeries(c.metric, datadogV2.METRICINTAKETYPE_COUNT, c.value, c.tags, nowUnix))
	}

	keys = keys[:0]
	for k := range samples {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s := samples[k]
		if len(s.values) == 0 {
			continue
		}
		cp := append([]float64(nil), s.values...)
		sort.Float64s(cp)

		series = append(series,
			pointSeries(s.metric+".p50", datadogV2.METRICINTAKETYPE_GAUGE, percentileNearestRank(cp, 0.50), s.tags, nowUnix),
			pointSeries(s.metric+".p90", datadogV2.METRICINTAKETYPE_GAUGE, percentileNearestRank(cp, 0.90), s.tags, nowUnix),
			pointSeries(s.metric+".p95", datadogV2.METRICINTAKETYPE_GAUGE, percentileNearestRank(cp, 0.95), s.tags, nowUnix),
			pointSeries(s.metric+".p99", datadogV2.METRICINTAKETYPE_GAUGE, percentileNearestRank(cp, 0.99), s.tags, nowUnix),
			pointSeries(s.metric+".max", datadogV2.METRICINTAKETYPE_GAUGE, cp[len(cp)-1], s.tags, nowUnix),
			pointSeries(s.metric+".samples", datadogV2.METRICINTAKETYPE_GAUGE, float64(len(cp)), s.tags, nowUnix),
		)
	}
	return series
}

func pointSeries(metric string, typ datadogV2.MetricIntakeType, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

// percentileNearestRank returns the nearest-rank percentile of sorted
// samples. p is in (0,1].
func percentileNearestRank(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p*float64(len(sorted)) + 0.9999999)
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
