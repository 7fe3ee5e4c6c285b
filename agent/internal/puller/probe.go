package puller

import (
	"context"
	"fmt"
	"io"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Server metric families whose totals change whenever the tag map may have
// changed.
var changeFamilies = []string{
	"zita_tag_operations_total",
	"zita_store_persist_total",
}

// probe reads the server's /metrics and returns a fingerprint of its write
// activity. Two equal fingerprints mean no tag was written in between, so the
// exports cannot differ. A server restart resets the counters, which still
// changes the fingerprint.
func probe(ctx context.Context, client *http.Client, url string) (float64, error) {
	mfs, err := fetchMetrics(ctx, client, url)
	if err != nil {
		return 0, err
	}
	var fp float64
	for _, name := range changeFamilies {
		fp += sumFamily(mfs[name], "result", "unchanged")
	}
	return fp, nil
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up the counter, gauge and untyped values in mf, skipping
// series whose label skipName equals skipValue. A nil mf sums to 0.
func sumFamily(mf *dto.MetricFamily, skipName, skipValue string) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		if hasLabel(m, skipName, skipValue) {
			continue
		}
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}
