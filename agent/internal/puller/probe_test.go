package puller

import (
	"strings"
	"testing"
)

const sampleMetrics = `# HELP zita_tag_operations_total Tag operations by resulting tagged-count delta.
# TYPE zita_tag_operations_total counter
zita_tag_operations_total{delta="-1"} 2
zita_tag_operations_total{delta="0"} 5
zita_tag_operations_total{delta="1"} 11
# TYPE zita_store_persist_total counter
zita_store_persist_total{backend="redis",result="written"} 4
zita_store_persist_total{backend="redis",result="unchanged"} 40
# TYPE zita_store_photos gauge
zita_store_photos 120
`

func TestParseMetrics(t *testing.T) {
	mfs, err := parseMetrics(strings.NewReader(sampleMetrics))
	if err != nil {
		t.Fatalf("parseMetrics: %v", err)
	}
	if got := sumFamily(mfs["zita_tag_operations_total"], "", ""); got != 18 {
		t.Errorf("tag ops: got %v, want 18", got)
	}
	if got := sumFamily(mfs["zita_store_persist_total"], "result", "unchanged"); got != 4 {
		t.Errorf("persists without unchanged: got %v, want 4", got)
	}
	if got := sumFamily(mfs["zita_store_photos"], "", ""); got != 120 {
		t.Errorf("photos gauge: got %v, want 120", got)
	}
}

func TestSumFamily_Missing(t *testing.T) {
	if got := sumFamily(nil, "", ""); got != 0 {
		t.Errorf("sumFamily(nil): got %v, want 0", got)
	}
}

func TestParseMetrics_Garbage(t *testing.T) {
	if _, err := parseMetrics(strings.NewReader("{not prometheus")); err == nil {
		t.Fatal("expected error for non-exposition input")
	}
}
