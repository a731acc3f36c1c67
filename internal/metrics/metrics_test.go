package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(TagsCompleted)
	TagsCompleted.Inc()
	if got := testutil.ToFloat64(TagsCompleted); got != before+1 {
		t.Errorf("expected %v, got %v", before+1, got)
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	Init()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "shipstats_tags_completed_total") {
		t.Errorf("counter missing from output:\n%s", rec.Body.String())
	}
}
