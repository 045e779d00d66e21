package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestIncFetchDecision(t *testing.T) {
	before := testutil.ToFloat64(FetchDecisionsTotal.WithLabelValues("block", "domain-policy"))
	IncFetchDecision("block", "domain-policy")
	IncFetchDecision("block", "domain-policy")
	after := testutil.ToFloat64(FetchDecisionsTotal.WithLabelValues("block", "domain-policy"))
	if got := after - before; got != 2 {
		t.Errorf("counter delta = %v, want 2", got)
	}

	beforeAllow := testutil.ToFloat64(FetchDecisionsTotal.WithLabelValues("allow", "none"))
	IncFetchDecision("allow", "")
	afterAllow := testutil.ToFloat64(FetchDecisionsTotal.WithLabelValues("allow", "none"))
	if got := afterAllow - beforeAllow; got != 1 {
		t.Errorf("allow recorded as %v increments, want 1 under blocked_by=none", got)
	}
}

func TestHTTPRequestsTotalLabels(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("/v1/fetch", "422"))
	HTTPRequestsTotal.WithLabelValues("/v1/fetch", "422").Inc()
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("/v1/fetch", "422"))
	if got := after - before; got != 1 {
		t.Errorf("counter delta = %v, want 1", got)
	}
}
