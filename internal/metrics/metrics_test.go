package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetBuildInfo(t *testing.T) {
	BuildInfo.Reset()

	SetBuildInfo("v1.0.0", "go1.24")

	count := testutil.CollectAndCount(BuildInfo)
	if count != 1 {
		t.Errorf("expected 1 metric, got %d", count)
	}

	value := testutil.ToFloat64(BuildInfo.WithLabelValues("v1.0.0", "go1.24"))
	if value != 1 {
		t.Errorf("expected value 1, got %f", value)
	}
}

func TestCoordinatorMetrics(t *testing.T) {
	CoordinatorFetchesTotal.Reset()
	CoordinatorState.Reset()
	CoordinatorConsecutiveFailures.Reset()

	CoordinatorFetchesTotal.WithLabelValues("abc123/status", "success").Inc()
	CoordinatorFetchesTotal.WithLabelValues("abc123/status", "success").Inc()
	CoordinatorFetchesTotal.WithLabelValues("abc123/status", "timeout").Inc()
	CoordinatorFetchDuration.WithLabelValues("abc123/status").Observe(0.2)
	CoordinatorState.WithLabelValues("abc123/status").Set(2)
	CoordinatorConsecutiveFailures.WithLabelValues("abc123/status").Set(1)

	success := testutil.ToFloat64(CoordinatorFetchesTotal.WithLabelValues("abc123/status", "success"))
	if success != 2 {
		t.Errorf("expected 2 successful fetches, got %f", success)
	}

	timeouts := testutil.ToFloat64(CoordinatorFetchesTotal.WithLabelValues("abc123/status", "timeout"))
	if timeouts != 1 {
		t.Errorf("expected 1 timeout, got %f", timeouts)
	}

	state := testutil.ToFloat64(CoordinatorState.WithLabelValues("abc123/status"))
	if state != 2 {
		t.Errorf("expected state 2, got %f", state)
	}
}

func TestEntryMetrics(t *testing.T) {
	EntrySetupAttemptsTotal.Reset()

	EntriesReady.Set(2)
	EntriesPending.Set(1)
	EntrySetupAttemptsTotal.WithLabelValues("abc123", "not_ready").Inc()

	if v := testutil.ToFloat64(EntriesReady); v != 2 {
		t.Errorf("expected 2 ready, got %f", v)
	}
	if v := testutil.ToFloat64(EntriesPending); v != 1 {
		t.Errorf("expected 1 pending, got %f", v)
	}
	if v := testutil.ToFloat64(EntrySetupAttemptsTotal.WithLabelValues("abc123", "not_ready")); v != 1 {
		t.Errorf("expected 1 not_ready attempt, got %f", v)
	}
}

func TestMetricNames(t *testing.T) {
	expectedPrefix := "nextdnsbridge_"

	metrics := []prometheus.Collector{
		BuildInfo,
		CoordinatorFetchesTotal,
		CoordinatorFetchDuration,
		CoordinatorState,
		CoordinatorConsecutiveFailures,
		ListenerPanicsTotal,
		EntriesReady,
		EntriesPending,
		EntrySetupAttemptsTotal,
		ActionsTotal,
		MQTTMessagesPublished,
		MQTTPublishErrors,
		MQTTQueueDepth,
	}

	for _, m := range metrics {
		ch := make(chan *prometheus.Desc, 10)
		m.Describe(ch)
		close(ch)

		for desc := range ch {
			name := desc.String()
			if !strings.Contains(name, expectedPrefix) {
				t.Errorf("metric %s does not have expected prefix %s", name, expectedPrefix)
			}
		}
	}
}
