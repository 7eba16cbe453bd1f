package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Prometheus-style counters kept in memory and rendered by Export.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	transitionsTotal   = make(map[transitionKey]int64)
	recoveriesTotal    int64
	dispatchPasses     = make(map[string]int64)
	jobsClaimedTotal   int64
	claimConflicts     int64
	notifyFailures     = make(map[string]int64)
	reconcilerOutcomes = make(map[string]int64)
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

type transitionKey struct {
	Kind   string
	Status string
	Source string
}

// Transition sources. Worker transitions come from a dispatcher pass; recovery
// and cancel are maintenance actions outside the worker state machine.
const (
	SourceWorker   = "worker"
	SourceRecovery = "recovery"
	SourceCancel   = "cancel"
)

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	requestsTotal[reqKey{Method: method, Path: path, Status: status}]++
	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordTransition counts a job entering status.
func RecordTransition(kind, status, source string) {
	mu.Lock()
	defer mu.Unlock()
	transitionsTotal[transitionKey{Kind: kind, Status: status, Source: source}]++
}

// RecordRecoveries counts jobs returned to pending by stuck-job recovery.
func RecordRecoveries(n int) {
	if n <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	recoveriesTotal += int64(n)
}

// RecordDispatchPass counts one dispatcher pass and the jobs it claimed.
func RecordDispatchPass(claimed int, failed bool) {
	mu.Lock()
	defer mu.Unlock()

	outcome := "ok"
	if failed {
		outcome = "error"
	}
	dispatchPasses[outcome]++
	jobsClaimedTotal += int64(claimed)
}

// RecordClaimConflict counts a claim lost to another worker.
func RecordClaimConflict() {
	mu.Lock()
	defer mu.Unlock()
	claimConflicts++
}

// RecordNotifyFailure counts a notification sink error.
func RecordNotifyFailure(sink string) {
	mu.Lock()
	defer mu.Unlock()
	notifyFailures[sink]++
}

// RecordReconcilerOutcome counts how a watch ended: succeeded, failed or gave_up.
func RecordReconcilerOutcome(outcome string) {
	mu.Lock()
	defer mu.Unlock()
	reconcilerOutcomes[outcome]++
}

// TransitionCount returns the current value of one transition counter.
func TransitionCount(kind, status, source string) int64 {
	mu.RLock()
	defer mu.RUnlock()
	return transitionsTotal[transitionKey{Kind: kind, Status: status, Source: source}]
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP reelqueue_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE reelqueue_http_requests_total counter\n")

	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})
	for _, k := range reqKeys {
		fmt.Fprintf(&b, "reelqueue_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, requestsTotal[k])
	}

	b.WriteString("# HELP reelqueue_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE reelqueue_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP reelqueue_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE reelqueue_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})
	for _, k := range latKeys {
		fmt.Fprintf(&b, "reelqueue_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsSum[k])
		fmt.Fprintf(&b, "reelqueue_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsCount[k])
	}

	b.WriteString("# HELP reelqueue_job_transitions_total Job status transitions by kind, status and source\n")
	b.WriteString("# TYPE reelqueue_job_transitions_total counter\n")

	var tKeys []transitionKey
	for k := range transitionsTotal {
		tKeys = append(tKeys, k)
	}
	sort.Slice(tKeys, func(i, j int) bool {
		if tKeys[i].Kind != tKeys[j].Kind {
			return tKeys[i].Kind < tKeys[j].Kind
		}
		if tKeys[i].Status != tKeys[j].Status {
			return tKeys[i].Status < tKeys[j].Status
		}
		return tKeys[i].Source < tKeys[j].Source
	})
	for _, k := range tKeys {
		fmt.Fprintf(&b, "reelqueue_job_transitions_total{kind=\"%s\",status=\"%s\",source=\"%s\"} %d\n",
			k.Kind, k.Status, k.Source, transitionsTotal[k])
	}

	b.WriteString("# HELP reelqueue_job_recoveries_total Jobs returned to pending by stuck-job recovery\n")
	b.WriteString("# TYPE reelqueue_job_recoveries_total counter\n")
	fmt.Fprintf(&b, "reelqueue_job_recoveries_total %d\n", recoveriesTotal)

	b.WriteString("# HELP reelqueue_dispatch_passes_total Dispatcher passes by outcome\n")
	b.WriteString("# TYPE reelqueue_dispatch_passes_total counter\n")
	writeStringCounter(&b, "reelqueue_dispatch_passes_total", "outcome", dispatchPasses)

	b.WriteString("# HELP reelqueue_jobs_claimed_total Jobs claimed by dispatcher passes\n")
	b.WriteString("# TYPE reelqueue_jobs_claimed_total counter\n")
	fmt.Fprintf(&b, "reelqueue_jobs_claimed_total %d\n", jobsClaimedTotal)

	b.WriteString("# HELP reelqueue_claim_conflicts_total Claims lost to another worker\n")
	b.WriteString("# TYPE reelqueue_claim_conflicts_total counter\n")
	fmt.Fprintf(&b, "reelqueue_claim_conflicts_total %d\n", claimConflicts)

	b.WriteString("# HELP reelqueue_notify_failures_total Notification sink failures\n")
	b.WriteString("# TYPE reelqueue_notify_failures_total counter\n")
	writeStringCounter(&b, "reelqueue_notify_failures_total", "sink", notifyFailures)

	b.WriteString("# HELP reelqueue_reconciler_watches_total Finished status watches by outcome\n")
	b.WriteString("# TYPE reelqueue_reconciler_watches_total counter\n")
	writeStringCounter(&b, "reelqueue_reconciler_watches_total", "outcome", reconcilerOutcomes)

	return b.String()
}

func writeStringCounter(b *strings.Builder, name, label string, values map[string]int64) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s{%s=\"%s\"} %d\n", name, label, k, values[k])
	}
}
