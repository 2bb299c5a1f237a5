package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pkatsogr/crewd/internal/agent"
	"github.com/pkatsogr/crewd/internal/orchestrator"
)

func TestObserverCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNew(reg, orchestrator.New())
	obs := m.Observer()

	obs(agent.Event{Type: agent.EventTaskCompleted, Agent: "writer-1", Duration: 100 * time.Millisecond})
	obs(agent.Event{Type: agent.EventTaskCompleted, Agent: "writer-1", Duration: 200 * time.Millisecond})
	obs(agent.Event{Type: agent.EventTaskFailed, Agent: "writer-1", Duration: 50 * time.Millisecond})
	obs(agent.Event{Type: orchestrator.EventTaskQueued, Agent: "writer-1"})
	obs(agent.Event{Type: agent.EventTaskStarted, Agent: "writer-1"}) // not counted

	completed := testutil.ToFloat64(m.tasksTotal.WithLabelValues("writer-1", "completed"))
	if completed != 2 {
		t.Errorf("expected 2 completed, got %v", completed)
	}
	failed := testutil.ToFloat64(m.tasksTotal.WithLabelValues("writer-1", "failed"))
	if failed != 1 {
		t.Errorf("expected 1 failed, got %v", failed)
	}
	queued := testutil.ToFloat64(m.tasksQueued)
	if queued != 1 {
		t.Errorf("expected 1 queued, got %v", queued)
	}
}

func TestQueueDepthGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	orch := orchestrator.New()
	MustNew(reg, orch)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "crewd_queue_depth" {
			found = true
			if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 0 {
				t.Errorf("expected empty queue gauge 0, got %v", got)
			}
		}
	}
	if !found {
		t.Fatal("crewd_queue_depth not registered")
	}
}
