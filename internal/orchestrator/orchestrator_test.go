package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pkatsogr/crewd/internal/agent"
)

func newStartedAgent(t *testing.T, o *Orchestrator, name, kind string, fn func(*agent.Task) (any, error)) *agent.Base {
	t.Helper()
	ag := agent.New(name, kind, nil, agent.ExecutorFunc(func(_ context.Context, task *agent.Task) (any, error) {
		return fn(task)
	}))
	if err := o.AddAgent(context.Background(), ag); err != nil {
		t.Fatalf("add agent %s: %v", name, err)
	}
	return ag
}

// waitIdle polls until the queue is empty and the drain guard is released.
func waitIdle(t *testing.T, o *Orchestrator) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		st := o.Status()
		if st.QueueDepth == 0 && !st.Processing {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("queue never drained: depth=%d processing=%v", st.QueueDepth, st.Processing)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestExecuteTaskNotFound(t *testing.T) {
	o := New()
	_, err := o.ExecuteTask(context.Background(), "ghost", &agent.Task{})

	var notFound *agent.AgentNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected AgentNotFoundError, got %v", err)
	}
}

func TestExecuteTask(t *testing.T) {
	o := New()
	newStartedAgent(t, o, "writer", "writer", func(task *agent.Task) (any, error) {
		return "wrote " + task.Type, nil
	})

	result, err := o.ExecuteTask(context.Background(), "writer", &agent.Task{Type: "article"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result != "wrote article" {
		t.Errorf("unexpected result %v", result)
	}

	stats := o.Stats()
	if stats.TotalTasks != 1 || stats.CompletedTasks != 1 || stats.FailedTasks != 0 {
		t.Errorf("unexpected counters: %+v", stats)
	}
	if stats.SuccessRate != 1.0 {
		t.Errorf("expected success rate 1.0, got %f", stats.SuccessRate)
	}
}

func TestExecuteTaskFailure(t *testing.T) {
	o := New()
	boom := errors.New("boom")
	newStartedAgent(t, o, "writer", "writer", func(*agent.Task) (any, error) {
		return nil, boom
	})

	_, err := o.ExecuteTask(context.Background(), "writer", &agent.Task{})
	var execErr *agent.TaskExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected TaskExecutionError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Error("expected underlying error preserved")
	}

	stats := o.Stats()
	if stats.TotalTasks != 1 || stats.FailedTasks != 1 {
		t.Errorf("unexpected counters: %+v", stats)
	}
}

func TestAddAgentDuplicate(t *testing.T) {
	o := New()
	newStartedAgent(t, o, "writer", "writer", func(*agent.Task) (any, error) { return nil, nil })

	ag := agent.New("writer", "writer", nil, agent.ExecutorFunc(func(context.Context, *agent.Task) (any, error) {
		return nil, nil
	}))
	err := o.AddAgent(context.Background(), ag)

	var dup *agent.DuplicateAgentError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateAgentError, got %v", err)
	}
}

func TestQueueFIFO(t *testing.T) {
	o := New()
	var mu sync.Mutex
	var order []string
	newStartedAgent(t, o, "writer", "writer", func(task *agent.Task) (any, error) {
		mu.Lock()
		order = append(order, task.Params["value"].(string))
		mu.Unlock()
		return nil, nil
	})

	o.QueueTask(context.Background(), "writer", &agent.Task{Params: map[string]any{"value": "A"}})
	o.QueueTask(context.Background(), "writer", &agent.Task{Params: map[string]any{"value": "B"}})
	waitIdle(t, o)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "A" || order[1] != "B" {
		t.Fatalf("expected FIFO order [A B], got %v", order)
	}

	stats := o.Stats()
	if stats.TotalTasks != 2 || stats.CompletedTasks != 2 {
		t.Errorf("unexpected counters: %+v", stats)
	}
	if stats.QueueDepth != 0 || stats.Processing {
		t.Errorf("expected empty, idle queue: %+v", stats)
	}
}

func TestQueueFailureContinuesDrain(t *testing.T) {
	o := New()
	var mu sync.Mutex
	var seen []string
	newStartedAgent(t, o, "writer", "writer", func(task *agent.Task) (any, error) {
		v := task.Params["value"].(string)
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
		if v == "bad" {
			return nil, errors.New("boom")
		}
		return nil, nil
	})

	var evMu sync.Mutex
	var queueErrors int
	o.Subscribe(func(ev agent.Event) {
		if ev.Type == agent.EventError && ev.Context == "queue" {
			evMu.Lock()
			queueErrors++
			evMu.Unlock()
		}
	})

	o.QueueTask(context.Background(), "writer", &agent.Task{Params: map[string]any{"value": "bad"}})
	o.QueueTask(context.Background(), "writer", &agent.Task{Params: map[string]any{"value": "good"}})
	waitIdle(t, o)

	mu.Lock()
	if len(seen) != 2 || seen[1] != "good" {
		t.Fatalf("expected drain to continue past failure, saw %v", seen)
	}
	mu.Unlock()

	evMu.Lock()
	if queueErrors != 1 {
		t.Errorf("expected 1 queue error event, got %d", queueErrors)
	}
	evMu.Unlock()

	stats := o.Stats()
	if stats.FailedTasks != 1 || stats.CompletedTasks != 1 {
		t.Errorf("unexpected counters: %+v", stats)
	}
}

func TestEnqueueDuringDrain(t *testing.T) {
	o := New()
	release := make(chan struct{})
	var mu sync.Mutex
	var executed []string
	newStartedAgent(t, o, "writer", "writer", func(task *agent.Task) (any, error) {
		v := task.Params["value"].(string)
		if v == "first" {
			<-release
		}
		mu.Lock()
		executed = append(executed, v)
		mu.Unlock()
		return nil, nil
	})

	o.QueueTask(context.Background(), "writer", &agent.Task{Params: map[string]any{"value": "first"}})

	// Wait for the drain to pick up the first task, then enqueue a second
	// while it is still executing.
	deadline := time.After(2 * time.Second)
	for o.Status().QueueDepth != 0 {
		select {
		case <-deadline:
			t.Fatal("first task never dequeued")
		case <-time.After(time.Millisecond):
		}
	}
	o.QueueTask(context.Background(), "writer", &agent.Task{Params: map[string]any{"value": "second"}})
	close(release)
	waitIdle(t, o)

	mu.Lock()
	defer mu.Unlock()
	if len(executed) != 2 || executed[0] != "first" || executed[1] != "second" {
		t.Fatalf("expected both tasks to run exactly once in order, got %v", executed)
	}
}

func TestWorkflowThreadsPreviousResult(t *testing.T) {
	o := New()
	articles := []string{"go generics", "errgroup"}
	newStartedAgent(t, o, "curator", "curator", func(*agent.Task) (any, error) {
		return map[string]any{"articles": articles}, nil
	})

	var got any
	newStartedAgent(t, o, "writer", "writer", func(task *agent.Task) (any, error) {
		got = task.PreviousResult
		return "digest", nil
	})

	result, err := o.ExecuteWorkflow(context.Background(), []Step{
		{AgentName: "curator", Task: &agent.Task{Type: "discover"}},
		{AgentName: "writer", Task: &agent.Task{Type: "write"}, UsesPreviousResult: true},
	})
	if err != nil {
		t.Fatalf("workflow: %v", err)
	}

	prev, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("expected previous result injected into writer task, got %T", got)
	}
	if len(prev["articles"].([]string)) != 2 {
		t.Errorf("unexpected previous result payload: %v", prev)
	}

	if len(result.Steps) != 2 {
		t.Fatalf("expected 2 step results, got %d", len(result.Steps))
	}
	if result.Final != "digest" {
		t.Errorf("expected final result from last step, got %v", result.Final)
	}
}

func TestWorkflowAbortsOnFailure(t *testing.T) {
	o := New()
	first := newStartedAgent(t, o, "curator", "curator", func(*agent.Task) (any, error) {
		return "found", nil
	})
	newStartedAgent(t, o, "writer", "writer", func(*agent.Task) (any, error) {
		return nil, errors.New("no ideas")
	})
	third := newStartedAgent(t, o, "editor", "editor", func(*agent.Task) (any, error) {
		return "polished", nil
	})

	_, err := o.ExecuteWorkflow(context.Background(), []Step{
		{AgentName: "curator", Task: &agent.Task{}},
		{AgentName: "writer", Task: &agent.Task{}},
		{AgentName: "editor", Task: &agent.Task{}},
	})

	var stepErr *agent.WorkflowStepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected WorkflowStepError, got %v", err)
	}
	if stepErr.Step != 2 {
		t.Errorf("expected failure at step 2, got %d", stepErr.Step)
	}
	if stepErr.Agent != "writer" {
		t.Errorf("expected failure attributed to writer, got %s", stepErr.Agent)
	}

	// Completed steps keep their effect; later steps never run.
	if first.Stats().TasksExecuted != 1 {
		t.Errorf("expected step 1 to have executed, stats %+v", first.Stats())
	}
	if third.Stats().TasksExecuted != 0 {
		t.Errorf("expected step 3 to never execute, stats %+v", third.Stats())
	}
}

func TestPauseHaltsDrainingAndResumeRestarts(t *testing.T) {
	o := New()
	var mu sync.Mutex
	var executed int
	newStartedAgent(t, o, "writer", "writer", func(*agent.Task) (any, error) {
		mu.Lock()
		executed++
		mu.Unlock()
		return nil, nil
	})

	o.PauseAll()
	o.QueueTask(context.Background(), "writer", &agent.Task{})
	o.QueueTask(context.Background(), "writer", &agent.Task{})

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	if executed != 0 {
		mu.Unlock()
		t.Fatalf("expected no execution while paused, got %d", executed)
	}
	mu.Unlock()
	if depth := o.Status().QueueDepth; depth != 2 {
		t.Fatalf("expected 2 queued tasks while paused, got %d", depth)
	}

	o.ResumeAll(context.Background())
	waitIdle(t, o)

	mu.Lock()
	defer mu.Unlock()
	if executed != 2 {
		t.Fatalf("expected both tasks to run after resume, got %d", executed)
	}
}

func TestPausedBacklogDegradesHealth(t *testing.T) {
	o := New()
	newStartedAgent(t, o, "writer", "writer", func(*agent.Task) (any, error) { return nil, nil })

	o.PauseAll()
	o.QueueTask(context.Background(), "writer", &agent.Task{})

	hs := o.HealthCheck()
	if hs.Health != agent.HealthDegraded {
		t.Fatalf("expected degraded with paused backlog, got %s", hs.Health)
	}
	if hs.Agents["writer"].Health != agent.HealthDegraded {
		t.Errorf("expected paused writer degraded, got %s", hs.Agents["writer"].Health)
	}
}

func TestShutdownDropsQueue(t *testing.T) {
	o := New()
	var mu sync.Mutex
	var executed int
	ag := newStartedAgent(t, o, "writer", "writer", func(*agent.Task) (any, error) {
		mu.Lock()
		executed++
		mu.Unlock()
		return nil, nil
	})

	o.PauseAll()
	o.QueueTask(context.Background(), "writer", &agent.Task{})
	o.QueueTask(context.Background(), "writer", &agent.Task{})

	o.Shutdown()

	if depth := o.Status().QueueDepth; depth != 0 {
		t.Errorf("expected empty queue after shutdown, got %d", depth)
	}
	if count := o.Status().Agents; count != 0 {
		t.Errorf("expected no agents after shutdown, got %d", count)
	}
	if ag.Status() != agent.StatusStopped {
		t.Errorf("expected agent stopped, got %s", ag.Status())
	}
	mu.Lock()
	defer mu.Unlock()
	if executed != 0 {
		t.Errorf("expected dropped tasks to never execute, got %d", executed)
	}
}

func TestSubscribeReachesAgentLifecycleEvents(t *testing.T) {
	o := New()

	var mu sync.Mutex
	var before, after []agent.EventType
	o.Subscribe(func(ev agent.Event) {
		mu.Lock()
		before = append(before, ev.Type)
		mu.Unlock()
	})

	newStartedAgent(t, o, "writer", "writer", func(task *agent.Task) (any, error) {
		if task.Type == "boom" {
			return nil, errors.New("executor exploded")
		}
		return "ok", nil
	})

	// Subscriptions arriving after the agent reach it as well.
	o.Subscribe(func(ev agent.Event) {
		mu.Lock()
		after = append(after, ev.Type)
		mu.Unlock()
	})

	if _, err := o.ExecuteTask(context.Background(), "writer", &agent.Task{Type: "article"}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := o.ExecuteTask(context.Background(), "writer", &agent.Task{Type: "boom"}); err == nil {
		t.Fatal("expected failure")
	}

	mu.Lock()
	defer mu.Unlock()
	for name, seen := range map[string][]agent.EventType{"before": before, "after": after} {
		var completed, failed bool
		for _, typ := range seen {
			switch typ {
			case agent.EventTaskCompleted:
				completed = true
			case agent.EventTaskFailed:
				failed = true
			}
		}
		if !completed || !failed {
			t.Errorf("observer subscribed %s AddAgent missed lifecycle events: completed=%v failed=%v (saw %v)",
				name, completed, failed, seen)
		}
	}
}

func TestQueuedTaskOutlivesCallerContext(t *testing.T) {
	o := New()

	proceed := make(chan struct{})
	var mu sync.Mutex
	var taskErr error
	executed := 0

	ag := agent.New("writer", "writer", nil, agent.ExecutorFunc(func(ctx context.Context, _ *agent.Task) (any, error) {
		<-proceed
		mu.Lock()
		taskErr = ctx.Err()
		executed++
		mu.Unlock()
		return "ok", nil
	}))
	if err := o.AddAgent(context.Background(), ag); err != nil {
		t.Fatalf("add agent: %v", err)
	}

	// The enqueueing caller cancels right after QueueTask returns, the way
	// an HTTP request context dies when its handler responds 202.
	ctx, cancel := context.WithCancel(context.Background())
	o.QueueTask(ctx, "writer", &agent.Task{Type: "article"})
	cancel()
	close(proceed)

	waitIdle(t, o)

	mu.Lock()
	defer mu.Unlock()
	if executed != 1 {
		t.Fatalf("executed = %d, want 1", executed)
	}
	if taskErr != nil {
		t.Fatalf("queued task ran under a cancelled context: %v", taskErr)
	}

	stats := o.Stats()
	if stats.CompletedTasks != 1 || stats.FailedTasks != 0 {
		t.Fatalf("stats = completed %d / failed %d, want 1 / 0", stats.CompletedTasks, stats.FailedTasks)
	}
}
