package eventbus

import "fmt"

// Topic patterns for NATS pub/sub communication.

func TopicAgentEvents(agentName string) string {
	return fmt.Sprintf("events.agent.%s", agentName)
}

func TopicTaskEvent(eventType string) string {
	return fmt.Sprintf("events.task.%s", eventType)
}

const (
	TopicEventsAll   = "events.>"
	TopicEventsQueue = "events.queue"

	// Request/reply control endpoints served by the IPC handler.
	TopicCtlQueueTask   = "ctl.queue_task"
	TopicCtlExecuteTask = "ctl.execute_task"
	TopicCtlRunWorkflow = "ctl.run_workflow"
	TopicCtlListAgents  = "ctl.list_agents"
	TopicCtlStats       = "ctl.stats"
	TopicCtlHealth      = "ctl.health"
	TopicCtlSchedules   = "ctl.schedules"
)
