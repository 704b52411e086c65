package natsbus

import "fmt"

// TopicRunEvents carries every event of one workflow run.
func TopicRunEvents(runID string) string {
	return fmt.Sprintf("events.workflow.%s", runID)
}

const (
	TopicEventsAll    = "events.>"
	TopicEventsRuns   = "events.workflow.*"
	TopicEventsHealth = "events.health"
	// TopicRunRequest accepts {"workflow": name} and replies with the run id.
	TopicRunRequest = "orca.workflow.run"
)
