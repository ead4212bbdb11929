package protocol

// WebSocket event names pushed from server to client.
const (
	EventHealth   = "health"
	EventTick     = "tick"
	EventShutdown = "shutdown"

	// Delegation lifecycle (payload: id, from_agent, to_agent, status, ...).
	EventDelegationDispatched = "delegation.dispatched"
	EventDelegationCompleted  = "delegation.completed"
	EventDelegationFailed     = "delegation.failed"
	EventDelegationCancelled  = "delegation.cancelled"

	// Agent loop progress (payload: agent, conversation_id, iteration).
	EventLoopIteration = "agent.loop.iteration"
	EventLoopCompleted = "agent.loop.completed"

	// Tool execution inside a loop (payload: agent, tool, duration_ms).
	EventToolCall   = "agent.tool.call"
	EventToolResult = "agent.tool.result"

	// Report quality gates (payload: agent, hook, decision, feedback).
	EventHookRejected = "hook.rejected"

	// Scheduled jobs (payload: job_id, agent, status).
	EventScheduleRun = "schedule.run"
)
