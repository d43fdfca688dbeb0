// Tracing instrumentation for the executor.
package executor

import (
	"context"

	"github.com/vinayprograms/benchagent/internal/trace"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// startAgentSpan starts a span for one agent loop.
func (e *Executor) startAgentSpan(ctx context.Context, agent, parent string) (context.Context, oteltrace.Span) {
	ctx, span := e.tracer.Start(ctx, "agent."+agent)
	span.SetAttributes(
		attribute.String("agent.name", agent),
		attribute.String("agent.parent_node", parent),
	)
	return ctx, span
}

// endAgentSpan ends the agent span with its final status.
func (e *Executor) endAgentSpan(span oteltrace.Span, status string, err error) {
	span.SetAttributes(attribute.String("agent.status", status))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// startSubAgentSpan starts a span for a delegation.
func (e *Executor) startSubAgentSpan(ctx context.Context, tool, task string) (context.Context, oteltrace.Span) {
	ctx, span := e.tracer.Start(ctx, "subagent."+tool)
	span.SetAttributes(
		attribute.String("subagent.tool", tool),
		attribute.String("subagent.task", truncate(task, 2000)),
	)
	return ctx, span
}

// endSubAgentSpan ends the delegation span.
func (e *Executor) endSubAgentSpan(span oteltrace.Span, res *trace.SubagentResult, err error) {
	if res != nil {
		span.SetAttributes(
			attribute.String("subagent.name", res.SubagentName),
			attribute.String("subagent.status", res.Status),
		)
	}
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
