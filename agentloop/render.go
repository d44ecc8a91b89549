package agentloop

import (
	"github.com/windrose/agentkit/event"
	"github.com/windrose/agentkit/modeladapter"
	"github.com/windrose/agentkit/runnable"
)

// render rebuilds the message history sent to the model from the ledger
// events belonging to invocationID, prefixed by the agent's system
// instructions. It follows the teacher's runtime/agent/transcript/ledger.go
// replay-in-order approach: walk the ledger once, folding tool_call/
// tool_result pairs onto the assistant/user turns that produced them,
// rather than keeping a separate mutable transcript structure.
func render(agent *runnable.Agent, events []event.Event, invocationID string) []modeladapter.Message {
	var msgs []modeladapter.Message
	if agent.Instructions != "" {
		msgs = append(msgs, modeladapter.Message{
			Role:  modeladapter.RoleSystem,
			Parts: []modeladapter.Part{modeladapter.TextPart{Text: agent.Instructions}},
		})
	}

	var pendingAssistant *modeladapter.Message

	flushAssistant := func() {
		if pendingAssistant != nil {
			msgs = append(msgs, *pendingAssistant)
			pendingAssistant = nil
		}
	}

	for _, e := range events {
		switch e.Kind {
		case event.KindUser:
			flushAssistant()
			p := e.Payload.(event.UserPayload)
			msgs = append(msgs, modeladapter.Message{Role: modeladapter.RoleUser, Parts: []modeladapter.Part{modeladapter.TextPart{Text: p.Text}}})

		case event.KindAssistant:
			if e.InvocationID != invocationID {
				continue
			}
			p := e.Payload.(event.AssistantPayload)
			if pendingAssistant == nil {
				pendingAssistant = &modeladapter.Message{Role: modeladapter.RoleAssistant}
			}
			if p.Text != "" {
				pendingAssistant.Parts = append(pendingAssistant.Parts, modeladapter.TextPart{Text: p.Text})
			}

		case event.KindThought:
			if e.InvocationID != invocationID {
				continue
			}
			p := e.Payload.(event.ThoughtPayload)
			if pendingAssistant == nil {
				pendingAssistant = &modeladapter.Message{Role: modeladapter.RoleAssistant}
			}
			pendingAssistant.Parts = append(pendingAssistant.Parts, modeladapter.ThinkingPart{Text: p.Text, Final: true})

		case event.KindToolCall:
			if e.InvocationID != invocationID {
				continue
			}
			p := e.Payload.(event.ToolCallPayload)
			if pendingAssistant == nil {
				pendingAssistant = &modeladapter.Message{Role: modeladapter.RoleAssistant}
			}
			pendingAssistant.Parts = append(pendingAssistant.Parts, modeladapter.ToolUsePart{ID: p.CallID, Name: p.Name, Input: p.Args})

		case event.KindToolResult:
			if e.InvocationID != invocationID {
				continue
			}
			flushAssistant()
			p := e.Payload.(event.ToolResultPayload)
			result := p.Result
			isErr := p.Error != ""
			if isErr {
				result = []byte(`"` + p.Error + `"`)
			}
			msgs = append(msgs, modeladapter.Message{
				Role:  modeladapter.RoleUser,
				Parts: []modeladapter.Part{modeladapter.ToolResultPart{ToolUseID: p.CallID, Result: result, IsError: isErr}},
			})
		}
	}
	flushAssistant()

	return msgs
}
