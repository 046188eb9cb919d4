package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/antoniostano/taskyon/internal/tasks"
)

// Synthesizer derives follow-up tasks from a finished task's result so the
// conversation chain continues without external driving.
type Synthesizer struct {
	factory    *tasks.Factory
	controller *Controller
}

func NewSynthesizer(factory *tasks.Factory, controller *Controller) *Synthesizer {
	return &Synthesizer{factory: factory, controller: controller}
}

type followUp struct {
	draft   tasks.Draft
	execute bool
}

// Synthesize creates the follow-up children of task and returns their ids.
// When the controller was interrupted during processing, auto-execution is
// forced off so results are preserved but the chain stops.
func (s *Synthesizer) Synthesize(ctx context.Context, task tasks.Task) ([]string, error) {
	followUps, err := s.plan(task)
	if err != nil {
		return nil, err
	}

	if task.Debugging.Error != "" {
		followUps = append(followUps, followUp{
			draft: tasks.Draft{
				Role:    tasks.RoleSystem,
				Content: tasks.Content{Message: "Task failed: " + task.Debugging.Error},
			},
		})
	}

	interrupted := s.controller != nil && s.controller.IsInterrupted()

	var ids []string
	for _, f := range followUps {
		f.draft.Configuration = cloneConfiguration(task.Configuration)
		f.draft.Debugging.Cost = task.Debugging.Cost
		f.draft.Debugging.PromptTokens = task.Debugging.PromptTokens
		f.draft.Debugging.CompletionTokens = task.Debugging.CompletionTokens

		execute := f.execute && !interrupted
		id, err := s.factory.AddTaskToTree(ctx, f.draft, task.ID, execute, false)
		if err != nil {
			return ids, fmt.Errorf("create follow-up: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Synthesizer) plan(task tasks.Task) ([]followUp, error) {
	result := task.Result
	if result == nil {
		return nil, nil
	}

	switch result.Kind {
	case tasks.ResultChatAnswer:
		return []followUp{{
			draft: tasks.Draft{
				Role:    tasks.RoleAssistant,
				Content: tasks.Content{Message: result.Message},
			},
		}}, nil

	case tasks.ResultAssistantAnswer:
		followUps := make([]followUp, 0, len(result.AssistantMessages))
		for _, message := range result.AssistantMessages {
			followUps = append(followUps, followUp{
				draft: tasks.Draft{
					Role:    tasks.RoleAssistant,
					Content: tasks.Content{Message: message},
				},
			})
		}
		return followUps, nil

	case tasks.ResultToolResult:
		return []followUp{{
			draft: tasks.Draft{
				Role:    tasks.RoleAssistant,
				Content: tasks.Content{FunctionResult: orPlaceholder(result.ToolOutput)},
			},
			execute: true,
		}}, nil

	case tasks.ResultToolError:
		return []followUp{{
			draft: tasks.Draft{
				Role:    tasks.RoleAssistant,
				Content: tasks.Content{FunctionResult: orPlaceholder(result.ToolError)},
			},
			execute: true,
		}}, nil

	case tasks.ResultToolCall:
		if result.FunctionCall == nil {
			return nil, fmt.Errorf("tool call result without a function call")
		}
		call := *result.FunctionCall
		return []followUp{{
			draft: tasks.Draft{
				Role:    tasks.RoleFunction,
				Content: tasks.Content{FunctionCall: &call},
			},
			execute: true,
		}}, nil

	case tasks.ResultStructuredResponse:
		return planStructured(result.Message)

	default:
		return nil, fmt.Errorf("unknown result kind %q", result.Kind)
	}
}

func planStructured(text string) ([]followUp, error) {
	parsed, structured, err := ParseStructuredResponse(text)
	if err != nil {
		return nil, err
	}

	if structured && parsed.UseTool && parsed.ToolCommand != nil {
		return []followUp{{
			draft: tasks.Draft{
				Role: tasks.RoleFunction,
				Content: tasks.Content{FunctionCall: &tasks.FunctionCall{
					Name:      parsed.ToolCommand.Name,
					Arguments: parsed.ToolCommand.Arguments,
				}},
			},
			execute: true,
		}}, nil
	}

	answer := text
	if structured && strings.TrimSpace(parsed.Answer) != "" {
		answer = parsed.Answer
	}
	return []followUp{{
		draft: tasks.Draft{
			Role:    tasks.RoleAssistant,
			Content: tasks.Content{Message: answer},
		},
	}}, nil
}

func cloneConfiguration(cfg *tasks.Configuration) *tasks.Configuration {
	if cfg == nil {
		return nil
	}
	out := *cfg
	return &out
}

func orPlaceholder(s string) string {
	if s == "" {
		return "(no output)"
	}
	return s
}
