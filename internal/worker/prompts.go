package worker

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/antoniostano/taskyon/internal/llm"
)

// Named prompt templates. Callers may override individual templates to
// tune the manual tool-selection protocol without rebuilding the engine.
const (
	TemplateToolSelection = "tool_selection"
)

const defaultToolSelectionTemplate = `You have access to the following tools:

{{range .Tools}}- {{.Name}}: {{.Description}}
  parameters: {{.ParametersJSON}}
{{end}}
Decide whether one of these tools helps with the task below. Answer with a
fenced YAML block of this shape and nothing else:

` + "```yaml" + `
useTool: true or false
toolCommand:
  name: <tool name>
  arguments:
    <parameter>: <value>
answer: <your answer when no tool is used>
` + "```" + `

Task:
{{.Content}}
`

// PromptSet holds the named templates used by the chat handler.
type PromptSet struct {
	templates map[string]*template.Template
}

func NewPromptSet() *PromptSet {
	set := &PromptSet{templates: make(map[string]*template.Template)}
	set.templates[TemplateToolSelection] = template.Must(
		template.New(TemplateToolSelection).Parse(defaultToolSelectionTemplate))
	return set
}

// Override replaces a named template. Unknown names are an error so typos
// surface at configuration time.
func (p *PromptSet) Override(name, text string) error {
	if _, ok := p.templates[name]; !ok {
		return fmt.Errorf("unknown prompt template %q", name)
	}
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return fmt.Errorf("parse template %q: %w", name, err)
	}
	p.templates[name] = tmpl
	return nil
}

type toolPromptEntry struct {
	Name           string
	Description    string
	ParametersJSON string
}

// RenderToolSelection builds the manual tool-selection prompt appended in
// place of the trailing raw message when native tool calling is off.
func (p *PromptSet) RenderToolSelection(defs []llm.ToolDefinition, content string) (string, error) {
	entries := make([]toolPromptEntry, 0, len(defs))
	for _, def := range defs {
		params, err := json.Marshal(def.Parameters)
		if err != nil {
			return "", fmt.Errorf("encode parameters for %s: %w", def.Name, err)
		}
		entries = append(entries, toolPromptEntry{
			Name:           def.Name,
			Description:    def.Description,
			ParametersJSON: string(params),
		})
	}

	var out strings.Builder
	err := p.templates[TemplateToolSelection].Execute(&out, map[string]any{
		"Tools":   entries,
		"Content": content,
	})
	if err != nil {
		return "", fmt.Errorf("render tool selection prompt: %w", err)
	}
	return out.String(), nil
}
