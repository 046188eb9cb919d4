package worker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidStructuredResponse marks structured-answer text that claimed
// to be YAML but failed validation. The offending text rides along in the
// wrapping error; it is never silently coerced.
var ErrInvalidStructuredResponse = errors.New("invalid structured response")

// ToolCommand is the model's request to run a tool, parsed from YAML.
type ToolCommand struct {
	Name      string         `yaml:"name"`
	Arguments map[string]any `yaml:"arguments"`
}

// StructuredResponse is the permissive structured-answer shape: either a
// tool decision or a free-text answer.
type StructuredResponse struct {
	UseTool     bool         `yaml:"useTool"`
	ToolCommand *ToolCommand `yaml:"toolCommand"`
	Answer      string       `yaml:"answer"`
}

// Greedy first match so nested fences inside the block stay inside it.
var yamlFence = regexp.MustCompile("(?s)```yaml\\s*(.*)```")

// ParseStructuredResponse extracts the YAML decision from model output.
// The bool reports whether the text was structured at all: unfenced free
// prose is a valid plain answer, not an error. Fenced text that fails to
// parse is an error carrying the offending block.
func ParseStructuredResponse(text string) (StructuredResponse, bool, error) {
	if m := yamlFence.FindStringSubmatch(text); m != nil {
		block := m[1]
		resp, err := decodeStructured(block)
		if err != nil {
			return StructuredResponse{}, false,
				fmt.Errorf("%w: %v\noffending text:\n%s", ErrInvalidStructuredResponse, err, strings.TrimSpace(block))
		}
		return resp, true, nil
	}

	// No fence: accept bare YAML only when it is a mapping that carries at
	// least one recognized key. Everything else is free prose.
	var probe map[string]any
	if err := yaml.Unmarshal([]byte(text), &probe); err != nil || probe == nil {
		return StructuredResponse{}, false, nil
	}
	recognized := false
	for _, key := range []string{"useTool", "toolCommand", "answer"} {
		if _, ok := probe[key]; ok {
			recognized = true
			break
		}
	}
	if !recognized {
		return StructuredResponse{}, false, nil
	}

	resp, err := decodeStructured(text)
	if err != nil {
		return StructuredResponse{}, false,
			fmt.Errorf("%w: %v\noffending text:\n%s", ErrInvalidStructuredResponse, err, strings.TrimSpace(text))
	}
	return resp, true, nil
}

func decodeStructured(block string) (StructuredResponse, error) {
	var resp StructuredResponse
	if err := yaml.Unmarshal([]byte(block), &resp); err != nil {
		return StructuredResponse{}, err
	}
	if resp.UseTool {
		if resp.ToolCommand == nil || strings.TrimSpace(resp.ToolCommand.Name) == "" {
			return StructuredResponse{}, errors.New("useTool set but toolCommand.name is missing")
		}
	}
	return resp, nil
}
