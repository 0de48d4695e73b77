package assistant

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedOutput indicates the assistant produced output in
// neither of the two known JSON shapes.
var ErrMalformedOutput = errors.New("assistant output is not valid JSON")

// summaryOutput is the single-object shape from --output-format json.
type summaryOutput struct {
	Type      string     `json:"type"`
	Usage     usage      `json:"usage"`
	NumTurns  int        `json:"num_turns"`
	ToolCalls []toolCall `json:"tool_calls"`
	CostUSD   float64    `json:"total_cost_usd"`
}

type usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

// eventMessage is one entry of the older event-list shape.
type eventMessage struct {
	Usage   usage          `json:"usage"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type  string    `json:"type"`
	Name  string    `json:"name"`
	Input toolInput `json:"input"`
}

type toolCall struct {
	Name  string    `json:"name"`
	Input toolInput `json:"input"`
}

type toolInput struct {
	FilePath string `json:"file_path"`
}

// ParseOutput normalizes assistant stdout into Metrics. Two shapes are
// accepted: a single summary object and a list of messages. Anything
// else returns ErrMalformedOutput with zero metrics, which callers
// treat as a protocol violation.
func ParseOutput(stdout string) (Metrics, error) {
	raw := []byte(stdout)

	var summary summaryOutput
	if err := json.Unmarshal(raw, &summary); err == nil {
		m := Metrics{
			InputTokens: summary.Usage.InputTokens +
				summary.Usage.CacheReadInputTokens +
				summary.Usage.CacheCreationInputTokens,
			OutputTokens: summary.Usage.OutputTokens,
			NumTurns:     summary.NumTurns,
			CostUSD:      summary.CostUSD,
		}
		// Older builds omit tool_calls; turns are the closest proxy.
		if len(summary.ToolCalls) > 0 {
			m.ToolCalls = len(summary.ToolCalls)
		} else {
			m.ToolCalls = summary.NumTurns
		}
		for _, tc := range summary.ToolCalls {
			m.ContextFilesRead = appendContextRead(m.ContextFilesRead, tc.Name, tc.Input.FilePath)
		}
		return m, nil
	}

	var events []eventMessage
	if err := json.Unmarshal(raw, &events); err == nil {
		var m Metrics
		for _, msg := range events {
			m.InputTokens += msg.Usage.InputTokens +
				msg.Usage.CacheReadInputTokens +
				msg.Usage.CacheCreationInputTokens
			m.OutputTokens += msg.Usage.OutputTokens
			for _, block := range msg.Content {
				if block.Type == "tool_use" {
					m.ToolCalls++
					m.ContextFilesRead = appendContextRead(m.ContextFilesRead, block.Name, block.Input.FilePath)
				}
			}
		}
		return m, nil
	}

	return Metrics{}, fmt.Errorf("%w: %.80q", ErrMalformedOutput, stdout)
}

// appendContextRead records a Read of an AGENTS.md or CLAUDE.md file,
// deduplicated and in first-read order.
func appendContextRead(read []string, tool, path string) []string {
	if tool != "Read" || !isContextFileName(path) {
		return read
	}
	for _, p := range read {
		if p == path {
			return read
		}
	}
	return append(read, path)
}

func isContextFileName(path string) bool {
	base := path[strings.LastIndexByte(path, '/')+1:]
	return base == "AGENTS.md" || base == "CLAUDE.md"
}
