package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/clinicpulse/internal/session"
	"github.com/fyrsmithlabs/clinicpulse/internal/tools"
)

// reply is the JSON object the model is asked to return.
type reply struct {
	Output    any        `json:"output"`
	Pause     bool       `json:"pause"`
	Reply     string     `json:"reply"`
	ToolCalls []toolCall `json:"tool_calls"`
}

type toolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

const protocolPrompt = `Respond ONLY with a JSON object:
{
  "output": <object with the required fields, or null if not ready>,
  "pause": <true only when waiting for results the user has not provided>,
  "reply": "<short message for the user>",
  "tool_calls": [{"name": "<tool>", "arguments": {...}}]
}
When you request tool_calls, leave output null; the results come back in the next message.`

// systemPrompt assembles the stage instructions, the output contract, the
// current state and the tool catalogue.
func systemPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are running the %q stage of a clinic intake workflow.\n\n", req.Stage)
	b.WriteString(strings.TrimSpace(req.Instructions))
	b.WriteString("\n\n")
	if req.OutputKey != "" {
		fmt.Fprintf(&b, "Your output is stored under %q; %s.\n", req.OutputKey, req.Requirements.Describe())
	}
	fmt.Fprintf(&b, "This is attempt %d.\n\n", req.Iteration)

	if keys := req.State.Keys(); len(keys) > 0 {
		b.WriteString("Current session state:\n")
		for _, k := range keys {
			v, _ := req.State.Get(k)
			fmt.Fprintf(&b, "- %s: %s\n", k, v.String())
		}
		b.WriteString("\n")
	}

	if req.Tools != nil {
		if defs := req.Tools.Definitions(); len(defs) > 0 {
			b.WriteString("Available tools:\n")
			for _, d := range defs {
				fmt.Fprintf(&b, "- %s(%s): %s\n", d.Name, paramList(d.Params), d.Description)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString(protocolPrompt)
	return b.String()
}

func paramList(params []tools.Param) string {
	parts := make([]string, len(params))
	for i, p := range params {
		s := p.Name
		if !p.Required {
			s += "?"
		}
		parts[i] = s
	}
	return strings.Join(parts, ", ")
}

// parseReply decodes the model's answer. Text that is not a JSON object is
// treated as free-text output.
func parseReply(content string) reply {
	trimmed := stripFence(strings.TrimSpace(content))
	var r reply
	if strings.HasPrefix(trimmed, "{") && json.Unmarshal([]byte(trimmed), &r) == nil {
		return r
	}
	return reply{Output: content, Reply: content}
}

// stripFence removes a surrounding ```json fence.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func (r reply) value() *session.Value {
	if r.Output == nil {
		return nil
	}
	v := session.FromAny(r.Output)
	return &v
}

func toolResultsMessage(results []tools.Result) string {
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Sprintf("tool results could not be encoded: %v", err)
	}
	return "Tool results:\n" + string(data)
}
