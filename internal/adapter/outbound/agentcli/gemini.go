package agentcli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/clibridge/clibridge/internal/domain/invocation"
	"github.com/clibridge/clibridge/internal/port/outbound"
)

// Gemini drives the gemini CLI with JSON output and auto-approval.
type Gemini struct{}

// Compile-time check that Gemini implements outbound.Backend.
var _ outbound.Backend = Gemini{}

// Name returns "gemini".
func (Gemini) Name() string { return "gemini" }

// Args builds:
//
//	--prompt=PROMPT -o json [-m M] [--resume T] -y
//
// The CLI has no system-prompt or turn-limit flag; a system prompt is
// prepended to the prompt text.
func (Gemini) Args(req invocation.Request, resumeToken string) []string {
	prompt := req.Prompt
	if req.SystemPrompt != "" {
		prompt = req.SystemPrompt + "\n\n" + prompt
	}
	args := []string{"--prompt=" + prompt, "-o", "json"}
	if req.Model != "" {
		args = append(args, "-m", req.Model)
	}
	if resumeToken != "" {
		args = append(args, "--resume", resumeToken)
	}
	return append(args, "-y")
}

type geminiResult struct {
	Response  *string `json:"response"`
	Result    *string `json:"result"`
	SessionID string  `json:"session_id"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
	Stats *struct {
		Models map[string]struct {
			Tokens struct {
				Prompt     int64 `json:"prompt"`
				Candidates int64 `json:"candidates"`
				Cached     int64 `json:"cached"`
			} `json:"tokens"`
		} `json:"models"`
	} `json:"stats"`
}

// Parse reads the JSON response object.
func (Gemini) Parse(stdout []byte) (invocation.Document, error) {
	data := bytes.TrimSpace(stdout)
	if len(data) == 0 || data[0] != '{' {
		return invocation.Document{}, errors.New("gemini output is not a JSON object")
	}

	var res geminiResult
	if err := json.Unmarshal(data, &res); err != nil {
		return invocation.Document{}, fmt.Errorf("parse gemini result: %w", err)
	}

	doc := invocation.Document{Token: res.SessionID}
	switch {
	case res.Response != nil:
		doc.Result = *res.Response
	case res.Result != nil:
		doc.Result = *res.Result
	case res.Error != nil && res.Error.Message != "":
		doc.Result = "Agent error: " + res.Error.Message
	default:
		return invocation.Document{}, errors.New("gemini output has no response field")
	}

	if res.Stats != nil && len(res.Stats.Models) > 0 {
		var usage invocation.TokenUsage
		for _, m := range res.Stats.Models {
			usage.Input += m.Tokens.Prompt
			usage.Output += m.Tokens.Candidates
			usage.CacheRead += m.Tokens.Cached
		}
		doc.Tokens = &usage
	}
	return doc, nil
}
