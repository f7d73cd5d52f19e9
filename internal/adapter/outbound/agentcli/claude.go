package agentcli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/clibridge/clibridge/internal/domain/invocation"
	"github.com/clibridge/clibridge/internal/port/outbound"
)

// Claude drives the claude CLI in print mode with JSON output.
type Claude struct{}

// Compile-time check that Claude implements outbound.Backend.
var _ outbound.Backend = Claude{}

// Name returns "claude".
func (Claude) Name() string { return "claude" }

// Args builds:
//
//	-p --output-format json [--model M] [--resume T] [--append-system-prompt S]
//	--dangerously-skip-permissions --max-turns N -- PROMPT
//
// The prompt follows "--" so text starting with a dash is never read as a flag.
func (Claude) Args(req invocation.Request, resumeToken string) []string {
	args := []string{"-p", "--output-format", "json"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if resumeToken != "" {
		args = append(args, "--resume", resumeToken)
	}
	if req.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.SystemPrompt)
	}
	args = append(args, "--dangerously-skip-permissions")
	if req.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(req.MaxTurns))
	}
	return append(args, "--", req.Prompt)
}

// claudeResult is the final result message of a print-mode run.
type claudeResult struct {
	Type         string   `json:"type"`
	Subtype      string   `json:"subtype"`
	IsError      bool     `json:"is_error"`
	Result       *string  `json:"result"`
	SessionID    string   `json:"session_id"`
	TotalCostUSD *float64 `json:"total_cost_usd"`
	CostUSD      *float64 `json:"cost_usd"`
	NumTurns     *int     `json:"num_turns"`
	Usage        *struct {
		InputTokens              int64 `json:"input_tokens"`
		OutputTokens             int64 `json:"output_tokens"`
		CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
		CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	} `json:"usage"`
}

// Parse reads the JSON result object. Verbose runs print an array of
// messages; the last result message in it is used.
func (Claude) Parse(stdout []byte) (invocation.Document, error) {
	data := bytes.TrimSpace(stdout)
	if len(data) == 0 {
		return invocation.Document{}, errors.New("empty output")
	}

	var res claudeResult
	switch data[0] {
	case '{':
		if err := json.Unmarshal(data, &res); err != nil {
			return invocation.Document{}, fmt.Errorf("parse claude result: %w", err)
		}
	case '[':
		var msgs []claudeResult
		if err := json.Unmarshal(data, &msgs); err != nil {
			return invocation.Document{}, fmt.Errorf("parse claude messages: %w", err)
		}
		found := false
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Type == "result" {
				res, found = msgs[i], true
				break
			}
		}
		if !found {
			return invocation.Document{}, errors.New("no result message in claude output")
		}
	default:
		return invocation.Document{}, errors.New("claude output is not a JSON document")
	}

	if res.Result == nil && res.SessionID == "" && res.Type != "result" {
		return invocation.Document{}, errors.New("claude output has no result fields")
	}

	doc := invocation.Document{
		Token: res.SessionID,
		Turns: res.NumTurns,
		Cost:  res.TotalCostUSD,
	}
	if doc.Cost == nil {
		doc.Cost = res.CostUSD
	}
	if res.Result != nil {
		doc.Result = *res.Result
	}
	if doc.Result == "" && res.IsError && res.Subtype != "" {
		doc.Result = "Agent stopped: " + res.Subtype
	}
	if u := res.Usage; u != nil {
		doc.Tokens = &invocation.TokenUsage{
			Input:         u.InputTokens,
			Output:        u.OutputTokens,
			CacheRead:     u.CacheReadInputTokens,
			CacheCreation: u.CacheCreationInputTokens,
		}
	}
	return doc, nil
}
