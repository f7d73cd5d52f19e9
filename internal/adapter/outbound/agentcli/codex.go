package agentcli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/clibridge/clibridge/internal/domain/invocation"
	"github.com/clibridge/clibridge/internal/port/outbound"
)

// Codex drives `codex exec` with JSONL event output.
type Codex struct{}

// Compile-time check that Codex implements outbound.Backend.
var _ outbound.Backend = Codex{}

// Name returns "codex".
func (Codex) Name() string { return "codex" }

// Args builds:
//
//	exec [resume T] --json --dangerously-bypass-approvals-and-sandbox
//	--skip-git-repo-check [-m M] -- PROMPT
func (Codex) Args(req invocation.Request, resumeToken string) []string {
	prompt := req.Prompt
	if req.SystemPrompt != "" {
		prompt = req.SystemPrompt + "\n\n" + prompt
	}
	args := []string{"exec"}
	if resumeToken != "" {
		args = append(args, "resume", resumeToken)
	}
	args = append(args, "--json", "--dangerously-bypass-approvals-and-sandbox", "--skip-git-repo-check")
	if req.Model != "" {
		args = append(args, "-m", req.Model)
	}
	return append(args, "--", prompt)
}

type codexEvent struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
	Item     *struct {
		Type    string `json:"type"`
		Text    string `json:"text"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"item"`
	Usage *struct {
		InputTokens       int64 `json:"input_tokens"`
		CachedInputTokens int64 `json:"cached_input_tokens"`
		OutputTokens      int64 `json:"output_tokens"`
	} `json:"usage"`
}

// Parse reads JSONL events. The thread id is the continuation token and
// the last completed agent message is the result. Lines that are not
// events are skipped; output with no events at all is rejected.
func (Codex) Parse(stdout []byte) (invocation.Document, error) {
	var (
		doc    invocation.Document
		events int
		turns  int
		usage  invocation.TokenUsage
		sawUse bool
	)

	sc := bufio.NewScanner(bytes.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var ev codexEvent
		if err := json.Unmarshal(line, &ev); err != nil || ev.Type == "" {
			continue
		}
		events++

		switch ev.Type {
		case "thread.started":
			doc.Token = ev.ThreadID
		case "item.completed":
			if ev.Item == nil || ev.Item.Type != "agent_message" {
				continue
			}
			if text := codexItemText(ev); text != "" {
				doc.Result = text
			}
		case "turn.completed":
			turns++
			if ev.Usage != nil {
				sawUse = true
				usage.Input += ev.Usage.InputTokens
				usage.Output += ev.Usage.OutputTokens
				usage.CacheRead += ev.Usage.CachedInputTokens
			}
		}
	}
	if err := sc.Err(); err != nil {
		return invocation.Document{}, err
	}
	if events == 0 {
		return invocation.Document{}, errors.New("codex output has no events")
	}

	if turns > 0 {
		doc.Turns = &turns
	}
	if sawUse {
		doc.Tokens = &usage
	}
	return doc, nil
}

func codexItemText(ev codexEvent) string {
	if ev.Item.Text != "" {
		return ev.Item.Text
	}
	var parts []string
	for _, c := range ev.Item.Content {
		if c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}
