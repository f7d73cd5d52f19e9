package invocation

import (
	"bytes"
	"fmt"
	"strings"
)

// EmptyResultPlaceholder replaces an empty result text on success.
const EmptyResultPlaceholder = "Done."

// Default output limits, in runes.
const (
	DefaultMaxResultChars = 50000
	DefaultMaxErrorChars  = 1000
)

// Tag classifies how a decoder produced its Result.
type Tag int

const (
	// Decoded results came from the structured document of a clean exit.
	Decoded Tag = iota + 1
	// Degraded results are successful but did not follow the structured path.
	Degraded
	// Failed results carry no usable output.
	Failed
)

// String returns the lowercase tag name.
func (t Tag) String() string {
	switch t {
	case Decoded:
		return "decoded"
	case Degraded:
		return "degraded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is a tagged decoder result.
type Outcome struct {
	Tag Tag
	// Tier names the decoder that produced the outcome.
	Tier   string
	Result Result
	// Err is set on Failed outcomes and wraps ErrDecode.
	Err error
}

// Document is the normalized content of one structured agent response.
type Document struct {
	Result string
	Token  string
	Cost   *float64
	Turns  *int
	Tokens *TokenUsage
}

// StructuredParser parses an agent's structured stdout. It returns an error
// when stdout is not a document the agent would have produced.
type StructuredParser func(stdout []byte) (Document, error)

// Decoder is one tier of the fallback chain.
type Decoder interface {
	Name() string
	// Decode returns false when the tier does not apply to out.
	Decode(out Output) (Outcome, bool)
}

// Limits bounds the size of text copied into results.
type Limits struct {
	MaxResultChars int
	MaxErrorChars  int
}

func (l Limits) withDefaults() Limits {
	if l.MaxResultChars == 0 {
		l.MaxResultChars = DefaultMaxResultChars
	}
	if l.MaxErrorChars == 0 {
		l.MaxErrorChars = DefaultMaxErrorChars
	}
	return l
}

// Chain tries decoders in order and returns the first outcome that applies.
type Chain struct {
	decoders []Decoder
	limits   Limits
}

// NewChain builds a chain from explicit tiers. When no tier applies,
// Decode falls back to a FailureDecoder.
func NewChain(limits Limits, decoders ...Decoder) *Chain {
	return &Chain{decoders: decoders, limits: limits.withDefaults()}
}

// DefaultChain returns the standard tiers for a backend's parser:
// structured document, raw text, empty clean exit, hard failure.
func DefaultChain(parse StructuredParser, limits Limits) *Chain {
	limits = limits.withDefaults()
	return NewChain(limits,
		StructuredDecoder{Parse: parse},
		RawTextDecoder{MaxChars: limits.MaxResultChars},
		EmptySuccessDecoder{},
		FailureDecoder{MaxChars: limits.MaxErrorChars},
	)
}

// Tiers returns the decoder names in evaluation order.
func (c *Chain) Tiers() []string {
	names := make([]string, 0, len(c.decoders))
	for _, d := range c.decoders {
		names = append(names, d.Name())
	}
	return names
}

// Decode runs out through the chain. Duration is copied into the result.
func (c *Chain) Decode(out Output) Outcome {
	for _, d := range c.decoders {
		if o, ok := d.Decode(out); ok {
			if o.Tier == "" {
				o.Tier = d.Name()
			}
			o.Result.DurationMs = out.Duration.Milliseconds()
			return o
		}
	}
	o, _ := FailureDecoder{MaxChars: c.limits.MaxErrorChars}.Decode(out)
	o.Result.DurationMs = out.Duration.Milliseconds()
	return o
}

// StructuredDecoder parses stdout as the backend's structured document.
// A clean exit yields Decoded; a non-zero exit with a parseable document
// yields Degraded.
type StructuredDecoder struct {
	Parse StructuredParser
}

func (StructuredDecoder) Name() string { return "structured" }

func (d StructuredDecoder) Decode(out Output) (Outcome, bool) {
	if d.Parse == nil || len(bytes.TrimSpace(out.Stdout)) == 0 {
		return Outcome{}, false
	}
	doc, err := d.Parse(out.Stdout)
	if err != nil {
		return Outcome{}, false
	}

	text := strings.TrimSpace(doc.Result)
	if text == "" {
		text = EmptyResultPlaceholder
	}
	tag := Decoded
	if out.ExitCode != 0 {
		tag = Degraded
	}
	return Outcome{
		Tag: tag,
		Result: Result{
			Success:      true,
			Result:       text,
			SessionToken: doc.Token,
			Cost:         doc.Cost,
			Turns:        doc.Turns,
			Tokens:       doc.Tokens,
			Degraded:     tag == Degraded,
		},
	}, true
}

// RawTextDecoder returns non-empty unparseable stdout as the result.
type RawTextDecoder struct {
	MaxChars int
}

func (RawTextDecoder) Name() string { return "raw_text" }

func (d RawTextDecoder) Decode(out Output) (Outcome, bool) {
	text := strings.TrimSpace(string(out.Stdout))
	if text == "" {
		return Outcome{}, false
	}
	var cost float64
	var turns int
	return Outcome{
		Tag: Degraded,
		Result: Result{
			Success:  true,
			Result:   Truncate(text, d.MaxChars),
			Cost:     &cost,
			Turns:    &turns,
			Degraded: true,
		},
	}, true
}

// EmptySuccessDecoder handles a clean exit that printed nothing.
type EmptySuccessDecoder struct{}

func (EmptySuccessDecoder) Name() string { return "empty_success" }

func (EmptySuccessDecoder) Decode(out Output) (Outcome, bool) {
	if out.ExitCode != 0 {
		return Outcome{}, false
	}
	return Outcome{
		Tag: Degraded,
		Result: Result{
			Success:  true,
			Result:   EmptyResultPlaceholder,
			Degraded: true,
		},
	}, true
}

// FailureDecoder is the terminal tier. It always applies.
type FailureDecoder struct {
	MaxChars int
}

func (FailureDecoder) Name() string { return "failure" }

func (d FailureDecoder) Decode(out Output) (Outcome, bool) {
	stderr := Truncate(strings.TrimSpace(string(out.Stderr)), d.MaxChars)

	msg := fmt.Sprintf("agent failed with exit code %d", out.ExitCode)
	if stderr != "" {
		msg += ": " + stderr
	}
	if needsReauth(stderr) {
		msg += " (the agent may need to be re-authenticated on the host)"
	}

	return Outcome{
		Tag: Failed,
		Result: Result{
			Success: false,
			Error:   msg,
		},
		Err: fmt.Errorf("%w: exit code %d", ErrDecode, out.ExitCode),
	}, true
}

func needsReauth(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "auth") || strings.Contains(s, "login")
}
