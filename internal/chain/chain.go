// Package chain composes the full answer pipeline: retrieve evidence for a
// question, fold it into the conversation, generate with the configured
// model, and record the exchange. Streaming consumers get typed events so
// the answer, the answer/evidence boundary, and the evidence itself are
// distinguishable without sniffing the text.
package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/model"

	"github.com/ragbot0/ragbot/internal/chat"
	"github.com/ragbot0/ragbot/internal/rag"
)

// noEvidence is the evidence text when retrieval finds nothing rankable.
const noEvidence = "no relevant context found"

// EventKind discriminates stream events.
type EventKind int

const (
	// EventAnswerDelta carries one incremental piece of the answer.
	EventAnswerDelta EventKind = iota
	// EventBoundary marks the end of the answer; evidence follows.
	EventBoundary
	// EventEvidence carries the formatted evidence block.
	EventEvidence
	// EventError carries a mid-stream failure. It is always the final event.
	EventError
)

// Event is one element of a streamed answer.
type Event struct {
	Kind EventKind
	// Text is the delta or evidence payload; empty for boundary and error.
	Text string
	// Err is set only for EventError.
	Err error
}

// GenerationError wraps a failure from the generation backend.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string { return "chain: generate: " + e.Err.Error() }
func (e *GenerationError) Unwrap() error { return e.Err }

// Chain answers questions for one conversation. It is bound to a single
// ContextManager; callers needing concurrent conversations hold one Chain
// per session.
type Chain struct {
	model     model.BaseChatModel
	retriever *rag.Retriever
	contextMg *chat.ContextManager
	// ragMode disables retrieval entirely when false; questions go to the
	// model with history alone.
	ragMode bool
}

// New constructs a Chain. retriever may be nil only when ragMode is false.
func New(m model.BaseChatModel, retriever *rag.Retriever, cm *chat.ContextManager, ragMode bool) *Chain {
	return &Chain{model: m, retriever: retriever, contextMg: cm, ragMode: ragMode}
}

// Context returns the conversation state this chain drives.
func (c *Chain) Context() *chat.ContextManager { return c.contextMg }

// FormatEvidence renders scored chunks as the citation block shown to the
// model and to the user after the answer.
func FormatEvidence(chunks []rag.ScoredChunk) string {
	if len(chunks) == 0 {
		return noEvidence
	}
	blocks := make([]string, 0, len(chunks))
	for i, sc := range chunks {
		blocks = append(blocks, fmt.Sprintf("[Doc %d] (similarity: %.2f, source: %s, title: %s)\n%s",
			i+1, sc.Similarity, sc.Source, sc.Title, sc.Content))
	}
	return strings.Join(blocks, "\n")
}

// Answer runs the pipeline to completion and returns the answer plus the
// evidence it was grounded on. scope, when non-empty, restricts retrieval
// to the listed document ids.
func (c *Chain) Answer(ctx context.Context, question string, scope []int64) (answer, evidence string, err error) {
	evidence, err = c.prepare(ctx, question, scope)
	if err != nil {
		return "", "", err
	}

	msg, err := c.model.Generate(ctx, c.contextMg.RenderPrompt())
	if err != nil {
		return "", evidence, &GenerationError{Err: err}
	}
	c.contextMg.AddAssistantMessage(msg.Content)
	return msg.Content, evidence, nil
}

// Stream runs the pipeline and emits the answer incrementally. The event
// order is: zero or more answer deltas, one boundary, one evidence event.
// A mid-stream failure replaces the tail with a single error event; the
// partial answer is still recorded in history with an error suffix, so the
// conversation stays coherent.
//
// Errors before generation starts are returned synchronously: a retrieval
// failure leaves history untouched, a stream-setup failure leaves only the
// user turn behind.
func (c *Chain) Stream(ctx context.Context, question string, scope []int64) (<-chan Event, error) {
	evidence, err := c.prepare(ctx, question, scope)
	if err != nil {
		return nil, err
	}

	reader, err := c.model.Stream(ctx, c.contextMg.RenderPrompt())
	if err != nil {
		return nil, &GenerationError{Err: err}
	}

	events := make(chan Event, 8)
	go func() {
		defer close(events)
		defer reader.Close()

		var answer strings.Builder
		for {
			msg, err := reader.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				genErr := &GenerationError{Err: err}
				c.contextMg.AddAssistantMessage(answer.String() + "\n[error: generation interrupted]")
				events <- Event{Kind: EventError, Err: genErr}
				return
			}
			if msg.Content == "" {
				continue
			}
			answer.WriteString(msg.Content)
			select {
			case events <- Event{Kind: EventAnswerDelta, Text: msg.Content}:
			case <-ctx.Done():
				c.contextMg.AddAssistantMessage(answer.String() + "\n[error: generation interrupted]")
				return
			}
		}

		c.contextMg.AddAssistantMessage(answer.String())
		events <- Event{Kind: EventBoundary}
		events <- Event{Kind: EventEvidence, Text: evidence}
	}()
	return events, nil
}

// prepare records the user turn, retrieves evidence, and folds it into the
// conversation. In plain mode it records the turn and returns no evidence.
// A retrieval failure unwinds the recorded turn, leaving history as it was.
func (c *Chain) prepare(ctx context.Context, question string, scope []int64) (string, error) {
	c.contextMg.PreAddUserMessage(question)
	if !c.ragMode {
		return "", nil
	}

	chunks, err := c.retriever.Query(ctx, question, scope)
	if err != nil {
		// The turn was recorded with an open context slot; drop it so a
		// later render never ships an unfilled placeholder to the model.
		c.contextMg.DropOpenUserTurn()
		return "", err
	}
	evidence := FormatEvidence(chunks)
	c.contextMg.AfterAddUserMessage(evidence)
	return evidence, nil
}
