// Package chat manages per-conversation state: the bounded message history,
// the active prompt template, and the two-phase placeholder substitution
// that lets retrieval run after the user's turn is already recorded.
package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/ragbot0/ragbot/internal/prompt"
	"github.com/ragbot0/ragbot/internal/store"
)

const (
	// inputPlaceholder marks where the user's question is substituted.
	inputPlaceholder = "{input}"
	// contextPlaceholder marks where retrieved evidence is substituted.
	contextPlaceholder = "{context}"

	// ragUserTemplate frames a retrieval-augmented user turn. The question
	// is filled in immediately; the context slot is filled once retrieval
	// and generation have completed.
	ragUserTemplate = "Reference context:\n" + contextPlaceholder + "\n\nQuestion: " + inputPlaceholder

	// defaultMaxTurns bounds history when no limit is configured.
	defaultMaxTurns = 10
)

// ContextManager holds one conversation's history and template. History is
// bounded to 2*maxTurns messages (a turn is one user plus one assistant
// message); older messages fall off the front. Safe for concurrent use.
type ContextManager struct {
	prompts  *prompt.Manager
	maxTurns int
	// ragMode selects the retrieval-augmented user-turn framing. Plain
	// mode records questions verbatim and never substitutes evidence.
	ragMode bool

	mu       sync.Mutex
	template *store.Template
	history  []*schema.Message
}

// NewContextManager starts a conversation with the given template.
func NewContextManager(prompts *prompt.Manager, tmpl *store.Template, maxTurns int, ragMode bool) *ContextManager {
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	return &ContextManager{
		prompts:  prompts,
		maxTurns: maxTurns,
		ragMode:  ragMode,
		template: tmpl,
	}
}

// PreAddUserMessage records the user's turn before retrieval runs. In RAG
// mode the turn is framed with the question filled in and the context slot
// still open; AfterAddUserMessage closes it. Calling this twice without an
// intervening AfterAddUserMessage leaves the first turn's slot open — the
// caller owns the pre/after pairing.
func (c *ContextManager) PreAddUserMessage(question string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	content := question
	if c.ragMode {
		content = strings.ReplaceAll(ragUserTemplate, inputPlaceholder, question)
	}
	c.history = append(c.history, schema.UserMessage(content))
	c.trim()
}

// AfterAddUserMessage substitutes the retrieved evidence into the most
// recent open user turn. The fill replaces only the turn's own context
// slot, so placeholder-shaped text inside the evidence (or the question)
// stays literal. A conversation with no open slot (plain mode, or the turn
// already trimmed away) is a silent no-op.
func (c *ContextManager) AfterAddUserMessage(evidence string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.history) - 1; i >= 0; i-- {
		msg := c.history[i]
		if msg.Role != schema.User || !strings.Contains(msg.Content, contextPlaceholder) {
			continue
		}
		c.history[i] = schema.UserMessage(strings.Replace(msg.Content, contextPlaceholder, evidence, 1))
		return
	}
}

// DropOpenUserTurn removes the most recent user turn whose context slot is
// still open. Used when retrieval fails after PreAddUserMessage, so a later
// RenderPrompt never ships an unfilled placeholder to the model. A no-op
// when every turn is closed.
func (c *ContextManager) DropOpenUserTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.history) - 1; i >= 0; i-- {
		msg := c.history[i]
		if msg.Role == schema.User && strings.Contains(msg.Content, contextPlaceholder) {
			c.history = append(c.history[:i], c.history[i+1:]...)
			return
		}
	}
}

// AddAssistantMessage records the assistant's turn.
func (c *ContextManager) AddAssistantMessage(answer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, schema.AssistantMessage(answer, nil))
	c.trim()
}

// RenderPrompt returns the full message list for the model: the template's
// system message followed by a copy of the history.
func (c *ContextManager) RenderPrompt() []*schema.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := make([]*schema.Message, 0, len(c.history)+1)
	if c.template != nil && c.template.SystemPrompt != "" {
		msgs = append(msgs, schema.SystemMessage(c.template.SystemPrompt))
	}
	return append(msgs, c.history...)
}

// ChangeTemplate switches the conversation to another template and clears
// the history, since messages framed under one system prompt do not carry
// over cleanly to another. Returns prompt.ErrTemplateNotFound for a bogus id.
func (c *ContextManager) ChangeTemplate(ctx context.Context, id int64) error {
	tmpl, err := c.prompts.Get(ctx, id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.template = tmpl
	c.history = nil
	return nil
}

// ClearHistory drops all recorded turns, keeping the template.
func (c *ContextManager) ClearHistory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
}

// Template returns the active template.
func (c *ContextManager) Template() *store.Template {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.template
}

// Len reports the number of recorded messages.
func (c *ContextManager) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}

// trim enforces the history bound. Caller holds mu.
func (c *ContextManager) trim() {
	if limit := 2 * c.maxTurns; len(c.history) > limit {
		c.history = c.history[len(c.history)-limit:]
	}
}
