package agent

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/pkoukk/tiktoken-go"

	"github.com/nextlevelbuilder/goswarm/internal/providers"
)

// Chat-format framing costs roughly this many tokens per message.
const tokensPerMessage = 4

// The pruned view always keeps the system prompt plus this many of the
// newest messages.
const minKeptMessages = 2

// tokenEncoder is the slice of the tiktoken API the guard needs.
type tokenEncoder interface {
	Encode(text string, allowedSpecial, disallowedSpecial []string) []int
}

// BudgetGuard estimates the token footprint of a conversation and prunes
// the request view when a soft budget is exceeded. The conversation log
// itself stays append-only; only the messages sent to the model shrink.
type BudgetGuard struct {
	enc       tokenEncoder
	maxTokens int
}

// NewBudgetGuard builds a guard for the given model. Unknown models fall
// back to the cl100k_base encoding. maxTokens <= 0 returns a nil guard,
// which disables pruning.
func NewBudgetGuard(model string, maxTokens int) (*BudgetGuard, error) {
	if maxTokens <= 0 {
		return nil, nil
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("load token encoding: %w", err)
		}
	}
	return &BudgetGuard{enc: enc, maxTokens: maxTokens}, nil
}

// CountMessage estimates the token cost of one message.
func (g *BudgetGuard) CountMessage(m providers.Message) int {
	return len(g.enc.Encode(m.Content, nil, nil)) + tokensPerMessage
}

// CountConversation estimates the token cost of a message slice.
func (g *BudgetGuard) CountConversation(messages []providers.Message) int {
	total := 0
	for _, m := range messages {
		total += g.CountMessage(m)
	}
	return total
}

// PruneView drops the oldest non-system messages until the view fits the
// budget, replacing them with a single summary marker. The input slice is
// never modified. A nil guard passes the view through untouched.
func (g *BudgetGuard) PruneView(messages []providers.Message) []providers.Message {
	if g == nil || len(messages) <= minKeptMessages+1 {
		return messages
	}
	total := g.CountConversation(messages)
	if total <= g.maxTokens {
		return messages
	}

	kept := slices.Clone(messages)
	dropped := 0
	for len(kept) > minKeptMessages+1 && total > g.maxTokens {
		// kept[0] is the system prompt; kept[1] is the oldest prunable message.
		total -= g.CountMessage(kept[1])
		kept = append(kept[:1], kept[2:]...)
		dropped++
	}
	if dropped == 0 {
		return messages
	}

	marker := providers.Message{
		Role:    roleUser,
		Content: fmt.Sprintf("[Context pruned: %d earlier messages removed to stay within the token budget]", dropped),
	}
	out := make([]providers.Message, 0, len(kept)+1)
	out = append(out, kept[0], marker)
	out = append(out, kept[1:]...)

	slog.Debug("conversation view pruned",
		"dropped", dropped, "kept", len(out), "estimated_tokens", total)
	return out
}
