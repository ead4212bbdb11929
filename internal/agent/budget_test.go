package agent

import (
	"fmt"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/goswarm/internal/providers"
)

// wordEncoder stands in for tiktoken: one token per whitespace field.
type wordEncoder struct{}

func (wordEncoder) Encode(text string, _, _ []string) []int {
	return make([]int, len(strings.Fields(text)))
}

func budgetConversation(n int) []providers.Message {
	msgs := []providers.Message{{Role: "system", Content: "sys"}}
	for i := 1; i <= n; i++ {
		msgs = append(msgs, providers.Message{Role: "user", Content: fmt.Sprintf("msg %d", i)})
	}
	return msgs
}

func TestBudgetCountConversation(t *testing.T) {
	g := &BudgetGuard{enc: wordEncoder{}, maxTokens: 100}
	msgs := []providers.Message{{Role: "user", Content: "a b c"}}
	if got := g.CountConversation(msgs); got != 3+tokensPerMessage {
		t.Errorf("count = %d, want %d", got, 3+tokensPerMessage)
	}
}

func TestPruneViewUnderBudgetPassesThrough(t *testing.T) {
	g := &BudgetGuard{enc: wordEncoder{}, maxTokens: 1000}
	msgs := budgetConversation(6)
	got := g.PruneView(msgs)
	if len(got) != len(msgs) {
		t.Errorf("under-budget view changed: len %d -> %d", len(msgs), len(got))
	}
}

func TestPruneViewDropsOldestNonSystem(t *testing.T) {
	// sys = 5 tokens, each msg = 6; total 41. Budget 25 forces three drops.
	g := &BudgetGuard{enc: wordEncoder{}, maxTokens: 25}
	msgs := budgetConversation(6)

	got := g.PruneView(msgs)
	if len(got) != 5 {
		t.Fatalf("pruned view len = %d, want 5 (system, marker, 3 newest)", len(got))
	}
	if got[0].Role != "system" {
		t.Error("system prompt must survive pruning")
	}
	if !strings.Contains(got[1].Content, "3 earlier messages") {
		t.Errorf("marker = %q", got[1].Content)
	}
	if got[2].Content != "msg 4" || got[4].Content != "msg 6" {
		t.Errorf("kept tail = %q .. %q, want msg 4 .. msg 6", got[2].Content, got[4].Content)
	}

	// The input slice is a view source, never modified.
	if len(msgs) != 7 || msgs[1].Content != "msg 1" {
		t.Error("PruneView modified its input")
	}
}

func TestPruneViewNilGuard(t *testing.T) {
	var g *BudgetGuard
	msgs := budgetConversation(3)
	if got := g.PruneView(msgs); len(got) != len(msgs) {
		t.Error("nil guard must pass the view through")
	}
}

func TestNewBudgetGuardDisabled(t *testing.T) {
	g, err := NewBudgetGuard("gpt-4o", 0)
	if err != nil {
		t.Fatalf("NewBudgetGuard: %v", err)
	}
	if g != nil {
		t.Error("non-positive budget should disable the guard")
	}
}
