package main

import (
	"strings"
	"testing"
)

func TestRenderTableAligns(t *testing.T) {
	var b strings.Builder
	renderTable(&b, []string{"NAME", "STATUS"}, [][]string{
		{"pg", "connected"},
		{"search", "down"},
	})

	want := "NAME    STATUS\npg      connected\nsearch  down\n"
	if got := b.String(); got != want {
		t.Errorf("table output = %q, want %q", got, want)
	}
}

func TestRenderTableWideRunes(t *testing.T) {
	var b strings.Builder
	renderTable(&b, []string{"AGENT", "TASK"}, [][]string{
		{"研究员", "summarize"},
		{"writer", "draft"},
	})

	want := strings.Join([]string{
		"AGENT   TASK",
		"研究员  summarize",
		"writer  draft",
		"",
	}, "\n")
	if got := b.String(); got != want {
		t.Errorf("table output = %q, want %q", got, want)
	}
}

func TestRenderTableShortRow(t *testing.T) {
	var b strings.Builder
	renderTable(&b, []string{"ID", "FROM", "TO"}, [][]string{
		{"abc123"},
	})

	lines := strings.Split(strings.TrimRight(b.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[1] != "abc123" {
		t.Errorf("short row = %q, want %q", lines[1], "abc123")
	}
}

func TestRenderTableHeadersOnly(t *testing.T) {
	var b strings.Builder
	renderTable(&b, []string{"ID", "NAME"}, nil)

	if got := b.String(); got != "ID  NAME\n" {
		t.Errorf("headers-only table = %q", got)
	}
}

func TestTruncateCell(t *testing.T) {
	if got := truncateCell("hello\nworld", 20); got != "hello world" {
		t.Errorf("newline flattening: got %q", got)
	}
	if got := truncateCell("abcdefghij", 8); got != "abcde..." {
		t.Errorf("truncation: got %q, want %q", got, "abcde...")
	}
	if got := truncateCell("short", 10); got != "short" {
		t.Errorf("no-op truncation: got %q", got)
	}
}
