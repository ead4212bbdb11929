package agent

import "testing"

func TestRepeatGuardBelowThreshold(t *testing.T) {
	var g repeatGuard
	for i := 0; i < 4; i++ {
		h := g.record("list_files", map[string]interface{}{"path": "."})
		g.recordResult(h, "access denied")
		if level, _ := g.check("list_files", h); level != repeatNone {
			t.Fatalf("call %d: unexpected level %d", i, level)
		}
	}
}

func TestRepeatGuardWarns(t *testing.T) {
	var g repeatGuard
	var level repeatLevel
	for i := 0; i < repeatWarnThreshold; i++ {
		h := g.record("list_files", map[string]interface{}{"path": "."})
		g.recordResult(h, "access denied")
		level, _ = g.check("list_files", h)
	}
	if level != repeatWarn {
		t.Fatalf("level = %d after %d identical calls, want warn", level, repeatWarnThreshold)
	}
}

func TestRepeatGuardStops(t *testing.T) {
	var g repeatGuard
	var level repeatLevel
	for i := 0; i < repeatStopThreshold; i++ {
		h := g.record("list_files", map[string]interface{}{"path": "."})
		g.recordResult(h, "access denied")
		level, _ = g.check("list_files", h)
	}
	if level != repeatStop {
		t.Fatalf("level = %d after %d identical calls, want stop", level, repeatStopThreshold)
	}
}

func TestRepeatGuardDifferentArgs(t *testing.T) {
	var g repeatGuard
	for i := 0; i < 15; i++ {
		h := g.record("list_files", map[string]interface{}{"path": string(rune('a' + i))})
		g.recordResult(h, "access denied")
		if level, _ := g.check("list_files", h); level != repeatNone {
			t.Fatalf("call %d: different args should never trip the guard", i)
		}
	}
}

func TestRepeatGuardDifferentResults(t *testing.T) {
	var g repeatGuard
	for i := 0; i < 15; i++ {
		h := g.record("web_fetch", map[string]interface{}{"url": "https://example.com"})
		g.recordResult(h, "content "+string(rune('a'+i)))
		if level, _ := g.check("web_fetch", h); level != repeatNone {
			t.Fatalf("call %d: changing results are progress, not a loop", i)
		}
	}
}

func TestRepeatGuardMixedTools(t *testing.T) {
	var g repeatGuard
	for i := 0; i < 15; i++ {
		tool := "list_files"
		if i%2 == 1 {
			tool = "read_file"
		}
		h := g.record(tool, map[string]interface{}{"path": "."})
		g.recordResult(h, "error")
		if level, _ := g.check(tool, h); level == repeatStop {
			t.Fatalf("call %d: alternating tools should at most warn", i)
		}
	}
}

func TestStableJSONDeterministic(t *testing.T) {
	a := stableJSON(map[string]interface{}{"b": 2, "a": 1})
	b := stableJSON(map[string]interface{}{"a": 1, "b": 2})
	if a != b {
		t.Fatalf("stableJSON not deterministic: %q != %q", a, b)
	}
}

func TestHashCall(t *testing.T) {
	h1 := hashCall("list_files", map[string]interface{}{"path": "."})
	h2 := hashCall("list_files", map[string]interface{}{"path": "."})
	if h1 != h2 {
		t.Fatal("hashCall not deterministic")
	}
	h3 := hashCall("read_file", map[string]interface{}{"path": "."})
	if h1 == h3 {
		t.Fatal("different tools must hash differently")
	}
}
