package agent

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Repeat-call detection thresholds, per run.
const (
	repeatHistorySize   = 30
	repeatWarnThreshold = 5  // inject a warning into the conversation
	repeatStopThreshold = 10 // force the loop to stop
)

type repeatLevel int

const (
	repeatNone repeatLevel = iota
	repeatWarn
	repeatStop
)

// repeatGuard tracks recent tool calls within a single run to catch
// no-progress loops: the same tool, the same arguments, the same result.
type repeatGuard struct {
	history []repeatRecord
}

type repeatRecord struct {
	tool       string
	argsHash   string
	resultHash string // empty until the result lands
}

// record notes a tool call and returns its argument hash.
func (g *repeatGuard) record(tool string, args map[string]interface{}) string {
	h := hashCall(tool, args)
	g.history = append(g.history, repeatRecord{tool: tool, argsHash: h})
	if len(g.history) > repeatHistorySize {
		g.history = g.history[len(g.history)-repeatHistorySize:]
	}
	return h
}

// recordResult fills in the result hash of the latest matching call.
func (g *repeatGuard) recordResult(argsHash, result string) {
	rh := hashText(result)
	for i := len(g.history) - 1; i >= 0; i-- {
		rec := &g.history[i]
		if rec.argsHash == argsHash && rec.resultHash == "" {
			rec.resultHash = rh
			return
		}
	}
}

// check counts completed calls with identical arguments and identical
// results. Only true no-progress repetition trips it; same arguments with
// changing results count as progress.
func (g *repeatGuard) check(tool, argsHash string) (repeatLevel, string) {
	if len(g.history) < repeatWarnThreshold {
		return repeatNone, ""
	}

	var repeats int
	var lastResultHash string
	for i := len(g.history) - 1; i >= 0; i-- {
		rec := g.history[i]
		if rec.argsHash != argsHash || rec.resultHash == "" {
			continue
		}
		if lastResultHash == "" {
			lastResultHash = rec.resultHash
		}
		if rec.resultHash == lastResultHash {
			repeats++
		}
	}

	if repeats >= repeatStopThreshold {
		return repeatStop, fmt.Sprintf(
			"%s was called %d times with identical arguments and results; stopping the loop.",
			tool, repeats)
	}
	if repeats >= repeatWarnThreshold {
		return repeatWarn, fmt.Sprintf(
			"[System: WARNING. %s has been called %d times with the same arguments and identical results. "+
				"This is not making progress. Try a different approach, use a different tool, "+
				"or finish with what you already know.]", tool, repeats)
	}
	return repeatNone, ""
}

// hashCall produces a deterministic hash of tool name plus arguments.
func hashCall(tool string, args map[string]interface{}) string {
	h := sha256.Sum256([]byte(tool + ":" + stableJSON(args)))
	return fmt.Sprintf("%x", h[:16])
}

func hashText(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:16])
}

// stableJSON serializes a value with sorted keys for deterministic hashing.
func stableJSON(v interface{}) string {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%q:%s", k, stableJSON(val[k]))
		}
		return "{" + strings.Join(parts, ",") + "}"
	case []interface{}:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = stableJSON(elem)
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}
