package permission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
)

// DoomLoopThreshold is the number of identical consecutive calls before the
// detector trips.
const DoomLoopThreshold = 3

// historyLimit bounds per-prompt history growth.
const historyLimit = 10

// DoomLoopDetector tracks repeated tool calls to catch a model stuck
// re-issuing the same invocation. A tripped detector forces a confirmation
// round-trip even for otherwise-allowed calls.
type DoomLoopDetector struct {
	mu      sync.Mutex
	history map[string][]string // promptID -> recent call hashes
}

// NewDoomLoopDetector creates a new detector.
func NewDoomLoopDetector() *DoomLoopDetector {
	return &DoomLoopDetector{history: make(map[string][]string)}
}

// Record notes a call and reports whether it completes a run of
// DoomLoopThreshold identical calls within the same prompt.
func (d *DoomLoopDetector) Record(promptID, toolName string, args map[string]any) bool {
	hash := hashCall(toolName, args)

	d.mu.Lock()
	defer d.mu.Unlock()

	history := append(d.history[promptID], hash)
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	d.history[promptID] = history

	if len(history) < DoomLoopThreshold {
		return false
	}
	for _, h := range history[len(history)-DoomLoopThreshold:] {
		if h != hash {
			return false
		}
	}
	return true
}

// Clear drops the history for a prompt.
func (d *DoomLoopDetector) Clear(promptID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.history, promptID)
}

func hashCall(toolName string, args map[string]any) string {
	data, _ := json.Marshal(map[string]any{"tool": toolName, "args": args})
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
