// Package observ provides the engine's structured event log and
// prometheus metrics.
package observ

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Log emits one JSON line per event to stdout. Every cycle boundary, fill,
// mode change and degraded read is a discrete event.
func Log(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	kv["event"] = event
	b, _ := json.Marshal(kv)
	fmt.Println(string(b))
}

// LogError is Log with an attached error, written to stderr so operational
// failures are separable from the event stream.
func LogError(event string, err error, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	kv["event"] = event
	if err != nil {
		kv["error"] = err.Error()
	}
	b, _ := json.Marshal(kv)
	fmt.Fprintln(os.Stderr, string(b))
}
