package log

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"
)

func entries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		m := map[string]any{}
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("invalid log line %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func TestLoggerFields(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New(Options{Output: buf, Fields: map[string]string{"input": "cube.image"}})
	l.Debug("hidden", nil)
	l.Info("converting image", map[string]any{"batch": 2})
	l.With(map[string]string{"output": "cube.img.zarr"}).Warn("dropped", nil)
	l.Sugar().Errorf("failed after %d batches", 3)

	got := entries(t, buf)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d: %v", len(got), got)
	}
	if got[0]["message"] != "converting image" || got[0]["level"] != "info" || got[0]["input"] != "cube.image" {
		t.Errorf("unexpected entry %v", got[0])
	}
	if fields, ok := got[0]["fields"].(map[string]any); !ok || fields["batch"] != float64(2) {
		t.Errorf("fields: got %v", got[0]["fields"])
	}
	if got[1]["output"] != "cube.img.zarr" || got[1]["level"] != "warn" {
		t.Errorf("unexpected entry %v", got[1])
	}
	if got[2]["message"] != "failed after 3 batches" {
		t.Errorf("unexpected entry %v", got[2])
	}
	if _, ok := got[0]["timestamp"]; !ok {
		t.Error("entries carry a timestamp")
	}
}

func TestDebugLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	New(Options{Output: buf, Debug: true}).Debug("batch", nil)
	if got := entries(t, buf); len(got) != 1 || got[0]["level"] != "debug" {
		t.Errorf("got %v", got)
	}
	Nop().Error("nothing", nil)
}
