package obs

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"
)

func TestSetOutputCapturesJSON(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	Logger().Info("hello", "user_id", 7)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	if entry["msg"] != "hello" || entry["user_id"] != float64(7) {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestSetLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	defer SetLevel("info")

	SetLevel("warn")
	Logger().Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %q", buf.String())
	}
	SetLevel("debug")
	Logger().Debug("loud")
	if buf.Len() == 0 {
		t.Fatal("expected debug line after SetLevel(debug)")
	}
}
