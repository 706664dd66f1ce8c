package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stupiduntilnot/windowchat/internal/db"
)

// testDB creates a temporary SQLite database with schema initialized.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.OpenDB(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.InitSchema(database); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// seedUnifiedTree inserts a realistic event tree and returns the root event ID.
//
// Tree structure:
//
//	process.started (chatd)            id=1
//	├── session.started (s1)           id=2
//	│   ├── turn.started               id=3
//	│   ├── turn.completed             id=4
//	│   ├── reply.sent                 id=5
//	│   ├── turn.started               id=6
//	│   ├── turn.failed                id=7
//	│   └── session.ended              id=8
//	├── session.started (s2)           id=9
//	│   ├── turn.started               id=10
//	│   └── turn.abandoned             id=11
//	└── process.stopped                id=12
func seedUnifiedTree(t *testing.T, database *sql.DB) int64 {
	t.Helper()

	rootID, _ := db.LogEvent(database, nil, db.EventProcessStarted, map[string]any{"role": "chatd", "pid": 100, "provider": "dummy"})
	s1, _ := db.LogEvent(database, &rootID, db.EventSessionStarted, map[string]any{"session_id": "s1"})
	db.LogEvent(database, &s1, db.EventTurnStarted, map[string]any{"seq": 1, "prompt_tokens": 42})
	db.LogEvent(database, &s1, db.EventTurnCompleted, map[string]any{"seq": 1, "duration_ms": 1820, "window_len": 1})
	db.LogEvent(database, &s1, db.EventReplySent, map[string]any{"chat_id": 123})
	db.LogEvent(database, &s1, db.EventTurnStarted, map[string]any{"seq": 2, "prompt_tokens": 60})
	db.LogEvent(database, &s1, db.EventTurnFailed, map[string]any{"seq": 2, "error_class": "timeout"})
	db.LogEvent(database, &s1, db.EventSessionEnded, map[string]any{"session_id": "s1"})
	s2, _ := db.LogEvent(database, &rootID, db.EventSessionStarted, map[string]any{"session_id": "s2"})
	db.LogEvent(database, &s2, db.EventTurnStarted, map[string]any{"seq": 1})
	db.LogEvent(database, &s2, db.EventTurnAbandoned, map[string]any{"seq": 1})
	db.LogEvent(database, &rootID, db.EventProcessStopped, nil)

	return rootID
}

func TestLatestProcessRoot(t *testing.T) {
	database := testDB(t)
	rootID := seedUnifiedTree(t, database)

	got, err := latestProcessRoot(database, "")
	if err != nil {
		t.Fatal(err)
	}
	if got != rootID {
		t.Errorf("expected root id=%d, got %d", rootID, got)
	}

	got, err = latestProcessRoot(database, "chatd")
	if err != nil {
		t.Fatal(err)
	}
	if got != rootID {
		t.Errorf("expected chatd root id=%d, got %d", rootID, got)
	}

	if _, err := latestProcessRoot(database, "repl"); err == nil {
		t.Fatal("expected error for missing role")
	}
}

func TestLatestProcessRoot_NoEvents(t *testing.T) {
	database := testDB(t)
	_, err := latestProcessRoot(database, "")
	if err == nil {
		t.Fatal("expected error for empty database")
	}
}

func TestQuerySubtree(t *testing.T) {
	database := testDB(t)
	rootID := seedUnifiedTree(t, database)

	events, err := querySubtree(database, rootID)
	if err != nil {
		t.Fatal(err)
	}
	// We inserted 12 events total.
	if len(events) != 12 {
		t.Errorf("expected 12 events, got %d", len(events))
	}
}

func TestQuerySubtree_SubtreeFromSession(t *testing.T) {
	database := testDB(t)
	seedUnifiedTree(t, database)

	// Session s1 is id=2: session.started plus 6 children.
	events, err := querySubtree(database, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 7 {
		t.Errorf("expected 7 events in session subtree, got %d", len(events))
		for _, ev := range events {
			t.Logf("  id=%d type=%s parent=%v", ev.ID, ev.EventType, ev.ParentID)
		}
	}
}

func TestBuildTree(t *testing.T) {
	database := testDB(t)
	rootID := seedUnifiedTree(t, database)

	events, _ := querySubtree(database, rootID)
	root := buildTree(events, rootID)

	if root == nil {
		t.Fatal("root is nil")
	}
	if root.EventType != "process.started" {
		t.Errorf("expected process.started, got %s", root.EventType)
	}

	// Root should have 3 direct children: two sessions and process.stopped.
	if len(root.Children) != 3 {
		t.Errorf("expected 3 root children, got %d", len(root.Children))
		for _, c := range root.Children {
			t.Logf("  child: id=%d type=%s", c.ID, c.EventType)
		}
	}

	first := root.Children[0]
	if first.EventType != "session.started" {
		t.Fatalf("expected session.started, got %s", first.EventType)
	}
	if len(first.Children) != 6 {
		t.Errorf("expected 6 session children, got %d", len(first.Children))
	}
	if last := first.Children[len(first.Children)-1]; last.EventType != "session.ended" {
		t.Errorf("expected session.ended last, got %s", last.EventType)
	}

	second := root.Children[1]
	if len(second.Children) != 2 || second.Children[1].EventType != "turn.abandoned" {
		t.Errorf("unexpected second session children: %+v", second.Children)
	}
}

func TestFormatEvent(t *testing.T) {
	ev := &Event{
		ID:        42,
		Timestamp: 1739781001,
		EventType: "turn.completed",
		Payload:   sql.NullString{String: `{"seq":3,"window_len":2}`, Valid: true},
	}

	line := formatEvent(ev, false)
	if !strings.Contains(line, "[42]") {
		t.Errorf("expected [42] in output: %s", line)
	}
	if !strings.Contains(line, "turn.completed") {
		t.Errorf("expected turn.completed in output: %s", line)
	}
	if !strings.Contains(line, "seq=3") {
		t.Errorf("expected seq=3 in output: %s", line)
	}
	if !strings.Contains(line, "window_len=2") {
		t.Errorf("expected window_len=2 in output: %s", line)
	}
}

func TestFormatEvent_NoPayload(t *testing.T) {
	ev := &Event{
		ID:        42,
		Timestamp: 1739781001,
		EventType: "session.started",
		Payload:   sql.NullString{String: `{"session_id":"s1"}`, Valid: true},
	}

	line := formatEvent(ev, true)
	if strings.Contains(line, "session_id") {
		t.Errorf("expected no payload in output: %s", line)
	}
}

func TestFormatEvent_NullPayload(t *testing.T) {
	ev := &Event{
		ID:        1,
		Timestamp: 1739781001,
		EventType: "process.stopped",
		Payload:   sql.NullString{Valid: false},
	}

	line := formatEvent(ev, false)
	if !strings.Contains(line, "process.stopped") {
		t.Errorf("expected process.stopped in output: %s", line)
	}
}

func TestFormatValue_LongString(t *testing.T) {
	v := formatValue(strings.Repeat("a", 100))
	want := fmt.Sprintf("%q", strings.Repeat("a", 80)+"...")
	if v != want {
		t.Errorf("expected %s, got %s", want, v)
	}
}

func TestFormatValue_TruncatesByRune(t *testing.T) {
	v := formatValue(strings.Repeat("é", 100))
	if !utf8.ValidString(v) {
		t.Fatalf("truncation split a rune: %q", v)
	}
	want := fmt.Sprintf("%q", strings.Repeat("é", 80)+"...")
	if v != want {
		t.Errorf("expected %s, got %s", want, v)
	}

	short := strings.Repeat("ü", 80)
	if got := formatValue(short); got != short {
		t.Errorf("expected untruncated %s, got %s", short, got)
	}
}

func TestFormatValue_Integer(t *testing.T) {
	v := formatValue(float64(42))
	if v != "42" {
		t.Errorf("expected 42, got %s", v)
	}
}

// captureStdout runs fn and captures its stdout output.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func TestPrintTree_Full(t *testing.T) {
	database := testDB(t)
	supID := seedUnifiedTree(t, database)

	events, _ := querySubtree(database, supID)
	root := buildTree(events, supID)

	output := captureStdout(t, func() {
		printTree(root, "", true, 1, 0, false)
	})

	// Should contain all event types.
	for _, want := range []string{
		"process.started", "session.started", "turn.started",
		"turn.completed", "reply.sent", "turn.failed",
		"session.ended", "turn.abandoned", "process.stopped",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}

	// Should contain tree-drawing characters.
	if !strings.Contains(output, "├──") && !strings.Contains(output, "└──") {
		t.Errorf("expected tree characters in output:\n%s", output)
	}
}

func TestPrintTree_DepthLimit(t *testing.T) {
	database := testDB(t)
	supID := seedUnifiedTree(t, database)

	events, _ := querySubtree(database, supID)
	root := buildTree(events, supID)

	output := captureStdout(t, func() {
		printTree(root, "", true, 1, 2, false)
	})

	// Should contain depth=1 and depth=2 events.
	if !strings.Contains(output, "process.started") {
		t.Errorf("expected process.started at depth 1")
	}
	if !strings.Contains(output, "session.started") {
		t.Errorf("expected session.started at depth 2")
	}

	// Should NOT contain depth=3 events like turn.started.
	if strings.Contains(output, "turn.started") {
		t.Errorf("turn.started should be truncated at -L 2:\n%s", output)
	}

	// Should show [...] for truncated nodes with children.
	if !strings.Contains(output, "[...]") {
		t.Errorf("expected [...] indicator for truncated nodes:\n%s", output)
	}
}

func TestPrintTree_DepthLimit1(t *testing.T) {
	database := testDB(t)
	supID := seedUnifiedTree(t, database)

	events, _ := querySubtree(database, supID)
	root := buildTree(events, supID)

	output := captureStdout(t, func() {
		printTree(root, "", true, 1, 1, false)
	})

	lines := strings.Split(strings.TrimSpace(output), "\n")
	// Depth 1: just root + [...] indicator.
	if len(lines) != 2 {
		t.Errorf("expected 2 lines (root + [...]), got %d:\n%s", len(lines), output)
	}
}

func TestPrintJSON(t *testing.T) {
	database := testDB(t)
	supID := seedUnifiedTree(t, database)

	events, _ := querySubtree(database, supID)
	root := buildTree(events, supID)

	output := captureStdout(t, func() {
		printJSON(root, 0, false)
	})

	var je jsonEvent
	if err := json.Unmarshal([]byte(output), &je); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, output)
	}

	if je.EventType != "process.started" {
		t.Errorf("expected process.started, got %s", je.EventType)
	}
	if len(je.Children) != 3 {
		t.Errorf("expected 3 children, got %d", len(je.Children))
	}
}

func TestPrintJSON_DepthLimit(t *testing.T) {
	database := testDB(t)
	supID := seedUnifiedTree(t, database)

	events, _ := querySubtree(database, supID)
	root := buildTree(events, supID)

	output := captureStdout(t, func() {
		printJSON(root, 2, false)
	})

	var je jsonEvent
	if err := json.Unmarshal([]byte(output), &je); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	// Root children should exist (depth=2).
	if len(je.Children) == 0 {
		t.Error("expected children at depth 2")
	}

	// But children of children should be truncated.
	for _, child := range je.Children {
		if len(child.Children) > 0 {
			t.Errorf("expected no grandchildren at -L 2, but %s (id=%d) has %d",
				child.EventType, child.ID, len(child.Children))
		}
	}
}

func TestPrintJSON_NoPayload(t *testing.T) {
	database := testDB(t)
	supID := seedUnifiedTree(t, database)

	events, _ := querySubtree(database, supID)
	root := buildTree(events, supID)

	output := captureStdout(t, func() {
		printJSON(root, 0, true)
	})

	// Should not contain "role" or "pid" which are payload fields.
	if strings.Contains(output, `"role"`) {
		t.Errorf("expected no payload in output:\n%s", output)
	}
}

func TestMultipleRoots_PicksLatest(t *testing.T) {
	database := testDB(t)

	// First process.
	db.LogEvent(database, nil, db.EventProcessStarted, map[string]any{"role": "chatd", "pid": 100})

	// Second process (should be picked).
	second, _ := db.LogEvent(database, nil, db.EventProcessStarted, map[string]any{"role": "chatd", "pid": 200})

	// A repl run afterwards only wins when no role is given.
	repl, _ := db.LogEvent(database, nil, db.EventProcessStarted, map[string]any{"role": "repl", "pid": 300})

	got, err := latestProcessRoot(database, "chatd")
	if err != nil {
		t.Fatal(err)
	}
	if got != second {
		t.Errorf("expected latest chatd id=%d, got %d", second, got)
	}
	got, err = latestProcessRoot(database, "")
	if err != nil {
		t.Fatal(err)
	}
	if got != repl {
		t.Errorf("expected latest root id=%d, got %d", repl, got)
	}
}

func TestSubtreeFromSpecificID(t *testing.T) {
	database := testDB(t)
	seedUnifiedTree(t, database)

	// Query subtree from the second session.started (id=9).
	events, err := querySubtree(database, 9)
	if err != nil {
		t.Fatal(err)
	}

	// session.started + 2 turn-level children = 3 events.
	if len(events) != 3 {
		t.Errorf("expected 3 events in session subtree, got %d", len(events))
		for _, ev := range events {
			t.Logf("  id=%d type=%s", ev.ID, ev.EventType)
		}
	}

	root := buildTree(events, 9)
	if root == nil {
		t.Fatal("session root is nil")
	}
	if root.EventType != "session.started" {
		t.Errorf("expected session.started, got %s", root.EventType)
	}
	if len(root.Children) != 2 {
		t.Errorf("expected 2 children, got %d", len(root.Children))
	}
}

func TestPrintTranscript(t *testing.T) {
	database := testDB(t)
	if err := db.AppendTranscript(database, "s1", 1, "hello", "hi there"); err != nil {
		t.Fatal(err)
	}

	output := captureStdout(t, func() {
		if err := printTranscript(database, "s1"); err != nil {
			t.Error(err)
		}
	})
	if !strings.Contains(output, "#1 ") || !strings.Contains(output, "Human: hello\nAI: hi there") {
		t.Errorf("unexpected transcript output:\n%s", output)
	}

	if err := printTranscript(database, "missing"); err == nil {
		t.Error("expected error for unknown session")
	}
}
