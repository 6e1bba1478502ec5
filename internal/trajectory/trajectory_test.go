package trajectory

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/recurse/pkg/models"
)

func TestRecordStampsAndOrders(t *testing.T) {
	r := NewRecorder("traj-1")
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	r.SetNowFunc(func() time.Time { return base })

	r.Record(models.TrajectoryEvent{CallID: "a", Depth: 0, InputTokens: 100, OutputTokens: 20})
	r.Record(models.TrajectoryEvent{CallID: "b", ParentCallID: "a", Depth: 1, InputTokens: 50, OutputTokens: 10})

	events := r.Events()
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].CallID != "a" || events[1].CallID != "b" {
		t.Error("events must keep creation order")
	}
	for _, ev := range events {
		if ev.TrajectoryID != "traj-1" {
			t.Errorf("event %s missing trajectory id", ev.CallID)
		}
		if !ev.Timestamp.Equal(base) {
			t.Errorf("event %s timestamp not stamped", ev.CallID)
		}
	}
	if events[1].ParentCallID != "a" || events[1].Depth <= events[0].Depth {
		t.Error("child event must link its parent with greater depth")
	}
}

func TestRecordMintsCallID(t *testing.T) {
	r := NewRecorder("")
	if r.ID() == "" {
		t.Fatal("empty id must mint a UUID")
	}
	r.Record(models.TrajectoryEvent{})
	if r.Events()[0].CallID == "" {
		t.Error("call id must be minted when absent")
	}
}

func TestEventsReturnsCopy(t *testing.T) {
	r := NewRecorder("t")
	r.Record(models.TrajectoryEvent{CallID: "a", Response: "original"})
	events := r.Events()
	events[0].Response = "mutated"
	if r.Events()[0].Response != "original" {
		t.Error("recorded events must be immutable to callers")
	}
}

func TestMergeKeepsSubTreeLinks(t *testing.T) {
	r := NewRecorder("parent")
	r.Record(models.TrajectoryEvent{CallID: "root", Depth: 0})

	sub := []models.TrajectoryEvent{
		{TrajectoryID: "child-run", CallID: "s1", ParentCallID: "root", Depth: 1, SubCallType: "sub_complete"},
		{TrajectoryID: "child-run", CallID: "s2", ParentCallID: "s1", Depth: 2},
	}
	r.Merge(sub)

	events := r.Events()
	if len(events) != 3 {
		t.Fatalf("len = %d, want 3", len(events))
	}
	if events[1].TrajectoryID != "parent" || events[2].TrajectoryID != "parent" {
		t.Error("merged events must adopt the parent trajectory id")
	}
	if events[1].ParentCallID != "root" || events[2].ParentCallID != "s1" {
		t.Error("merge must preserve parent links")
	}
}

func TestUsageSumsEvents(t *testing.T) {
	r := NewRecorder("t")
	r.Record(models.TrajectoryEvent{InputTokens: 100, OutputTokens: 30})
	r.Record(models.TrajectoryEvent{InputTokens: 40, OutputTokens: 10})
	u := r.Usage()
	if u.InputTokens != 140 || u.OutputTokens != 40 {
		t.Errorf("usage = %+v", u)
	}
}

func TestCostsPreserveUnknown(t *testing.T) {
	cost := 0.002
	r := NewRecorder("t")
	r.Record(models.TrajectoryEvent{EstimatedCostUSD: &cost})
	r.Record(models.TrajectoryEvent{})
	costs := r.Costs()
	if len(costs) != 2 || costs[0] == nil || *costs[0] != cost || costs[1] != nil {
		t.Errorf("costs = %v", costs)
	}
}

func TestJSONLSinkWritesHeaderThenEvents(t *testing.T) {
	var buf bytes.Buffer
	sink, err := NewJSONLSink(&buf, "traj-9")
	if err != nil {
		t.Fatal(err)
	}

	r := NewRecorder("traj-9", sink)
	r.Record(models.TrajectoryEvent{CallID: "a", Response: "hello"})
	r.Record(models.TrajectoryEvent{CallID: "b"})

	scanner := bufio.NewScanner(&buf)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want header + 2 events", len(lines))
	}

	var header map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &header); err != nil {
		t.Fatalf("header not JSON: %v", err)
	}
	if header["type"] != "run_header" || header["trajectory_id"] != "traj-9" {
		t.Errorf("header = %v", header)
	}

	var ev models.TrajectoryEvent
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil {
		t.Fatalf("event line not JSON: %v", err)
	}
	if ev.CallID != "a" || ev.Response != "hello" {
		t.Errorf("event = %+v", ev)
	}
	if strings.Contains(lines[2], "hello") {
		t.Error("second line should be the second event only")
	}
}
