package device

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDecode(t *testing.T) {
	cases := []struct {
		line string
		want Event
	}{
		{"SUCCESS:5", Event{Kind: EventEnrollSuccess, TemplateID: 5, Raw: "SUCCESS:5"}},
		{"  FOUND:12\r\n", Event{Kind: EventMatchFound, TemplateID: 12, Raw: "FOUND:12"}},
		{"ERROR:No match", Event{Kind: EventDeviceError, Message: "No match", Raw: "ERROR:No match"}},
		{"ERROR: Sensor not found ", Event{Kind: EventDeviceError, Message: "Sensor not found", Raw: "ERROR: Sensor not found"}},
		{"STATUS:READY", Event{Kind: EventStatus, Value: "READY", Raw: "STATUS:READY"}},
		{"STATUS: place finger", Event{Kind: EventStatus, Value: "place finger", Raw: "STATUS: place finger"}},
		{"COUNT:7", Event{Kind: EventCount, Count: 7, Raw: "COUNT:7"}},
		{"COUNT:abc", Event{Kind: EventNoise, Raw: "COUNT:abc"}},
		{"SUCCESS:", Event{Kind: EventNoise, Raw: "SUCCESS:"}},
		{"FOUND:x1", Event{Kind: EventNoise, Raw: "FOUND:x1"}},
		{"Waiting for valid finger...", Event{Kind: EventNoise, Raw: "Waiting for valid finger..."}},
		{"", Event{Kind: EventNoise}},
	}
	for _, tc := range cases {
		got := Decode(tc.line)
		if got != tc.want {
			t.Fatalf("Decode(%q) = %+v, want %+v", tc.line, got, tc.want)
		}
	}
}

func TestEventTerminal(t *testing.T) {
	terminal := map[EventKind]bool{
		EventEnrollSuccess: true,
		EventMatchFound:    true,
		EventDeviceError:   true,
		EventStatus:        false,
		EventCount:         false,
		EventNoise:         false,
	}
	for kind, want := range terminal {
		if got := (Event{Kind: kind}).Terminal(); got != want {
			t.Fatalf("%s terminal = %v, want %v", kind, got, want)
		}
	}
}

func TestCommands(t *testing.T) {
	if got := EnrollCommand(3); got != "ENROLL:3" {
		t.Fatalf("unexpected enroll command %q", got)
	}
	if got := VerifyCommand(); got != "VERIFY" {
		t.Fatalf("unexpected verify command %q", got)
	}
	if got := DeleteCommand(42); got != "DELETE:42" {
		t.Fatalf("unexpected delete command %q", got)
	}
}

func TestNotificationJSONRoundTrip(t *testing.T) {
	in := Notification{Type: NotifyOperationFinished, State: StateConnected, Op: OpVerify, TemplateID: 4}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"state":"connected"`) || !strings.Contains(string(data), `"op":"verify"`) {
		t.Fatalf("states should be encoded by name: %s", data)
	}
	var out Notification
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.State != StateConnected || out.Op != OpVerify || out.TemplateID != 4 {
		t.Fatalf("unexpected decode %+v", out)
	}
	if err := json.Unmarshal([]byte(`{"state":"sideways"}`), &out); err == nil {
		t.Fatalf("unknown state should be rejected")
	}
}
