package mqttclient

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestStamp(t *testing.T) {
	ev := stamp(TranscriptEvent{Hash: "abc"})
	if _, err := uuid.Parse(ev.EventID); err != nil {
		t.Errorf("EventID %q is not a uuid: %v", ev.EventID, err)
	}
	if ev.Time.IsZero() {
		t.Error("Time not set")
	}

	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	kept := stamp(TranscriptEvent{EventID: "given", Time: fixed})
	if kept.EventID != "given" || !kept.Time.Equal(fixed) {
		t.Errorf("stamp overwrote caller values: %+v", kept)
	}

	if a, b := stamp(TranscriptEvent{}), stamp(TranscriptEvent{}); a.EventID == b.EventID {
		t.Error("event ids repeat")
	}
}

func TestTranscriptEvent_JSON(t *testing.T) {
	ev := TranscriptEvent{
		EventID:   "id",
		Hash:      "h",
		VideoURL:  "/uploads/h.mp4",
		VTTURL:    "/static/h.vtt",
		Segments:  3,
		ModelSize: "small",
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	json.Unmarshal(data, &m)
	for _, k := range []string{"event_id", "hash", "video_url", "vtt_url", "segments", "model_size"} {
		if _, ok := m[k]; !ok {
			t.Errorf("missing key %q in %s", k, data)
		}
	}
	if _, ok := m["language"]; ok {
		t.Error("empty language should be omitted")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(Options{
		BrokerURL: "tcp://127.0.0.1:1",
		ClientID:  "subcache-test",
		Topic:     "subcache/transcripts",
		Log:       zerolog.Nop(),
	})
	if err == nil {
		t.Error("expected error connecting to a closed port")
	}
}
