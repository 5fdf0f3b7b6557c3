package messaging

import (
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"kepler-multicam-go/internal/config"
	"kepler-multicam-go/internal/models"
)

func testConfig(url string) *config.Config {
	return &config.Config{
		WorkerID:           "test",
		NatsURL:            url,
		NatsConnectTimeout: 500 * time.Millisecond,
		NatsReconnectWait:  10 * time.Millisecond,
		NatsMaxReconnects:  0,
		ResultsSubject:     "test.detections.summary",
		EventsSubject:      "test.pipeline.events",
	}
}

func TestNewServiceUnreachable(t *testing.T) {
	if _, err := NewService(testConfig("nats://127.0.0.1:1")); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestPublishRoundTrip(t *testing.T) {
	url := os.Getenv("NATS_TEST_URL")
	if url == "" {
		t.Skipf("NATS_TEST_URL not set")
	}

	svc, err := NewService(testConfig(url))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Shutdown(t.Context())

	got := make(chan []byte, 2)
	if _, err := svc.Subscribe("test.>", func(b []byte) { got <- b }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	svc.PublishSummary(models.FrameSummary{SourceIndex: 1, Seq: 9, Count: 2})
	svc.PublishEvent(models.NewEvent(models.EventWarning, 1, "stream fault", errors.New("eof")))

	for i := 0; i < 2; i++ {
		select {
		case b := <-got:
			var m map[string]any
			if err := json.Unmarshal(b, &m); err != nil {
				t.Fatalf("invalid payload %s: %v", b, err)
			}
			if m["worker_id"] != "test" || m["source_index"] != float64(1) {
				t.Errorf("payload = %v", m)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("message not received")
		}
	}
	if published, failed := svc.Counts(); published != 2 || failed != 0 {
		t.Errorf("counts = %d/%d", published, failed)
	}
}
