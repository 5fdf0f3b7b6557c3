package detection

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"kepler-multicam-go/internal/models"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "detector.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeFile(t, `
endpoint: detector:50051
model: peoplenet
batch_size: 4
timeout: 750ms
confidence_threshold: 0.5
labels: [person, bag, face]
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Endpoint != "detector:50051" || cfg.BatchSize != 4 || cfg.Timeout != 750*time.Millisecond {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Label(0) != "person" || cfg.Label(9) != "class_9" {
		t.Errorf("labels = %q, %q", cfg.Label(0), cfg.Label(9))
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(t.TempDir(), "nope.yaml")},
		{"invalid yaml", writeFile(t, "endpoint: [unclosed")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(tt.path)
			var cfgErr *models.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("error = %v, want ConfigurationError", err)
			}
		})
	}
}

func TestApplySourcesOverridesBatchSize(t *testing.T) {
	cfg := &Config{Endpoint: "localhost:50051", BatchSize: 1}
	if err := cfg.ApplySources(3, ""); err != nil {
		t.Fatalf("ApplySources: %v", err)
	}
	if cfg.BatchSize != 3 {
		t.Errorf("BatchSize = %d, want 3", cfg.BatchSize)
	}

	cfg = &Config{}
	if err := cfg.ApplySources(3, "remote:50051"); err != nil || cfg.Endpoint != "remote:50051" {
		t.Errorf("endpoint override: %v, %q", err, cfg.Endpoint)
	}

	cfg = &Config{}
	var cfgErr *models.ConfigurationError
	if err := cfg.ApplySources(3, ""); !errors.As(err, &cfgErr) {
		t.Errorf("empty endpoint error = %v", err)
	}
}

func TestMatchResults(t *testing.T) {
	batch := models.Batch{ID: 1, Frames: []*models.RawFrame{
		{SourceIndex: 0, Seq: 5},
		{SourceIndex: 1, Seq: 3},
		{SourceIndex: 2, Seq: 9},
	}}

	tests := []struct {
		name      string
		results   []models.FrameResult
		wantSlots []int
		wantFault int
	}{
		{"aligned", []models.FrameResult{{SourceIndex: 0, Seq: 5}, {SourceIndex: 1, Seq: 3}, {SourceIndex: 2, Seq: 9}}, []int{0, 1, 2}, 0},
		{"unknown slot in the middle", []models.FrameResult{{SourceIndex: 0, Seq: 5}, {SourceIndex: 99, Seq: 3}, {SourceIndex: 2, Seq: 9}}, []int{0, 2}, 1},
		{"stale seq", []models.FrameResult{{SourceIndex: 0, Seq: 4}, {SourceIndex: 1, Seq: 3}, {SourceIndex: 2, Seq: 9}}, []int{1, 2}, 1},
		{"short", []models.FrameResult{{SourceIndex: 0, Seq: 5}}, []int{0}, 2},
		{"extra row", []models.FrameResult{{SourceIndex: 0, Seq: 5}, {SourceIndex: 1, Seq: 3}, {SourceIndex: 2, Seq: 9}, {SourceIndex: 3}}, []int{0, 1, 2}, 1},
		{"swapped", []models.FrameResult{{SourceIndex: 1, Seq: 3}, {SourceIndex: 0, Seq: 5}, {SourceIndex: 2, Seq: 9}}, []int{2}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched, rows, faults := MatchResults(batch, tt.results)
			if len(faults) != tt.wantFault {
				t.Errorf("faults = %d, want %d", len(faults), tt.wantFault)
			}
			if len(matched.Frames) != len(rows) {
				t.Fatalf("%d frames for %d rows", len(matched.Frames), len(rows))
			}
			if matched.ID != batch.ID {
				t.Errorf("batch id = %d, want %d", matched.ID, batch.ID)
			}
			if got := matched.Slots(); !equalSlots(got, tt.wantSlots) {
				t.Errorf("slots = %v, want %v", got, tt.wantSlots)
			}
			for i := range rows {
				if rows[i].SourceIndex != matched.Frames[i].SourceIndex || rows[i].Seq != matched.Frames[i].Seq {
					t.Errorf("row %d does not line up with its frame", i)
				}
			}
		})
	}
}

func equalSlots(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestParseGRPCEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		target   string
		tls      bool
		wantErr  bool
	}{
		{"localhost:50051", "localhost:50051", false, false},
		{"detector.example.com", "detector.example.com:443", true, false},
		{"detector.example.com:8443", "detector.example.com:8443", true, false},
		{"http://detector:9000", "detector:9000", false, false},
		{"https://detector", "detector:443", true, false},
		{"ftp://detector:21", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			target, creds, err := parseGRPCEndpoint(tt.endpoint)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if target != tt.target {
				t.Errorf("target = %q, want %q", target, tt.target)
			}
			if gotTLS := creds.Info().SecurityProtocol == "tls"; gotTLS != tt.tls {
				t.Errorf("tls = %v, want %v", gotTLS, tt.tls)
			}
		})
	}
}

// echoDetector answers every frame with one person box sized after the frame
func echoDetector(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := &structpb.Struct{}
	if err := dec(req); err != nil {
		return nil, err
	}
	var rows []any
	for _, fv := range req.GetFields()["frames"].GetListValue().GetValues() {
		f := fv.GetStructValue().GetFields()
		rows = append(rows, map[string]any{
			"source_index": f["source_index"].GetNumberValue(),
			"seq":          f["seq"].GetNumberValue(),
			"detections": []any{
				map[string]any{"class_id": 0, "confidence": 0.9, "top": 1, "left": 2, "width": f["width"].GetNumberValue(), "height": 3},
				map[string]any{"class_id": 1, "confidence": 0.1, "top": 0, "left": 0, "width": 1, "height": 1},
			},
		})
	}
	return structpb.NewStruct(map[string]any{"results": rows})
}

func startDetectorServer(t *testing.T) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "detection.DetectionService",
		HandlerType: (*any)(nil),
		Methods:     []grpc.MethodDesc{{MethodName: "InferBatch", Handler: echoDetector}},
	}, struct{}{})
	healthpb.RegisterHealthServer(srv, health.NewServer())

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis
}

func TestGRPCDetectorInfer(t *testing.T) {
	lis := startDetectorServer(t)
	cfg := &Config{Model: "peoplenet", BatchSize: 2, Timeout: 2 * time.Second, ConfidenceThreshold: 0.4}

	det, err := newGRPCDetector(cfg, "passthrough:///bufnet",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	if err != nil {
		t.Fatalf("newGRPCDetector: %v", err)
	}
	defer det.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := det.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}

	batch := models.Batch{ID: 3, Frames: []*models.RawFrame{
		{SourceIndex: 0, Seq: 11, Width: 64, Height: 8, Data: make([]byte, 64*8*4)},
		{SourceIndex: 2, Seq: 4, Width: 32, Height: 8, Data: make([]byte, 32*8*4)},
	}}
	results, err := det.Infer(ctx, batch)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if _, _, faults := MatchResults(batch, results); len(faults) != 0 {
		t.Fatalf("MatchResults faults: %v", faults)
	}
	for i, r := range results {
		if len(r.Detections) != 1 {
			t.Fatalf("row %d has %d detections, want 1 after confidence filter", i, len(r.Detections))
		}
		if want := float32(batch.Frames[i].Width); r.Detections[0].Box.Width != want {
			t.Errorf("row %d width = %v, want %v", i, r.Detections[0].Box.Width, want)
		}
	}
}
