package detection

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"kepler-multicam-go/internal/models"
)

// InferBatchMethod is the full RPC name of the batched detector
const InferBatchMethod = "/detection.DetectionService/InferBatch"

// GRPCDetector sends whole batches to a remote detector in a single call
type GRPCDetector struct {
	cfg  *Config
	conn *grpc.ClientConn

	mu               sync.Mutex
	consecutiveFails int
}

// NewGRPCDetector connects lazily to cfg.Endpoint
func NewGRPCDetector(cfg *Config) (*GRPCDetector, error) {
	target, creds, err := parseGRPCEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, &models.ConfigurationError{Field: "endpoint", Reason: "invalid detector endpoint", Err: err}
	}

	log.Info().
		Str("original_endpoint", cfg.Endpoint).
		Str("normalized_endpoint", target).
		Bool("use_tls", creds.Info().SecurityProtocol == "tls").
		Int("batch_size", cfg.BatchSize).
		Msg("Connecting to detector gRPC service")

	return newGRPCDetector(cfg, target, grpc.WithTransportCredentials(creds))
}

func newGRPCDetector(cfg *Config, target string, opts ...grpc.DialOption) (*GRPCDetector, error) {
	// Configure keepalive to detect dead connections quickly
	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}
	opts = append(opts, grpc.WithKeepaliveParams(kacp))

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create detector client for %s: %w", target, err)
	}
	return &GRPCDetector{cfg: cfg, conn: conn}, nil
}

// Infer sends the batch and decodes one result row per frame
func (d *GRPCDetector) Infer(ctx context.Context, batch models.Batch) ([]models.FrameResult, error) {
	req, err := encodeBatch(d.cfg.Model, batch)
	if err != nil {
		return nil, fmt.Errorf("encode batch %d: %w", batch.ID, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := d.conn.Invoke(callCtx, InferBatchMethod, req, resp); err != nil {
		d.recordFailure(err)
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	d.recordSuccess()

	results, err := decodeResults(resp, d.cfg.ConfidenceThreshold)
	if err != nil {
		return nil, fmt.Errorf("decode batch %d: %w", batch.ID, err)
	}
	return results, nil
}

// HealthCheck queries the standard gRPC health service
func (d *GRPCDetector) HealthCheck(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(d.conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("detector health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("detector not serving: %s", resp.GetStatus())
	}
	return nil
}

// State returns the underlying connection state
func (d *GRPCDetector) State() connectivity.State {
	return d.conn.GetState()
}

func (d *GRPCDetector) Close() error {
	log.Info().Msg("Shutting down detector connection")
	return d.conn.Close()
}

func (d *GRPCDetector) recordFailure(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consecutiveFails++
	if d.consecutiveFails <= 5 {
		log.Warn().
			Err(err).
			Int("consecutive_fails", d.consecutiveFails).
			Str("state", d.conn.GetState().String()).
			Msg("Detector call failure recorded")
	}
}

func (d *GRPCDetector) recordSuccess() {
	d.mu.Lock()
	if d.consecutiveFails > 0 {
		log.Info().Int("after_fails", d.consecutiveFails).Msg("Detector calls recovered")
	}
	d.consecutiveFails = 0
	d.mu.Unlock()
}

// encodeBatch builds the request message. Pixel data travels base64 encoded.
func encodeBatch(model string, batch models.Batch) (*structpb.Struct, error) {
	frames := make([]any, len(batch.Frames))
	for i, f := range batch.Frames {
		frames[i] = map[string]any{
			"source_index": f.SourceIndex,
			"seq":          float64(f.Seq),
			"width":        f.Width,
			"height":       f.Height,
			"format":       f.Format,
			"data":         base64.StdEncoding.EncodeToString(f.Data),
		}
	}
	return structpb.NewStruct(map[string]any{
		"model":    model,
		"batch_id": float64(batch.ID),
		"frames":   frames,
	})
}

func decodeResults(resp *structpb.Struct, minConfidence float32) ([]models.FrameResult, error) {
	rows := resp.GetFields()["results"].GetListValue().GetValues()
	out := make([]models.FrameResult, 0, len(rows))
	for i, row := range rows {
		fields := row.GetStructValue().GetFields()
		if fields == nil {
			return nil, fmt.Errorf("result row %d is not an object", i)
		}
		r := models.FrameResult{
			SourceIndex: int(fields["source_index"].GetNumberValue()),
			Seq:         int64(fields["seq"].GetNumberValue()),
		}
		for _, dv := range fields["detections"].GetListValue().GetValues() {
			df := dv.GetStructValue().GetFields()
			det := models.Detection{
				ClassID:    int(df["class_id"].GetNumberValue()),
				Confidence: float32(df["confidence"].GetNumberValue()),
				Box: models.Box{
					Top:    float32(df["top"].GetNumberValue()),
					Left:   float32(df["left"].GetNumberValue()),
					Width:  float32(df["width"].GetNumberValue()),
					Height: float32(df["height"].GetNumberValue()),
				},
			}
			if minConfidence > 0 && det.Confidence < minConfidence {
				continue
			}
			r.Detections = append(r.Detections, det)
		}
		out = append(out, r)
	}
	return out, nil
}

// parseGRPCEndpoint parses and normalizes the gRPC endpoint URL
func parseGRPCEndpoint(endpoint string) (string, credentials.TransportCredentials, error) {
	// Add scheme if missing
	if !strings.Contains(endpoint, "://") {
		if strings.Contains(endpoint, ".") && !strings.Contains(endpoint, ":") {
			endpoint = "https://" + endpoint + ":443"
		} else if strings.Contains(endpoint, ":") {
			parts := strings.Split(endpoint, ":")
			if len(parts) == 2 {
				if port, err := strconv.Atoi(parts[1]); err == nil && (port == 443 || port == 8443 || port == 9443) {
					endpoint = "https://" + endpoint
				} else {
					endpoint = "http://" + endpoint
				}
			}
		} else {
			endpoint = "https://" + endpoint + ":443"
		}
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", nil, fmt.Errorf("invalid endpoint URL: %w", err)
	}

	// Ensure port is set
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "https":
			host = u.Hostname() + ":443"
		case "http":
			host = u.Hostname() + ":80"
		default:
			return "", nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
		}
	}

	var creds credentials.TransportCredentials
	switch u.Scheme {
	case "https":
		creds = credentials.NewTLS(&tls.Config{ServerName: u.Hostname()})
	case "http":
		creds = insecure.NewCredentials()
	default:
		return "", nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	return host, creds, nil
}
