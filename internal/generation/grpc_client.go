package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/meleki1/salesagent/internal/domain"
)

// ServiceName is the gRPC service the model sidecar exposes. Requests and
// responses are google.protobuf.Struct so the sidecar needs no shared stubs.
const ServiceName = "salesagent.generation.v1.Generation"

const (
	methodClassify = "/" + ServiceName + "/Classify"
	methodGenerate = "/" + ServiceName + "/Generate"
	methodHealth   = "/" + ServiceName + "/Health"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errSidecarResponse          = errors.New("sidecar returned error")
)

// GrpcClient talks to the model sidecar.
type GrpcClient struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

// Compile-time checks.
var (
	_ Classifier = (*GrpcClient)(nil)
	_ Generator  = (*GrpcClient)(nil)
)

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration for addr.
func DefaultGrpcClientConfig(addr string) GrpcClientConfig {
	return GrpcClientConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcClient connects to the sidecar and waits until the channel is ready.
// Extra dial options are appended after the defaults.
func NewGrpcClient(cfg GrpcClientConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("generation sidecar address is required")
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to generation sidecar at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("generation sidecar at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to generation sidecar", "address", cfg.Address)

	return &GrpcClient{
		conn:   conn,
		addr:   cfg.Address,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Health checks if the sidecar is serving.
func (c *GrpcClient) Health(ctx context.Context) error {
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, methodHealth, &structpb.Struct{}, resp); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if status := resp.GetFields()["status"].GetStringValue(); status != "" && status != "ok" && status != "serving" {
		return fmt.Errorf("sidecar status %q", status)
	}
	return nil
}

// Classify asks the sidecar for an intent label.
func (c *GrpcClient) Classify(ctx context.Context, text string) (domain.Intent, error) {
	req, err := structpb.NewStruct(map[string]any{
		"instructions": ClassificationPrompt,
		"message":      text,
	})
	if err != nil {
		return domain.IntentUnknown, fmt.Errorf("build classify request: %w", err)
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, methodClassify, req, resp); err != nil {
		return domain.IntentUnknown, fmt.Errorf("classify request failed: %w", err)
	}
	if err := responseError(resp); err != nil {
		return domain.IntentUnknown, err
	}
	return domain.ParseIntent(resp.GetFields()["intent"].GetStringValue()), nil
}

// Generate asks the sidecar for assistant text.
func (c *GrpcClient) Generate(ctx context.Context, p Prompt) (string, error) {
	req, err := structpb.NewStruct(promptFields(p))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, methodGenerate, req, resp); err != nil {
		c.logger.Warn("Generate failed", "error", err, "session_id", p.SessionID)
		return "", fmt.Errorf("generate request failed: %w", err)
	}
	if err := responseError(resp); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.GetFields()["text"].GetStringValue()), nil
}

func promptFields(p Prompt) map[string]any {
	history := make([]any, 0, len(p.History))
	for _, m := range p.History {
		history = append(history, map[string]any{
			"role":    string(m.Role),
			"content": m.Content,
		})
	}
	missing := make([]any, 0, len(p.Missing))
	for _, f := range p.Missing {
		missing = append(missing, f)
	}
	return map[string]any{
		"system_prompt": SystemPrompt,
		"session_id":    p.SessionID,
		"purpose":       string(p.Purpose),
		"intent":        string(p.Intent),
		"messages":      history,
		"missing":       missing,
		"customer": map[string]any{
			"name":    p.Info.Name,
			"email":   p.Info.Email,
			"phone":   p.Info.Phone,
			"address": p.Info.Address,
		},
		"order_id": float64(p.OrderID),
		"amount":   float64(p.Amount),
	}
}

func responseError(resp *structpb.Struct) error {
	msg := resp.GetFields()["error"].GetStringValue()
	if msg == "" {
		return nil
	}
	return fmt.Errorf("%w: %s", errSidecarResponse, msg)
}
