package decision

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	decideMethod     = "/signal.DecisionService/Decide"
	quickCheckMethod = "/signal.DecisionService/QuickCheck"
)

// JSONCodec carries request and response bodies as JSON instead of
// protobuf.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSONCodec) Name() string                       { return "json" }

// GRPCClient calls a decision service over gRPC unary calls.
type GRPCClient struct {
	conn *grpc.ClientConn
	log  zerolog.Logger
}

var _ Client = (*GRPCClient)(nil)

// NewGRPCClient connects lazily to addr. Extra options are appended after
// the defaults.
func NewGRPCClient(addr string, log zerolog.Logger, opts ...grpc.DialOption) (*GRPCClient, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(JSONCodec{})),
	}
	conn, err := grpc.NewClient(addr, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dial decision service: %w", err)
	}
	return &GRPCClient{conn: conn, log: log.With().Str("component", "decision_grpc").Logger()}, nil
}

func (c *GRPCClient) Decide(ctx context.Context, p Payload) (*Decision, error) {
	var raw json.RawMessage
	if err := c.conn.Invoke(ctx, decideMethod, p, &raw); err != nil {
		return nil, fmt.Errorf("decide: %w", err)
	}
	d, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *GRPCClient) QuickCheck(ctx context.Context, p QuickCheckPayload) (*Decision, error) {
	var raw json.RawMessage
	if err := c.conn.Invoke(ctx, quickCheckMethod, p, &raw); err != nil {
		return nil, fmt.Errorf("quick check: %w", err)
	}
	d, err := ParseQuickCheck(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *GRPCClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
