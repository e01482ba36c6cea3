package decision

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"signal-core/internal/balance"
	"signal-core/internal/indicators"
)

var emptySnap indicators.Snapshot

func newHTTPTestClient(t *testing.T, h http.HandlerFunc) (*HTTPClient, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewHTTPClient(HTTPConfig{Endpoint: srv.URL + "/", MaxRetries: 3}, zerolog.Nop())
	waits := &[]time.Duration{}
	c.sleep = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return c, waits
}

func TestHTTPDecideRetriesBusyService(t *testing.T) {
	var calls atomic.Int32
	c, waits := newHTTPTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/decide", r.URL.Path)
		var p Payload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "BTCUSDT", p.Symbol)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("```json\n" + validBody + "\n```"))
	})

	d, err := c.Decide(context.Background(), Payload{Symbol: "BTCUSDT"})
	require.NoError(t, err)
	assert.Equal(t, ActionBuy, d.Action)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{2 * time.Second, 3 * time.Second}, *waits)
}

func TestHTTPDecideGivesUp(t *testing.T) {
	var calls atomic.Int32
	c, _ := newHTTPTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Decide(context.Background(), Payload{})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPDecideNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	c, _ := newHTTPTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := c.Decide(context.Background(), Payload{})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPQuickCheckRejectsOpen(t *testing.T) {
	c, _ := newHTTPTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quick-check", r.URL.Path)
		_, _ = w.Write([]byte(validBody))
	})

	_, err := c.QuickCheck(context.Background(), NewQuickCheckPayload(balance.Position{}, emptySnap, emptySnap, nil))
	assert.ErrorIs(t, err, ErrInvalidAction)
}

type decisionServer struct {
	lastMode atomic.Value
}

func (s *decisionServer) register(srv *grpc.Server) {
	handler := func(reply string) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
		return func(_ any, _ context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
			var req map[string]any
			if err := dec(&req); err != nil {
				return nil, err
			}
			mode, _ := req["mode"].(string)
			s.lastMode.Store(mode)
			return json.RawMessage(reply), nil
		}
	}
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "signal.DecisionService",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Decide", Handler: handler(validBody)},
			{MethodName: "QuickCheck", Handler: handler(mustQuote(`{"action":"HOLD","position_size_percent":0,"leverage":0,"stop_loss":0,"take_profit":0,"confidence":0.4}`))},
		},
	}, s)
}

func TestGRPCClient(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ForceServerCodec(JSONCodec{}))
	ds := &decisionServer{}
	ds.register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := NewGRPCClient("passthrough:///bufnet", zerolog.Nop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d, err := c.Decide(ctx, Payload{Symbol: "BTCUSDT"})
	require.NoError(t, err)
	assert.Equal(t, ActionBuy, d.Action)

	d, err = c.QuickCheck(ctx, NewQuickCheckPayload(balance.Position{}, emptySnap, emptySnap, nil))
	require.NoError(t, err)
	assert.Equal(t, ActionHold, d.Action)
	assert.Equal(t, "quick_check", ds.lastMode.Load())
}
