package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/fanoutlab/fanoutlab/internal/storage"
	"github.com/fanoutlab/fanoutlab/internal/trace"
)

func dial(t *testing.T, traces *trace.Assembler) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(NewTraceServer(traces, nil))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newTraces(t *testing.T) *trace.Assembler {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	rec := trace.NewRecorder(store, testingclock.NewFakeClock(time.UnixMilli(1_700_000_000_000)))
	ctx := context.Background()
	require.NoError(t, rec.RecordPublished(ctx, "cid-1", map[string]any{"correlationId": "cid-1", "eventType": "OrderPlaced"}))
	require.NoError(t, rec.RecordRoutes(ctx, "cid-1", trace.RouteDecision{Fulfillment: true}))
	return trace.NewAssembler(trace.NewObjectStepStore(store))
}

func TestTraceService_GetTrace(t *testing.T) {
	conn := dial(t, newTraces(t))
	ctx := context.Background()

	out := &structpb.Struct{}
	require.NoError(t, conn.Invoke(ctx, "/"+ServiceName+"/GetTrace", wrapperspb.String("cid-1"), out))
	require.Equal(t, "cid-1", out.Fields["id"].GetStringValue())
	require.Len(t, out.Fields["steps"].GetListValue().GetValues(), 2)

	err := conn.Invoke(ctx, "/"+ServiceName+"/GetTrace", wrapperspb.String("missing"), out)
	require.Equal(t, codes.NotFound, status.Code(err))

	err = conn.Invoke(ctx, "/"+ServiceName+"/GetTrace", wrapperspb.String(""), out)
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestTraceService_GetPublishedPayload(t *testing.T) {
	conn := dial(t, newTraces(t))

	out := &structpb.Value{}
	require.NoError(t, conn.Invoke(context.Background(), "/"+ServiceName+"/GetPublishedPayload", wrapperspb.String("cid-1"), out))
	require.Equal(t, "OrderPlaced", out.GetStructValue().Fields["eventType"].GetStringValue())
}

func TestTraceService_BuildSnapshots(t *testing.T) {
	conn := dial(t, newTraces(t))

	req, err := structpb.NewStruct(map[string]any{
		"payload": map[string]any{"eventType": "OrderCreated", "eventId": "e-1"},
		"policy":  map[string]any{"forcedFailureTarget": "ALL"},
	})
	require.NoError(t, err)

	out := &structpb.Struct{}
	require.NoError(t, conn.Invoke(context.Background(), "/"+ServiceName+"/BuildSnapshots", req, out))
	require.Equal(t, "all", out.Fields["policy"].GetStructValue().Fields["forcedFailureTarget"].GetStringValue())
	require.NotEmpty(t, out.Fields["snapshots"].GetListValue().GetValues())
}

func TestHealthService(t *testing.T) {
	conn := dial(t, newTraces(t))

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}
