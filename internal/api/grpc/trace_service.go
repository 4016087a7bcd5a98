// Package grpc exposes trace reads and replay snapshot builds over gRPC.
//
// Messages are well-known protobuf types (structpb, wrapperspb), so the
// service needs no generated code: TraceServiceDesc is registered directly
// on a grpc.Server.
package grpc

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/fanoutlab/fanoutlab/internal/errors"
	"github.com/fanoutlab/fanoutlab/internal/replay"
	"github.com/fanoutlab/fanoutlab/internal/trace"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "fanoutlab.v1.TraceService"

// TraceServer implements TraceService.
type TraceServer struct {
	traces *trace.Assembler
	engine *replay.Engine
}

// NewTraceServer creates a trace server. A nil engine uses the default one.
func NewTraceServer(traces *trace.Assembler, engine *replay.Engine) *TraceServer {
	if engine == nil {
		engine = replay.NewEngine()
	}
	return &TraceServer{traces: traces, engine: engine}
}

// GetTrace returns the assembled trace of a correlation id.
func (s *TraceServer) GetTrace(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "correlation id is required")
	}
	t, err := s.traces.GetTrace(ctx, req.GetValue())
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return toStruct(t)
}

// GetPublishedPayload returns the published message of a correlation id.
func (s *TraceServer) GetPublishedPayload(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Value, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "correlation id is required")
	}
	payload, err := s.traces.GetPublishedPayload(ctx, req.GetValue())
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	v := &structpb.Value{}
	if err := v.UnmarshalJSON(payload); err != nil {
		return nil, status.Errorf(codes.Internal, "published payload: %v", err)
	}
	return v, nil
}

// BuildSnapshots builds replay snapshots. The request carries "payload"
// (any JSON value, or a correlation id under "cid") and an optional "policy".
func (s *TraceServer) BuildSnapshots(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in struct {
		Payload       json.RawMessage `json:"payload"`
		CorrelationID string          `json:"cid"`
		Policy        replay.Policy   `json:"policy"`
	}
	data, err := req.MarshalJSON()
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}

	payload := in.Payload
	if len(payload) == 0 && in.CorrelationID != "" {
		payload = s.traces.ResolvePublishedPayload(ctx, in.CorrelationID)
	}
	policy := in.Policy.Normalize()
	return toStruct(map[string]any{
		"policy":    policy,
		"snapshots": s.engine.BuildSnapshots(payload, policy),
	})
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(data); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// toStatus maps domain errors to gRPC status codes.
func toStatus(ctx context.Context, err error) error {
	switch {
	case errors.IsNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	case errors.GetCategory(err) == errors.ErrCategoryValidation:
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.IsMalformed(err):
		return status.Error(codes.DataLoss, err.Error())
	case errors.IsRetryable(err):
		return status.Error(codes.Unavailable, err.Error())
	}
	log.Printf("grpc: request %s failed: %v", extractRequestID(ctx), err)
	return status.Error(codes.Internal, err.Error())
}

// extractRequestID extracts or generates a request ID from the gRPC context.
func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 {
			return ids[0]
		}
	}
	return uuid.New().String()
}

// traceService is the handler type checked by grpc.Server.RegisterService.
type traceService interface {
	GetTrace(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	GetPublishedPayload(context.Context, *wrapperspb.StringValue) (*structpb.Value, error)
	BuildSnapshots(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unary[Req any, Resp any](method string, call func(traceService, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(traceService), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(traceService), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// TraceServiceDesc describes TraceService for grpc.Server.RegisterService.
var TraceServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*traceService)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetTrace", traceService.GetTrace),
		unary("GetPublishedPayload", traceService.GetPublishedPayload),
		unary("BuildSnapshots", traceService.BuildSnapshots),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fanoutlab/v1/trace.proto",
}

// NewServer creates a grpc.Server serving TraceService and the standard
// health service, which reports SERVING for both.
func NewServer(ts *TraceServer, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&TraceServiceDesc, ts)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv
}
