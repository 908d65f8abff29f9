package httpapi

import (
	"context"
	"encoding/json"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"campusvote.org/internal/election"
	"campusvote.org/internal/identity"
)

// ElectionsServiceName is the read-only election service exposed over gRPC.
// Requests carry the election id in a StringValue; replies are the JSON
// documents of the HTTP API encoded as Struct.
const ElectionsServiceName = "campusvote.v1.Elections"

const (
	methodGetElection = "/" + ElectionsServiceName + "/GetElection"
	methodGetResults  = "/" + ElectionsServiceName + "/GetResults"
)

// ElectionsServer is implemented by electionsRPC and registered by hand,
// since the service is built from well-known types only.
type ElectionsServer interface {
	GetElection(ctx context.Context, id *wrapperspb.StringValue) (*structpb.Struct, error)
	GetResults(ctx context.Context, id *wrapperspb.StringValue) (*structpb.Struct, error)
}

type electionsRPC struct {
	svc *election.Service
}

func (s *electionsRPC) GetElection(ctx context.Context, id *wrapperspb.StringValue) (*structpb.Struct, error) {
	who, err := rpcCaller(ctx)
	if err != nil {
		return nil, err
	}
	e, err := s.svc.GetElection(ctx, who, id.GetValue())
	if err != nil {
		return nil, err
	}
	return toStruct(e)
}

func (s *electionsRPC) GetResults(ctx context.Context, id *wrapperspb.StringValue) (*structpb.Struct, error) {
	who, err := rpcCaller(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.svc.Results(ctx, who, id.GetValue())
	if err != nil {
		return nil, err
	}
	return toStruct(res)
}

func rpcCaller(ctx context.Context) (identity.Identity, error) {
	who, ok := identity.FromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	return who, nil
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

var electionsServiceDesc = grpc.ServiceDesc{
	ServiceName: ElectionsServiceName,
	HandlerType: (*ElectionsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetElection", Handler: unaryHandler(methodGetElection, ElectionsServer.GetElection)},
		{MethodName: "GetResults", Handler: unaryHandler(methodGetResults, ElectionsServer.GetResults)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "campusvote/v1/elections.proto",
}

func unaryHandler(fullMethod string, call func(ElectionsServer, context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(wrapperspb.StringValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ElectionsServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(ElectionsServer), ctx, req.(*wrapperspb.StringValue))
		})
	}
}

// UnaryAuth verifies the bearer token in the authorization metadata for
// election methods. Health checks stay public.
func UnaryAuth(tokens *identity.Tokens) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, "/"+ElectionsServiceName+"/") {
			return handler(ctx, req)
		}
		if tokens == nil {
			return nil, status.Error(codes.Unauthenticated, "authentication is not configured")
		}
		md, _ := metadata.FromIncomingContext(ctx)
		var header string
		if vals := md.Get("authorization"); len(vals) > 0 {
			header = vals[0]
		}
		token, err := extractBearerToken(header)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		who, err := tokens.Verify(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return handler(identity.ContextWithIdentity(ctx, who), req)
	}
}
