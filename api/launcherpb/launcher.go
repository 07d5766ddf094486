// Package launcherpb defines the launcher.v1.QueryService gRPC surface.
//
// Messages travel as google.protobuf.Struct, so the service needs no
// generated code: requests and responses are plain Go structs converted with
// Encode and Decode.
package launcherpb

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/shenzihan666/search/conversations"
	"github.com/shenzihan666/search/llm"
)

const (
	ServiceName = "launcher.v1.QueryService"

	QueryMethod         = "/" + ServiceName + "/Query"
	QueryStreamMethod   = "/" + ServiceName + "/QueryStream"
	TestProviderMethod  = "/" + ServiceName + "/TestProvider"
	ListProvidersMethod = "/" + ServiceName + "/ListProviders"

	CreateSessionMethod   = "/" + ServiceName + "/CreateSession"
	ListSessionsMethod    = "/" + ServiceName + "/ListSessions"
	SetSystemPromptMethod = "/" + ServiceName + "/SetSystemPrompt"
	DeleteSessionMethod   = "/" + ServiceName + "/DeleteSession"
	SetAPIKeyMethod       = "/" + ServiceName + "/SetAPIKey"
	SetActiveMethod       = "/" + ServiceName + "/SetActive"
)

// QueryRequest asks for an answer. An empty ProviderID targets the active
// provider. SessionID, when set, records the exchange in that session.
type QueryRequest struct {
	Prompt     string            `json:"prompt"`
	ProviderID string            `json:"provider_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	History    []llm.ChatMessage `json:"history,omitempty"`
}

// QueryResponse carries a complete answer.
type QueryResponse struct {
	Text string `json:"text"`
}

// QueryEvent is one named event of a streamed answer.
type QueryEvent struct {
	Event   string `json:"event"`
	Payload string `json:"payload"`
}

// TestProviderRequest probes one provider, or every provider with a key
// when All is set.
type TestProviderRequest struct {
	ProviderID string `json:"provider_id,omitempty"`
	All        bool   `json:"all,omitempty"`
}

// TestProviderResponse holds probe results by provider id.
type TestProviderResponse struct {
	Results map[string]llm.ConnectionTestResult `json:"results"`
}

// ListProvidersRequest is empty.
type ListProvidersRequest struct{}

// ListProvidersResponse lists providers in display order together with the
// latest scheduled probe results.
type ListProvidersResponse struct {
	Providers  []llm.ProviderView                  `json:"providers"`
	LastProbes map[string]llm.ConnectionTestResult `json:"last_probes,omitempty"`
}

// CreateSessionRequest opens a chat session.
type CreateSessionRequest struct {
	Title        string `json:"title,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// ListSessionsResponse lists sessions, most recently active first.
type ListSessionsResponse struct {
	Sessions []conversations.Session `json:"sessions"`
}

// SetSystemPromptRequest replaces a session's system prompt. An empty
// prompt removes it.
type SetSystemPromptRequest struct {
	SessionID    string `json:"session_id"`
	SystemPrompt string `json:"system_prompt"`
}

// DeleteSessionRequest removes a session.
type DeleteSessionRequest struct {
	SessionID string `json:"session_id"`
}

// SetAPIKeyRequest stores a provider key. An empty key clears it.
type SetAPIKeyRequest struct {
	ProviderID string `json:"provider_id"`
	APIKey     string `json:"api_key"`
}

// SetActiveRequest enables or disables a provider.
type SetActiveRequest struct {
	ProviderID string `json:"provider_id"`
	Active     bool   `json:"active"`
}

// Empty is the response of calls that return nothing.
type Empty struct{}

// Encode converts v to a Struct through its JSON form.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return s, nil
}

// Decode fills v from a Struct through its JSON form. A nil Struct leaves v
// unchanged.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		return nil
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

// QueryServiceServer is the server API for launcher.v1.QueryService.
type QueryServiceServer interface {
	Query(context.Context, *structpb.Struct) (*structpb.Struct, error)
	QueryStream(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
	TestProvider(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListProviders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSessions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetSystemPrompt(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetAPIKey(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetActive(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterQueryServiceServer registers srv on s.
func RegisterQueryServiceServer(s grpc.ServiceRegistrar, srv QueryServiceServer) {
	s.RegisterService(&QueryServiceDesc, srv)
}

// QueryServiceDesc describes launcher.v1.QueryService.
var QueryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*QueryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Query", Handler: unaryHandler(QueryMethod, QueryServiceServer.Query)},
		{MethodName: "TestProvider", Handler: unaryHandler(TestProviderMethod, QueryServiceServer.TestProvider)},
		{MethodName: "ListProviders", Handler: unaryHandler(ListProvidersMethod, QueryServiceServer.ListProviders)},
		{MethodName: "CreateSession", Handler: unaryHandler(CreateSessionMethod, QueryServiceServer.CreateSession)},
		{MethodName: "ListSessions", Handler: unaryHandler(ListSessionsMethod, QueryServiceServer.ListSessions)},
		{MethodName: "SetSystemPrompt", Handler: unaryHandler(SetSystemPromptMethod, QueryServiceServer.SetSystemPrompt)},
		{MethodName: "DeleteSession", Handler: unaryHandler(DeleteSessionMethod, QueryServiceServer.DeleteSession)},
		{MethodName: "SetAPIKey", Handler: unaryHandler(SetAPIKeyMethod, QueryServiceServer.SetAPIKey)},
		{MethodName: "SetActive", Handler: unaryHandler(SetActiveMethod, QueryServiceServer.SetActive)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "QueryStream",
			Handler:       queryStreamHandler,
			ServerStreams: true,
		},
	},
	Metadata: "launcher/v1/query.proto",
}

type unaryMethod func(QueryServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(QueryServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(QueryServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func queryStreamHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(QueryServiceServer).QueryStream(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// QueryServiceClient is the client API for launcher.v1.QueryService.
type QueryServiceClient interface {
	Query(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	QueryStream(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error)
	TestProvider(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ListProviders(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	CreateSession(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ListSessions(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	SetSystemPrompt(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	DeleteSession(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	SetAPIKey(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	SetActive(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type queryServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewQueryServiceClient creates a client on cc.
func NewQueryServiceClient(cc grpc.ClientConnInterface) QueryServiceClient {
	return &queryServiceClient{cc: cc}
}

func (c *queryServiceClient) Query(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, QueryMethod, in, opts...)
}

func (c *queryServiceClient) TestProvider(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, TestProviderMethod, in, opts...)
}

func (c *queryServiceClient) ListProviders(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ListProvidersMethod, in, opts...)
}

func (c *queryServiceClient) CreateSession(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, CreateSessionMethod, in, opts...)
}

func (c *queryServiceClient) ListSessions(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ListSessionsMethod, in, opts...)
}

func (c *queryServiceClient) SetSystemPrompt(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, SetSystemPromptMethod, in, opts...)
}

func (c *queryServiceClient) DeleteSession(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, DeleteSessionMethod, in, opts...)
}

func (c *queryServiceClient) SetAPIKey(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, SetAPIKeyMethod, in, opts...)
}

func (c *queryServiceClient) SetActive(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, SetActiveMethod, in, opts...)
}

func (c *queryServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *queryServiceClient) QueryStream(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &QueryServiceDesc.Streams[0], QueryStreamMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
