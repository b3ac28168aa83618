package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xela07ax/spaceai-action-pipeline/internal/domain"
	"github.com/xela07ax/spaceai-action-pipeline/internal/engine"
	"github.com/xela07ax/spaceai-action-pipeline/internal/infra/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Полные имена методов gRPC сервиса пайплайна. Сообщения — google.protobuf.Struct,
// поэтому клиенту не нужны сгенерированные стабы.
const (
	PipelineServiceName = "pipeline.v1.PipelineService"
	HandleTurnMethod    = "/" + PipelineServiceName + "/HandleTurn"
	ExecuteToolMethod   = "/" + PipelineServiceName + "/ExecuteTool"
)

// PipelineServiceServer — контракт сервиса (HandlerType для ServiceDesc).
type PipelineServiceServer interface {
	HandleTurn(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ExecuteTool(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type GRPCServer struct {
	pipeline   TurnHandler
	dispatcher Dispatcher
	actors     ActorDirectory
}

func NewGRPCServer(deps Deps) *GRPCServer {
	return &GRPCServer{
		pipeline:   deps.Pipeline,
		dispatcher: deps.Dispatcher,
		actors:     deps.Actors,
	}
}

// Register вешает сервис на grpc.Server.
func (s *GRPCServer) Register(srv grpc.ServiceRegistrar) {
	srv.RegisterService(&pipelineServiceDesc, s)
}

// HandleTurn: {utterance, actor_id, user_id, confirmed} -> TurnResult как Struct.
func (s *GRPCServer) HandleTurn(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.AsMap()
	utterance, _ := fields["utterance"].(string)
	if utterance == "" {
		return nil, status.Error(codes.InvalidArgument, "utterance is required")
	}

	actor, err := s.resolveActor(ctx, fields)
	if err != nil {
		return nil, err
	}
	confirmed, _ := fields["confirmed"].(bool)

	result := s.pipeline.HandleTurn(ctx, utterance, actor, engine.ExecOptions{
		UserID:    grpcUserID(ctx, fields),
		Confirmed: confirmed,
	})
	return toStruct(result)
}

// ExecuteTool: {tool_id, parameters, actor_id, user_id, confirmed} -> ToolResult как Struct.
func (s *GRPCServer) ExecuteTool(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.AsMap()
	toolID, _ := fields["tool_id"].(string)
	if toolID == "" {
		return nil, status.Error(codes.InvalidArgument, "tool_id is required")
	}

	actor, err := s.resolveActor(ctx, fields)
	if err != nil {
		return nil, err
	}
	if !actor.CanUseTool(toolID) {
		return nil, status.Error(codes.PermissionDenied, "capability is not enabled for this actor")
	}
	params, _ := fields["parameters"].(map[string]any)
	confirmed, _ := fields["confirmed"].(bool)

	result := s.dispatcher.ExecuteTool(ctx, engine.ToolCall{
		ToolID:     toolID,
		Parameters: params,
		ActorID:    actor.ID,
		UserID:     grpcUserID(ctx, fields),
		Confirmed:  confirmed,
	})
	return toStruct(result)
}

func (s *GRPCServer) resolveActor(ctx context.Context, fields map[string]any) (*domain.Actor, error) {
	requested, _ := fields["actor_id"].(string)
	if tokenActor := auth.ActorIDFromContext(ctx); tokenActor != "" {
		if requested != "" && requested != tokenActor {
			return nil, status.Error(codes.PermissionDenied, errActorMismatch.Error())
		}
		requested = tokenActor
	}
	actor, ok := s.actors.Get(requested)
	if !ok {
		return nil, status.Error(codes.NotFound, errUnknownActor.Error())
	}
	return actor, nil
}

func grpcUserID(ctx context.Context, fields map[string]any) string {
	if id := auth.UserIDFromContext(ctx); id != "" {
		return id
	}
	id, _ := fields["user_id"].(string)
	return id
}

// toStruct: Go-значение -> JSON -> Struct, теги json задают имена полей.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return out, nil
}

func handleTurnHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(PipelineServiceServer)
	if interceptor == nil {
		return s.HandleTurn(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: HandleTurnMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return s.HandleTurn(ctx, req.(*structpb.Struct))
	})
}

func executeToolHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(PipelineServiceServer)
	if interceptor == nil {
		return s.ExecuteTool(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ExecuteToolMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return s.ExecuteTool(ctx, req.(*structpb.Struct))
	})
}

var pipelineServiceDesc = grpc.ServiceDesc{
	ServiceName: PipelineServiceName,
	HandlerType: (*PipelineServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "HandleTurn", Handler: handleTurnHandler},
		{MethodName: "ExecuteTool", Handler: executeToolHandler},
	},
	Streams: []grpc.StreamDesc{},
}
