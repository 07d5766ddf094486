package server

import (
	"context"
	"strings"

	"github.com/samber/lo"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/shenzihan666/search/api/launcherpb"
	"github.com/shenzihan666/search/conversations"
)

// CreateSession opens a chat session that QueryStream can record into.
func (s *Server) CreateSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req launcherpb.CreateSessionRequest
	if err := launcherpb.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	sess, err := s.service.CreateSession(ctx, req.Title, req.SystemPrompt)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(sess)
}

// ListSessions returns sessions, most recently active first.
func (s *Server) ListSessions(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	sessions, err := s.service.ListSessions(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(launcherpb.ListSessionsResponse{
		Sessions: lo.Ternary(sessions == nil, []conversations.Session{}, sessions),
	})
}

func (s *Server) SetSystemPrompt(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req launcherpb.SetSystemPromptRequest
	if err := launcherpb.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id is required")
	}
	if err := s.service.SetSystemPrompt(ctx, req.SessionID, req.SystemPrompt); err != nil {
		return nil, toStatus(err)
	}
	return encode(launcherpb.Empty{})
}

func (s *Server) DeleteSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req launcherpb.DeleteSessionRequest
	if err := launcherpb.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id is required")
	}
	if err := s.service.DeleteSession(ctx, req.SessionID); err != nil {
		return nil, toStatus(err)
	}
	return encode(launcherpb.Empty{})
}

// SetAPIKey stores or clears a provider's key. The key itself is never
// logged.
func (s *Server) SetAPIKey(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req launcherpb.SetAPIKeyRequest
	if err := launcherpb.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if strings.TrimSpace(req.ProviderID) == "" {
		return nil, status.Error(codes.InvalidArgument, "provider_id is required")
	}
	if err := s.service.SetAPIKey(ctx, req.ProviderID, req.APIKey); err != nil {
		return nil, toStatus(err)
	}
	return encode(launcherpb.Empty{})
}

func (s *Server) SetActive(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req launcherpb.SetActiveRequest
	if err := launcherpb.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if strings.TrimSpace(req.ProviderID) == "" {
		return nil, status.Error(codes.InvalidArgument, "provider_id is required")
	}
	if err := s.service.SetActive(ctx, req.ProviderID, req.Active); err != nil {
		return nil, toStatus(err)
	}
	return encode(launcherpb.Empty{})
}
