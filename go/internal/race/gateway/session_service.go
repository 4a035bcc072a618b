package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/mcdev12/typeracer/go/internal/race/store"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// SessionServiceName is the fully-qualified name of the session service.
	SessionServiceName = "typerace.v1.SessionService"
	// SessionServiceGetSessionProcedure is the route of the GetSession RPC.
	SessionServiceGetSessionProcedure = "/typerace.v1.SessionService/GetSession"
)

// SessionService answers session lookups over connect. Requests and responses are
// google.protobuf.Struct so no generated code is needed.
type SessionService struct {
	sessions SessionProvider
}

func NewSessionService(sessions SessionProvider) *SessionService {
	return &SessionService{sessions: sessions}
}

// NewSessionServiceHandler builds an HTTP handler for the service, returning the path to mount it on
func NewSessionServiceHandler(svc *SessionService, opts ...connect.HandlerOption) (string, http.Handler) {
	getSession := connect.NewUnaryHandler(
		SessionServiceGetSessionProcedure,
		svc.GetSession,
		opts...,
	)
	return "/" + SessionServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case SessionServiceGetSessionProcedure:
			getSession.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// GetSession expects {"session_id": "<uuid>"} and returns the same body as the state API
func (s *SessionService) GetSession(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	raw := req.Msg.GetFields()["session_id"].GetStringValue()
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid session_id %q", raw))
	}

	session, err := s.sessions.Session(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, connect.NewError(connect.CodeNotFound, err)
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	state, err := loadState(ctx, s.sessions, session)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	body, err := toStruct(state)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(body), nil
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return structpb.NewStruct(fields)
}
