package rpcjson

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/VitorLohan2/sistema-visitante-sub004/internal/application"
	"github.com/VitorLohan2/sistema-visitante-sub004/internal/domain"
)

type Server struct {
	service  *application.PatrolService
	listener net.Listener
	path     string
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

type response struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      any       `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func Start(path string, service *application.PatrolService) (*Server, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("rpc socket path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = ln.Close()
		_ = os.Remove(path)
		return nil, err
	}

	s := &Server{service: service, listener: ln, path: path}
	go s.serve()
	return s, nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) Close() error {
	err := s.listener.Close()
	_ = os.Remove(s.path)
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)

	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			_ = enc.Encode(response{JSONRPC: "2.0", Error: &rpcError{Code: -32700, Message: "parse error"}, ID: nil})
			return
		}

		resp := s.dispatch(context.Background(), req)
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req request) response {
	if req.JSONRPC != "2.0" || strings.TrimSpace(req.Method) == "" {
		return response{JSONRPC: "2.0", Error: &rpcError{Code: -32600, Message: "invalid request"}, ID: req.ID}
	}

	switch req.Method {
	case "auth.whoami":
		identity, rpcResp, ok := s.authz(ctx, req, false)
		if !ok {
			return rpcResp
		}
		return response{JSONRPC: "2.0", Result: identity, ID: req.ID}
	case "patrol.start":
		identity, rpcResp, ok := s.authz(ctx, req, false)
		if !ok {
			return rpcResp
		}
		var p struct {
			Token     string  `json:"token"`
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
			Notes     string  `json:"notes"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		out, err := s.service.StartSession(ctx, identity.GuardID, domain.Position{Latitude: p.Latitude, Longitude: p.Longitude}, p.Notes)
		if err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: out, ID: req.ID}
	case "patrol.active":
		identity, rpcResp, ok := s.authz(ctx, req, false)
		if !ok {
			return rpcResp
		}
		out, err := s.service.ActiveSession(ctx, identity.GuardID)
		if err != nil {
			return appError(req.ID, err)
		}
		if out == nil {
			return response{JSONRPC: "2.0", Result: map[string]any{"active": false}, ID: req.ID}
		}
		return response{JSONRPC: "2.0", Result: map[string]any{"active": true, "session": out}, ID: req.ID}
	case "patrol.track":
		identity, rpcResp, ok := s.authz(ctx, req, false)
		if !ok {
			return rpcResp
		}
		var p struct {
			Token      string     `json:"token"`
			SessionID  uint       `json:"session_id"`
			Latitude   float64    `json:"latitude"`
			Longitude  float64    `json:"longitude"`
			Accuracy   *float64   `json:"accuracy"`
			Altitude   *float64   `json:"altitude"`
			Speed      *float64   `json:"speed"`
			RecordedAt *time.Time `json:"recorded_at"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		out, err := s.service.AppendSample(ctx, identity.GuardID, p.SessionID, application.TrackInput{
			Latitude:   p.Latitude,
			Longitude:  p.Longitude,
			Accuracy:   p.Accuracy,
			Altitude:   p.Altitude,
			Speed:      p.Speed,
			RecordedAt: p.RecordedAt,
		})
		if err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: out, ID: req.ID}
	case "patrol.checkpoint":
		identity, rpcResp, ok := s.authz(ctx, req, false)
		if !ok {
			return rpcResp
		}
		var p struct {
			Token          string  `json:"token"`
			SessionID      uint    `json:"session_id"`
			Latitude       float64 `json:"latitude"`
			Longitude      float64 `json:"longitude"`
			ControlPointID *uint   `json:"control_point_id"`
			Description    string  `json:"description"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		out, err := s.service.RecordCheckpoint(ctx, identity.GuardID, p.SessionID, application.CheckpointInput{
			Latitude:       p.Latitude,
			Longitude:      p.Longitude,
			ControlPointID: p.ControlPointID,
			Description:    p.Description,
		})
		if err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: out, ID: req.ID}
	case "patrol.proximity":
		_, rpcResp, ok := s.authz(ctx, req, false)
		if !ok {
			return rpcResp
		}
		var p struct {
			Token          string  `json:"token"`
			ControlPointID uint    `json:"control_point_id"`
			Latitude       float64 `json:"latitude"`
			Longitude      float64 `json:"longitude"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		out, err := s.service.ValidateProximity(ctx, p.ControlPointID, domain.Position{Latitude: p.Latitude, Longitude: p.Longitude})
		if err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: out, ID: req.ID}
	case "patrol.finalize":
		identity, rpcResp, ok := s.authz(ctx, req, false)
		if !ok {
			return rpcResp
		}
		var p struct {
			Token     string   `json:"token"`
			SessionID uint     `json:"session_id"`
			Latitude  *float64 `json:"latitude"`
			Longitude *float64 `json:"longitude"`
			Notes     string   `json:"notes"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		out, err := s.service.FinalizeSession(ctx, identity.GuardID, p.SessionID, application.FinalizeInput{
			Latitude:  p.Latitude,
			Longitude: p.Longitude,
			Notes:     p.Notes,
		})
		if err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: out, ID: req.ID}
	case "patrol.cancel":
		identity, rpcResp, ok := s.authz(ctx, req, false)
		if !ok {
			return rpcResp
		}
		var p struct {
			Token     string `json:"token"`
			SessionID uint   `json:"session_id"`
			Reason    string `json:"reason"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		out, err := s.service.CancelSession(ctx, identity.GuardID, p.SessionID, p.Reason)
		if err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: out, ID: req.ID}
	case "patrol.history":
		identity, rpcResp, ok := s.authz(ctx, req, false)
		if !ok {
			return rpcResp
		}
		var p struct {
			Token   string `json:"token"`
			GuardID string `json:"guard_id"`
			Status  string `json:"status"`
			Limit   int    `json:"limit"`
			Offset  int    `json:"offset"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		filter := domain.SessionFilter{GuardID: p.GuardID, Limit: p.Limit, Offset: p.Offset}
		if p.Status != "" {
			status := domain.SessionStatus(p.Status)
			filter.Status = &status
		}
		out, err := s.service.SessionHistory(ctx, identity, filter)
		if err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: out, ID: req.ID}
	case "patrol.detail":
		identity, rpcResp, ok := s.authz(ctx, req, false)
		if !ok {
			return rpcResp
		}
		var p struct {
			Token     string `json:"token"`
			SessionID uint   `json:"session_id"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		out, err := s.service.SessionDetail(ctx, identity, p.SessionID)
		if err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: out, ID: req.ID}
	case "points.list":
		_, rpcResp, ok := s.authz(ctx, req, false)
		if !ok {
			return rpcResp
		}
		var p struct {
			Token string `json:"token"`
			Q     string `json:"q"`
			All   bool   `json:"all"`
			Limit int    `json:"limit"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		out, err := s.service.ListControlPoints(ctx, domain.ControlPointFilter{
			OnlyActive: !p.All,
			Query:      p.Q,
			Limit:      p.Limit,
		})
		if err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: out, ID: req.ID}
	case "sessions.list":
		_, rpcResp, ok := s.authz(ctx, req, true)
		if !ok {
			return rpcResp
		}
		var p struct {
			Token   string `json:"token"`
			GuardID string `json:"guard_id"`
			Status  string `json:"status"`
			Limit   int    `json:"limit"`
			Offset  int    `json:"offset"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		filter := domain.SessionFilter{GuardID: p.GuardID, Limit: p.Limit, Offset: p.Offset}
		if p.Status != "" {
			status := domain.SessionStatus(p.Status)
			filter.Status = &status
		}
		out, err := s.service.ListSessions(ctx, filter)
		if err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: out, ID: req.ID}
	case "audit.list":
		_, rpcResp, ok := s.authz(ctx, req, true)
		if !ok {
			return rpcResp
		}
		var p struct {
			Token     string `json:"token"`
			GuardID   string `json:"guard_id"`
			SessionID *uint  `json:"session_id"`
			Event     string `json:"event"`
			Limit     int    `json:"limit"`
			Offset    int    `json:"offset"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		filter := domain.AuditFilter{GuardID: p.GuardID, SessionID: p.SessionID, Limit: p.Limit, Offset: p.Offset}
		if p.Event != "" {
			et := domain.EventType(p.Event)
			filter.EventType = &et
		}
		out, err := s.service.ListAudit(ctx, filter)
		if err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: out, ID: req.ID}
	default:
		return response{JSONRPC: "2.0", Error: &rpcError{Code: -32601, Message: "method not found"}, ID: req.ID}
	}
}

func (s *Server) authz(ctx context.Context, req request, operator bool) (domain.Identity, response, bool) {
	var p struct {
		Token string `json:"token"`
	}
	if !decodeParams(req.Params, &p) {
		return domain.Identity{}, invalidParams(req.ID), false
	}
	identity, err := s.service.Authenticate(ctx, p.Token)
	if err != nil {
		return domain.Identity{}, response{JSONRPC: "2.0", Error: &rpcError{Code: 40100, Message: "unauthorized"}, ID: req.ID}, false
	}
	if operator && !identity.Operator {
		return domain.Identity{}, response{JSONRPC: "2.0", Error: &rpcError{Code: 40300, Message: "forbidden"}, ID: req.ID}, false
	}
	return identity, response{}, true
}

func decodeParams(raw json.RawMessage, out any) bool {
	if len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

func invalidParams(id any) response {
	return response{JSONRPC: "2.0", Error: &rpcError{Code: -32602, Message: "invalid params"}, ID: id}
}

func appError(id any, err error) response {
	code := 50000
	switch domain.CodeOf(err) {
	case domain.CodeValidation:
		code = 40000
	case domain.CodeNotFound:
		code = 40400
	case domain.CodeConflict:
		code = 40900
	case domain.CodeState:
		code = 42200
	}
	return response{JSONRPC: "2.0", Error: &rpcError{Code: code, Message: err.Error()}, ID: id}
}
