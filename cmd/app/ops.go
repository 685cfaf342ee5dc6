package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
)

func doWhoAmI(ctx context.Context, cfg cliConfig, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "auth.whoami", map[string]any{"token": cfg.Token}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodGet, "/api/auth/whoami", nil, out)
}

func doPatrolStart(ctx context.Context, cfg cliConfig, lat, lon float64, notes string, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "patrol.start", map[string]any{"token": cfg.Token, "latitude": lat, "longitude": lon, "notes": notes}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, "/api/patrols/start", map[string]any{"latitude": lat, "longitude": lon, "notes": notes}, out)
}

func doPatrolActive(ctx context.Context, cfg cliConfig, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "patrol.active", map[string]any{"token": cfg.Token}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodGet, "/api/patrols/active", nil, out)
}

func doPatrolTrack(ctx context.Context, cfg cliConfig, sessionID uint, params map[string]any, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		payload := map[string]any{"token": cfg.Token}
		for k, v := range params {
			payload[k] = v
		}
		return client.call(ctx, "patrol.track", payload, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, "/api/patrols/"+uintToString(sessionID)+"/track", params, out)
}

func doPatrolCheckpoint(ctx context.Context, cfg cliConfig, sessionID uint, lat, lon float64, pointID *uint, description string, out any) error {
	body := map[string]any{"latitude": lat, "longitude": lon, "description": description}
	if pointID != nil {
		body["control_point_id"] = *pointID
	}
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		body["token"] = cfg.Token
		body["session_id"] = sessionID
		return client.call(ctx, "patrol.checkpoint", body, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, "/api/patrols/"+uintToString(sessionID)+"/checkpoints", body, out)
}

func doPatrolFinalize(ctx context.Context, cfg cliConfig, sessionID uint, params map[string]any, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		payload := map[string]any{"token": cfg.Token, "session_id": sessionID}
		for k, v := range params {
			payload[k] = v
		}
		return client.call(ctx, "patrol.finalize", payload, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, "/api/patrols/"+uintToString(sessionID)+"/finalize", params, out)
}

func doPatrolCancel(ctx context.Context, cfg cliConfig, sessionID uint, reason string, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "patrol.cancel", map[string]any{"token": cfg.Token, "session_id": sessionID, "reason": reason}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, "/api/patrols/"+uintToString(sessionID)+"/cancel", map[string]any{"reason": reason}, out)
}

func doPatrolHistory(ctx context.Context, cfg cliConfig, status string, limit, offset int, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "patrol.history", map[string]any{"token": cfg.Token, "status": status, "limit": limit, "offset": offset}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	path := "/api/patrols/history?limit=" + strconv.Itoa(limit) + "&offset=" + strconv.Itoa(offset)
	if status != "" {
		path += "&status=" + status
	}
	return client.request(ctx, http.MethodGet, path, nil, out)
}

func doPatrolDetail(ctx context.Context, cfg cliConfig, sessionID uint, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "patrol.detail", map[string]any{"token": cfg.Token, "session_id": sessionID}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodGet, "/api/patrols/"+uintToString(sessionID), nil, out)
}

func doPointsList(ctx context.Context, cfg cliConfig, q string, all bool, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "points.list", map[string]any{"token": cfg.Token, "q": q, "all": all}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	path := "/api/control-points"
	params := ""
	if q != "" {
		params += "q=" + q
	}
	if all {
		if params != "" {
			params += "&"
		}
		params += "all=true"
	}
	if params != "" {
		path += "?" + params
	}
	return client.request(ctx, http.MethodGet, path, nil, out)
}

func doProximity(ctx context.Context, cfg cliConfig, pointID uint, lat, lon float64, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "patrol.proximity", map[string]any{"token": cfg.Token, "control_point_id": pointID, "latitude": lat, "longitude": lon}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	path := fmt.Sprintf("/api/control-points/%s/proximity?latitude=%g&longitude=%g", uintToString(pointID), lat, lon)
	return client.request(ctx, http.MethodGet, path, nil, out)
}

func doSessionsList(ctx context.Context, cfg cliConfig, guardID, status string, limit, offset int, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "sessions.list", map[string]any{"token": cfg.Token, "guard_id": guardID, "status": status, "limit": limit, "offset": offset}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	path := "/api/admin/sessions?limit=" + strconv.Itoa(limit) + "&offset=" + strconv.Itoa(offset)
	if guardID != "" {
		path += "&guard_id=" + guardID
	}
	if status != "" {
		path += "&status=" + status
	}
	return client.request(ctx, http.MethodGet, path, nil, out)
}

func doAuditList(ctx context.Context, cfg cliConfig, guardID string, sessionID *uint, event string, limit int, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "audit.list", map[string]any{"token": cfg.Token, "guard_id": guardID, "session_id": sessionID, "event": event, "limit": limit}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	path := "/api/admin/audit?limit=" + strconv.Itoa(limit)
	if guardID != "" {
		path += "&guard_id=" + guardID
	}
	if sessionID != nil {
		path += "&session_id=" + uintToString(*sessionID)
	}
	if event != "" {
		path += "&event=" + event
	}
	return client.request(ctx, http.MethodGet, path, nil, out)
}

func uintToString(v uint) string {
	return fmt.Sprintf("%d", v)
}
