package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/relaywave/wagateway/internal/apierr"
	. "github.com/relaywave/wagateway/internal/logging"
	"github.com/relaywave/wagateway/internal/media"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"uptime":    time.Since(s.started).Seconds(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"traceId":   traceIDFrom(r),
	})
}

type createSessionRequest struct {
	UserID    int64  `json:"userId"`
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	APIKey    string `json:"apikey"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apierr.InvalidPayload("invalid JSON body"))
		return
	}
	if req.UserID == 0 || req.AgentID == "" || req.AgentName == "" {
		writeError(w, r, apierr.InvalidPayload("userId, agentId and agentName are required"))
		return
	}

	view, err := s.sessions.CreateOrResume(r.Context(), req.UserID, req.AgentID, req.AgentName, req.APIKey)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":    view,
		"traceId": traceIDFrom(r),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.sessions.GetStatus(r.Context(), mux.Vars(r)["agentId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	res, err := s.sessions.Delete(r.Context(), mux.Vars(r)["agentId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	view, err := s.sessions.Reconnect(r.Context(), mux.Vars(r)["agentId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGenerateQR(w http.ResponseWriter, r *http.Request) {
	res, err := s.sessions.GenerateQR(r.Context(), mux.Vars(r)["agentId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type runRequest struct {
	Input      string                 `json:"input"`
	Message    string                 `json:"message"`
	SessionID  string                 `json:"session_id"`
	SessionID2 string                 `json:"sessionId"`
	Parameters map[string]interface{} `json:"parameters"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentId"]

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apierr.InvalidPayload("invalid JSON body"))
		return
	}

	input := req.Input
	if input == "" {
		input = req.Message
	}
	if input == "" {
		writeError(w, r, apierr.InvalidPayload("input or message is required"))
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = req.SessionID2
	}

	rec, err := s.agents.GetAgentByID(r.Context(), agentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rec == nil {
		writeError(w, r, apierr.SessionNotFound("no session record for agent "+agentID))
		return
	}

	payload := map[string]interface{}{
		"input":      input,
		"session_id": sessionID,
	}
	if req.Parameters != nil {
		payload["parameters"] = req.Parameters
	}

	result, err := s.ai.ExecuteRun(r.Context(), rec, payload, traceIDFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	replySent := false
	if result.Reply != nil && sessionID != "" {
		if _, err := s.sessions.SendText(r.Context(), agentID, sessionID, *result.Reply, ""); err != nil {
			L_warn("httpapi: run reply delivery failed", "agentId", agentID, "error", err, "traceId", traceIDFrom(r))
		} else {
			replySent = true
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reply":     result.Reply,
		"replySent": replySent,
	})
}

type sendMessageRequest struct {
	To              string `json:"to"`
	Message         string `json:"message"`
	QuotedMessageID string `json:"quotedMessageId"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apierr.InvalidPayload("invalid JSON body"))
		return
	}
	if req.To == "" || req.Message == "" {
		writeError(w, r, apierr.InvalidPayload("to and message are required"))
		return
	}

	res, err := s.sessions.SendText(r.Context(), mux.Vars(r)["agentId"], req.To, req.Message, req.QuotedMessageID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type sendMediaRequest struct {
	To         string `json:"to"`
	Data       string `json:"data"`
	URL        string `json:"url"`
	Caption    string `json:"caption"`
	Filename   string `json:"filename"`
	MimeType   string `json:"mimeType"`
	SaveToTemp *bool  `json:"save_to_temp"`
}

func (s *Server) handleSendMedia(w http.ResponseWriter, r *http.Request) {
	var req sendMediaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apierr.InvalidPayload("invalid JSON body"))
		return
	}
	if req.To == "" {
		writeError(w, r, apierr.InvalidPayload("to is required"))
		return
	}

	in := media.Input{
		Data:       req.Data,
		URL:        req.URL,
		Filename:   req.Filename,
		MimeType:   req.MimeType,
		SaveToTemp: req.SaveToTemp,
	}
	res, err := s.sessions.SendMedia(r.Context(), mux.Vars(r)["agentId"], req.To, in, req.Caption)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
