package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/nerrad567/courier-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/courier-core/internal/manager"
	"github.com/nerrad567/courier-core/internal/persistence"
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	ClientID      string            `json:"client_id"`
	State         manager.State     `json:"state"`
	Connected     bool              `json:"connected"`
	LastError     string            `json:"last_error,omitempty"`
	Persistent    bool              `json:"persistent_store"`
	Events        map[string]uint64 `json:"events"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Version       string            `json:"version"`
}

// handleStatus reports the session state and event counters.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		ClientID:      s.client.ClientID(),
		State:         s.client.State(),
		Connected:     s.client.IsConnected(),
		Persistent:    s.store.Persistent(),
		Events:        s.eventCounts(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Version:       s.version,
	}
	if err := s.client.LastError(); err != nil {
		resp.LastError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// FlowView is one in-flight flow as reported by GET /flows.
type FlowView struct {
	MessageID   uint16    `json:"message_id"`
	Direction   string    `json:"direction"`
	Command     string    `json:"command"`
	Topic       string    `json:"topic"`
	QoS         byte      `json:"qos"`
	Retained    bool      `json:"retained"`
	RetryCount  int       `json:"retry_count"`
	PayloadSize int       `json:"payload_size"`
	CreatedAt   time.Time `json:"created_at"`
}

func newFlowView(f persistence.Flow) FlowView {
	return FlowView{
		MessageID:   f.MessageID,
		Direction:   f.Direction.String(),
		Command:     f.Command.String(),
		Topic:       f.Topic,
		QoS:         f.QoS,
		Retained:    f.Retained,
		RetryCount:  f.RetryCount,
		PayloadSize: len(f.Payload),
		CreatedAt:   f.CreatedAt,
	}
}

// handleListFlows lists unacknowledged flows for this client.
// Query parameter direction selects outgoing, incoming or both (default).
func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	var dirs []persistence.Direction
	switch r.URL.Query().Get("direction") {
	case "", "all":
		dirs = []persistence.Direction{persistence.Outgoing, persistence.Incoming}
	case "outgoing":
		dirs = []persistence.Direction{persistence.Outgoing}
	case "incoming":
		dirs = []persistence.Direction{persistence.Incoming}
	default:
		writeBadRequest(w, "direction must be outgoing, incoming or all")
		return
	}

	flows := make([]FlowView, 0)
	for _, dir := range dirs {
		pending, err := s.store.Pending(r.Context(), s.client.ClientID(), dir)
		if err != nil {
			s.logger.Error("listing flows failed", "direction", dir, "error", err)
			writeInternalError(w, "failed to list flows")
			return
		}
		for _, f := range pending {
			flows = append(flows, newFlowView(f))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"flows": flows,
		"count": len(flows),
	})
}

// PublishRequest is the body of POST /publish. Exactly one of Payload and
// PayloadBase64 may be set.
type PublishRequest struct {
	Topic         string `json:"topic"`
	Payload       string `json:"payload"`
	PayloadBase64 string `json:"payload_base64"`
	QoS           *byte  `json:"qos"`
	Retain        bool   `json:"retain"`
}

// handlePublish publishes a message through the session.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	payload := []byte(req.Payload)
	if req.PayloadBase64 != "" {
		if req.Payload != "" {
			writeBadRequest(w, "payload and payload_base64 are mutually exclusive")
			return
		}
		decoded, err := base64.StdEncoding.DecodeString(req.PayloadBase64)
		if err != nil {
			writeBadRequest(w, "payload_base64 is not valid base64")
			return
		}
		payload = decoded
	}

	qos := s.defaultQoS
	if req.QoS != nil {
		qos = *req.QoS
	}

	subject, _ := r.Context().Value(ctxKeySubject).(string) // set by authMiddleware
	err := s.client.Publish(req.Topic, payload, qos, req.Retain)
	switch {
	case err == nil:
		s.logger.Info("API publish", "subject", subject, "topic", req.Topic, "qos", qos, "size", len(payload))
		writeJSON(w, http.StatusAccepted, map[string]any{
			"topic": req.Topic,
			"qos":   qos,
			"size":  len(payload),
		})
	case errors.Is(err, mqtt.ErrInvalidTopic), errors.Is(err, mqtt.ErrInvalidQoS):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, mqtt.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		s.logger.Warn("API publish failed", "subject", subject, "topic", req.Topic, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUnavailable, err.Error())
	}
}
