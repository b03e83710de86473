package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-edge/internal/mqttcore"
)

// PublishRequest is the body of POST /api/v1/publish.
type PublishRequest struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
	QoS     *int   `json:"qos,omitempty"`
	Retain  bool   `json:"retain"`
}

// PublishResponse reports whether the message went out or was queued.
type PublishResponse struct {
	Topic  string `json:"topic"`
	Queued bool   `json:"queued"`
}

// handlePublish sends a message through the session. While disconnected the
// message lands in the offline queue and the response reports queued=true.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Topic == "" {
		writeBadRequest(w, "topic field is required")
		return
	}

	qos := 0
	if req.QoS != nil {
		qos = *req.QoS
	}
	if qos < 0 || qos > 2 {
		writeBadRequest(w, "qos must be 0, 1 or 2")
		return
	}

	queued := !s.session.IsConnected() || !s.session.Status().DrainingComplete
	err := s.session.Publish(req.Topic, []byte(req.Payload), byte(qos), req.Retain)
	switch {
	case err == nil:
	case errors.Is(err, mqttcore.ErrInvalidArgument):
		writeBadRequest(w, err.Error())
		return
	case errors.Is(err, mqttcore.ErrPublishQueueFull), errors.Is(err, mqttcore.ErrClosed):
		writeUnavailable(w, err.Error())
		return
	case errors.Is(err, mqttcore.ErrPublish):
		s.logger.Warn("publish rejected", "topic", req.Topic, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
		return
	default:
		s.logger.Error("publish failed", "topic", req.Topic, "error", err)
		writeInternalError(w, "publish failed")
		return
	}

	status := http.StatusOK
	if queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, PublishResponse{Topic: req.Topic, Queued: queued})
}
