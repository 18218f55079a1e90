package api

import (
	"encoding/json"
	"net/http"

	"github.com/duckrelay/duckrelay/internal/auth"
	"github.com/duckrelay/duckrelay/internal/completion"
	"github.com/duckrelay/duckrelay/internal/observability"
	"github.com/duckrelay/duckrelay/internal/pipeline"
)

type messagesRequest struct {
	Messages []completion.Message `json:"messages"`
}

func handleMessages(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "PIPELINE_MISSING", "pipeline is not configured", false, nil)
		return
	}

	var payload messagesRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&payload); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON with a messages array", false, nil)
		return
	}
	if len(payload.Messages) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", "messages must not be empty", false, nil)
		return
	}
	for _, message := range payload.Messages {
		switch message.Role {
		case completion.RoleSystem, completion.RoleUser, completion.RoleAssistant:
		default:
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", "message role must be system, user, or assistant", false, map[string]any{"role": message.Role})
			return
		}
	}

	emitter, err := newSSEEmitter(w)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", err.Error(), false, nil)
		return
	}

	request := pipeline.Request{
		TraceID:  observability.TraceIDFromContext(r.Context()),
		Messages: payload.Messages,
	}
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		request.UserID = identity.UserID
	}

	deps.Pipeline.Run(r.Context(), request, emitter)
}
