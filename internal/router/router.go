package router

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"taskdeck/client/internal/convo"
	"taskdeck/client/internal/logging"
	"taskdeck/client/internal/protocol"
)

// Router turns inbound envelopes into chat and permission mutations. It
// holds no state of its own; everything it produces lands in the stores.
type Router struct {
	chat   *convo.ChatLog
	perms  *convo.PermissionStore
	logger *slog.Logger
}

func New(chat *convo.ChatLog, perms *convo.PermissionStore, logger *slog.Logger) *Router {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Router{chat: chat, perms: perms, logger: logger}
}

// Route dispatches one envelope. Unknown types are ignored.
func (r *Router) Route(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeLog, protocol.TypeChatLogStream:
		r.appendStreamChunk(env)
	case protocol.TypeStatus:
		r.appendStatus(env)
	case protocol.TypePermissionRequest:
		r.recordPermissionRequest(env)
	case protocol.TypePermissionResponse:
		r.resolvePermission(env)
	default:
		r.logger.Debug("ignoring envelope", "type", env.Type, "sender", env.Sender)
	}
}

func (r *Router) appendStreamChunk(env protocol.Envelope) {
	content := env.DataString("content")
	if content == "" {
		content = env.DataRaw()
	}
	stepID := env.DataString("step_id")
	if stepID == "" {
		stepID = uuid.NewString()
	}
	r.chat.Append(convo.ChatMessage{
		Role:        convo.RoleAssistant,
		Content:     content,
		StepID:      stepID,
		IsStreaming: true,
	})
}

func (r *Router) appendStatus(env protocol.Envelope) {
	status := env.DataString("status")
	if status == "" {
		status = env.DataRaw()
	}
	r.chat.Append(convo.ChatMessage{
		Role:    convo.RoleSystem,
		Content: fmt.Sprintf("task status: %s", status),
	})
}

func (r *Router) recordPermissionRequest(env protocol.Envelope) {
	ok := r.perms.Put(convo.PermissionRequest{
		RequestID:   env.DataString("request_id"),
		HookType:    env.DataString("hook_type"),
		RawCommand:  env.DataString("raw_command"),
		Description: env.DataString("description"),
	})
	if !ok {
		r.logger.Warn("permission request without request_id dropped")
	}
}

func (r *Router) resolvePermission(env protocol.Envelope) {
	requestID := env.DataString("request_id")
	approved := env.DataString("decision") == "approve"
	if !r.perms.Resolve(requestID, approved) {
		// Unknown or already settled ids are silent no-ops.
		r.logger.Debug("permission response ignored", "request_id", requestID)
		return
	}
	verdict := "rejected"
	if approved {
		verdict = "approved"
	}
	r.chat.Append(convo.ChatMessage{
		Role:    convo.RoleSystem,
		Content: fmt.Sprintf("permission %s %s", requestID, verdict),
	})
}
