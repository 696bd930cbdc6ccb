package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/zentrohq/zentro/internal/identity"
	"github.com/zentrohq/zentro/internal/stream"
	"github.com/zentrohq/zentro/internal/store"
	"github.com/zentrohq/zentro/pkg/models"
)

type agentRunRequest struct {
	Prompt   string `json:"prompt"`
	ThreadID string `json:"thread_id,omitempty"`
}

type agentRunResponse struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

// resolveThread validates thread ownership or mints a fresh thread id.
// A thread that does not parse to the caller's user id is reported as
// missing, not forbidden, so ids of other users cannot be probed.
func resolveThread(userID int64, requested string) (string, error) {
	if requested == "" {
		return identity.NewThreadID(userID), nil
	}
	owner, ok := identity.ParseThreadID(requested)
	if !ok || owner != userID {
		return "", store.NotFoundf("thread %s", requested)
	}
	return requested, nil
}

func (s *Server) handleAgentRun(w http.ResponseWriter, r *http.Request) {
	var req agentRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.Prompt == "" {
		badRequest(w, "prompt is required")
		return
	}
	userID, _ := identity.UserFrom(r.Context())

	threadID, err := resolveThread(userID, req.ThreadID)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	message, err := s.runtime.Invoke(r.Context(), threadID, req.Prompt)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	s.persistExchange(r.Context(), userID, threadID, req.Prompt, message)
	writeJSON(w, http.StatusOK, agentRunResponse{ThreadID: threadID, Message: message})
}

func (s *Server) handleAgentRunStream(w http.ResponseWriter, r *http.Request) {
	var req agentRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.Prompt == "" {
		badRequest(w, "prompt is required")
		return
	}
	userID, _ := identity.UserFrom(r.Context())

	threadID, err := resolveThread(userID, req.ThreadID)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	events, err := s.runtime.Stream(r.Context(), threadID, req.Prompt)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.ActiveStreams.Inc()
		defer s.metrics.ActiveStreams.Dec()
	}

	stream.PrepareHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	enc := stream.NewEncoder(w)
	if err := enc.Metadata(threadID); err != nil {
		return
	}

	translator := stream.NewTranslator()
	var assistant []byte
	for ev := range events {
		normalized, ok := translator.Translate(ev)
		if !ok {
			continue
		}
		if normalized.Type == models.EventToken {
			assistant = append(assistant, normalized.Content...)
		}
		if err := enc.Event(normalized); err != nil {
			// Client disconnected; the runtime observes ctx cancellation.
			return
		}
	}

	switch translator.State() {
	case stream.StateErrored:
		// The error frame already went out via the translated event.
	default:
		s.persistExchange(r.Context(), userID, threadID, req.Prompt, string(assistant))
		enc.Done()
	}
}

// persistExchange appends the user and assistant messages to the chat log,
// creating the chat on first contact. The run already succeeded; a failure
// here loses transcript history, not the answer, so it is logged only.
func (s *Server) persistExchange(ctx context.Context, userID int64, threadID, prompt, message string) {
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		chat, err := tx.GetChatByThreadID(ctx, threadID)
		if errors.Is(err, store.ErrNotFound) {
			chat, err = tx.CreateChat(ctx, userID, threadID, store.ChatTitle(prompt))
		}
		if err != nil {
			return err
		}
		if _, err := tx.AppendMessage(ctx, chat.ID, models.RoleUser, prompt); err != nil {
			return err
		}
		_, err = tx.AppendMessage(ctx, chat.ID, models.RoleAssistant, message)
		return err
	})
	if err != nil {
		s.logger.Error(ctx, "chat persistence failed", "thread_id", threadID, "error", err)
	}
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserFrom(r.Context())

	var chats []models.Chat
	err := s.store.WithTx(r.Context(), func(tx *store.Tx) error {
		var err error
		chats, err = tx.ListChatsByUser(r.Context(), userID)
		return err
	})
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	if chats == nil {
		chats = []models.Chat{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserFrom(r.Context())
	threadID := r.PathValue("thread_id")

	if owner, ok := identity.ParseThreadID(threadID); !ok || owner != userID {
		s.writeError(r.Context(), w, store.NotFoundf("thread %s", threadID))
		return
	}

	var messages []models.ChatMessage
	err := s.store.WithTx(r.Context(), func(tx *store.Tx) error {
		chat, err := tx.GetChatByThreadID(r.Context(), threadID)
		if err != nil {
			return err
		}
		messages, err = tx.ListMessages(r.Context(), chat.ID)
		return err
	})
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"thread_id": threadID, "messages": messages})
}
