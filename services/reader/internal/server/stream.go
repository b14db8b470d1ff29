package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pdfreader/internal/util"
	"pdfreader/pkg/ai"
	"pdfreader/services/reader/internal/app"
)

// Server-sent event names of the chat stream.
const (
	sseChunk = "chunk"
	sseUsage = "usage"
	sseError = "error"
	sseDone  = "done"
)

// streamWriteTimeout is extended after every event so long answers are
// not cut by the server's write timeout.
const streamWriteTimeout = 30 * time.Second

type chunkEvent struct {
	Text string `json:"text"`
}

type usageEvent struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

type errorEvent struct {
	Class   string `json:"class"`
	Message string `json:"message"`
}

type doneEvent struct {
	MessageID     string `json:"messageId"`
	UserMessageID string `json:"userMessageId"`
}

// eventStream writes SSE frames. Headers are sent with the first frame so
// errors before it can still be answered with plain JSON.
type eventStream struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func newEventStream(w http.ResponseWriter) *eventStream {
	return &eventStream{w: w, rc: http.NewResponseController(w)}
}

func (s *eventStream) send(name string, payload any) {
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{}`)
	}
	_ = s.rc.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data)
	_ = s.rc.Flush()
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request, userID, threadID string) {
	if !s.allowRate(w, r, s.chatLimiter, "chat|"+userID) {
		return
	}
	var req app.AskInput
	if !decodeJSON(w, r, &req) {
		return
	}
	stream := newEventStream(w)
	res, err := s.app.Ask(r.Context(), userID, threadID, req, func(ev ai.Event) {
		switch ev.Kind {
		case ai.EventChunk:
			stream.send(sseChunk, chunkEvent{Text: ev.Text})
			if ev.Failure != ai.ClassNone {
				stream.send(sseError, errorEvent{Class: string(ev.Failure), Message: ev.Text})
			}
		case ai.EventUsage:
			stream.send(sseUsage, usageEvent{
				PromptTokens:     ev.PromptTokens,
				CompletionTokens: ev.CompletionTokens,
				TotalTokens:      ev.Total(),
			})
		}
	})
	if err != nil {
		if !stream.started {
			s.writeAppError(w, r, err)
			return
		}
		util.LoggerFromContext(r.Context()).Error("chat persistence failed", "thread_id", threadID, "err", err)
		stream.send(sseError, errorEvent{Class: "internal", Message: "The answer could not be saved."})
		return
	}
	if r.Context().Err() != nil {
		return
	}
	stream.send(sseDone, doneEvent{MessageID: res.AssistantMessage.ID, UserMessageID: res.UserMessage.ID})
}
