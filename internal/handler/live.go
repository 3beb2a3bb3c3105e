package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	appI18n "github.com/softrate/quizgrader/internal/i18n"
	"github.com/softrate/quizgrader/internal/live"
	"github.com/softrate/quizgrader/internal/model"
	"github.com/softrate/quizgrader/internal/proctor"
)

const writeWait = 10 * time.Second

// Client message types.
const (
	msgNavigate    = "navigate"
	msgAnswer      = "answer"
	msgDeviation   = "deviation"
	msgAcknowledge = "acknowledge"
	msgSubmit      = "submit"
	msgStatus      = "status"
)

type clientMessage struct {
	Type   string `json:"type"`
	Index  int    `json:"index"`
	Answer string `json:"answer"`
	Signal string `json:"signal"`
}

// WSMessage is a server-to-client frame.
type WSMessage struct {
	Type    string `json:"type"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(m WSMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(m); err != nil {
		slog.Debug("ws: write error", "error", err)
	}
}

// handleLive runs a server-side attempt over a websocket: the countdown,
// the question timer and the proctoring machine all live here, and a
// reconnecting client resumes the same attempt.
func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	// Outlive the request so a forced submit is not cancelled by a disconnect.
	ctx := context.WithoutCancel(r.Context())
	quizID := chi.URLParam(r, "quizID")
	studentID := model.StudentFromContext(ctx)

	quiz, err := h.store.GetQuiz(ctx, quizID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	submitted, err := h.store.HasSubmission(ctx, quizID, studentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if submitted {
		h.writeError(w, r, model.ErrAlreadySubmitted)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade error", "error", err)
		return
	}
	defer conn.Close()

	c := &wsConn{conn: conn}
	attempt := h.live.Open(quiz, studentID, func(ev live.Event) {
		c.send(WSMessage{Type: "event", Data: ev, Message: eventMessage(ctx, ev)})
	})
	slog.Info("live attempt connected", "quiz_id", quizID, "student_id", studentID)
	c.send(WSMessage{Type: msgStatus, Data: attempt.Status()})

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("live attempt read error", "quiz_id", quizID, "student_id", studentID, "error", err)
			}
			return
		}
		h.dispatch(ctx, attempt, c, msg)
	}
}

func (h *Handler) dispatch(ctx context.Context, a *live.Attempt, c *wsConn, msg clientMessage) {
	var err error
	switch msg.Type {
	case msgNavigate:
		err = a.Navigate(msg.Index)
	case msgAnswer:
		err = a.Answer(msg.Index, msg.Answer)
	case msgDeviation:
		var sig proctor.Signal
		if sig, err = proctor.ParseSignal(msg.Signal); err != nil {
			break
		}
		var tr proctor.Transition
		if tr, err = a.Deviation(ctx, sig); err != nil {
			break
		}
		c.send(WSMessage{Type: "transition", Data: tr, Message: transitionMessage(ctx, tr)})
		return
	case msgAcknowledge:
		a.Acknowledge()
	case msgSubmit:
		// Success and grading failures arrive as events.
		if _, err = a.Submit(ctx); err != nil && !errors.Is(err, live.ErrSubmitting) {
			return
		}
	case msgStatus:
	default:
		c.send(WSMessage{Type: "error", Message: "unknown message type " + msg.Type})
		return
	}
	if err != nil {
		c.send(WSMessage{Type: "error", Message: err.Error()})
		return
	}
	c.send(WSMessage{Type: msgStatus, Data: a.Status()})
}

func transitionMessage(ctx context.Context, tr proctor.Transition) string {
	switch {
	case tr.Dropped:
		return ""
	case tr.To == proctor.StateTerminated:
		return appI18n.T(ctx, "ProctorTerminated")
	case tr.To == proctor.StateWarned:
		return appI18n.T(ctx, "ProctorWarning")
	}
	return ""
}

func eventMessage(ctx context.Context, ev live.Event) string {
	if ev.Type == live.EventSubmitFailed {
		return appI18n.T(ctx, "SubmitFailed")
	}
	switch ev.Reason {
	case live.ReasonTimeout:
		return appI18n.T(ctx, "TimeUp")
	case live.ReasonProctoring:
		return appI18n.T(ctx, "ProctorTerminated")
	}
	return ""
}
