package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/food-rescue/internal/models"
	"github.com/example/food-rescue/internal/observability"
)

var ErrNoSession = errors.New("no ws session")

// Notice is the frame pushed to a connected claimant.
type Notice struct {
	Type    string    `json:"type"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// WSSession represents a connected claimant session
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(n Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(n)
}

// WSRegistry holds claimant sessions, one per claimant id.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	Log      *slog.Logger
}

func NewWSRegistry(log *slog.Logger) *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*WSSession), Log: log}
}

// Add registers conn for claimantID, closing any previous session.
func (r *WSRegistry) Add(claimantID string, conn *websocket.Conn) {
	r.mu.Lock()
	old := r.sessions[claimantID]
	r.sessions[claimantID] = &WSSession{conn: conn}
	r.mu.Unlock()
	if old != nil {
		_ = old.conn.Close()
	}
}

// Remove drops the session only if it still belongs to conn.
func (r *WSRegistry) Remove(claimantID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[claimantID]; ok && s.conn == conn {
		delete(r.sessions, claimantID)
	}
}

func (r *WSRegistry) Connected(claimantID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[claimantID]
	return ok
}

func (r *WSRegistry) Offer(claimantID string, n Notice) error {
	r.mu.RLock()
	s, ok := r.sessions[claimantID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(n); err != nil {
		if r.Log != nil {
			r.Log.Warn("ws send error", "claimant_id", claimantID, "error", err)
		}
		r.Remove(claimantID, s.conn)
		return err
	}
	return nil
}

// Deliver pushes message to every recipient with an open session.
func (r *WSRegistry) Deliver(_ context.Context, to []models.Contact, message string) int {
	n := Notice{Type: "offer", Message: message, SentAt: time.Now().UTC()}
	sent := 0
	for _, c := range to {
		err := r.Offer(c.ID, n)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, ErrNoSession):
		default:
			observability.NotificationsFailed.WithLabelValues("ws").Inc()
		}
	}
	observability.NotificationsSent.WithLabelValues("ws").Add(float64(sent))
	return sent
}
