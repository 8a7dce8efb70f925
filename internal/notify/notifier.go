package notify

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"flowboard/internal/domain"
)

type envelope struct {
	Type string  `json:"type"`
	Data payload `json:"data"`
}

type payload struct {
	ID        string                  `json:"id"`
	Type      domain.NotificationType `json:"type"`
	Title     string                  `json:"title"`
	Body      *string                 `json:"body,omitempty"`
	IssueID   *string                 `json:"issue_id,omitempty"`
	CreatedAt string                  `json:"created_at"`
}

// Encode renders the websocket message for a notification.
func Encode(n domain.Notification) ([]byte, error) {
	return json.Marshal(envelope{
		Type: "notification",
		Data: payload{
			ID:        n.ID,
			Type:      n.Type,
			Title:     n.Title,
			Body:      n.Body,
			IssueID:   n.IssueID,
			CreatedAt: n.CreatedAt,
		},
	})
}

// Notifier pushes stored notifications through a Hub.
type Notifier struct {
	Hub *Hub
	Log zerolog.Logger
}

func (n Notifier) Push(ctx context.Context, note domain.Notification) {
	if n.Hub == nil {
		return
	}
	data, err := Encode(note)
	if err != nil {
		n.Log.Error().Err(err).Str("notification_id", note.ID).Msg("encode notification")
		return
	}
	n.Hub.Send(ctx, note.UserID, data)
}
