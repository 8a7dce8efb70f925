package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"flowboard/internal/domain"
)

func (s *Server) registerNotifications(api huma.API, router chi.Router) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List the caller's notifications",
		Tags:        []string{"notifications"},
	}, func(ctx context.Context, input *struct {
		UnreadOnly bool `query:"unread_only"`
		Limit      int  `query:"limit" minimum:"1" maximum:"100" default:"50"`
	}) (*out[[]domain.Notification], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		notes, err := s.engine.ListNotifications(ctx, userID, input.UnreadOnly, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(notes)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unread-notification-count",
		Method:      http.MethodGet,
		Path:        "/notifications/unread-count",
		Summary:     "Count unread notifications",
		Tags:        []string{"notifications"},
	}, func(ctx context.Context, _ *struct{}) (*out[CountResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := s.engine.UnreadCount(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(CountResponse{Count: n}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-notification-read",
		Method:      http.MethodPost,
		Path:        "/notifications/{notification_id}/read",
		Summary:     "Mark a notification as read",
		Tags:        []string{"notifications"},
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NotificationID string `path:"notification_id"`
	}) (*out[domain.Notification], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := s.engine.MarkNotificationRead(ctx, input.NotificationID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(n), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-all-notifications-read",
		Method:      http.MethodPost,
		Path:        "/notifications/read-all",
		Summary:     "Mark every notification as read",
		Tags:        []string{"notifications"},
	}, func(ctx context.Context, _ *struct{}) (*out[CountResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := s.engine.MarkAllNotificationsRead(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(CountResponse{Count: n}), nil
	})

	router.Get(s.basePath+"/ws/notifications", s.handleNotificationSocket)
}

// handleNotificationSocket authenticates with the token query parameter, since browsers
// cannot set headers on a websocket handshake, and then hands the connection to the hub.
func (s *Server) handleNotificationSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if t, ok := bearerToken(r.Header.Get("Authorization")); ok {
			token = t
		}
	}
	userID, err := parseToken(token, s.auth.JWTSecret, tokenAccess)
	if err != nil {
		respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid token", nil))
		return
	}
	u, err := s.engine.ActiveUser(r.Context(), userID)
	if err != nil {
		respondStatusError(w, credentialError(err))
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()
	if err := s.hub.Serve(r.Context(), u.ID, conn, s.ws); err != nil {
		s.log.Debug().Err(err).Str("user_id", u.ID).Msg("websocket closed")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) registerActivity(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "project-activity",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/activity",
		Summary:     "Project activity feed, newest first",
		Tags:        []string{"activity"},
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Cursor string `query:"cursor" doc:"next_cursor of the previous page"`
		Limit  int    `query:"limit" minimum:"1" maximum:"200" default:"50"`
	}) (*out[ActivityPage], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var cursor int64
		if input.Cursor != "" {
			c, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || c < 0 {
				return nil, newAPIError(http.StatusBadRequest, "", "invalid cursor", map[string]any{"field": "cursor"})
			}
			cursor = c
		}
		limit := normalizeLimit(input.Limit)
		evts, err := s.engine.ProjectActivity(ctx, input.ProjectID, cursor, limit, userID)
		if err != nil {
			return nil, handleError(err)
		}
		page := ActivityPage{Items: nonNilSlice(evts)}
		if len(evts) == limit {
			page.NextCursor = strconv.FormatInt(evts[len(evts)-1].ID, 10)
		}
		return reply(page), nil
	})
}
