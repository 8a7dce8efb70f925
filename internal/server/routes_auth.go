package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"flowboard/internal/domain"
	"flowboard/internal/engine"
)

func (s *Server) registerAuth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "register",
		Method:        http.MethodPost,
		Path:          "/auth/register",
		Summary:       "Register a user",
		Tags:          []string{"auth"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body RegisterRequest
	}) (*out[domain.User], error) {
		u, err := s.engine.Register(ctx, engine.RegisterInput{
			Email:    input.Body.Email,
			Name:     input.Body.Name,
			Password: input.Body.Password,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange credentials for tokens",
		Tags:        []string{"auth"},
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest
	}) (*out[TokenResponse], error) {
		u, err := s.engine.Login(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		tokens, err := s.auth.issueTokens(u)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(tokens), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh",
		Method:      http.MethodPost,
		Path:        "/auth/refresh",
		Summary:     "Rotate tokens with a refresh token",
		Tags:        []string{"auth"},
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body RefreshRequest
	}) (*out[TokenResponse], error) {
		userID, err := parseToken(input.Body.RefreshToken, s.auth.JWTSecret, tokenRefresh)
		if err != nil {
			return nil, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid refresh token", nil)
		}
		u, err := s.engine.ActiveUser(ctx, userID)
		if err != nil {
			return nil, credentialError(err)
		}
		tokens, err := s.auth.issueTokens(u)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(tokens), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-me",
		Method:      http.MethodGet,
		Path:        "/auth/me",
		Summary:     "Current user",
		Tags:        []string{"auth"},
	}, func(ctx context.Context, _ *struct{}) (*out[domain.User], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := s.engine.ActiveUser(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-me",
		Method:      http.MethodPatch,
		Path:        "/auth/me",
		Summary:     "Update the current user's profile",
		Tags:        []string{"auth"},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body UpdateMeRequest
	}) (*out[domain.User], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := s.engine.UpdateProfile(ctx, userID, engine.ProfileUpdate{
			Name:      input.Body.Name,
			AvatarURL: input.Body.AvatarURL,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "forgot-password",
		Method:      http.MethodPost,
		Path:        "/auth/forgot-password",
		Summary:     "Request a password reset token",
		Tags:        []string{"auth"},
	}, func(ctx context.Context, input *struct {
		Body ForgotPasswordRequest
	}) (*out[ForgotPasswordResponse], error) {
		token, err := s.engine.ForgotPassword(ctx, input.Body.Email)
		if err != nil {
			return nil, handleError(err)
		}
		resp := ForgotPasswordResponse{Message: "if the email exists, a reset link has been sent"}
		if token != "" {
			// no mail transport; operators pick the token up from the log
			s.log.Info().Str("email", input.Body.Email).Str("reset_token", token).Msg("password reset requested")
			if s.auth.ExposeResetToken {
				resp.ResetToken = token
			}
		}
		return reply(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-password",
		Method:      http.MethodPost,
		Path:        "/auth/reset-password",
		Summary:     "Reset a password with a reset token",
		Tags:        []string{"auth"},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ResetPasswordRequest
	}) (*out[MessageResponse], error) {
		if err := s.engine.ResetPassword(ctx, input.Body.Token, input.Body.NewPassword); err != nil {
			return nil, handleError(err)
		}
		return reply(MessageResponse{Message: "password has been reset"}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/auth/api-keys",
		Summary:     "List the current user's API keys",
		Tags:        []string{"auth"},
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.APIKey], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := s.engine.ListAPIKeys(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(keys)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/auth/api-keys",
		Summary:       "Create an API key",
		Tags:          []string{"auth"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest
	}) (*out[APIKeyCreatedResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, plain, err := s.engine.CreateAPIKey(ctx, userID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(APIKeyCreatedResponse{APIKey: key, Key: plain}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-api-key",
		Method:        http.MethodDelete,
		Path:          "/auth/api-keys/{key_id}",
		Summary:       "Revoke an API key",
		Tags:          []string{"auth"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := s.engine.DeleteAPIKey(ctx, userID, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}
