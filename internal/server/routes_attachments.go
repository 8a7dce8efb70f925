package server

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"flowboard/internal/domain"
	"flowboard/internal/engine"
)

// multipartOverhead is the slack allowed on top of the file limit for the form envelope.
const multipartOverhead = 1 << 20

type AttachmentPath struct {
	ProjectID    string `path:"project_id"`
	IssueID      string `path:"issue_id"`
	AttachmentID string `path:"attachment_id"`
}

func (s *Server) attachmentURL(a domain.Attachment, projectID string) domain.Attachment {
	a.URL = path.Join(s.basePath, "projects", projectID, "issues", a.IssueID, "attachments", a.ID, "download")
	return a
}

func (s *Server) registerAttachments(api huma.API, router chi.Router) {
	huma.Register(api, huma.Operation{
		OperationID: "list-attachments",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/issues/{issue_id}/attachments",
		Summary:     "List attachments",
		Tags:        []string{"attachments"},
		Errors:      issueErrors,
	}, func(ctx context.Context, input *IssuePath) (*out[[]domain.Attachment], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := s.engine.ListAttachments(ctx, input.ProjectID, input.IssueID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		for i := range items {
			items[i] = s.attachmentURL(items[i], input.ProjectID)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-attachment",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}/issues/{issue_id}/attachments/{attachment_id}",
		Summary:       "Delete an attachment",
		Tags:          []string{"attachments"},
		DefaultStatus: http.StatusNoContent,
		Errors:        issueErrors,
	}, func(ctx context.Context, input *AttachmentPath) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return nil, handleError(s.engine.DeleteAttachment(ctx, input.ProjectID, input.IssueID, input.AttachmentID, userID))
	})

	// Multipart upload and binary download stay on chi; they do not fit huma's JSON bodies.
	prefix := s.basePath + "/projects/{project_id}/issues/{issue_id}/attachments"
	router.Post(prefix, s.handleUpload)
	router.Get(prefix+"/{attachment_id}/download", s.handleDownload)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromContext(r.Context())
	if !ok {
		respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		return
	}
	limit := s.engine.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			respondStatusError(w, handleError(engine.TooLargeError{Limit: limit}))
			return
		}
		respondStatusError(w, newAPIError(http.StatusBadRequest, "", "multipart field \"file\" is required", map[string]any{"field": "file"}))
		return
	}
	defer file.Close()
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = mime.TypeByExtension(path.Ext(header.Filename))
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	projectID, issueID := chi.URLParam(r, "project_id"), chi.URLParam(r, "issue_id")
	a, err := s.engine.UploadAttachment(r.Context(), projectID, issueID, engine.Upload{
		Filename: header.Filename,
		MimeType: mimeType,
		Size:     header.Size,
		Body:     file,
	}, p.UserID)
	if err != nil {
		respondStatusError(w, handleError(err))
		return
	}
	writeJSON(w, http.StatusCreated, s.attachmentURL(a, projectID))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromContext(r.Context())
	if !ok {
		respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		return
	}
	a, rc, err := s.engine.OpenAttachment(r.Context(),
		chi.URLParam(r, "project_id"), chi.URLParam(r, "issue_id"), chi.URLParam(r, "attachment_id"), p.UserID)
	if err != nil {
		respondStatusError(w, handleError(err))
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", a.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(a.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.log.Warn().Err(err).Str("attachment", a.ID).Msg("download interrupted")
	}
}
