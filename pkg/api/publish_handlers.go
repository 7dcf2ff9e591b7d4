package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/repub/pkg/auth"
	"github.com/platinummonkey/repub/pkg/httputil"
	"github.com/platinummonkey/repub/pkg/publish"
	"github.com/platinummonkey/repub/pkg/storage"
	"github.com/platinummonkey/repub/pkg/webhooks"
)

// publishAuth resolves the optional bearer token for the publish flow.
// Returns ok=false after writing a 401 when the header carries a token
// that does not authenticate.
func (s *Server) publishAuth(w http.ResponseWriter, r *http.Request) (*storage.Token, bool) {
	ta := auth.AuthenticateToken(r.Context(), s.Store, r)
	switch ta.Status {
	case auth.TokenValid:
		return ta.Token, true
	case auth.TokenMissing:
		return nil, true
	default:
		httputil.WriteError(w, http.StatusUnauthorized, httputil.CodeAuthInvalid, ta.Message)
		return nil, false
	}
}

// startPublish handles GET /api/packages/versions/new.
func (s *Server) startPublish(w http.ResponseWriter, r *http.Request) {
	token, ok := s.publishAuth(w, r)
	if !ok {
		return
	}
	if s.opts.RequirePublishAuth && token == nil {
		httputil.WriteError(w, http.StatusUnauthorized, httputil.CodeAuthMissing,
			"publishing requires an API token")
		return
	}

	sess := s.Publisher.Start()
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"url":    fmt.Sprintf("%s/api/packages/versions/upload/%s", strings.TrimRight(s.opts.BaseURL, "/"), sess.ID),
		"fields": map[string]string{},
	})
}

// uploadArchive handles POST /api/packages/versions/upload/{session}.
// The body is either the raw archive or multipart form data with a
// single file part.
func (s *Server) uploadArchive(w http.ResponseWriter, r *http.Request) {
	sessionID := httputil.PathVar(r, "session")

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	data, err := readUploadBody(r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httputil.WriteError(w, http.StatusRequestEntityTooLarge, httputil.CodePayloadTooLarge,
				fmt.Sprintf("upload exceeds the %d byte limit", s.opts.MaxUploadBytes))
			return
		}
		httputil.WriteValidationError(w, err.Error())
		return
	}
	if len(data) == 0 {
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeEmptyUpload, "upload is empty")
		return
	}

	if err := s.Publisher.Upload(sessionID, data); err != nil {
		httputil.WriteNotFound(w, "upload session not found")
		return
	}

	w.Header().Set("Location",
		fmt.Sprintf("%s/api/packages/versions/finalize/%s", strings.TrimRight(s.opts.BaseURL, "/"), sessionID))
	w.WriteHeader(http.StatusNoContent)
}

// readUploadBody extracts the archive bytes from a raw or multipart
// request body.
func readUploadBody(r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "multipart/") {
		return io.ReadAll(r.Body)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("invalid multipart body: %w", err)
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, errors.New("multipart body contains no file part")
		}
		if err != nil {
			return nil, err
		}
		if part.FileName() == "" {
			continue
		}
		return io.ReadAll(part)
	}
}

// finalizePublish handles GET /api/packages/versions/finalize/{session}.
func (s *Server) finalizePublish(w http.ResponseWriter, r *http.Request) {
	sessionID := httputil.PathVar(r, "session")

	token, ok := s.publishAuth(w, r)
	if !ok {
		return
	}

	res, err := s.Publisher.Finalize(r.Context(), sessionID, token)
	if err != nil {
		s.writePublishError(w, err)
		return
	}

	s.afterPublish(res, token)
	httputil.WriteSuccessMessage(w, res.Message)
}

func (s *Server) writePublishError(w http.ResponseWriter, err error) {
	var ve *publish.ValidationError
	switch {
	case errors.Is(err, publish.ErrSessionNotFound):
		httputil.WriteNotFound(w, "upload session not found")
	case errors.Is(err, publish.ErrEmptyUpload):
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeEmptyUpload, "upload is empty")
	case errors.Is(err, publish.ErrAuthRequired):
		httputil.WriteError(w, http.StatusUnauthorized, httputil.CodeAuthMissing,
			"publishing requires an API token")
	case errors.Is(err, publish.ErrForbidden):
		httputil.WriteError(w, http.StatusForbidden, httputil.CodeAuthForbidden, err.Error())
	case errors.As(err, &ve):
		httputil.WriteValidationError(w, ve.Message)
	case storage.IsConflict(err):
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeVersionExists,
			"this version already exists")
	default:
		writeStoreError(w, err)
	}
}

// afterPublish runs the fire-and-forget side effects of a successful
// publish: activity entry and webhook fan-out.
func (s *Server) afterPublish(res *publish.Result, token *storage.Token) {
	pv := res.Version
	s.Runner.Go("publish side effects", 30*time.Second, func(ctx context.Context) error {
		actor := "anonymous"
		if token != nil {
			if user, err := s.Store.GetUser(ctx, token.UserID); err == nil {
				actor = user.Email
			}
		}
		s.Activity.PackagePublished(ctx, pv.PackageName, pv.Version, actor)
		return s.Webhooks.Dispatch(ctx, webhooks.EventPackagePublished, map[string]interface{}{
			"package":   pv.PackageName,
			"version":   pv.Version,
			"publisher": actor,
		})
	})
}
