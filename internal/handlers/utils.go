package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/fundora/apiserver/internal/services"
	"github.com/fundora/apiserver/internal/store"
	"go.uber.org/zap"
)

// formOverhead is the room left beside the file for text fields and
// multipart framing.
const formOverhead = 1 << 20

var errUploadTooLarge = errors.New("uploaded file too large")

type contextKey string

const contextSubjectKey contextKey = "sub"

// ErrorResponse is the error payload. Clients read "message".
type ErrorResponse struct {
	Message string `json:"message"`
}

// MessageResponse acknowledges an operation without a resource body.
type MessageResponse struct {
	Message string `json:"message"`
}

func userIDFromContext(ctx context.Context) (string, error) {
	subject, ok := ctx.Value(contextSubjectKey).(string)
	if !ok {
		return "", errors.New("missing subject")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("invalid subject")
	}
	return subject, nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Message: message})
}

// errorWriter maps service errors to responses. Unclassified errors are
// logged and answered with fallback.
type errorWriter struct {
	logger *zap.Logger
}

func (e errorWriter) write(w http.ResponseWriter, r *http.Request, err error, notFound, fallback string) {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), services.ErrInvalidInput.Error()+": "))
	case errors.Is(err, services.ErrInvalidCredentials):
		writeError(w, http.StatusBadRequest, "invalid credentials")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusBadRequest, "user already exists")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, notFound)
	default:
		e.logger.Error(fallback,
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

// looseString decodes a JSON string or number into its text form. Form
// and JSON clients send amounts both ways.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*s = looseString(text)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return errors.New("expected a string or a number")
	}
	*s = looseString(number.String())
	return nil
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.New("invalid request")
	}
	return nil
}

// parseForm accepts multipart and urlencoded bodies alike. The body is
// capped at fileLimit plus formOverhead before anything is buffered.
func parseForm(w http.ResponseWriter, r *http.Request, fileLimit int64) error {
	limit := fileLimit + formOverhead
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(limit); err != nil {
			if bodyTooLarge(err) {
				return errUploadTooLarge
			}
			return errors.New("invalid multipart form")
		}
		return nil
	}
	if err := r.ParseForm(); err != nil {
		if bodyTooLarge(err) {
			return errUploadTooLarge
		}
		return errors.New("invalid form")
	}
	return nil
}

func bodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	// multipart does not always wrap the reader's error.
	return strings.Contains(err.Error(), "request body too large")
}

// formFile reads the single file under field. A missing file yields nil.
func formFile(form *multipart.Form, field string, limit int64) (*services.Upload, error) {
	if form == nil {
		return nil, nil
	}
	files := form.File[field]
	if len(files) == 0 {
		return nil, nil
	}
	if len(files) > 1 {
		return nil, errors.New("only one " + field + " file is allowed")
	}

	header := files[0]
	file, err := header.Open()
	if err != nil {
		return nil, errors.New("failed to read " + field)
	}
	data, err := readFileLimited(file, limit)
	_ = file.Close()
	if err != nil {
		return nil, err
	}
	return &services.Upload{Filename: header.Filename, Data: data}, nil
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, errUploadTooLarge
	}
	return data, nil
}

func attachmentDisposition(filename string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
}
