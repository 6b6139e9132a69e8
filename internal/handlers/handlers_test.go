package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fundora/apiserver/internal/services"
	"github.com/fundora/apiserver/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLooseStringAcceptsNumbersAndStrings(t *testing.T) {
	var req PhaseRequest
	err := json.Unmarshal([]byte(`{"phaseNumber":1,"startDate":"2024-01-01","amountReceived":1000.50,"endDate":null}`), &req)
	require.NoError(t, err)

	assert.Equal(t, looseString("1"), req.PhaseNumber)
	assert.Equal(t, looseString("2024-01-01"), req.StartDate)
	assert.Equal(t, looseString("1000.50"), req.AmountReceived)
	assert.Equal(t, looseString(""), req.EndDate)

	err = json.Unmarshal([]byte(`{"phaseNumber":[1]}`), &req)
	assert.Error(t, err)
}

func TestErrorWriterStatusMapping(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	writer := errorWriter{logger: zap.New(core)}

	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"invalid input", fmt.Errorf("%w: title is required", services.ErrInvalidInput), http.StatusBadRequest, "title is required"},
		{"bad credentials", services.ErrInvalidCredentials, http.StatusBadRequest, "invalid credentials"},
		{"conflict", store.ErrConflict, http.StatusBadRequest, "user already exists"},
		{"not found", store.ErrNotFound, http.StatusNotFound, "thing not found"},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, "failed to do thing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/things", nil)
			writer.write(rec, req, tt.err, "thing not found", "failed to do thing")

			assert.Equal(t, tt.status, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.message, body.Message)
		})
	}

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "failed to do thing", logs.All()[0].Message)
}

type staticVerifier map[string]string

func (v staticVerifier) Verify(token string) (string, error) {
	if subject, ok := v[token]; ok {
		return subject, nil
	}
	return "", errors.New("bad token")
}

func TestRequireAuth(t *testing.T) {
	var seen string
	handler := RequireAuth(staticVerifier{"good": "user-1"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = userIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, header := range []string{"", "Bearer", "Basic good", "Bearer bad"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer good")
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "user-1", seen)
}

func TestUserIDFromContext(t *testing.T) {
	_, err := userIDFromContext(context.Background())
	assert.Error(t, err)

	_, err = userIDFromContext(context.WithValue(context.Background(), contextSubjectKey, "  "))
	assert.Error(t, err)

	id, err := userIDFromContext(context.WithValue(context.Background(), contextSubjectKey, "abc"))
	require.NoError(t, err)
	assert.Equal(t, "abc", id)
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.2"))

	now = now.Add(30 * time.Second)
	assert.True(t, limiter.Allow("10.0.0.1"))

	now = now.Add(time.Hour)
	limiter.Allow("10.0.0.3")
	assert.Len(t, limiter.clients, 1)
}

func TestRateLimiterMiddleware(t *testing.T) {
	handler := NewRateLimiter(1).Middleware(ClientIP(nil))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/login", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/login", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))
}

func TestRateLimiterIgnoresForwardedHeadersFromUntrustedPeers(t *testing.T) {
	handler := NewRateLimiter(2).Middleware(ClientIP(nil))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var codes []int
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "203.0.113.7:40000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("192.0.2.%d", i))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}

func TestClientIP(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8", "127.0.0.1"})
	require.NoError(t, err)
	resolve := ClientIP(trusted)

	tests := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{name: "direct client", remote: "203.0.113.7:1234", want: "203.0.113.7"},
		{name: "untrusted peer spoofing", remote: "203.0.113.7:1234", xff: "1.2.3.4", xri: "5.6.7.8", want: "203.0.113.7"},
		{name: "trusted proxy", remote: "10.1.2.3:80", xff: "198.51.100.9", want: "198.51.100.9"},
		{name: "prepended entry ignored", remote: "10.1.2.3:80", xff: "1.2.3.4, 198.51.100.9, 10.0.0.5", want: "198.51.100.9"},
		{name: "real ip header", remote: "127.0.0.1:80", xri: "198.51.100.10", want: "198.51.100.10"},
		{name: "trusted proxy without headers", remote: "10.1.2.3:80", want: "10.1.2.3"},
		{name: "no port", remote: "203.0.113.8", want: "203.0.113.8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			assert.Equal(t, tt.want, resolve(req))
		})
	}
}

func TestParseTrustedProxiesRejectsGarbage(t *testing.T) {
	_, err := ParseTrustedProxies([]string{"not-an-ip"})
	assert.Error(t, err)

	_, err = ParseTrustedProxies([]string{"10.0.0.0/99"})
	assert.Error(t, err)
}

func TestNilRateLimiterAllowsEverything(t *testing.T) {
	limiter := NewRateLimiter(0)
	for i := 0; i < 100; i++ {
		assert.True(t, limiter.Allow("10.0.0.1"))
	}
}

func multipartBody(t *testing.T, field, filename string, size int) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("fullName", "A"))
	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte("x"), size))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestParseFormCapsBody(t *testing.T) {
	const fileLimit = 1 << 10

	body, contentType := multipartBody(t, "profilePic", "me.png", fileLimit+formOverhead+1)
	req := httptest.NewRequest(http.MethodPost, "/register", body)
	req.Header.Set("Content-Type", contentType)
	err := parseForm(httptest.NewRecorder(), req, fileLimit)
	assert.ErrorIs(t, err, errUploadTooLarge)

	form := strings.NewReader("purpose=" + strings.Repeat("x", fileLimit+formOverhead+1))
	req = httptest.NewRequest(http.MethodPost, "/expenses", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	err = parseForm(httptest.NewRecorder(), req, fileLimit)
	assert.ErrorIs(t, err, errUploadTooLarge)

	body, contentType = multipartBody(t, "profilePic", "me.png", fileLimit)
	req = httptest.NewRequest(http.MethodPost, "/register", body)
	req.Header.Set("Content-Type", contentType)
	require.NoError(t, parseForm(httptest.NewRecorder(), req, fileLimit))
	assert.Equal(t, "A", req.FormValue("fullName"))

	upload, err := formFile(req.MultipartForm, "profilePic", fileLimit)
	require.NoError(t, err)
	assert.Len(t, upload.Data, fileLimit)
}

func TestAttachmentDisposition(t *testing.T) {
	assert.Equal(t, `attachment; filename=receipt-1.pdf`, attachmentDisposition("receipt-1.pdf"))
}
