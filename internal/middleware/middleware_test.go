package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locrit/platform/pkg/logger"
)

func TestLoggingSetsCorrelationID(t *testing.T) {
	var seen string
	h := Logging(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	_, err := uuid.Parse(seen)
	require.NoError(t, err)
	assert.Equal(t, seen, rec.Header().Get("X-Correlation-ID"))
}

func TestLoggingKeepsValidIncomingCorrelationID(t *testing.T) {
	id := uuid.NewString()
	h := Logging(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Correlation-ID", id)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, id, rec.Header().Get("X-Correlation-ID"))
}

func TestLoggingWriterFlushes(t *testing.T) {
	h := Logging(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		require.True(t, ok)
		w.Write([]byte("data"))
		f.Flush()
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.True(t, rec.Flushed)
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestValidators(t *testing.T) {
	assert.NoError(t, ValidateConversationID(uuid.NewString()))
	assert.Error(t, ValidateConversationID("not-a-uuid"))

	assert.NoError(t, ValidateLocritID("pixie"))
	assert.NoError(t, ValidateLocritID("Pixie_2.0"))
	assert.Error(t, ValidateLocritID(""))
	assert.Error(t, ValidateLocritID("two words"))
	assert.Error(t, ValidateLocritID("../etc"))

	assert.NoError(t, ValidateTitle("Morning chat"))
	assert.Error(t, ValidateTitle(string(make([]byte, 300))))
	assert.Error(t, ValidateTopic("\xff"))
}
