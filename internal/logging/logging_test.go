package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	h := middleware.RequestID(RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("inside handler")
		w.WriteHeader(http.StatusTeapot)
	})))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/quotes/preview", nil))
	require.Equal(t, http.StatusTeapot, rr.Code)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var inner, entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &inner))
	require.NoError(t, json.Unmarshal(lines[1], &entry))
	assert.Equal(t, "inside handler", inner["message"])
	assert.NotEmpty(t, inner["request_id"])
	assert.Equal(t, "/api/quotes/preview", entry["path"])
	assert.EqualValues(t, http.StatusTeapot, entry["status"])
	assert.Equal(t, inner["request_id"], entry["request_id"])
}

func TestSetupLevel(t *testing.T) {
	var buf bytes.Buffer
	setup(&buf, "warn", false)
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	setup(&buf, "chatty", false)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
	assert.Contains(t, buf.String(), "unknown log level")
}
