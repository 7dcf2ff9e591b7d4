package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusConflict, CodeVersionExists, "version 1.0.0 already exists")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decodeBody(t, rec)
	errObj := body["error"].(map[string]interface{})
	assert.Equal(t, "version_exists", errObj["code"])
	assert.Equal(t, "version 1.0.0 already exists", errObj["message"])
}

func TestWriteSuccessMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccessMessage(rec, "Successfully published alpha 1.0.0")

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	success := body["success"].(map[string]interface{})
	assert.Equal(t, "Successfully published alpha 1.0.0", success["message"])
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"name": "alpha"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"name":"alpha"}`, rec.Body.String())
}

func TestWriteStorageErrorHidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteStorageError(rec)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	errObj := body["error"].(map[string]interface{})
	assert.Equal(t, "storage_error", errObj["code"])
	assert.NotContains(t, errObj["message"], "sql")
}
