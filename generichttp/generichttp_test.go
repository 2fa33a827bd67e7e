package generichttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nasa-jpl/instacam/camera"
	"github.com/nasa-jpl/instacam/genicam"
	"github.com/nasa-jpl/instacam/server"
)

func TestSubMuxSanitize(t *testing.T) {
	for in, want := range map[string]string{"": "/", "/": "/", "cam": "/cam", "/cam/": "/cam", "a/b/": "/a/b"} {
		if got := SubMuxSanitize(in); got != want {
			t.Errorf("SubMuxSanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetSetFloat(t *testing.T) {
	var v float64
	set := SetFloat(func(f float64) error { v = f; return nil })
	w := httptest.NewRecorder()
	set(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"f64": 2.5}`)))
	if w.Code != http.StatusOK || v != 2.5 {
		t.Fatalf("set gave %d, value %v", w.Code, v)
	}

	w = httptest.NewRecorder()
	GetFloat(func() (float64, error) { return v, nil })(w, httptest.NewRequest(http.MethodGet, "/", nil))
	f := server.FloatT{}
	if err := json.NewDecoder(w.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	if f.F64 != 2.5 {
		t.Errorf("got %v", f.F64)
	}
}

func TestSetterErrors(t *testing.T) {
	w := httptest.NewRecorder()
	SetInt(func(int) error { return nil })(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`not json`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad body gave %d", w.Code)
	}
	w = httptest.NewRecorder()
	SetBool(func(bool) error { return errors.New("read only") })(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bool":true}`)))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("failing setter gave %d", w.Code)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("Width: %w", genicam.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("Width: %w", genicam.ErrOutOfRange), http.StatusBadRequest},
		{fmt.Errorf("Width: %w", genicam.ErrNotWritable), http.StatusConflict},
		{camera.ErrAlreadyGrabbing, http.StatusConflict},
		{fmt.Errorf("grab: %w", camera.ErrDeviceRemoved), http.StatusServiceUnavailable},
		{fmt.Errorf("grab: %w", camera.ErrTimeout), http.StatusGatewayTimeout},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := ErrorStatus(tt.err); got != tt.want {
			t.Errorf("ErrorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestGetterErrorStatus(t *testing.T) {
	w := httptest.NewRecorder()
	GetString(func() (string, error) { return "", fmt.Errorf("Gain: %w", genicam.ErrNotReadable) })(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusConflict {
		t.Errorf("unreadable feature gave %d", w.Code)
	}
}
