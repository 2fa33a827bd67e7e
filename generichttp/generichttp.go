// Package generichttp holds what the camera HTTP interfaces share: the route
// table types, the mapping from camera and feature errors to status codes,
// and handlers that adapt getter and setter funcs to the payloads in server.
package generichttp

import (
	"context"
	"encoding/json"
	"errors"
	"go/types"
	"net/http"
	"strings"

	"github.com/nasa-jpl/instacam/camera"
	"github.com/nasa-jpl/instacam/genicam"
	"github.com/nasa-jpl/instacam/server"
)

// MethodPath is re-exported from server for convenience
type MethodPath = server.MethodPath

// RouteTable is re-exported from server for convenience
type RouteTable = server.RouteTable

// HTTPer is re-exported from server for convenience
type HTTPer = server.HTTPer

// SubMuxSanitize turns a configured mount point into the form chi's Mount
// wants: a leading slash and no trailing one.  "" and "/" both give "/".
func SubMuxSanitize(str string) string {
	return "/" + strings.Trim(str, "/")
}

// ErrorStatus picks the status code for an error from a camera or its
// feature map.  Unknown errors are 500.
func ErrorStatus(err error) int {
	switch {
	case errors.Is(err, genicam.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, genicam.ErrOutOfRange), errors.Is(err, genicam.ErrWrongKind):
		return http.StatusBadRequest
	case errors.Is(err, genicam.ErrNotWritable), errors.Is(err, genicam.ErrNotReadable),
		errors.Is(err, genicam.ErrNotAvailable), errors.Is(err, camera.ErrAlreadyGrabbing),
		errors.Is(err, camera.ErrNotGrabbing), errors.Is(err, camera.ErrNotSupported):
		return http.StatusConflict
	case errors.Is(err, camera.ErrDeviceRemoved), errors.Is(err, camera.ErrNotOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, camera.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// Error replies with the error's text and ErrorStatus
func Error(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), ErrorStatus(err))
}

func get[T any](fcn func() (T, error), payload func(T) server.HumanPayload) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := fcn()
		if err != nil {
			Error(w, err)
			return
		}
		hp := payload(v)
		hp.EncodeAndRespond(w, r)
	}
}

func set[T, B any](fcn func(T) error, unwrap func(B) T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body B
		err := json.NewDecoder(r.Body).Decode(&body)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err = fcn(unwrap(body)); err != nil {
			Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetFloat calls a float-getting function and returns the response
// as json {'f64': value}
func GetFloat(fcn func() (float64, error)) http.HandlerFunc {
	return get(fcn, func(f float64) server.HumanPayload { return server.HumanPayload{T: types.Float64, Float: f} })
}

// SetFloat parses a JSON input of {'f64': value} and calls fcn with it
func SetFloat(fcn func(float64) error) http.HandlerFunc {
	return set(fcn, func(b server.FloatT) float64 { return b.F64 })
}

// GetInt calls an int-getting function and returns {'int': value}
func GetInt(fcn func() (int, error)) http.HandlerFunc {
	return get(fcn, func(i int) server.HumanPayload { return server.HumanPayload{T: types.Int, Int: i} })
}

// SetInt parses {'int': value} and calls fcn with it
func SetInt(fcn func(int) error) http.HandlerFunc {
	return set(fcn, func(b server.IntT) int { return b.Int })
}

// GetString calls a string-getting function and returns {'str': value}
func GetString(fcn func() (string, error)) http.HandlerFunc {
	return get(fcn, func(s string) server.HumanPayload { return server.HumanPayload{T: types.String, String: s} })
}

// SetString parses {'str': value} and calls fcn with it
func SetString(fcn func(string) error) http.HandlerFunc {
	return set(fcn, func(b server.StrT) string { return b.Str })
}

// GetBool calls a bool-getting function and returns {'bool': value}
func GetBool(fcn func() (bool, error)) http.HandlerFunc {
	return get(fcn, func(b bool) server.HumanPayload { return server.HumanPayload{T: types.Bool, Bool: b} })
}

// SetBool parses {'bool': value} and calls fcn with it
func SetBool(fcn func(bool) error) http.HandlerFunc {
	return set(fcn, func(b server.BoolT) bool { return b.Bool })
}
