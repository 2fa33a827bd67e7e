package camera

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/go-chi/chi"
	"github.com/google/go-cmp/cmp"

	"github.com/nasa-jpl/instacam/camera"
	"github.com/nasa-jpl/instacam/emulator"
	"github.com/nasa-jpl/instacam/imgrec"
	"github.com/nasa-jpl/instacam/instant"
	"github.com/nasa-jpl/instacam/server"
)

func newServer(t *testing.T, rec *imgrec.Recorder) (*HTTPCamera, http.Handler) {
	t.Helper()
	tr := emulator.New(emulator.Options{SensorWidth: 32, SensorHeight: 24})
	t.Cleanup(func() { tr.Close() })
	dev, err := tr.CreateDevice(camera.DeviceInfo{})
	if err != nil {
		t.Fatal(err)
	}
	c, err := instant.NewWithDevice(dev)
	if err != nil {
		t.Fatal(err)
	}
	c.SetLogger(nil)
	t.Cleanup(func() { c.Destroy() })
	if err := c.Open(); err != nil {
		t.Fatal(err)
	}
	h := NewHTTPCamera(c, rec)
	mux := chi.NewRouter()
	h.RT().Bind(mux)
	return h, mux
}

func do(t *testing.T, mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(method, path, rd))
	return w
}

func str(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	s := server.StrT{}
	if err := json.NewDecoder(w.Body).Decode(&s); err != nil {
		t.Fatalf("%d %v", w.Code, err)
	}
	return s.Str
}

func TestGetFramePNG(t *testing.T) {
	_, mux := newServer(t, nil)
	w := do(t, mux, http.MethodGet, "/image?fmt=png", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /image gave %d: %s", w.Code, w.Body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type %q", ct)
	}
	im, err := png.Decode(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(image.Rect(0, 0, 32, 24), im.Bounds()); diff != "" {
		t.Errorf("bounds (-want +got):\n%s", diff)
	}
}

func TestGetFrameRejectsUnknownFormat(t *testing.T) {
	_, mux := newServer(t, nil)
	if w := do(t, mux, http.MethodGet, "/image?fmt=gif", ""); w.Code != http.StatusBadRequest {
		t.Errorf("fmt=gif gave %d", w.Code)
	}
}

func TestExposureTime(t *testing.T) {
	_, mux := newServer(t, nil)
	if w := do(t, mux, http.MethodPost, "/exposure-time?exposureTime=2ms", ""); w.Code != http.StatusOK {
		t.Fatalf("set gave %d: %s", w.Code, w.Body)
	}
	w := do(t, mux, http.MethodGet, "/exposure-time", "")
	f := server.FloatT{}
	if err := json.NewDecoder(w.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	if f.F64 != 0.002 {
		t.Errorf("exposure time %v s", f.F64)
	}
	if w := do(t, mux, http.MethodPost, "/exposure-time", `{"f64": 0.003}`); w.Code != http.StatusOK {
		t.Fatalf("set from JSON gave %d: %s", w.Code, w.Body)
	}
}

func TestFeatures(t *testing.T) {
	_, mux := newServer(t, nil)
	if got := str(t, do(t, mux, http.MethodGet, "/feature/Width", "")); got != "32" {
		t.Errorf("Width is %q", got)
	}
	if w := do(t, mux, http.MethodPost, "/feature/Width", `{"str":"16"}`); w.Code != http.StatusOK {
		t.Fatalf("setting Width gave %d: %s", w.Code, w.Body)
	}
	w := do(t, mux, http.MethodGet, "/image?fmt=raw", "")
	if got := w.Header().Get("X-Image-Width"); got != "16" {
		t.Errorf("raw image is %s wide", got)
	}
	if got := w.Body.Len(); got != 16*24 {
		t.Errorf("raw image has %d bytes", got)
	}
	if w := do(t, mux, http.MethodGet, "/feature/NoSuchFeature", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing feature gave %d", w.Code)
	}
	if w := do(t, mux, http.MethodPost, "/feature/Width", `{"str":"17"}`); w.Code != http.StatusBadRequest {
		t.Errorf("misaligned Width gave %d", w.Code)
	}

	var list []Feature
	if err := json.NewDecoder(do(t, mux, http.MethodGet, "/features", "").Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range list {
		if f.Name == "Width" {
			found = f.Value == "16"
		}
	}
	if !found {
		t.Error("feature list lacks Width=16")
	}
}

func TestFeatureFileRoundTrip(t *testing.T) {
	_, mux := newServer(t, nil)
	do(t, mux, http.MethodPost, "/feature/Width", `{"str":"16"}`)
	saved := do(t, mux, http.MethodGet, "/feature-file", "").Body.String()
	do(t, mux, http.MethodPost, "/feature/Width", `{"str":"32"}`)
	if w := do(t, mux, http.MethodPost, "/feature-file?validate=true", saved); w.Code != http.StatusOK {
		t.Fatalf("loading gave %d: %s", w.Code, w.Body)
	}
	if got := str(t, do(t, mux, http.MethodGet, "/feature/Width", "")); got != "16" {
		t.Errorf("Width is %q after load", got)
	}
	if w := do(t, mux, http.MethodPost, "/feature-file", "Width\tbanana\n"); w.Code != http.StatusBadRequest {
		t.Errorf("bad stream gave %d", w.Code)
	}
}

func TestContinuousGrab(t *testing.T) {
	h, mux := newServer(t, nil)
	if w := do(t, mux, http.MethodPost, "/grab/start", `{"str":"LatestImageOnly"}`); w.Code != http.StatusOK {
		t.Fatalf("start gave %d: %s", w.Code, w.Body)
	}
	if !h.Cam.IsGrabbing() {
		t.Fatal("not grabbing")
	}
	if w := do(t, mux, http.MethodPost, "/grab/start", ""); w.Code != http.StatusConflict {
		t.Errorf("second start gave %d", w.Code)
	}
	if w := do(t, mux, http.MethodGet, "/image?fmt=jpg", ""); w.Code != http.StatusOK {
		t.Errorf("image while grabbing gave %d: %s", w.Code, w.Body)
	}
	var st instant.Stats
	if err := json.NewDecoder(do(t, mux, http.MethodGet, "/stats", "").Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Grabbed == 0 || !st.Grabbing {
		t.Errorf("stats %+v", st)
	}
	if w := do(t, mux, http.MethodPost, "/grab/stop", ""); w.Code != http.StatusOK {
		t.Fatalf("stop gave %d", w.Code)
	}
	if h.Cam.IsGrabbing() {
		t.Error("still grabbing")
	}
}

func TestFITSAndAutowrite(t *testing.T) {
	dir := t.TempDir()
	rec := imgrec.New(dir, "cam")
	rec.SetEnabled(true)
	_, mux := newServer(t, rec)

	w := do(t, mux, http.MethodGet, "/image?fmt=fits", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET fits gave %d: %s", w.Code, w.Body)
	}
	f, err := fitsio.Open(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	hdr := f.HDU(0).Header()
	if c := hdr.Get("SERIAL"); c == nil || c.Value != "0815-0000" {
		t.Errorf("SERIAL card %v", c)
	}
	if diff := cmp.Diff([]int{32, 24}, hdr.Axes()); diff != "" {
		t.Errorf("axes (-want +got):\n%s", diff)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "*", "cam*.fits"))
	if len(matches) != 1 {
		t.Fatalf("recorder wrote %v", matches)
	}
	if fi, err := os.Stat(matches[0]); err != nil || fi.Size() == 0 {
		t.Errorf("recorded file: %v", err)
	}

	if got := str(t, do(t, mux, http.MethodGet, "/autowrite/prefix", "")); got != "cam" {
		t.Errorf("autowrite prefix %q", got)
	}
}

func TestDeviceInfo(t *testing.T) {
	_, mux := newServer(t, nil)
	var got struct {
		SerialNumber string `json:"serialNumber"`
		State        string `json:"state"`
	}
	if err := json.NewDecoder(do(t, mux, http.MethodGet, "/device", "").Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.SerialNumber != "0815-0000" || got.State != "Open" {
		t.Errorf("device %+v", got)
	}
}
