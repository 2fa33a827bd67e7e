package imgrec

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/go-cmp/cmp"

	"github.com/nasa-jpl/instacam/grab"
	"github.com/nasa-jpl/instacam/imgconv"
	"github.com/nasa-jpl/instacam/pfnc"
	"github.com/nasa-jpl/instacam/server"
)

var day = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

func newRecorder(t *testing.T) (*Recorder, string) {
	dir := t.TempDir()
	r := New(dir, "img")
	r.now = func() time.Time { return day }
	return r, filepath.Join(dir, "2024-03-09")
}

func result(status grab.Status) *grab.Result {
	b := grab.NewBuffer(4)
	b.Meta = grab.Meta{Width: 2, Height: 2, PixelFormat: pfnc.Mono8, PayloadSize: 4, Status: status, BlockID: 7}
	return grab.NewResult(b)
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range ents {
		names = append(names, e.Name())
	}
	return names
}

func TestRecordIncrements(t *testing.T) {
	r, dir := newRecorder(t)
	for i := 0; i < 2; i++ {
		res := result(grab.Succeeded)
		if _, err := r.RecordResult(res); err != nil {
			t.Fatal(err)
		}
		res.Release()
	}
	r.SetFormat(imgconv.PNG)
	if _, err := r.Record(imgconv.NewImage(2, 2, pfnc.Mono8), nil); err != nil {
		t.Fatal(err)
	}
	want := []string{"img000000.fits", "img000000.png", "img000001.fits"}
	if diff := cmp.Diff(want, listDir(t, dir)); diff != "" {
		t.Errorf("files (-want +got):\n%s", diff)
	}
}

func TestIncrResumesFromDisk(t *testing.T) {
	r, dir := newRecorder(t)
	if err := os.MkdirAll(dir, 0777); err != nil {
		t.Fatal(err)
	}
	for _, fn := range []string{"img000004.fits", "other000009.fits", "img000002.fits"} {
		if err := os.WriteFile(filepath.Join(dir, fn), nil, 0666); err != nil {
			t.Fatal(err)
		}
	}
	path, err := r.Record(imgconv.NewImage(2, 2, pfnc.Mono8), nil)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "img000005.fits" {
		t.Errorf("recorded %s", path)
	}
}

func TestImageEventHandlerHonorsEnabled(t *testing.T) {
	r, dir := newRecorder(t)
	h := r.ImageEventHandler()
	res := result(grab.Succeeded)
	defer res.Release()
	if err := h.OnImageGrabbed(nil, res); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); err == nil && len(listDir(t, dir)) != 0 {
		t.Error("disabled recorder wrote a file")
	}
	r.SetEnabled(true)
	failed := result(grab.Failed)
	defer failed.Release()
	for _, x := range []*grab.Result{res, failed} {
		if err := h.OnImageGrabbed(nil, x); err != nil {
			t.Fatal(err)
		}
	}
	if diff := cmp.Diff([]string{"img000000.fits"}, listDir(t, dir)); diff != "" {
		t.Errorf("files (-want +got):\n%s", diff)
	}
}

type table server.RouteTable

func (t table) RT() server.RouteTable { return server.RouteTable(t) }

func TestHTTPWrapper(t *testing.T) {
	r, _ := newRecorder(t)
	rt := table{}
	NewHTTPWrapper(r).Inject(rt)
	mux := chi.NewRouter()
	server.RouteTable(rt).Bind(mux)

	newRoot := t.TempDir()
	for path, body := range map[string]string{
		"/autowrite/root":    `{"str":"` + filepath.ToSlash(newRoot) + `"}`,
		"/autowrite/prefix":  `{"str":"dark"}`,
		"/autowrite/format":  `{"str":"png"}`,
		"/autowrite/enabled": `{"bool":true}`,
	} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
		if w.Code != http.StatusOK {
			t.Errorf("POST %s gave %d: %s", path, w.Code, w.Body)
		}
	}
	got := []interface{}{r.Root(), r.Prefix(), r.Format(), r.Enabled()}
	if diff := cmp.Diff([]interface{}{filepath.ToSlash(newRoot), "dark", imgconv.PNG, true}, got); diff != "" {
		t.Errorf("recorder (-want +got):\n%s", diff)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/autowrite/prefix", nil)
	req.Header.Set("Accept", "text/plain")
	mux.ServeHTTP(w, req)
	if w.Body.String() != "dark" {
		t.Errorf("GET prefix gave %q", w.Body)
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/autowrite/format", strings.NewReader(`{"str":"gif"}`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad format gave %d", w.Code)
	}
}

func TestHTTPGetLastServesNewestFile(t *testing.T) {
	r, _ := newRecorder(t)
	r.SetFormat(imgconv.PNG)
	rt := table{}
	NewHTTPWrapper(r).Inject(rt)
	mux := chi.NewRouter()
	server.RouteTable(rt).Bind(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/autowrite/last", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("GET before recording gave %d", w.Code)
	}

	res := result(grab.Succeeded)
	defer res.Release()
	fn, err := r.RecordResult(res)
	if err != nil {
		t.Fatal(err)
	}
	want, err := os.ReadFile(fn)
	if err != nil {
		t.Fatal(err)
	}
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/autowrite/last", nil))
	if w.Code != http.StatusOK || !cmp.Equal(want, w.Body.Bytes()) {
		t.Errorf("GET /autowrite/last gave %d with %d bytes, want %d", w.Code, w.Body.Len(), len(want))
	}
}
