package locker

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/instacam/server"
)

type table server.RouteTable

func (t table) RT() server.RouteTable { return server.RouteTable(t) }

func TestLockerBlocksOtherClients(t *testing.T) {
	l := New()
	rt := table{
		{Method: http.MethodPost, Path: "/grab/start"}: func(w http.ResponseWriter, r *http.Request) {},
		{Method: http.MethodGet, Path: "/stats"}:       func(w http.ResponseWriter, r *http.Request) {},
	}
	Inject(rt, l)
	mux := chi.NewRouter()
	mux.Use(l.Check)
	server.RouteTable(rt).Bind(mux)

	do := func(who, method, path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(method, path, strings.NewReader(body))
		if who != "" {
			r.Header.Set(HolderHeader, who)
		}
		mux.ServeHTTP(w, r)
		return w
	}
	if c := do("alice", http.MethodPost, "/lock", `{"bool":true}`).Code; c != http.StatusOK {
		t.Fatalf("locking gave %d", c)
	}
	if got := l.Holder(); got != "alice" {
		t.Fatalf("holder is %q", got)
	}
	if c := do("bob", http.MethodPost, "/grab/start", "").Code; c != http.StatusLocked {
		t.Errorf("POST by another client while locked gave %d", c)
	}
	if c := do("", http.MethodPost, "/grab/start", "").Code; c != http.StatusLocked {
		t.Errorf("anonymous POST while locked gave %d", c)
	}
	if c := do("alice", http.MethodPost, "/grab/start", "").Code; c != http.StatusOK {
		t.Errorf("POST by the holder gave %d", c)
	}
	if c := do("bob", http.MethodGet, "/stats", "").Code; c != http.StatusOK {
		t.Errorf("GET while locked gave %d", c)
	}
	if c := do("bob", http.MethodPost, "/lock", `{"bool":true}`).Code; c != http.StatusLocked {
		t.Errorf("taking a held lock gave %d", c)
	}

	w := do("bob", http.MethodGet, "/lock/holder", "")
	s := server.StrT{}
	if err := json.NewDecoder(w.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if s.Str != "alice" {
		t.Errorf("GET /lock/holder gave %q", s.Str)
	}

	if c := do("alice", http.MethodPost, "/lock", `{"bool":false}`).Code; c != http.StatusOK {
		t.Fatalf("unlocking gave %d", c)
	}
	if c := do("bob", http.MethodPost, "/grab/start", "").Code; c != http.StatusOK {
		t.Errorf("POST after unlock gave %d", c)
	}
}

func TestHolderFallsBackToAddress(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.RemoteAddr = "10.0.0.7:51234"
	if got := holderOf(r); got != "10.0.0.7" {
		t.Errorf("holderOf = %q", got)
	}
}
