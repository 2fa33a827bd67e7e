// Package locker provides an HTTP middleware which lets one client reserve a
// camera server.  While locked, requests that change state are refused with
// 423 (locked) unless they come from the client holding the lock.
package locker

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/nasa-jpl/instacam/server"
)

// HolderHeader names the client making a request.  Clients without it are
// identified by their address.
const HolderHeader = "X-Lock-Holder"

// Inject adds a lock route to a server.HTTPer which is used to manipulate the locker
func Inject(other server.HTTPer, l *Locker) {
	rt := other.RT()
	rt[server.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[server.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
	rt[server.MethodPath{Method: http.MethodGet, Path: "/lock/holder"}] = l.HTTPHolder
}

// Locker is a non blocking mutex with an owner, and holds a list of path
// fragments to not protect
type Locker struct {
	mu     sync.RWMutex
	holder string // empty when unlocked

	// DoNotProtect is a list of paths not to apply the lock to
	DoNotProtect []string
}

// New returns a new Locker with DoNotProtect prepopulated with "lock"
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock"}}
}

// Lock the locker on behalf of holder, which must not be empty.  Taking a
// lock someone else holds fails.
func (l *Locker) Lock(holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder != "" && l.holder != holder {
		return fmt.Errorf("camera is locked by %s", l.holder)
	}
	l.holder = holder
	return nil
}

// Unlock the locker.  Anyone may unlock; the lock is a courtesy, not security.
func (l *Locker) Unlock() {
	l.mu.Lock()
	l.holder = ""
	l.mu.Unlock()
}

// Locked returns true if the locker is locked
func (l *Locker) Locked() bool {
	return l.Holder() != ""
}

// Holder is who holds the lock, empty if nobody does
func (l *Locker) Holder() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.holder
}

// holderOf names the client behind a request
func holderOf(r *http.Request) string {
	if h := r.Header.Get(HolderHeader); h != "" {
		return h
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Check is an HTTP middleware that returns http.StatusLocked for any request
// that changes state while someone other than its sender holds the lock,
// otherwise passes down the line
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		for _, str := range l.DoNotProtect {
			if strings.Contains(r.URL.Path, str) {
				next.ServeHTTP(w, r)
				return
			}
		}
		if h := l.Holder(); h != "" && h != holderOf(r) {
			http.Error(w, "camera is locked by "+h, http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet locks for the sender of {"bool": true} and unlocks on false
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	b := server.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !b.Bool {
		l.Unlock()
	} else if err := l.Lock(holderOf(r)); err != nil {
		http.Error(w, err.Error(), http.StatusLocked)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns Locked() over HTTP as JSON
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.Bool, Bool: l.Locked()}
	hp.EncodeAndRespond(w, r)
}

// HTTPHolder returns the holder of the lock as {"str": holder}
func (l *Locker) HTTPHolder(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.String, String: l.Holder()}
	hp.EncodeAndRespond(w, r)
}
