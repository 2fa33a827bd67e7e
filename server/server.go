// Package server contains misc server utilities.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-chi/chi"
)

// FloatT is a struct with a single float64 in the JSON field "f64"
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single int in the JSON field "int"
type IntT struct {
	Int int `json:"int"`
}

// StrT is a struct with a single string in the JSON field "str"
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a struct with a single bool in the JSON field "bool"
type BoolT struct {
	Bool bool `json:"bool"`
}

// HumanPayload is a value of one basic type, sent back as JSON
// ({"f64": 1.5}) or, when the client accepts text/plain, as bare text.
type HumanPayload struct {
	T      types.BasicKind
	Float  float64
	Int    int
	String string
	Bool   bool
}

// Value returns the populated field
func (hp HumanPayload) Value() interface{} {
	switch hp.T {
	case types.Float64:
		return hp.Float
	case types.Int:
		return hp.Int
	case types.String:
		return hp.String
	case types.Bool:
		return hp.Bool
	}
	return nil
}

func (hp HumanPayload) encodable() interface{} {
	switch hp.T {
	case types.Float64:
		return FloatT{hp.Float}
	case types.Int:
		return IntT{hp.Int}
	case types.String:
		return StrT{hp.String}
	case types.Bool:
		return BoolT{hp.Bool}
	}
	return nil
}

// EncodeAndRespond writes the payload to w with status 200
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	v := hp.encodable()
	if v == nil {
		http.Error(w, fmt.Sprintf("HumanPayload of unsupported kind %d", hp.T), http.StatusInternalServerError)
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "text/plain") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, hp.Value())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("error encoding %T to json %q\n", v, err)
	}
}

// ReplyWithFile serves fn from fldr.  Range and If-Modified-Since requests
// are honored; a missing file is 404.
func ReplyWithFile(w http.ResponseWriter, r *http.Request, fn string, fldr string) {
	path := filepath.Join(fldr, fn)
	f, err := os.Open(path)
	if err != nil {
		status := http.StatusInternalServerError
		if os.IsNotExist(err) {
			status = http.StatusNotFound
		}
		log.Printf("serving %s: %v\n", path, err)
		http.Error(w, fmt.Sprintf("cannot serve %s", fn), status)
		return
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil || stat.IsDir() {
		http.Error(w, fmt.Sprintf("cannot serve %s", fn), http.StatusNotFound)
		return
	}
	http.ServeContent(w, r, fn, stat.ModTime(), f)
}

// MethodPath is an HTTP method and the path it is served on
type MethodPath struct {
	Method, Path string
}

func (mp MethodPath) String() string {
	return mp.Method + " " + mp.Path
}

// RouteTable maps methods and paths to their handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Endpoints lists the routes in the table, sorted by path then method
func (rt RouteTable) Endpoints() []string {
	keys := make([]MethodPath, 0, len(rt))
	for k := range rt {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		return keys[i].Method < keys[j].Method
	})
	routes := make([]string, len(keys))
	for i, k := range keys {
		routes[i] = k.String()
	}
	return routes
}

// Bind registers every route on r, plus GET /endpoints listing them
func (rt RouteTable) Bind(r chi.Router) {
	for mp, h := range rt {
		r.MethodFunc(mp.Method, mp.Path, h)
	}
	r.Get("/endpoints", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(rt.Endpoints()); err != nil {
			log.Printf("error encoding list of routes data to json %q\n", err)
		}
	})
}

// HTTPer is anything with a route table
type HTTPer interface {
	RT() RouteTable
}
