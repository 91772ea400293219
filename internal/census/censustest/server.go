// Package censustest runs an in-process stand-in for the Census business patterns API.
package censustest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
)

// Fact is one ZIP record served for an industry code.
type Fact struct {
	Zip            string
	Naics          string
	Establishments int
	Employees      int
	Payroll        int
}

// Request records what the server was asked for.
type Request struct {
	Year    int
	Dataset string
	Get     string
	Code    string
	Key     string
}

type factKey struct {
	year int
	code string
}

// Server serves /data/{year}/{dataset}. Fact requests with no registered facts get a 204,
// as the real API does for empty industries.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	facts    map[factKey][]Fact
	geos     map[int][][2]string
	scripts  map[factKey][]int
	requests []Request
}

// New starts a server that is closed when the test ends.
func New(t testing.TB) *Server {
	s := &Server{
		facts:   make(map[factKey][]Fact),
		geos:    make(map[int][][2]string),
		scripts: make(map[factKey][]int),
	}
	r := mux.NewRouter()
	r.HandleFunc("/data/{year:[0-9]+}/{dataset}", s.handle).Methods(http.MethodGet)
	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the value to configure as the client's API root.
func (s *Server) BaseURL() string {
	return s.URL + "/data"
}

// AddFacts registers records returned for an industry code in a year.
func (s *Server) AddFacts(year int, code string, facts ...Fact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := factKey{year, code}
	s.facts[k] = append(s.facts[k], facts...)
}

// AddGeography registers a ZIP label for a year's name listing.
func (s *Server) AddGeography(year int, zip, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.geos[year] = append(s.geos[year], [2]string{label, zip})
}

// Script queues status codes answered, in order, before the normal response for an
// industry code. An empty code scripts the geography listing.
func (s *Server) Script(year int, code string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := factKey{year, code}
	s.scripts[k] = append(s.scripts[k], statuses...)
}

// Requests returns a copy of every request seen so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestCount counts requests for an industry code in a year. An empty code counts
// geography listings.
func (s *Server) RequestCount(year int, code string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Year == year && r.Code == code {
			n++
		}
	}
	return n
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	year, err := strconv.Atoi(vars["year"])
	if err != nil {
		http.Error(w, "bad year", http.StatusBadRequest)
		return
	}
	q := r.URL.Query()
	get := q.Get("get")
	if q.Get("for") != "zip code:*" {
		http.Error(w, "unsupported geography", http.StatusBadRequest)
		return
	}

	fields := strings.Split(get, ",")
	var code string
	if len(fields) > 1 {
		code = q.Get(fields[1])
	}

	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Year:    year,
		Dataset: vars["dataset"],
		Get:     get,
		Code:    code,
		Key:     q.Get("key"),
	})
	k := factKey{year, code}
	if queue := s.scripts[k]; len(queue) > 0 {
		status := queue[0]
		s.scripts[k] = queue[1:]
		s.mu.Unlock()
		w.WriteHeader(status)
		return
	}
	var table [][]any
	if len(fields) > 1 {
		table = s.factTable(k, fields)
	} else {
		table = s.geoTable(year, get)
	}
	s.mu.Unlock()

	if table == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(table); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) factTable(k factKey, fields []string) [][]any {
	facts := s.facts[k]
	if len(facts) == 0 {
		return nil
	}
	header := make([]any, 0, len(fields)+1)
	for _, f := range fields {
		header = append(header, f)
	}
	table := [][]any{append(header, "zip code")}
	for _, f := range facts {
		table = append(table, []any{
			f.Zip, f.Naics,
			fmt.Sprint(f.Establishments), fmt.Sprint(f.Employees), fmt.Sprint(f.Payroll),
			f.Zip,
		})
	}
	return table
}

func (s *Server) geoTable(year int, nameVar string) [][]any {
	geos := s.geos[year]
	if len(geos) == 0 {
		return nil
	}
	table := [][]any{{nameVar, "zip code"}}
	for _, g := range geos {
		table = append(table, []any{g[0], g[1]})
	}
	return table
}
