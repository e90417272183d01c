package handler

import (
	"net/http"
	"strings"
)

type methodRoute struct {
	method  string
	handler http.Handler
}

// Method dispatches requests by HTTP method.
// OPTIONS is answered automatically with list of registered methods.
type Method struct {
	routes   []methodRoute
	allow    string
	fallback http.Handler
}

func NewMethod() *Method {
	return new(Method).Initialize()
}

func (m *Method) Initialize() *Method {
	m.routes = m.routes[:0]
	m.allow = "OPTIONS"
	m.fallback = nil
	return m
}

func (m *Method) has(method string) bool {
	for i := range m.routes {
		if m.routes[i].method == method {
			return true
		}
	}
	return method == "OPTIONS"
}

func (m *Method) add(method string, handler http.Handler) {
	m.routes = append(m.routes, methodRoute{method: method, handler: handler})
	m.allow += ", " + method
}

// Handle registers handler for method. First registration wins.
// GET also registers HEAD unless it's already present.
func (m *Method) Handle(method string, handler http.Handler) *Method {
	// non-standard lowercase or mixed-case methods aren't used
	um := strings.ToUpper(method)

	if !m.has(um) {
		m.add(um, handler)
		if um == "GET" && !m.has("HEAD") {
			m.add("HEAD", handler)
		}
	}

	return m
}

func (m *Method) HandleFunc(method string, f func(http.ResponseWriter, *http.Request)) *Method {
	return m.Handle(method, http.HandlerFunc(f))
}

// Fallback sets handler for unregistered methods, instead of 405.
func (m *Method) Fallback(handler http.Handler) *Method {
	m.fallback = handler
	return m
}

// Allow returns value of Allow header.
func (m *Method) Allow() string {
	return m.allow
}

func (m *Method) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for i := range m.routes {
		if r.Method == m.routes[i].method {
			m.routes[i].handler.ServeHTTP(w, r)
			return
		}
	}
	if r.Method == "OPTIONS" {
		w.Header().Set("Allow", m.allow)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if m.fallback != nil {
		m.fallback.ServeHTTP(w, r)
		return
	}
	w.Header().Set("Allow", m.allow)
	methodNotAllowed(w, r)
}

var _ http.Handler = (*Method)(nil)
