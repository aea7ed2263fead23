package server

import "net/http"

// Router is the mux the ops registrars mount their routes on.
type Router interface {
	Handle(pattern string, handler http.Handler)
	HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request))
	ServeHTTP(w http.ResponseWriter, r *http.Request)
	// Use appends middleware for routes registered afterwards.
	Use(middleware ...Middleware)
	// Group returns a RouterGroup below the router prefix.
	Group(prefix string) *RouterGroup
}

// Endpoint is a registered route, kept for startup logging and tests.
type Endpoint struct {
	Method string
	Path   string
}

// DefaultRouter serves the ops routes from a http.ServeMux. Its prefix only
// applies to routes registered through Group.
type DefaultRouter struct {
	mux        *http.ServeMux
	middleware []Middleware
	rootGroup  *RouterGroup
	Endpoints  []Endpoint
}

func NewDefaultRouter(prefix string) *DefaultRouter {
	dr := &DefaultRouter{mux: http.NewServeMux()}
	dr.rootGroup = &RouterGroup{prefix: prefix, router: dr}
	return dr
}

// Handle wraps handler with the router middleware, outermost first.
func (dr *DefaultRouter) Handle(pattern string, handler http.Handler) {
	for i := len(dr.middleware) - 1; i >= 0; i-- {
		handler = dr.middleware[i](handler)
	}
	dr.mux.Handle(pattern, handler)
	method, path := splitPattern(pattern)
	dr.Endpoints = append(dr.Endpoints, Endpoint{Method: method, Path: path})
}

func (dr *DefaultRouter) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	dr.Handle(pattern, http.HandlerFunc(handler))
}

func (dr *DefaultRouter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	dr.mux.ServeHTTP(w, req)
}

func (dr *DefaultRouter) Use(middleware ...Middleware) {
	dr.middleware = append(dr.middleware, middleware...)
}

func (dr *DefaultRouter) Group(prefix string) *RouterGroup {
	return dr.rootGroup.Group(prefix)
}
