package server

import (
	"net/http"
	"strings"
)

// RouterGroup registers routes under a shared prefix and middleware chain.
type RouterGroup struct {
	prefix     string
	middleware []Middleware
	router     Router
}

func (rg *RouterGroup) Use(middleware ...Middleware) {
	rg.middleware = append(rg.middleware, middleware...)
}

// Handle accepts plain paths and method patterns such as "GET /status"; the
// prefix is inserted after the method.
func (rg *RouterGroup) Handle(pattern string, handler http.Handler) {
	wrapped := handler
	for i := len(rg.middleware) - 1; i >= 0; i-- {
		wrapped = rg.middleware[i](wrapped)
	}
	rg.router.Handle(joinPattern(rg.prefix, pattern), wrapped)
}

func (rg *RouterGroup) HandleFunc(pattern string, handlerFunc func(http.ResponseWriter, *http.Request)) {
	rg.Handle(pattern, http.HandlerFunc(handlerFunc))
}

func (rg *RouterGroup) Group(prefix string) *RouterGroup {
	return &RouterGroup{
		prefix:     rg.prefix + prefix,
		middleware: append([]Middleware{}, rg.middleware...),
		router:     rg.router,
	}
}

func joinPattern(prefix, pattern string) string {
	method, path := splitPattern(pattern)
	if method == "" {
		return prefix + path
	}
	return method + " " + prefix + path
}

// splitPattern separates the optional method from a ServeMux pattern.
func splitPattern(pattern string) (method, path string) {
	if i := strings.IndexByte(pattern, ' '); i > 0 && !strings.HasPrefix(pattern, "/") {
		return pattern[:i], strings.TrimLeft(pattern[i+1:], " ")
	}
	return "", pattern
}
