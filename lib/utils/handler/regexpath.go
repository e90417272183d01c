package handler

import (
	"context"
	"fmt"
	"net/http"
	re "regexp"
	"strings"
)

/*
 * regex paths are declared with syntax: /whatever/{{varname[:regex]}}/whateverelse
 * varname is not optional
 * by default regex is `[^/]+`
 * whole expression is prepended with ^ and appended with $
 * variable regex must not contain captures, use (?:...) for grouping
 * {{:whatever}} is escape producing literal {{whatever}}
 */

type pathVarKey string

type regexPathRoute struct {
	handler  http.Handler
	varnames []pathVarKey
	pattern  *re.Regexp
}

// RegexPath dispatches requests by URL path patterns,
// checked in order of registration.
type RegexPath struct {
	routes   []regexPathRoute
	fallback http.Handler
}

var capregex = re.MustCompile(`\{\{..*?\}\}`)

func NewRegexPath() *RegexPath {
	return new(RegexPath).Initialize()
}

func (p *RegexPath) Initialize() *RegexPath {
	p.fallback = http.HandlerFunc(notFound)
	return p
}

func compilePathExp(pathexp string) (*re.Regexp, []pathVarKey, error) {
	var names []pathVarKey
	pathexp = capregex.ReplaceAllStringFunc(pathexp, func(capture string) string {
		capture = capture[2 : len(capture)-2]
		expression := "[^/]+"
		if i := strings.IndexByte(capture, ':'); i >= 0 {
			expression = capture[i+1:]
			capture = capture[:i]
		}
		if capture == "" {
			return re.QuoteMeta("{{" + expression + "}}")
		}
		names = append(names, pathVarKey(capture))
		return "(" + strings.TrimSuffix(strings.TrimPrefix(expression, "^"), "$") + ")"
	})
	rx, err := re.Compile("^" + pathexp + "$")
	if err != nil {
		return nil, nil, err
	}
	if rx.NumSubexp() != len(names) {
		return nil, nil, fmt.Errorf(
			"path expression has %d captures for %d variables", rx.NumSubexp(), len(names))
	}
	return rx, names, nil
}

// Handle registers handler for path expression. It panics if expression is invalid.
func (p *RegexPath) Handle(pathexp string, handler http.Handler) *RegexPath {
	rx, names, err := compilePathExp(pathexp)
	if err != nil {
		panic(fmt.Sprintf("regexpath: bad expression %q: %v", pathexp, err))
	}
	p.routes = append(p.routes, regexPathRoute{
		handler:  handler,
		varnames: names,
		pattern:  rx,
	})
	return p
}

func (p *RegexPath) Fallback(handler http.Handler) *RegexPath {
	p.fallback = handler
	return p
}

func (p *RegexPath) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for i := range p.routes {
		m := p.routes[i].pattern.FindStringSubmatch(r.URL.Path)
		if m == nil {
			continue
		}
		if len(p.routes[i].varnames) != 0 {
			ctx := r.Context()
			for j, vn := range p.routes[i].varnames {
				ctx = context.WithValue(ctx, vn, m[j+1])
			}
			r = r.WithContext(ctx)
		}
		p.routes[i].handler.ServeHTTP(w, r)
		return
	}
	p.fallback.ServeHTTP(w, r)
}

var _ http.Handler = (*RegexPath)(nil)

// PathVar returns value of path variable matched by RegexPath.
func PathVar(r *http.Request, name string) string {
	s, _ := r.Context().Value(pathVarKey(name)).(string)
	return s
}
