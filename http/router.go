package http

import (
	"net/http"
	"strings"

	"github.com/axisimaging/dicomweb"
)

// RouteMatch is the result of a successful route match: the resolved
// operation and the path parameters the pattern declared.
type RouteMatch struct {
	Op     dicomweb.Operation
	Params map[string]string
}

// segment is one element of a route pattern: a literal to match or a
// parameter name to bind.
type segment struct {
	literal string
	param   string
}

func lit(s string) segment { return segment{literal: s} }
func par(s string) segment { return segment{param: s} }

type routePattern struct {
	method   string
	op       dicomweb.Operation
	segments []segment
}

// routeTable is the closed route grammar. Patterns are checked in order
// within their (method, segment count) partition; literal segments at a
// position always disambiguate before parameters bind, so more-specific
// patterns are listed first.
var routeTable = []routePattern{
	{http.MethodGet, dicomweb.OpCapabilities, nil},

	{http.MethodGet, dicomweb.OpSearchStudies, []segment{lit("studies")}},
	{http.MethodPost, dicomweb.OpStore, []segment{lit("studies")}},
	{http.MethodGet, dicomweb.OpSearchSeries, []segment{lit("series")}},
	{http.MethodGet, dicomweb.OpSearchInstances, []segment{lit("instances")}},

	{http.MethodGet, dicomweb.OpRetrieveStudy, []segment{lit("studies"), par("study")}},
	{http.MethodPost, dicomweb.OpStore, []segment{lit("studies"), par("study")}},
	{http.MethodDelete, dicomweb.OpDeleteStudy, []segment{lit("studies"), par("study")}},

	{http.MethodGet, dicomweb.OpRetrieveStudyMetadata, []segment{lit("studies"), par("study"), lit("metadata")}},
	{http.MethodGet, dicomweb.OpRetrieveStudyRendered, []segment{lit("studies"), par("study"), lit("rendered")}},
	{http.MethodGet, dicomweb.OpRetrieveStudyThumbnail, []segment{lit("studies"), par("study"), lit("thumbnail")}},
	{http.MethodGet, dicomweb.OpSearchSeries, []segment{lit("studies"), par("study"), lit("series")}},
	{http.MethodGet, dicomweb.OpSearchInstances, []segment{lit("studies"), par("study"), lit("instances")}},

	{http.MethodGet, dicomweb.OpRetrieveSeries, []segment{lit("studies"), par("study"), lit("series"), par("series")}},
	{http.MethodDelete, dicomweb.OpDeleteSeries, []segment{lit("studies"), par("study"), lit("series"), par("series")}},

	{http.MethodGet, dicomweb.OpRetrieveSeriesMetadata, []segment{lit("studies"), par("study"), lit("series"), par("series"), lit("metadata")}},
	{http.MethodGet, dicomweb.OpRetrieveSeriesRendered, []segment{lit("studies"), par("study"), lit("series"), par("series"), lit("rendered")}},
	{http.MethodGet, dicomweb.OpRetrieveSeriesThumbnail, []segment{lit("studies"), par("study"), lit("series"), par("series"), lit("thumbnail")}},
	{http.MethodGet, dicomweb.OpSearchInstances, []segment{lit("studies"), par("study"), lit("series"), par("series"), lit("instances")}},

	{http.MethodGet, dicomweb.OpRetrieveInstance, []segment{lit("studies"), par("study"), lit("series"), par("series"), lit("instances"), par("instance")}},
	{http.MethodDelete, dicomweb.OpDeleteInstance, []segment{lit("studies"), par("study"), lit("series"), par("series"), lit("instances"), par("instance")}},

	{http.MethodGet, dicomweb.OpRetrieveInstanceMetadata, []segment{lit("studies"), par("study"), lit("series"), par("series"), lit("instances"), par("instance"), lit("metadata")}},
	{http.MethodGet, dicomweb.OpRetrieveInstanceRendered, []segment{lit("studies"), par("study"), lit("series"), par("series"), lit("instances"), par("instance"), lit("rendered")}},
	{http.MethodGet, dicomweb.OpRetrieveInstanceThumb, []segment{lit("studies"), par("study"), lit("series"), par("series"), lit("instances"), par("instance"), lit("thumbnail")}},

	{http.MethodGet, dicomweb.OpRetrieveFrames, []segment{lit("studies"), par("study"), lit("series"), par("series"), lit("instances"), par("instance"), lit("frames"), par("frames")}},

	{http.MethodGet, dicomweb.OpSearchWorkitems, []segment{lit("workitems")}},
	{http.MethodPost, dicomweb.OpCreateWorkitem, []segment{lit("workitems")}},
	{http.MethodGet, dicomweb.OpRetrieveWorkitem, []segment{lit("workitems"), par("workitem")}},
	{http.MethodPut, dicomweb.OpUpdateWorkitem, []segment{lit("workitems"), par("workitem")}},
	{http.MethodPut, dicomweb.OpChangeState, []segment{lit("workitems"), par("workitem"), lit("state")}},
	{http.MethodPut, dicomweb.OpRequestCancel, []segment{lit("workitems"), par("workitem"), lit("cancelrequest")}},
}

// Router matches (method, path) pairs against the route grammar. It
// holds only read-only configuration and is safe for concurrent use.
type Router struct {
	prefix string
}

// NewRouter creates a router that strips the given path prefix before
// matching. An empty prefix matches from the root.
func NewRouter(prefix string) *Router {
	return &Router{prefix: strings.TrimSuffix(prefix, "/")}
}

// Match resolves a path and method to an operation, binding parameter
// segments in declaration order. The second result is false when no
// pattern matches; Match never panics or errors.
func (r *Router) Match(method, path string) (RouteMatch, bool) {
	if r.prefix != "" {
		if !strings.HasPrefix(path, r.prefix) {
			return RouteMatch{}, false
		}
		path = strings.TrimPrefix(path, r.prefix)
	}

	// Trailing-slash and empty paths normalize to zero segments.
	path = strings.Trim(path, "/")

	var segs []string
	if path != "" {
		segs = strings.Split(path, "/")
	}

	for _, pattern := range routeTable {
		if pattern.method != method || len(pattern.segments) != len(segs) {
			continue
		}

		params, ok := matchSegments(pattern.segments, segs)
		if !ok {
			continue
		}
		return RouteMatch{Op: pattern.op, Params: params}, true
	}

	return RouteMatch{}, false
}

func matchSegments(pattern []segment, segs []string) (map[string]string, bool) {
	var params map[string]string
	for i, p := range pattern {
		if p.param == "" {
			if p.literal != segs[i] {
				return nil, false
			}
			continue
		}
		if segs[i] == "" {
			return nil, false
		}
		if params == nil {
			params = make(map[string]string, 4)
		}
		params[p.param] = segs[i]
	}
	return params, true
}
