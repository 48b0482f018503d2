package events

import (
	"context"
	"fmt"
	"sort"
)

// Declaration states which topics a consumer wants and, optionally, the
// consumer group it joins. Declarations compose with Merge so a handler can
// extend a shared base declaration instead of restating it.
type Declaration struct {
	Topics []Topic
	Group  string
}

// Merge combines declarations left to right: topics are unioned in first-seen
// order, and the last non-empty group wins (the most specific declaration
// overrides inherited ones).
func Merge(decls ...Declaration) Declaration {
	var out Declaration
	seen := map[Topic]bool{}
	for _, d := range decls {
		for _, t := range d.Topics {
			if !seen[t] {
				seen[t] = true
				out.Topics = append(out.Topics, t)
			}
		}
		if d.Group != "" {
			out.Group = d.Group
		}
	}
	return out
}

// Handler processes envelopes delivered on the topics it declares. Delivery is
// at-least-once: the same envelope id may arrive more than once and handlers
// must be idempotent with respect to it.
type Handler interface {
	Declaration() Declaration
	Handle(ctx context.Context, env Envelope) error
}

// Route is one resolved (topic, group, handler) binding.
type Route struct {
	Topic   Topic
	Group   string
	Handler Handler
}

// Router resolves handler declarations into the routing table the broker
// consumer runs from. Registration happens once at service start; the router
// is read-only afterwards.
type Router struct {
	defaultGroup string
	routes       []Route
}

// NewRouter creates a router whose default consumer group is the service's own
// identity, so each service type gets its own delivery stream unless a handler
// opts into a shared group.
func NewRouter(defaultGroup string) *Router {
	return &Router{defaultGroup: defaultGroup}
}

func (r *Router) Register(h Handler) error {
	d := h.Declaration()
	if len(d.Topics) == 0 {
		return fmt.Errorf("handler declares no topics")
	}
	group := d.Group
	if group == "" {
		group = r.defaultGroup
	}
	if group == "" {
		return fmt.Errorf("handler declares no group and router has no default")
	}
	for _, t := range d.Topics {
		if !t.Valid() {
			return fmt.Errorf("handler declares unknown topic %q", t)
		}
		r.routes = append(r.routes, Route{Topic: t, Group: group, Handler: h})
	}
	return nil
}

// TopicsFor returns the resolved topic set for h, sorted for stable output.
func (r *Router) TopicsFor(h Handler) []Topic {
	var topics []Topic
	for _, rt := range r.routes {
		if rt.Handler == h {
			topics = append(topics, rt.Topic)
		}
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	return topics
}

// GroupFor returns the consumer group h was resolved into, or "" if h is not
// registered.
func (r *Router) GroupFor(h Handler) string {
	for _, rt := range r.routes {
		if rt.Handler == h {
			return rt.Group
		}
	}
	return ""
}

// Routes returns the full routing table in registration order.
func (r *Router) Routes() []Route {
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}
