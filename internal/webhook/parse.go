package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/austindbirch/harbor_scheduler/internal/event"
)

// TopicHeader carries "<origin>.<kind>.<action>", e.g. ContentManagement.Entry.save.
const TopicHeader = "X-Contentful-Topic"

// DefaultMaxBody bounds how much of a request body is read.
const DefaultMaxBody = 1 << 20

// ErrMalformed marks a request that cannot be read as a change notification.
var ErrMalformed = errors.New("malformed webhook")

// Route is what the scheduler does with a notification.
type Route int

const (
	RouteIgnore Route = iota
	RouteReconcile
	RouteRemove
)

func (r Route) String() string {
	switch r {
	case RouteReconcile:
		return "reconcile"
	case RouteRemove:
		return "remove"
	default:
		return "ignored"
	}
}

// RouteFor maps a topic action onto the scheduler operation it triggers.
// A publish drops pending publish jobs since they have nothing left to do.
func RouteFor(action string) Route {
	switch action {
	case "create", "save", "auto_save", "unarchive":
		return RouteReconcile
	case "delete", "unpublish", "archive", "publish":
		return RouteRemove
	default:
		return RouteIgnore
	}
}

// Notification is a parsed webhook request.
type Notification struct {
	Topic  string
	Kind   string // Entry, Asset, ContentType...
	Action string
	Event  event.ChangeEvent
}

// Route returns the operation for the notification's action.
func (n Notification) Route() Route { return RouteFor(n.Action) }

type payload struct {
	Sys struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Space struct {
			Sys struct {
				ID string `json:"id"`
			} `json:"sys"`
		} `json:"space"`
	} `json:"sys"`
	Fields map[string]any `json:"fields"`
}

// Parse reads a notification from r. Headers are kept verbatim for auth
// policies; multiple values of one header are joined with ", ".
func Parse(r *http.Request, maxBody int64) (Notification, error) {
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}
	var n Notification
	n.Topic = r.Header.Get(TopicHeader)
	n.Kind, n.Action = splitTopic(n.Topic)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return n, fmt.Errorf("%w: read body: %v", ErrMalformed, err)
	}
	if int64(len(body)) > maxBody {
		return n, fmt.Errorf("%w: body exceeds %d bytes", ErrMalformed, maxBody)
	}
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return n, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.Sys.ID == "" {
		return n, fmt.Errorf("%w: missing sys.id", ErrMalformed)
	}

	typ := p.Sys.Type
	if typ == "" {
		typ = n.Kind
	}
	n.Event = event.ChangeEvent{
		ID:         p.Sys.ID,
		SpaceID:    p.Sys.Space.Sys.ID,
		Type:       typ,
		Fields:     p.Fields,
		RawHeaders: flattenHeaders(r.Header),
	}
	return n, nil
}

func splitTopic(topic string) (kind, action string) {
	parts := strings.Split(topic, ".")
	if len(parts) != 3 {
		return "", ""
	}
	return parts[1], parts[2]
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		out[k] = strings.Join(vs, ", ")
	}
	return out
}
