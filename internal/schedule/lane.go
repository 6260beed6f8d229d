package schedule

import (
	"fmt"

	"github.com/austindbirch/harbor_scheduler/internal/config"
)

// Lane is one of the two independent scheduling tracks.
type Lane string

const (
	Publish   Lane = "publish"
	Unpublish Lane = "unpublish"
)

// Lanes lists every lane in processing order.
var Lanes = []Lane{Publish, Unpublish}

// ParseLane converts a lane name into a Lane.
func ParseLane(s string) (Lane, error) {
	switch Lane(s) {
	case Publish, Unpublish:
		return Lane(s), nil
	default:
		return "", fmt.Errorf("unknown lane %q", s)
	}
}

// Field returns the configured field name that drives this lane.
func (l Lane) Field(sc config.SpaceConfig) string {
	switch l {
	case Publish:
		return sc.PublishField
	case Unpublish:
		return sc.UnpublishField
	default:
		return ""
	}
}

func (l Lane) String() string { return string(l) }
