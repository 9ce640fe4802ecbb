package pipeline

import (
	"fmt"
	"strings"

	"github.com/opd-ai/hwcodec/buffer"
	"github.com/opd-ai/hwcodec/config"
	"github.com/opd-ai/hwcodec/status"
)

func parseKind(kind string) (buffer.Kind, error) {
	switch strings.ToLower(kind) {
	case "", "heap":
		return buffer.KindHeap, nil
	case "dma":
		return buffer.KindDMA, nil
	default:
		return 0, fmt.Errorf("%w: buffer kind %q", status.ErrInvalidArgument, kind)
	}
}

// newGroup creates the internal group a pipeline owns for one port.
func newGroup(name string, gc config.GroupConfig) (*buffer.Group, error) {
	kind, err := parseKind(gc.Kind)
	if err != nil {
		return nil, err
	}
	return buffer.NewGroup(name, buffer.ModeInternal, kind, buffer.Limits{Count: gc.Count, Size: gc.Size})
}

func closeGroups(groups ...*buffer.Group) {
	for _, g := range groups {
		if g != nil {
			_ = g.Close()
		}
	}
}
