package robot

import (
	"context"
	"log/slog"
	"strings"

	"ot2-calibration/pkg/api"
)

type Binding struct {
	Mount  string
	Serial string
}

// Bindings maps each mount to the serial of the pipette attached to it. An
// empty serial means nothing eligible is attached.
type Bindings struct {
	left  string
	right string
}

func NewBindings(left, right string) Bindings {
	return Bindings{left: strings.TrimSpace(left), right: strings.TrimSpace(right)}
}

func (b Bindings) Left() string { return b.left }

func (b Bindings) Right() string { return b.right }

func (b Bindings) Empty() bool { return b.left == "" && b.right == "" }

// Mounts lists the bound mounts, left first.
func (b Bindings) Mounts() []Binding {
	var out []Binding
	if b.left != "" {
		out = append(out, Binding{Mount: api.MountLeft, Serial: b.left})
	}
	if b.right != "" {
		out = append(out, Binding{Mount: api.MountRight, Serial: b.right})
	}
	return out
}

// DefaultSerial is the pipette credited with the deck calibration when the
// template does not name one.
func (b Bindings) DefaultSerial() string {
	if b.right != "" {
		return b.right
	}
	return b.left
}

func (b Bindings) Serials() map[string]string {
	out := map[string]string{}
	for _, m := range b.Mounts() {
		out[m.Mount] = m.Serial
	}
	return out
}

func mount(inst api.Instrument) string {
	return strings.ToLower(strings.TrimSpace(inst.Mount))
}

func eligible(inst api.Instrument) bool {
	if inst.InstrumentType != api.InstrumentTypePipette {
		return false
	}
	if m := mount(inst); m != api.MountLeft && m != api.MountRight {
		return false
	}
	return inst.Ok && strings.TrimSpace(inst.SerialNumber) != ""
}

func BindingsFromInstruments(instruments []api.Instrument) Bindings {
	var left, right string
	for _, inst := range instruments {
		if !eligible(inst) {
			slog.Debug("skipping instrument", "mount", inst.Mount, "type", inst.InstrumentType, "serial", inst.SerialNumber, "ok", inst.Ok)
			continue
		}
		switch mount(inst) {
		case api.MountLeft:
			if left == "" {
				left = inst.SerialNumber
			}
		case api.MountRight:
			if right == "" {
				right = inst.SerialNumber
			}
		}
	}
	return NewBindings(left, right)
}

func (c *Client) AttachedPipettes(ctx context.Context) (Bindings, error) {
	instruments, err := c.Instruments(ctx)
	if err != nil {
		return Bindings{}, err
	}
	bindings := BindingsFromInstruments(instruments)
	slog.Info("detected pipettes", "host", c.host, "left", bindings.Left(), "right", bindings.Right())
	return bindings, nil
}
