package robot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"OT2 Bench #3":   "ot2-bench-3",
		"  lab.robot_1 ": "lab.robot_1",
		"--weird--name!": "weird-name",
		"":               "ot2",
		"!!!":            "ot2",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slug(in), in)
	}
}
