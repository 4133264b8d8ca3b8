package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlankFiltered_PreservesOrder(t *testing.T) {
	got := BlankFiltered([]string{"u1", "", "  u2", "  ", "u3\n", "\t"})

	assert.Equal(t, []string{"u1", "u2", "u3"}, got)
}

func TestReport_String(t *testing.T) {
	r := Report{Outcomes: []Outcome{
		{Message: "first", Success: true},
		{Message: "second"},
		{Message: "third", Success: true},
	}}

	assert.Equal(t, "first\nsecond\nthird", r.String())
	assert.Equal(t, 1, r.Failed())
}

func TestRequest_PartialPath(t *testing.T) {
	r := Request{FinalPath: "/models/checkpoints/model.safetensors"}

	assert.Equal(t, "/models/checkpoints/model.safetensors.partial", r.PartialPath())
}
