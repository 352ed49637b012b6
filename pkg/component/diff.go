package component

import (
	"github.com/pmezard/go-difflib/difflib"

	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/engine"
	"github.com/Tensibai/si/pkg/tenancy"
)

// Diff is a component's current JSON document and its line diff against head.
type Diff struct {
	Current string   `json:"current"`
	Diffs   []string `json:"diffs"`
}

// Diff compares the component's view with the head view. At head the diff is empty; a
// component that does not exist at head diffs against nothing.
func (c *Component) Diff(dc *dal.Context, systemID string) (*Diff, error) {
	current, err := c.viewJSON(dc, systemID)
	if err != nil {
		return nil, err
	}
	out := &Diff{Current: current, Diffs: []string{}}
	if dc.Visibility().IsHead() {
		return out, nil
	}

	head := dc.WithVisibility(tenancy.Head())
	previous := ""
	headComponent, err := Get(head, c.ID)
	switch {
	case err == nil:
		if previous, err = headComponent.viewJSON(head, systemID); err != nil {
			return nil, err
		}
	case !engine.IsNotFound(err):
		return nil, err
	}

	out.Diffs = lineDiff(previous, current)
	return out, nil
}

func (c *Component) viewJSON(dc *dal.Context, systemID string) (string, error) {
	view, err := c.View(dc, systemID)
	if err != nil {
		return "", err
	}
	raw, err := view.JSON()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// lineDiff renders b against a, one line per entry prefixed with "-", " " or "+".
func lineDiff(a, b string) []string {
	var before, after []string
	if a != "" {
		before = difflib.SplitLines(a)
	}
	if b != "" {
		after = difflib.SplitLines(b)
	}

	out := []string{}
	m := difflib.NewMatcher(before, after)
	for _, op := range m.GetOpCodes() {
		if op.Tag == 'e' {
			out = appendLines(out, " ", before[op.I1:op.I2])
			continue
		}
		if op.Tag == 'r' || op.Tag == 'd' {
			out = appendLines(out, "-", before[op.I1:op.I2])
		}
		if op.Tag == 'r' || op.Tag == 'i' {
			out = appendLines(out, "+", after[op.J1:op.J2])
		}
	}
	return out
}

func appendLines(out []string, prefix string, lines []string) []string {
	for _, l := range lines {
		if n := len(l); n > 0 && l[n-1] == '\n' {
			l = l[:n-1]
		}
		out = append(out, prefix+l)
	}
	return out
}
