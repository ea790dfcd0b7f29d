package doctree

// SectionNode is one node of a heading hierarchy. The root has level 0 and
// no heading; it holds the content that precedes the first heading.
type SectionNode struct {
	Heading  string         `json:"heading,omitempty"`
	Level    int            `json:"level"`
	Head     *Unit          `json:"-"` // Heading unit that opened the section, nil for the root
	Content  []Unit         `json:"content"`
	Children []*SectionNode `json:"children,omitempty"`
}

// Section is a flattened section: its heading trail and the units that belong
// to it, heading unit first.
type Section struct {
	Trail []string
	Level int
	Units []Unit
}

// draft is an arena slot used while building the tree. Children are arena
// indices so the open-section stack never aliases tree nodes.
type draft struct {
	head     *Unit
	level    int
	content  []Unit
	children []int
}

// BuildSections nests a flat unit sequence under its headings. A heading of
// level L closes every open section with level >= L and opens a new one.
func BuildSections(units []Unit) *SectionNode {
	arena := []draft{{level: 0}}
	stack := []int{0}

	for _, u := range units {
		if !u.IsHeading() {
			top := stack[len(stack)-1]
			arena[top].content = append(arena[top].content, u)
			continue
		}

		for len(stack) > 1 && arena[stack[len(stack)-1]].level >= u.Level {
			stack = stack[:len(stack)-1]
		}
		head := u
		arena = append(arena, draft{head: &head, level: u.Level})
		idx := len(arena) - 1
		parent := stack[len(stack)-1]
		arena[parent].children = append(arena[parent].children, idx)
		stack = append(stack, idx)
	}

	return materialize(arena, 0)
}

func materialize(arena []draft, idx int) *SectionNode {
	d := arena[idx]
	n := &SectionNode{
		Level:   d.level,
		Head:    d.head,
		Content: d.content,
	}
	if d.head != nil {
		n.Heading = d.head.Text
	}
	if n.Content == nil {
		n.Content = []Unit{}
	}
	for _, c := range d.children {
		n.Children = append(n.Children, materialize(arena, c))
	}
	return n
}

// Walk visits the tree depth-first in document order. The trail holds the
// headings of the node's ancestors and the node itself.
func (n *SectionNode) Walk(fn func(node *SectionNode, trail []string)) {
	n.walk(nil, fn)
}

func (n *SectionNode) walk(trail []string, fn func(*SectionNode, []string)) {
	if n.Heading != "" || n.Head != nil {
		next := make([]string, len(trail), len(trail)+1)
		copy(next, trail)
		trail = append(next, n.Heading)
	}
	fn(n, trail)
	for _, c := range n.Children {
		c.walk(trail, fn)
	}
}

// Flatten returns every section in document order.
func (n *SectionNode) Flatten() []Section {
	var out []Section
	n.Walk(func(node *SectionNode, trail []string) {
		s := Section{Trail: trail, Level: node.Level}
		if node.Head != nil {
			s.Units = append(s.Units, *node.Head)
		}
		s.Units = append(s.Units, node.Content...)
		out = append(out, s)
	})
	return out
}

// Units returns all units of the tree in document order, headings included.
func (n *SectionNode) Units() []Unit {
	var out []Unit
	for _, s := range n.Flatten() {
		out = append(out, s.Units...)
	}
	return out
}

// Depth returns the number of heading levels below this node.
func (n *SectionNode) Depth() int {
	max := 0
	for _, c := range n.Children {
		if d := c.Depth() + 1; d > max {
			max = d
		}
	}
	return max
}
