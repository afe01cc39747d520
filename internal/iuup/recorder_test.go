package iuup

// recorder is a minimal Sink keeping every field in a tree.
type recorder struct {
	Field
	children []*recorder
	notes    []Annotation
}

func (r *recorder) Add(f Field) Item {
	c := &recorder{Field: f}
	r.children = append(r.children, c)
	return c
}

func (r *recorder) Annotate(a Annotation) {
	r.notes = append(r.notes, a)
}

func (r *recorder) find(label string) *recorder {
	for _, c := range r.children {
		if c.Label == label {
			return c
		}
		if n := c.find(label); n != nil {
			return n
		}
	}
	return nil
}

func (r *recorder) count(label string) int {
	n := 0
	for _, c := range r.children {
		if c.Label == label {
			n++
		}
		n += c.count(label)
	}
	return n
}
