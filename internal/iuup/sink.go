package iuup

// FieldKind tells a sink how to render a value.
type FieldKind string

const (
	FieldUint  FieldKind = "uint"
	FieldBool  FieldKind = "bool"
	FieldBytes FieldKind = "bytes"
	FieldText  FieldKind = "text"
	FieldFloat FieldKind = "float"
	FieldGroup FieldKind = "group"
)

// Field is one labeled value covering Length bytes at Start of the caller buffer.
type Field struct {
	Label  string
	Kind   FieldKind
	Start  int
	Length int
	Value  any
	// Text is extra display text appended to the rendered value.
	Text string
	// Generated marks values computed by the decoder rather than read from the wire.
	Generated bool
}

// Sink receives decoded fields in wire order.
type Sink interface {
	Add(f Field) Item
}

// Item is a field already added to a sink. Adding to an item nests under it.
type Item interface {
	Sink
	Annotate(a Annotation)
}

// Discard is a sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Add(Field) Item { return discard{} }

func (discard) Annotate(Annotation) {}
