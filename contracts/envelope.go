package contracts

// Reserved property keys. They are promoted out of the generic property
// list into dedicated Envelope fields, and mapped to the transport's
// native message-id and correlation-id fields on delivery.
const (
	MessageIDKey     = "messageId"
	CorrelationIDKey = "correlationId"
)

// ServiceKey names the property an inbound message uses to select the
// local service it should be routed to. It is an ordinary property, not
// a reserved identity field.
const ServiceKey = "service"

// Direction tags an Envelope as leaving for or arriving from the broker.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	switch d {
	case Outbound:
		return "outbound"
	case Inbound:
		return "inbound"
	default:
		return "unknown"
	}
}

// Property is a single key/value pair attached to an Envelope.
type Property struct {
	Key   string
	Value string
}

// PropertyList is an ordered sequence of properties. Duplicate keys are
// preserved rather than merged, and insertion order determines
// serialization order. The zero value is an empty list ready for use.
//
// Reset truncates without releasing storage, so a list held by a
// processing loop can be refilled message after message without
// reallocating.
type PropertyList struct {
	pairs []Property
}

// Append adds a property at the end of the list.
func (l *PropertyList) Append(key, value string) {
	l.pairs = append(l.pairs, Property{Key: key, Value: value})
}

// Get returns the value of the first property with the given key.
func (l *PropertyList) Get(key string) (string, bool) {
	for _, p := range l.pairs {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Len returns the number of properties in the list.
func (l *PropertyList) Len() int {
	return len(l.pairs)
}

// At returns the property at position i.
func (l *PropertyList) At(i int) Property {
	return l.pairs[i]
}

// Reset truncates the list to zero length, keeping capacity.
func (l *PropertyList) Reset() {
	l.pairs = l.pairs[:0]
}

// Clone returns an independent copy of the list.
func (l *PropertyList) Clone() PropertyList {
	if len(l.pairs) == 0 {
		return PropertyList{}
	}
	pairs := make([]Property, len(l.pairs))
	copy(pairs, l.pairs)
	return PropertyList{pairs: pairs}
}

// Envelope is one message in flight between a local client and the
// broker. MessageID and CorrelationID are the reserved identity fields;
// Properties holds everything else. Body is opaque and may be binary.
type Envelope struct {
	MessageID     string
	CorrelationID string
	Properties    PropertyList
	Body          []byte
	Direction     Direction
}
