package codec

import (
	"bytes"
	"fmt"

	"github.com/edgewire/bridgemq-go/contracts"
)

// scanner states for Parse
const (
	stateKey = iota
	stateValue
)

// Parse scans a property-header block into the supplied list. The list is
// reset first so a loop can reuse one list across messages.
//
// The grammar is zero or more key:value lines, each terminated by a single
// line-feed; the block ends at end-of-input or at the first line with no
// colon (which includes the empty header/body delimiter line). A malformed
// trailing line never fails the parse, it just stops collection. Slices of
// the input are taken by index; the input is never modified.
func Parse(header string, into *contracts.PropertyList) error {
	if into == nil {
		return fmt.Errorf("property list cannot be nil")
	}

	into.Reset()

	state := stateKey
	start := 0
	var key string

	for i := 0; i < len(header); i++ {
		c := header[i]
		switch state {
		case stateKey:
			switch c {
			case ':':
				key = header[start:i]
				start = i + 1
				state = stateValue
			case '\n':
				// blank line or line without a colon ends the block
				return nil
			}
		case stateValue:
			if c == '\n' {
				into.Append(key, header[start:i])
				start = i + 1
				state = stateKey
			}
		}
	}

	// end-of-input while scanning a value still yields the pair
	if state == stateValue {
		into.Append(key, header[start:])
	}

	return nil
}

// Serialize writes the list in order as key:value lines, then a blank-line
// delimiter, then the raw body, into a buffer bounded by capacity. On
// overflow it returns contracts.ErrCapacityExceeded and no output at all;
// a partial envelope is never produced.
func Serialize(list *contracts.PropertyList, body []byte, capacity int) ([]byte, error) {
	return serialize("", "", list, body, capacity)
}

// SerializeEnvelope serializes a full envelope for a local service, with
// the reserved identity fields re-inserted as ordinary messageId and
// correlationId properties ahead of everything else, in that order.
func SerializeEnvelope(env *contracts.Envelope, capacity int) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("envelope cannot be nil")
	}
	return serialize(env.MessageID, env.CorrelationID, &env.Properties, env.Body, capacity)
}

func serialize(messageID, correlationID string, list *contracts.PropertyList, body []byte, capacity int) ([]byte, error) {
	var buf bytes.Buffer
	left := capacity

	writeProp := func(key, value string) error {
		// exact encoded length of "key:value\n"
		n := len(key) + len(value) + 2
		if left <= n {
			return fmt.Errorf("property %q: %w", key, contracts.ErrCapacityExceeded)
		}
		buf.WriteString(key)
		buf.WriteByte(':')
		buf.WriteString(value)
		buf.WriteByte('\n')
		left -= n
		return nil
	}

	if messageID != "" {
		if err := writeProp(contracts.MessageIDKey, messageID); err != nil {
			return nil, err
		}
	}
	if correlationID != "" {
		if err := writeProp(contracts.CorrelationIDKey, correlationID); err != nil {
			return nil, err
		}
	}

	if list != nil {
		for i := 0; i < list.Len(); i++ {
			p := list.At(i)
			if err := writeProp(p.Key, p.Value); err != nil {
				return nil, err
			}
		}
	}

	// delimiter plus body, with room for a trailing terminator
	if left <= len(body)+1 {
		return nil, fmt.Errorf("body of %d bytes: %w", len(body), contracts.ErrCapacityExceeded)
	}
	buf.WriteByte('\n')
	buf.Write(body)

	return buf.Bytes(), nil
}
