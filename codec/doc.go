// Package codec implements the textual property-header wire format used
// between the bridge and local processes:
//
//	key-1:value-1\n
//	key-2:value-2\n
//	\n
//	<raw body bytes>
//
// Parse is tolerant: a line without a colon ends the header block without
// an error, so truncated or malformed trailing input simply stops
// collection. Serialize is strict: an envelope either fits the supplied
// capacity in full or nothing is produced, because a receiver cannot
// detect a truncated envelope from the format alone.
package codec
