// Package contracts provides the core message types shared by every part
// of the bridge:
//   - Envelope: one message in flight, with reserved identity fields
//   - PropertyList: ordered key/value properties with duplicate keys allowed
//   - The error taxonomy used for per-message failure reporting
//
// The reserved keys messageId and correlationId have first-class semantics:
// they live on the Envelope itself and are mapped to the transport's native
// identity fields rather than travelling as opaque custom properties.
package contracts
