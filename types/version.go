package types

// Version is the canonical project version.
// The coordinator, worker and relay share this version; the wire protocol
// carries no version negotiation, so mixed fleets are unsupported.
const Version = "0.3.0"
