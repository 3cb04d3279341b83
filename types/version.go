package types

// Version is the canonical project version.
// The CLI, the HTTP health endpoint, and the generator IPC handshake
// all report this value.
const Version = "0.3.0"

// ProtocolVersion is the version of the generator frame protocol.
// It moves in lockstep with Version.
const ProtocolVersion = Version
