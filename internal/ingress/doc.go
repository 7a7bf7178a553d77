// Package ingress is the boundary through which observers and operators
// submit events.
//
// Events arrive as JSON objects {"trigger": "<name>", ...payload} over a
// local unix socket, one object per line, or framed with a 4-byte
// little-endian length prefix on stdin when running as a browser
// native-messaging host. Input that fails to decode is reported to the
// engine as a malformed event and never reaches evaluation.
package ingress
