// Package phone routes calls between telephony endpoints and handlers.
//
// A Network wraps an ari.Client: it consumes the application's event
// stream, matches inbound calls to handlers registered by dialed
// number, and matches answered originations back to the MakeCall that
// placed them. Every dispatched call gets a media.Session wired to the
// channel before its handler runs, so handlers deal in audio frames
// rather than in call-control plumbing.
package phone
