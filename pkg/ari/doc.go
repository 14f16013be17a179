// Package ari is a minimal Asterisk REST Interface (ARI) client covering
// the surface this application needs: channel commands (answer, hangup,
// originate, external media), bridge commands, playback, and the
// WebSocket application event stream.
//
// The package exposes a Client interface so call-routing code can be
// tested against a fake; HTTPClient is the production implementation.
//
// Events arrive as a single Event struct with a Type discriminator
// rather than one Go type per ARI event; consumers switch on Type.
package ari
