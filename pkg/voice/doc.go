// Package voice maintains one bidirectional session per call with the
// OpenAI Realtime API and translates its wire protocol into the small
// event set the call orchestration needs: ready, audio, transcript,
// character cutoff, tool call, done, error.
//
// Audio is G.711 µ-law at 8 kHz mono in both directions, matching the
// telephony media path so no transcoding sits between the call and the
// model. Every session carries a built-in no-argument "hangup" tool,
// prepended to whatever persona-specific tools the caller declares.
//
// Send operations are fire and forget: after the connection closes
// they become no-ops rather than errors, because the call teardown
// path must never trip over a dead backend connection.
package voice
