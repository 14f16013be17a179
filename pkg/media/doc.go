// Package media bridges one answered call leg to a pair of RTP/UDP
// audio streams.
//
// A Session owns two local UDP sockets: one that Asterisk's external
// media channel sends call audio to, and one the session transmits
// from. Outbound audio is chunked into 20 ms µ-law frames and paced
// onto the wire by a per-session sender that runs only while frames
// are queued. Inbound datagrams are stripped of their RTP header and
// handed to a consumer callback in arrival order; there is no jitter
// buffer and no loss or reorder recovery.
//
// Fixed announcement playback (SendFile) and call recording bypass the
// paced queue and run through ffmpeg transcoder processes.
package media
