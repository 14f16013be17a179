// Package persona runs AI characters over phone calls.
//
// A Persona owns one character: its prompt, voice, phone number, tools
// and planned outbound calls. Attached to a phone network it answers
// calls to its number and works through its schedule, bridging caller
// audio to a realtime voice backend and the backend's speech and tool
// calls back onto the line.
//
// A ConditionLine is a persona-less number whose only job is to mark a
// named condition satisfied when someone calls it, unblocking
// scheduled calls gated on that condition.
package persona
