// # Peer Call Engine for Grid-Site Field Inspections
//
// This repository provides the real-time core of a field-data collaboration tool for energy-grid site inspectors: WebRTC offer/answer/ICE negotiation between an inspector and an onsite operator coordinated through a shared signaling record, plus a voice-command state machine that drives a wearable companion UI. Map rendering, charts and the surrounding REST surfaces live elsewhere; this module only speaks to them through small interfaces.
package fieldcall
