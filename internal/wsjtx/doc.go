// Package wsjtx bridges digital-mode decoding applications into the
// control plane over their UDP status protocol.
//
//	┌────────────┐ status/decode/log  ┌────────┐  events   ┌─────┐
//	│ digimode   ├───────────────────►│ Bridge ├──────────►│ Hub │
//	│ clients    │                    │        │           └─────┘
//	└────────────┘                    │        │  verbatim
//	                                  │        ├──────────► relay targets
//	                                  └────────┘
//
// Frames open with a magic constant, a schema version and a type tag,
// all big-endian. Frames that fail the header check are dropped and
// counted; frames whose header parses are relayed to every configured
// target even when the body cannot be decoded locally, so downstream
// loggers never lose traffic to a decoder gap on this side.
package wsjtx
