// Package discovery finds radios and accessories on the local network.
//
// Each supported protocol runs a passive UDP listener that parses
// periodic broadcasts into registry records:
//
//	┌──────────────┐  socketrig announce   ┌──────────┐
//	│ UDP :4992    ├──────────────────────►│          │
//	└──────────────┘                       │ Registry │──► hub events
//	┌──────────────┐  accessory beacon     │          │
//	│ UDP :7301    ├──────────────────────►│          │
//	└──────────────┘                       └──────────┘
//
// A sweep ticker evicts records whose broadcasts have gone silent and
// publishes the removal. Malformed datagrams are dropped and counted,
// never fatal. The Announcer advertises this station's own API over
// mDNS so clients can find it the same way.
package discovery
