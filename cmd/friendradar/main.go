// Command friendradar is the presence daemon behind the friend radar
// overlay. It tails the client's presence feed, classifies roster and
// presence changes into semantic events, and serves contacts, events,
// and per-contact stats to overlay clients over WebSocket.
package main

func main() {
	Execute()
}
