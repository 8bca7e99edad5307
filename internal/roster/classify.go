package roster

// ClassifyPresence maps a single contact's availability transition to at
// most one event kind. hadPrior is false on the first observation of the
// contact.
//
// Rules, in order: a contact seen for the first time or coming off a
// disconnected state emits Connected when the new state is online; a
// connected contact going offline emits Disconnected; any other change
// between states emits StatusChanged; identical states emit nothing.
// Unknown counts as disconnected, so a contact surfacing directly as
// offline from an unknown or unset state emits no event at all.
func ClassifyPresence(prev, next Availability, hadPrior bool) (EventKind, bool) {
	wasDisconnected := !hadPrior || !prev.Connected()
	switch {
	case wasDisconnected && next.Connected():
		return Connected, true
	case next == Offline && hadPrior && prev.Connected():
		return Disconnected, true
	case hadPrior && !wasDisconnected && prev != next:
		return StatusChanged, true
	}
	return 0, false
}
