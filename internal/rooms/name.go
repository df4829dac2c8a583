package rooms

// Separator joins the two participant identities in a room name.
// Identities must not contain it; identity validation happens at the API edge.
const Separator = "_"

// Name derives the shared room identifier for a pair of participants.
// It is order-independent: Name(a, b) == Name(b, a). Both parties can
// therefore compute the same rendezvous key without coordination.
func Name(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + Separator + b
}
