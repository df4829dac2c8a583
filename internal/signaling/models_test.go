package signaling

import "testing"

func TestCanTransition_ForwardOnly(t *testing.T) {
	cases := []struct {
		from, to InviteStatus
		ok       bool
	}{
		{StatusRinging, StatusAccepted, true},
		{StatusRinging, StatusEnded, true},
		{StatusAccepted, StatusEnded, true},
		{StatusAccepted, StatusRinging, false},
		{StatusEnded, StatusRinging, false},
		{StatusEnded, StatusAccepted, false},
		{StatusEnded, StatusEnded, false},
		{StatusRinging, StatusRinging, false},
		{StatusAccepted, StatusAccepted, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.ok {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestInviteDocRoundTrip(t *testing.T) {
	inv := CallInvite{
		RoomID:     "u1_u2",
		CallerID:   "u1",
		CallerName: "Uma",
		CalleeID:   "u2",
		CalleeName: "Umi",
		Status:     StatusRinging,
	}
	got := inviteFromDoc("c1", inviteDoc(inv))
	if got.ID != "c1" || got.RoomID != "u1_u2" || got.Status != StatusRinging || got.CalleeName != "Umi" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
