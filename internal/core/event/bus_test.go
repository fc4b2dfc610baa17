package event

import "testing"

func TestBus_DeliversNextTick(t *testing.T) {
	b := NewBus()
	var joined []uint64
	var left int
	Subscribe(b, func(e ObserverJoined) { joined = append(joined, e.SessionID) })
	Subscribe(b, func(ObserverLeft) { left++ })

	Emit(b, ObserverJoined{SessionID: 1})
	Emit(b, ObserverJoined{SessionID: 2})
	b.DispatchAll()
	if len(joined) != 0 {
		t.Fatalf("events visible in the tick they were emitted: %v", joined)
	}

	b.SwapBuffers()
	Emit(b, ObserverLeft{SessionID: 1})
	b.DispatchAll()
	if len(joined) != 2 || joined[0] != 1 || joined[1] != 2 || left != 0 {
		t.Fatalf("joined=%v left=%d", joined, left)
	}

	b.SwapBuffers()
	b.DispatchAll()
	if len(joined) != 2 || left != 1 {
		t.Fatalf("second tick joined=%v left=%d", joined, left)
	}
}
