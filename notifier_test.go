package cosched

import "testing"

func TestNotifierNotifyDrain(t *testing.T) {
	n, err := NewNotifier()
	if err != nil {
		t.Fatal(err)
	}
	defer n.Close()
	if n.FD() < 0 {
		t.Fatalf("bad fd %d", n.FD())
	}

	got, err := n.Drain()
	if err != nil || got != 0 {
		t.Fatalf("drain of idle notifier = %d, %v", got, err)
	}

	for i := 0; i < 3; i++ {
		if err := n.Notify(1); err != nil {
			t.Fatal(err)
		}
	}
	if err := n.Notify(5); err != nil {
		t.Fatal(err)
	}

	// Notifications fold into one counter read.
	got, err = n.Drain()
	if err != nil {
		t.Fatal(err)
	}
	if got != 8 {
		t.Errorf("drained %d, want 8", got)
	}
	got, err = n.Drain()
	if err != nil || got != 0 {
		t.Errorf("second drain = %d, %v", got, err)
	}
}

func TestNotifierZeroDelta(t *testing.T) {
	n, err := NewNotifier()
	if err != nil {
		t.Fatal(err)
	}
	defer n.Close()
	if err := n.Notify(0); err != nil {
		t.Fatal(err)
	}
	if got, err := n.Drain(); err != nil || got != 0 {
		t.Errorf("Notify(0) left counter at %d, %v", got, err)
	}
}
