package affinity

import "testing"

// Pin/Unpin are platform-dependent and may legitimately fail under a
// restricted test sandbox (e.g. containers without CAP_SYS_NICE); the
// test only asserts that Unpin is always safe to call after an attempt.
func TestPinUnpinDoesNotPanic(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Pin/Unpin panicked: %v", r)
		}
	}()
	_ = Pin(0)
	Unpin()
}
