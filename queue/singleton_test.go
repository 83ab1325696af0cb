package queue

import "testing"

func TestDefault_ReturnsSameInstance(t *testing.T) {
	a := Default()
	b := Default()
	if a != b {
		t.Error("Default() should return the same Queue on repeated calls")
	}
}
