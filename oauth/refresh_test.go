package oauth

import (
	"testing"
	"time"
)

func TestJitteredStaysNearInterval(t *testing.T) {
	base := time.Minute
	for i := 0; i < 200; i++ {
		d := jittered(base)
		if d < base/2 {
			t.Fatalf("jittered = %v, below half the interval", d)
		}
		if d > base+base/5 {
			t.Fatalf("jittered = %v, above interval plus twenty percent", d)
		}
	}
}
