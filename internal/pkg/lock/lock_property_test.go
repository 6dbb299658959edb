// Property-based tests for per-user lock safety.
package lock

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"pgregory.net/rapid"
)

// TestConcurrentCounterSafetyProperty checks that concurrent read-modify-write
// updates guarded by the per-user lock are equivalent to sequential execution.
func TestConcurrentCounterSafetyProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numOps := rapid.IntRange(2, 20).Draw(t, "numOps")

		deltas := make([]int, numOps)
		expected := 0
		for i := 0; i < numOps; i++ {
			deltas[i] = rapid.IntRange(-5, 5).Draw(t, "delta")
			expected += deltas[i]
		}

		userID := uuid.New()
		ul := NewUserLock()
		counter := 0

		var wg sync.WaitGroup
		wg.Add(numOps)
		for _, d := range deltas {
			go func(delta int) {
				defer wg.Done()
				ul.Lock(userID)
				defer ul.Unlock(userID)
				// Deliberate read-modify-write; only the lock makes it safe.
				v := counter
				counter = v + delta
			}(d)
		}
		wg.Wait()

		if counter != expected {
			t.Fatalf("final counter %d, expected %d", counter, expected)
		}
	})
}

// TestTryLockExclusionProperty checks that TryLock fails while another
// holder owns the same user's lock and succeeds for a different user.
func TestTryLockExclusionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ul := NewUserLock()
		held := uuid.New()
		other := uuid.New()

		ul.Lock(held)
		if ul.TryLock(held) {
			t.Fatal("TryLock succeeded on a held lock")
		}
		if !ul.TryLock(other) {
			t.Fatal("TryLock failed on an uncontended lock")
		}
		ul.Unlock(other)
		ul.Unlock(held)

		// Released locks are reacquirable.
		if !ul.TryLock(held) {
			t.Fatal("TryLock failed after release")
		}
		ul.Unlock(held)
	})
}
