// Property-based tests for per-user lock serialization.
package lock

import (
	"sync"
	"sync/atomic"
	"testing"

	"pgregory.net/rapid"
)

// TestConcurrentPiecesSafetyProperty checks that concurrent read-modify-write
// updates to one user's pieces balance, run under the user's lock, end at the
// value sequential execution would produce.
func TestConcurrentPiecesSafetyProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initial := rapid.Int64Range(0, 10000).Draw(t, "initial")
		numOps := rapid.IntRange(2, 20).Draw(t, "numOps")
		userID := rapid.Int64Range(1, 1000000).Draw(t, "userID")

		deltas := make([]int64, numOps)
		expected := initial
		for i := range deltas {
			deltas[i] = rapid.Int64Range(-50, 50).Draw(t, "delta")
			expected += deltas[i]
		}

		ul := NewUserLock()
		balance := initial

		var wg sync.WaitGroup
		wg.Add(numOps)
		for _, d := range deltas {
			go func(delta int64) {
				defer wg.Done()
				ul.Lock(userID)
				defer ul.Unlock(userID)
				balance += delta
			}(d)
		}
		wg.Wait()

		if balance != expected {
			t.Fatalf("balance mismatch: expected %d, got %d (initial=%d, ops=%d)",
				expected, balance, initial, numOps)
		}
	})
}

// TestWithLockSerializesProperty checks the WithLock helper gives the same
// guarantee as explicit Lock/Unlock.
func TestWithLockSerializesProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numOps := rapid.IntRange(5, 30).Draw(t, "numOps")
		perOp := rapid.Int64Range(1, 100).Draw(t, "perOp")
		userID := rapid.Int64Range(1, 1000000).Draw(t, "userID")

		ul := NewUserLock()
		var balance int64

		var wg sync.WaitGroup
		wg.Add(numOps)
		for i := 0; i < numOps; i++ {
			go func() {
				defer wg.Done()
				_ = ul.WithLock(userID, func() error {
					balance += perOp
					return nil
				})
			}()
		}
		wg.Wait()

		if balance != int64(numOps)*perOp {
			t.Fatalf("balance mismatch: expected %d, got %d", int64(numOps)*perOp, balance)
		}
	})
}

// TestUsersLockIndependentlyProperty checks that locks for different users
// never corrupt each other's state.
func TestUsersLockIndependentlyProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numUsers := rapid.IntRange(2, 10).Draw(t, "numUsers")
		opsPerUser := rapid.IntRange(5, 20).Draw(t, "opsPerUser")

		ul := NewUserLock()
		balances := make([]int64, numUsers)

		var wg sync.WaitGroup
		wg.Add(numUsers * opsPerUser)
		for u := 0; u < numUsers; u++ {
			for j := 0; j < opsPerUser; j++ {
				go func(u int) {
					defer wg.Done()
					ul.Lock(int64(u + 1))
					defer ul.Unlock(int64(u + 1))
					balances[u] += 10
				}(u)
			}
		}
		wg.Wait()

		for u := 0; u < numUsers; u++ {
			if balances[u] != int64(opsPerUser)*10 {
				t.Fatalf("user %d: expected %d, got %d", u+1, int64(opsPerUser)*10, balances[u])
			}
		}
	})
}

// TestTryLockExclusionProperty checks TryLock admits at least one contender
// and leaves the lock free once everyone unlocks.
func TestTryLockExclusionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		userID := rapid.Int64Range(1, 1000000).Draw(t, "userID")
		attempts := rapid.IntRange(5, 20).Draw(t, "attempts")

		ul := NewUserLock()
		var wins atomic.Int32
		start := make(chan struct{})

		var wg sync.WaitGroup
		wg.Add(attempts)
		for i := 0; i < attempts; i++ {
			go func() {
				defer wg.Done()
				<-start
				if ul.TryLock(userID) {
					wins.Add(1)
					ul.Unlock(userID)
				}
			}()
		}
		close(start)
		wg.Wait()

		if wins.Load() < 1 {
			t.Fatalf("at least one TryLock should succeed, got %d", wins.Load())
		}
		if !ul.TryLock(userID) {
			t.Fatal("lock should be free after all contenders released it")
		}
		ul.Unlock(userID)
	})
}
