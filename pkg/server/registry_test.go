package server

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRegistryAddRemove(t *testing.T) {
	r := NewRegistry()
	r.Add("alp", "c1")
	r.Add("alp", "c2")
	r.Add("bob", "c3")

	if !r.Contains("alp") || !r.Holds("alp", "c1") || !r.Holds("alp", "c2") {
		t.Fatalf("alp should be held by c1 and c2")
	}
	if r.Holds("alp", "c3") {
		t.Fatalf("c3 never logged in as alp")
	}
	if got := r.Count(); got != 2 {
		t.Fatalf("Count = %d, want 2", got)
	}

	// One of two sessions logging out keeps the username registered.
	r.Remove("alp", "c1")
	if !r.Contains("alp") || r.Holds("alp", "c1") {
		t.Fatalf("after removing c1: Contains=%v Holds(c1)=%v", r.Contains("alp"), r.Holds("alp", "c1"))
	}
	r.Remove("alp", "c2")
	if r.Contains("alp") {
		t.Fatalf("alp should be gone after its last session left")
	}

	// Removing an absent claim is a no-op.
	r.Remove("ghost", "c9")
	if diff := cmp.Diff([]string{"bob"}, r.Usernames()); diff != "" {
		t.Errorf("Usernames mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistryEvict(t *testing.T) {
	r := NewRegistry()
	r.Add("bob", "c1")
	r.Add("bob", "c2")

	if n := r.Evict("bob"); n != 2 {
		t.Fatalf("Evict = %d, want 2", n)
	}
	if r.Contains("bob") {
		t.Fatalf("bob still registered after Evict")
	}

	// A new login under the same name does not revive the evicted sessions.
	r.Add("bob", "c3")
	if r.Holds("bob", "c1") || !r.Holds("bob", "c3") {
		t.Fatalf("re-registration leaked to evicted connections")
	}
	if n := r.Evict("nobody"); n != 0 {
		t.Fatalf("Evict(nobody) = %d, want 0", n)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := string(rune('a' + i%26))
			r.Add("shared", conn)
			_ = r.Contains("shared")
			_ = r.Usernames()
			r.Remove("shared", conn)
		}(i)
	}
	wg.Wait()
	if r.Count() > 1 {
		t.Fatalf("Count = %d after concurrent churn", r.Count())
	}
}
