package determinism

import (
	"math/rand"
	"testing"
	"time"
)

// TestStressShuffleObjectKeys verifies that shuffling map keys (internally)
// doesn't affect the final hash. Hash sorts map keys before hashing.
func TestStressShuffleObjectKeys(t *testing.T) {
	input := map[string]any{
		"a": 1, "b": 2, "c": 3, "d": 4, "e": 5,
		"f": 6, "g": 7, "h": 8, "i": 9, "j": 10,
	}
	expectedHash := Hash(input)

	for i := 0; i < 100; i++ {
		// Go's map iteration is already randomized, but we'll re-verify
		// that the canonicalization always produces the same result.
		h := Hash(input)
		if h != expectedHash {
			t.Fatalf("Hash mismatch after random iteration %d: %s vs %s", i, h, expectedHash)
		}
	}
}

// TestStressArrayOrderStability verifies that ARRAY order IS preserved:
// the same elements in a different order produce a different hash.
func TestStressArrayOrderStability(t *testing.T) {
	input1 := []any{1, 2, 3}
	input2 := []any{3, 2, 1}

	if Hash(input1) == Hash(input2) {
		t.Error("Hash should be sensitive to array order by default")
	}
}

// TestStressUnstableTimestamps verifies that injecting random timestamps
// results in different hashes IF not normalized.
func TestStressUnstableTimestamps(t *testing.T) {
	t1 := time.Now()
	t2 := t1.Add(time.Second)

	input1 := map[string]any{"ts": t1.Format(time.RFC3339)}
	input2 := map[string]any{"ts": t2.Format(time.RFC3339)}

	if Hash(input1) == Hash(input2) {
		t.Error("Hash should be sensitive to timestamps if not normalized")
	}

	// Normalized test
	norm := func(v any) any {
		m := v.(map[string]any)
		res := make(map[string]any)
		for k, val := range m {
			if k == "ts" {
				res[k] = "1970-01-01T00:00:00Z"
			} else {
				res[k] = val
			}
		}
		return res
	}

	if Hash(norm(input1)) != Hash(norm(input2)) {
		t.Error("Hash should be stable after timestamp normalization")
	}
}

// TestStressRandomizedInput verifies that even with randomized internal state,
// the final hash remains stable if the logic is correct.
func TestStressRandomizedInput(t *testing.T) {
	rng := rand.New(rand.NewSource(42)) // Controlled seed

	trial := func() string {
		// Simulate logic with randomized internal ordering that SHOULD be canonicalized
		obj := make(map[string]any)
		keys := []string{"foo", "bar", "baz", "qux"}
		rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
		for _, k := range keys {
			obj[k] = rng.Intn(100)
		}
		return Hash(obj)
	}

	h1 := trial()
	for i := 0; i < 50; i++ {
		trial() // Ensure RNG state advances
	}
	_ = h1

	trialFixedSeed := func() string {
		r := rand.New(rand.NewSource(42))
		obj := make(map[string]any)
		keys := []string{"foo", "bar", "baz", "qux"}
		r.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
		for _, k := range keys {
			obj[k] = 1 // Use fixed values
		}
		return Hash(obj)
	}

	h1 = trialFixedSeed()
	for i := 0; i < 50; i++ {
		h2 := trialFixedSeed()
		if h1 != h2 {
			t.Fatalf("Hash mismatch in trial %d: order-dependent hashing detected", i)
		}
	}
}
