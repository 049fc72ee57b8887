package cluster

import "testing"

func TestReputationScoreNewWorkerIsNeutral(t *testing.T) {
	tr := NewReputationTracker()
	r := tr.Get("worker-a")
	if got := r.Score(); got != 50 {
		t.Errorf("expected neutral score 50 for unseen unverified worker, got %d", got)
	}
}

func TestReputationScoreReflectsSuccessRate(t *testing.T) {
	tr := NewReputationTracker()
	for i := 0; i < 8; i++ {
		tr.RecordOutcome("worker-a", true)
	}
	for i := 0; i < 2; i++ {
		tr.RecordOutcome("worker-a", false)
	}
	r := tr.Get("worker-a")
	if got := r.Score(); got != 80 {
		t.Errorf("expected score 80 for 8/10 success rate, got %d", got)
	}
}

func TestReputationQuarantineMakesIneligible(t *testing.T) {
	tr := NewReputationTracker()
	tr.RecordOutcome("worker-a", true)
	tr.Quarantine("worker-a", "output digest mismatch")

	r := tr.Get("worker-a")
	if r.Eligible() {
		t.Error("expected quarantined worker to be ineligible")
	}
	if r.QuarantineReason == "" {
		t.Error("expected quarantine reason to be recorded")
	}
}

func TestReputationBlockedLevelIsIneligible(t *testing.T) {
	r := Reputation{Level: TrustBlocked}
	if r.Eligible() {
		t.Error("expected a blocked worker to never be eligible")
	}
}

func TestTrustLevelString(t *testing.T) {
	cases := map[TrustLevel]string{
		TrustUnverified:  "unverified",
		TrustProvisional: "provisional",
		TrustTrusted:     "trusted",
		TrustBlocked:     "blocked",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Errorf("TrustLevel(%d).String() = %q, want %q", level, got, want)
		}
	}
}
