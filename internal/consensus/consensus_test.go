package consensus

import (
	"testing"

	"geosync/internal/multivector"
)

const eps = 1e-9

// recordingOutbox captures broadcasts for assertion.
type recordingOutbox struct {
	proposes []int64
	votes    []int64
	commits  []int64
}

func (o *recordingOutbox) SendPropose(round int64, _ multivector.Multivector) {
	o.proposes = append(o.proposes, round)
}
func (o *recordingOutbox) SendVote(round int64, _ bool) {
	o.votes = append(o.votes, round)
}
func (o *recordingOutbox) SendCommit(round int64, _ multivector.Multivector) {
	o.commits = append(o.commits, round)
}

// fakeCommitter records committed values.
type fakeCommitter struct {
	id        string
	committed []multivector.Multivector
	err       error
}

func (c *fakeCommitter) NodeID() string { return c.id }
func (c *fakeCommitter) Commit(v multivector.Multivector) error {
	if c.err != nil {
		return c.err
	}
	c.committed = append(c.committed, v)
	return nil
}

func newTestEngine() (*Engine, *fakeCommitter, *recordingOutbox) {
	committer := &fakeCommitter{id: "A"}
	outbox := &recordingOutbox{}
	return New(committer, outbox), committer, outbox
}

func TestPropose_AllocatesRoundsAndBroadcasts(t *testing.T) {
	e, _, out := newTestEngine()

	r1 := e.Propose(multivector.Scalar(1))
	r2 := e.Propose(multivector.Scalar(2))

	if r1 != 1 || r2 != 2 {
		t.Errorf("rounds should count up from 1, got %d then %d", r1, r2)
	}
	if len(out.proposes) != 2 {
		t.Errorf("each proposal should be broadcast, got %d", len(out.proposes))
	}
	if got := e.Proposals(r1); len(got) != 1 {
		t.Errorf("own proposal should be recorded, got %d", len(got))
	}
}

func TestReceiveProposal_RaisesNextRound(t *testing.T) {
	e, _, _ := newTestEngine()

	e.ReceiveProposal(5, multivector.Scalar(1))
	if r := e.Propose(multivector.Scalar(2)); r != 6 {
		t.Errorf("local rounds should advance past observed rounds, got %d", r)
	}
}

func TestTryCommit_MajorityOfThree(t *testing.T) {
	// Two yes votes out of three participants is a strict majority and
	// commits; a single yes vote does not.
	e, committer, out := newTestEngine()

	round := e.Propose(multivector.Vector(1, 0, 0))
	e.Vote(round, true)

	if _, ok, err := e.TryCommit(round, 3); err != nil || ok {
		t.Fatalf("1 of 3 must not commit (ok=%v err=%v)", ok, err)
	}

	e.ReceiveVote(round, "B", true)
	value, ok, err := e.TryCommit(round, 3)
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if !ok {
		t.Fatal("2 of 3 should commit")
	}
	if len(committer.committed) != 1 {
		t.Fatalf("commit should reach the CRDT once, got %d", len(committer.committed))
	}
	if len(out.commits) != 1 {
		t.Errorf("commit should be broadcast once, got %d", len(out.commits))
	}

	// Re-deciding a committed round returns the recorded value without a
	// second commit.
	again, ok, err := e.TryCommit(round, 3)
	if err != nil || !ok {
		t.Fatalf("recommit failed (ok=%v err=%v)", ok, err)
	}
	if !multivector.ApproxEqual(again, value, 0) {
		t.Errorf("recommit should return the recorded value, got %v", again)
	}
	if len(committer.committed) != 1 || len(out.commits) != 1 {
		t.Error("recommit must not repeat side effects")
	}
}

func TestTryCommit_TieIsNotMajority(t *testing.T) {
	e, _, _ := newTestEngine()

	round := e.Propose(multivector.Scalar(1))
	e.Vote(round, true)
	e.ReceiveVote(round, "B", true)

	// 2 yes of 4 participants is exactly half, not a strict majority.
	if _, ok, err := e.TryCommit(round, 4); err != nil || ok {
		t.Errorf("2 of 4 must not commit (ok=%v err=%v)", ok, err)
	}
}

func TestTryCommit_NoVotesAgainstCount(t *testing.T) {
	e, _, _ := newTestEngine()

	round := e.Propose(multivector.Scalar(1))
	e.Vote(round, false)
	e.ReceiveVote(round, "B", false)

	if _, ok, err := e.TryCommit(round, 3); err != nil || ok {
		t.Errorf("no votes should not commit (ok=%v err=%v)", ok, err)
	}
}

func TestReceiveCommit_FirstWriterWins(t *testing.T) {
	e, committer, _ := newTestEngine()

	e.ReceiveCommit(3, multivector.Scalar(1))
	e.ReceiveCommit(3, multivector.Scalar(2))

	got, ok := e.Committed(3)
	if !ok {
		t.Fatal("round 3 should be committed")
	}
	if !multivector.ApproxEqual(got, multivector.Scalar(1), 0) {
		t.Errorf("later commits for the same round should be ignored, got %v", got)
	}
	if len(committer.committed) != 0 {
		t.Error("remote commits must not fold into the CRDT; merge carries the value")
	}
}

func TestConsensus_MeanWithinThreshold(t *testing.T) {
	// The candidate is the exp-based mean, so even identical proposals sit
	// roughly |exp(p) - p| away from it. A threshold above that spread
	// accepts the mean; the default threshold falls through to the
	// weighted average.
	proposals := []multivector.Multivector{
		multivector.Scalar(0.01),
		multivector.Scalar(0.01),
	}

	got := Consensus(proposals, 2)
	want := multivector.Exp(multivector.Scalar(0.01))
	if !multivector.ApproxEqual(got, want, eps) {
		t.Errorf("expected the geometric mean %v, got %v", want, got)
	}

	tight := Consensus(proposals, CommitThreshold)
	if !multivector.ApproxEqual(tight, WeightedConsensus(proposals), eps) {
		t.Errorf("tight threshold should fall back to weighted, got %v", tight)
	}
}

func TestConsensus_FallsBackToWeighted(t *testing.T) {
	// Widely spread proposals exceed the threshold against the mean and
	// fall back to the magnitude-weighted average.
	proposals := []multivector.Multivector{
		multivector.Vector(10, 0, 0),
		multivector.Vector(0, 10, 0),
	}
	got := Consensus(proposals, CommitThreshold)
	want := WeightedConsensus(proposals)
	if !multivector.ApproxEqual(got, want, eps) {
		t.Errorf("expected the weighted fallback %v, got %v", want, got)
	}
}

func TestConsensus_Empty(t *testing.T) {
	if got := Consensus(nil, CommitThreshold); got != multivector.Zero() {
		t.Errorf("empty proposal set should yield zero, got %v", got)
	}
}

func TestWeightedConsensus(t *testing.T) {
	// Magnitudes 1 and 3 weight the average toward the larger proposal.
	proposals := []multivector.Multivector{
		multivector.Vector(1, 0, 0),
		multivector.Vector(3, 0, 0),
	}
	got := WeightedConsensus(proposals)
	want := multivector.Vector(2.5, 0, 0) // (1*1 + 3*3) / (1+3)
	if !multivector.ApproxEqual(got, want, eps) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestWeightedConsensus_ZeroWeight(t *testing.T) {
	proposals := []multivector.Multivector{multivector.Zero(), multivector.Zero()}
	if got := WeightedConsensus(proposals); got != multivector.Zero() {
		t.Errorf("all-zero proposals should average to zero, got %v", got)
	}
}

func TestLatticeJoinMeet(t *testing.T) {
	values := []multivector.Multivector{
		{1, 5, 0, -2, 0, 0, 0, 0},
		{3, 2, -1, 4, 0, 0, 0, 0},
	}

	join := LatticeJoin(values)
	if join[0] != 3 || join[1] != 5 || join[2] != 0 || join[3] != 4 {
		t.Errorf("join should take component-wise maxima, got %v", join)
	}

	meet := LatticeMeet(values)
	if meet[0] != 1 || meet[1] != 2 || meet[2] != -1 || meet[3] != -2 {
		t.Errorf("meet should take component-wise minima, got %v", meet)
	}

	if got := LatticeJoin(nil); got != multivector.Zero() {
		t.Errorf("empty join should be zero, got %v", got)
	}
}
