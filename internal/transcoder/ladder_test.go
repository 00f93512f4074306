package transcoder

import (
	"testing"

	"github.com/arjunmehta/hlsvod/pkg/models"
)

func TestFilterLadderNeverUpscales(t *testing.T) {
	requested := []models.Resolution{models.Resolution480p, models.Resolution720p, models.Resolution1080p}

	rungs := filterLadder(requested, 720)

	if len(rungs) != 2 {
		t.Fatalf("got %d rungs, want 2 (480p, 720p)", len(rungs))
	}
	if rungs[0].Resolution != models.Resolution480p || rungs[1].Resolution != models.Resolution720p {
		t.Errorf("unexpected rungs: %+v", rungs)
	}
}

func TestFilterLadderPreservesRequestedOrder(t *testing.T) {
	requested := []models.Resolution{models.Resolution1080p, models.Resolution480p}

	rungs := filterLadder(requested, 1080)

	if len(rungs) != 2 {
		t.Fatalf("got %d rungs, want 2", len(rungs))
	}
	if rungs[0].Resolution != models.Resolution1080p || rungs[1].Resolution != models.Resolution480p {
		t.Errorf("order not preserved: %+v", rungs)
	}
}

func TestFilterLadderDropsUnknownResolutions(t *testing.T) {
	requested := []models.Resolution{models.Resolution480p, models.Resolution("2160p")}

	rungs := filterLadder(requested, 2160)

	if len(rungs) != 1 {
		t.Fatalf("got %d rungs, want 1", len(rungs))
	}
	if rungs[0].Resolution != models.Resolution480p {
		t.Errorf("unexpected rung: %+v", rungs[0])
	}
}

func TestFilterLadderSourceBelowSmallestRung(t *testing.T) {
	requested := []models.Resolution{models.Resolution480p, models.Resolution720p, models.Resolution1080p}

	rungs := filterLadder(requested, 360)

	if len(rungs) != 0 {
		t.Errorf("got %d rungs, want 0 for a 360p source", len(rungs))
	}
}

func TestRungForKnownAndUnknown(t *testing.T) {
	if _, ok := rungFor(models.Resolution1080p); !ok {
		t.Error("expected 1080p to be a known rung")
	}
	if _, ok := rungFor(models.Resolution("8k")); ok {
		t.Error("expected 8k to be unknown")
	}
}
