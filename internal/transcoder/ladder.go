package transcoder

import "github.com/arjunmehta/hlsvod/pkg/models"

// Rung is one entry of the fixed resolution ladder: a three-rung
// 480p/720p/1080p table, intentionally narrower than a full 144p-4K
// ladder — the wider ladder is out of scope here, but a table plus a
// filter that drops rungs the source is too small for is what
// filterLadder below is built on.
type Rung struct {
	Resolution       models.Resolution
	Width            int
	Height           int
	VideoBitrateKbps int64
}

// Ladder is the fixed target-rendition table.
var Ladder = []Rung{
	{Resolution: models.Resolution480p, Width: 854, Height: 480, VideoBitrateKbps: 1200},
	{Resolution: models.Resolution720p, Width: 1280, Height: 720, VideoBitrateKbps: 2500},
	{Resolution: models.Resolution1080p, Width: 1920, Height: 1080, VideoBitrateKbps: 5000},
}

func rungFor(res models.Resolution) (Rung, bool) {
	for _, r := range Ladder {
		if r.Resolution == res {
			return r, true
		}
	}
	return Rung{}, false
}

// filterLadder intersects requested with the known ladder, dropping any
// rung whose height exceeds the source's height (never upscale). Requested
// order is preserved.
func filterLadder(requested []models.Resolution, sourceHeight int) []Rung {
	surviving := make([]Rung, 0, len(requested))
	for _, res := range requested {
		rung, ok := rungFor(res)
		if !ok {
			continue
		}
		if rung.Height > sourceHeight {
			continue
		}
		surviving = append(surviving, rung)
	}
	return surviving
}
