package cmd

import (
	"fmt"

	"github.com/kozaktomas/attendance-kiosk/internal/roster"
	"github.com/schollz/progressbar/v3"
)

func newProgressBar(total int, description, its string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString(its),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
}

// selectIdentities returns the identities named by ids, or the whole roster
// when ids is empty.
func selectIdentities(dir *roster.Roster, ids []string) ([]roster.Identity, error) {
	if len(ids) == 0 {
		return dir.All(), nil
	}
	out := make([]roster.Identity, 0, len(ids))
	for _, id := range ids {
		identity, ok := dir.ByID(id)
		if !ok {
			return nil, fmt.Errorf("identity %q is not in the roster", id)
		}
		out = append(out, identity)
	}
	return out, nil
}
