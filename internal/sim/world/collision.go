package world

import (
	"warefleet.ai/internal/sim/grid"
	"warefleet.ai/internal/sim/model"
)

// resolveCollisions returns the ids of robots that must skip this tick
// because another robot claims the same cell. Priorities, in order: a
// carrying robot beats an empty one, a much-more-stuck robot (margin
// stuckPriorityMargin) beats a less-stuck one, and the robot with the
// longer remaining path beats the shorter. On a full tie the
// earlier-listed robot yields.
const stuckPriorityMargin = 5

func resolveCollisions(robots []*model.Robot, proposals map[int64]grid.Pos, stuck map[int64]int) map[int64]struct{} {
	skip := map[int64]struct{}{}
	for i := 0; i < len(robots); i++ {
		r1 := robots[i]
		p1, ok := proposals[r1.ID]
		if !ok {
			continue
		}
		if _, s := skip[r1.ID]; s {
			continue
		}
		for j := i + 1; j < len(robots); j++ {
			r2 := robots[j]
			p2, ok := proposals[r2.ID]
			if !ok || p1 != p2 {
				continue
			}
			applyPriorities(r1, r2, stuck, skip)
			if _, s := skip[r1.ID]; s {
				break
			}
		}
	}
	return skip
}

func applyPriorities(r1, r2 *model.Robot, stuck map[int64]int, skip map[int64]struct{}) {
	if r1.IsCarrying() && !r2.IsCarrying() {
		skip[r2.ID] = struct{}{}
		return
	}
	if r2.IsCarrying() && !r1.IsCarrying() {
		skip[r1.ID] = struct{}{}
		return
	}

	s1, s2 := stuck[r1.ID], stuck[r2.ID]
	if d := s1 - s2; d > stuckPriorityMargin || d < -stuckPriorityMargin {
		if s1 > s2 {
			skip[r2.ID] = struct{}{}
		} else {
			skip[r1.ID] = struct{}{}
		}
		return
	}

	if len(r1.Path) > len(r2.Path) {
		skip[r2.ID] = struct{}{}
	} else {
		skip[r1.ID] = struct{}{}
	}
}
