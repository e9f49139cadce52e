// Package obstacle tracks obstacle beliefs: class, confidence, lifespan and
// per-robot interaction memory. Beliefs drift as robots succeed or fail to
// traverse cells; the manager reclassifies when confidence falls below the
// threshold and expires aged obstacles each cycle.
package obstacle

import (
	"math/rand"

	"warefleet.ai/internal/sim/grid"
)

// Classification constants. Permanent obstacles never expire (lifespan -1).
const (
	ConfidencePermanent     = 0.8
	ConfidenceSemiPermanent = 0.7
	ConfidenceTemporary     = 0.9
	ConfidenceInferred      = 0.6

	LifespanPermanent     = -1
	LifespanSemiPermanent = 30
	LifespanTemporary     = 10

	// A successful pass through a believed obstacle subtracts this much.
	passConfidencePenalty = 0.2
	// Below this the obstacle downgrades one tier.
	reclassifyThreshold = 0.3

	// Interactions older than this are not worth sharing.
	shareRecencyLimit = 15
	// Per-tick chance that one random robot pair trades observations.
	ShareChance = 0.1
)

// Record is the belief state for one obstacle cell.
type Record struct {
	Class      grid.CellType `json:"class"`
	Confidence float64       `json:"confidence"`
	Lifespan   int           `json:"lifespan"`
	Age        int           `json:"age"`
}

// Interaction is one robot's memory of a cell: attempts, successes and ticks
// since last contact.
type Interaction struct {
	Attempts  int `json:"attempts"`
	Successes int `json:"successes"`
	LastSeen  int `json:"last_seen"`
}

// Reclassification describes a belief downgrade produced by an interaction.
type Reclassification struct {
	Pos  grid.Pos
	From grid.CellType
	To   grid.CellType
}

// Manager owns all obstacle records and interaction memory for one world.
// Not safe for concurrent use; the world tick loop is its only caller.
type Manager struct {
	g *grid.Grid

	records      map[grid.Pos]*Record
	interactions map[int64]map[grid.Pos]*Interaction

	// Cells cleared recently; suppresses re-expiry of the same position.
	recentlyRemoved map[grid.Pos]struct{}
}

func NewManager(g *grid.Grid) *Manager {
	m := &Manager{
		g:               g,
		records:         map[grid.Pos]*Record{},
		interactions:    map[int64]map[grid.Pos]*Interaction{},
		recentlyRemoved: map[grid.Pos]struct{}{},
	}
	m.initFromGrid()
	return m
}

// initFromGrid adopts obstacles already tagged on the grid.
func (m *Manager) initFromGrid() {
	for y := 0; y < m.g.Height; y++ {
		for x := 0; x < m.g.Width; x++ {
			p := grid.Pos{X: x, Y: y}
			switch m.g.Cell(p) {
			case grid.PermanentObstacle:
				m.records[p] = &Record{Class: grid.PermanentObstacle, Confidence: ConfidencePermanent, Lifespan: LifespanPermanent}
			case grid.TemporaryObstacle:
				m.records[p] = &Record{Class: grid.TemporaryObstacle, Confidence: ConfidencePermanent, Lifespan: LifespanTemporary}
			case grid.SemiPermanentObstacle:
				m.records[p] = &Record{Class: grid.SemiPermanentObstacle, Confidence: ConfidencePermanent, Lifespan: LifespanSemiPermanent}
			}
		}
	}
}

// Add places an obstacle of the given class. Cells holding robots, items or
// the drop point are rejected. Replacing an obstacle of a different class
// removes the old record first.
func (m *Manager) Add(p grid.Pos, class grid.CellType, confidence float64, lifespan int) bool {
	if !m.g.InBounds(p) {
		return false
	}
	cur := m.g.Cell(p)
	if cur != grid.Empty && !cur.IsObstacle() {
		return false
	}
	if cur.IsObstacle() && cur != class {
		m.Remove(p)
	}
	if !m.g.SetCell(p, class) {
		return false
	}
	m.records[p] = &Record{Class: class, Confidence: confidence, Lifespan: lifespan}
	delete(m.recentlyRemoved, p)
	return true
}

func (m *Manager) AddPermanent(p grid.Pos) bool {
	return m.Add(p, grid.PermanentObstacle, ConfidencePermanent, LifespanPermanent)
}

func (m *Manager) AddTemporary(p grid.Pos, lifespan int) bool {
	return m.Add(p, grid.TemporaryObstacle, ConfidenceTemporary, lifespan)
}

func (m *Manager) AddSemiPermanent(p grid.Pos, lifespan int) bool {
	return m.Add(p, grid.SemiPermanentObstacle, ConfidenceSemiPermanent, lifespan)
}

// Remove clears an obstacle cell and drops its record.
func (m *Manager) Remove(p grid.Pos) bool {
	if !m.g.InBounds(p) || !m.g.Cell(p).IsObstacle() {
		return false
	}
	if !m.g.ClearCell(p) {
		return false
	}
	delete(m.records, p)
	m.recentlyRemoved[p] = struct{}{}
	return true
}

// Toggle adds a permanent obstacle on an empty cell or removes whatever
// obstacle occupies the cell. Cells holding other entities are rejected.
func (m *Manager) Toggle(p grid.Pos) (added bool, ok bool) {
	if !m.g.InBounds(p) {
		return false, false
	}
	switch c := m.g.Cell(p); {
	case c == grid.Empty:
		return true, m.AddPermanent(p)
	case c.IsObstacle():
		return false, m.Remove(p)
	}
	return false, false
}

// RegisterInteraction records a robot's attempt to enter a cell and updates
// the classification: a pass through a believed obstacle erodes confidence,
// a failed move onto a believed-empty cell infers a new temporary obstacle.
// The returned reclassification, if any, is for event reporting.
func (m *Manager) RegisterInteraction(robotID int64, p grid.Pos, success bool) *Reclassification {
	per := m.interactions[robotID]
	if per == nil {
		per = map[grid.Pos]*Interaction{}
		m.interactions[robotID] = per
	}
	in := per[p]
	if in == nil {
		in = &Interaction{}
		per[p] = in
	}
	in.Attempts++
	if success {
		in.Successes++
	}
	in.LastSeen = 0

	rec := m.records[p]
	cell := m.g.Cell(p)

	if success && cell.IsObstacle() && rec != nil {
		rec.Confidence -= passConfidencePenalty
		if rec.Confidence < reclassifyThreshold {
			switch rec.Class {
			case grid.PermanentObstacle:
				rec.Class = grid.SemiPermanentObstacle
				rec.Lifespan = LifespanSemiPermanent
				rec.Confidence = 0.7
				rec.Age = 0
				m.g.SetCell(p, grid.SemiPermanentObstacle)
				return &Reclassification{Pos: p, From: grid.PermanentObstacle, To: grid.SemiPermanentObstacle}
			case grid.SemiPermanentObstacle:
				rec.Class = grid.TemporaryObstacle
				rec.Lifespan = LifespanTemporary
				rec.Confidence = 0.8
				rec.Age = 0
				m.g.SetCell(p, grid.TemporaryObstacle)
				return &Reclassification{Pos: p, From: grid.SemiPermanentObstacle, To: grid.TemporaryObstacle}
			}
		}
	} else if !success && cell == grid.Empty {
		if m.Add(p, grid.TemporaryObstacle, ConfidenceInferred, LifespanTemporary) {
			return &Reclassification{Pos: p, From: grid.Empty, To: grid.TemporaryObstacle}
		}
	}
	return nil
}

// UpdateCycle ages every non-permanent obstacle and interaction entry, then
// removes the expired ones. Returns the positions cleared this cycle.
func (m *Manager) UpdateCycle() []grid.Pos {
	var expired []grid.Pos
	for p, rec := range m.records {
		if rec.Lifespan == LifespanPermanent {
			continue
		}
		rec.Age++
		if rec.Age >= rec.Lifespan {
			expired = append(expired, p)
		}
	}
	for _, per := range m.interactions {
		for _, in := range per {
			in.LastSeen++
		}
	}

	var removed []grid.Pos
	for _, p := range expired {
		if _, seen := m.recentlyRemoved[p]; seen {
			continue
		}
		if m.Remove(p) {
			removed = append(removed, p)
		} else if !m.g.Cell(p).IsObstacle() {
			// Cell was overwritten (a robot passed through); drop the
			// stale belief.
			delete(m.records, p)
		}
	}
	if len(m.recentlyRemoved) > 50 {
		m.recentlyRemoved = map[grid.Pos]struct{}{}
	}
	return removed
}

// ShareKnowledge copies the source robot's recent interaction entries to the
// target; per cell, the more recently seen observation wins. Returns the
// number of entries transferred.
func (m *Manager) ShareKnowledge(sourceID, targetID int64) int {
	src := m.interactions[sourceID]
	if src == nil {
		return 0
	}
	dst := m.interactions[targetID]
	if dst == nil {
		dst = map[grid.Pos]*Interaction{}
		m.interactions[targetID] = dst
	}
	shared := 0
	for p, in := range src {
		if in.LastSeen > shareRecencyLimit {
			continue
		}
		cur := dst[p]
		if cur == nil || in.LastSeen < cur.LastSeen {
			cp := *in
			dst[p] = &cp
			shared++
		}
	}
	return shared
}

// MaybeShare runs the per-tick random pair exchange. robotIDs must have at
// least two entries for anything to happen.
func (m *Manager) MaybeShare(rng *rand.Rand, robotIDs []int64) int {
	if len(robotIDs) < 2 || rng.Float64() >= ShareChance {
		return 0
	}
	i := rng.Intn(len(robotIDs))
	j := rng.Intn(len(robotIDs) - 1)
	if j >= i {
		j++
	}
	return m.ShareKnowledge(robotIDs[i], robotIDs[j])
}

// RemainingLifespan returns ticks until expiry, or -1 for permanent or
// untracked cells.
func (m *Manager) RemainingLifespan(p grid.Pos) int {
	rec := m.records[p]
	if rec == nil || rec.Lifespan == LifespanPermanent {
		return -1
	}
	if left := rec.Lifespan - rec.Age; left > 0 {
		return left
	}
	return 0
}

// Info returns a copy of the record for p, if tracked.
func (m *Manager) Info(p grid.Pos) (Record, bool) {
	rec := m.records[p]
	if rec == nil {
		return Record{}, false
	}
	return *rec, true
}

// Records returns a copy of all belief state, for snapshots.
func (m *Manager) Records() map[grid.Pos]Record {
	out := make(map[grid.Pos]Record, len(m.records))
	for p, rec := range m.records {
		out[p] = *rec
	}
	return out
}

// Restore replaces all belief state, for snapshot import. Grid cells are
// retagged to match.
func (m *Manager) Restore(records map[grid.Pos]Record) {
	m.records = make(map[grid.Pos]*Record, len(records))
	for p, rec := range records {
		r := rec
		m.records[p] = &r
		m.g.SetCell(p, rec.Class)
	}
	m.interactions = map[int64]map[grid.Pos]*Interaction{}
	m.recentlyRemoved = map[grid.Pos]struct{}{}
}

// RecentlyRemoved lists positions cleared since the last Restore, for
// reset logic that respawns vanished obstacles.
func (m *Manager) RecentlyRemoved() []grid.Pos {
	out := make([]grid.Pos, 0, len(m.recentlyRemoved))
	for p := range m.recentlyRemoved {
		out = append(out, p)
	}
	return out
}

// ForgetRobot drops a robot's interaction memory when it is deleted.
func (m *Manager) ForgetRobot(robotID int64) {
	delete(m.interactions, robotID)
}
