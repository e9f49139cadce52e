// Package grid holds the warehouse floor plan and the dual entity index.
// All coordinates are cell coordinates; (0,0) is the top-left corner.
package grid

import "math/rand"

type CellType uint8

const (
	Empty CellType = iota
	PermanentObstacle
	Item
	Robot
	DropPoint
	TemporaryObstacle
	SemiPermanentObstacle
)

func (c CellType) IsObstacle() bool {
	return c == PermanentObstacle || c == TemporaryObstacle || c == SemiPermanentObstacle
}

func (c CellType) String() string {
	switch c {
	case Empty:
		return "EMPTY"
	case PermanentObstacle:
		return "PERMANENT_OBSTACLE"
	case Item:
		return "ITEM"
	case Robot:
		return "ROBOT"
	case DropPoint:
		return "DROP_POINT"
	case TemporaryObstacle:
		return "TEMPORARY_OBSTACLE"
	case SemiPermanentObstacle:
		return "SEMI_PERMANENT_OBSTACLE"
	}
	return "UNKNOWN"
}

type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Manhattan returns the L1 distance between two cells.
func Manhattan(a, b Pos) int {
	dx := a.X - b.X
	if dx < 0 {
		dx = -dx
	}
	dy := a.Y - b.Y
	if dy < 0 {
		dy = -dy
	}
	return dx + dy
}

// Grid is the spatial store for cell tags and entity positions. It keeps a
// dual index (entity id -> position, position -> entity ids) that every
// mutation updates together; callers must go through the entity methods and
// never write cells for robots/items directly.
type Grid struct {
	Width  int
	Height int

	cells []CellType
	drop  *Pos

	entityPos map[int64]Pos
	posEntity map[Pos]map[int64]struct{}
}

func New(width, height int) *Grid {
	return &Grid{
		Width:     width,
		Height:    height,
		cells:     make([]CellType, width*height),
		entityPos: map[int64]Pos{},
		posEntity: map[Pos]map[int64]struct{}{},
	}
}

func (g *Grid) idx(p Pos) int { return p.Y*g.Width + p.X }

func (g *Grid) InBounds(p Pos) bool {
	return p.X >= 0 && p.X < g.Width && p.Y >= 0 && p.Y < g.Height
}

func (g *Grid) Cell(p Pos) CellType {
	if !g.InBounds(p) {
		return PermanentObstacle
	}
	return g.cells[g.idx(p)]
}

func (g *Grid) SetCell(p Pos, c CellType) bool {
	if !g.InBounds(p) {
		return false
	}
	g.cells[g.idx(p)] = c
	return true
}

func (g *Grid) ClearCell(p Pos) bool { return g.SetCell(p, Empty) }

func (g *Grid) IsCellEmpty(p Pos) bool {
	return g.InBounds(p) && g.cells[g.idx(p)] == Empty
}

// IsCellWalkable reports whether a robot could stand on p. includeTemporary
// is a planning-only relaxation: it lets search treat temporary obstacles as
// passable because they may be gone by the time the robot arrives. Actual
// movement must always call it with includeTemporary=false.
func (g *Grid) IsCellWalkable(p Pos, includeTemporary bool) bool {
	if !g.InBounds(p) {
		return false
	}
	switch g.cells[g.idx(p)] {
	case Empty, DropPoint:
		return true
	case TemporaryObstacle:
		return includeTemporary
	}
	return false
}

// DropPointPos returns the drop point, if one is set.
func (g *Grid) DropPointPos() (Pos, bool) {
	if g.drop == nil {
		return Pos{}, false
	}
	return *g.drop, true
}

// SetDropPoint moves the drop point, clearing the previous cell's tag.
func (g *Grid) SetDropPoint(p Pos) bool {
	if !g.InBounds(p) {
		return false
	}
	if g.cells[g.idx(p)] != Empty && g.cells[g.idx(p)] != DropPoint {
		return false
	}
	if g.drop != nil {
		g.cells[g.idx(*g.drop)] = Empty
	}
	d := p
	g.drop = &d
	g.cells[g.idx(p)] = DropPoint
	return true
}

// RegisterEntity places an entity on the grid and tags its cell.
func (g *Grid) RegisterEntity(id int64, p Pos, c CellType) bool {
	if !g.InBounds(p) {
		return false
	}
	if old, ok := g.entityPos[id]; ok {
		g.removeFromPosIndex(id, old)
		if old != p {
			g.cells[g.idx(old)] = Empty
		}
	}
	g.entityPos[id] = p
	g.addToPosIndex(id, p)
	g.cells[g.idx(p)] = c
	return true
}

// MoveEntity relocates a registered entity, clearing its old cell and
// tagging the new one atomically with the index update.
func (g *Grid) MoveEntity(id int64, to Pos, c CellType) bool {
	if !g.InBounds(to) {
		return false
	}
	from, ok := g.entityPos[id]
	if !ok {
		return false
	}
	g.cells[g.idx(from)] = Empty
	g.removeFromPosIndex(id, from)
	g.entityPos[id] = to
	g.addToPosIndex(id, to)
	g.cells[g.idx(to)] = c
	return true
}

// UnregisterEntity removes an entity and clears its cell.
func (g *Grid) UnregisterEntity(id int64) bool {
	p, ok := g.entityPos[id]
	if !ok {
		return false
	}
	g.cells[g.idx(p)] = Empty
	delete(g.entityPos, id)
	g.removeFromPosIndex(id, p)
	return true
}

func (g *Grid) EntityPos(id int64) (Pos, bool) {
	p, ok := g.entityPos[id]
	return p, ok
}

// EntitiesAt returns the ids of all entities occupying p.
func (g *Grid) EntitiesAt(p Pos) []int64 {
	set := g.posEntity[p]
	if len(set) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

func (g *Grid) addToPosIndex(id int64, p Pos) {
	set := g.posEntity[p]
	if set == nil {
		set = map[int64]struct{}{}
		g.posEntity[p] = set
	}
	set[id] = struct{}{}
}

func (g *Grid) removeFromPosIndex(id int64, p Pos) {
	if set := g.posEntity[p]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(g.posEntity, p)
		}
	}
}

// Resize grows the grid, preserving cells. Shrinks that would displace any
// registered entity or the drop point are rejected outright rather than
// truncated.
func (g *Grid) Resize(newWidth, newHeight int) bool {
	if newWidth <= 0 || newHeight <= 0 {
		return false
	}
	if newWidth < g.Width || newHeight < g.Height {
		for _, p := range g.entityPos {
			if p.X >= newWidth || p.Y >= newHeight {
				return false
			}
		}
		if g.drop != nil && (g.drop.X >= newWidth || g.drop.Y >= newHeight) {
			return false
		}
	}
	cells := make([]CellType, newWidth*newHeight)
	minW, minH := g.Width, g.Height
	if newWidth < minW {
		minW = newWidth
	}
	if newHeight < minH {
		minH = newHeight
	}
	for y := 0; y < minH; y++ {
		for x := 0; x < minW; x++ {
			cells[y*newWidth+x] = g.cells[y*g.Width+x]
		}
	}
	g.cells = cells
	g.Width = newWidth
	g.Height = newHeight
	return true
}

// GenerateRandomObstacles tags empty cells as permanent obstacles with the
// given density. Occupied cells and the drop point are left alone.
func (g *Grid) GenerateRandomObstacles(rng *rand.Rand, density float64) int {
	placed := 0
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			p := Pos{X: x, Y: y}
			if g.cells[g.idx(p)] == Empty && rng.Float64() < density {
				g.cells[g.idx(p)] = PermanentObstacle
				placed++
			}
		}
	}
	return placed
}
