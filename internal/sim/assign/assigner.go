// Package assign binds items to robots: capacity-aware clustering, a
// failure table that rules out hopeless robot/item pairs, and a diagnostic
// pass for items no robot can reach.
package assign

import (
	"math/rand"
	"sort"

	"warefleet.ai/internal/sim/events"
	"warefleet.ai/internal/sim/grid"
	"warefleet.ai/internal/sim/model"
	"warefleet.ai/internal/sim/path"
)

// Config is the assigner's tuning surface.
type Config struct {
	ClusterRadius      int
	FailureCeiling     int
	FailureClearChance float64
	// Cycles an item may sit unassigned before it is force-completed.
	UnassignedCeiling int
}

// dropKey marks drop-point planning failures in the failure table.
const dropKey = int64(-1)

type pairKey struct {
	robotID int64
	itemID  int64
}

// Assigner runs the per-tick assignment cycle. It owns the failure table
// and the unassigned-age counters; entities are owned by the caller.
type Assigner struct {
	g      *grid.Grid
	finder *path.Finder
	rng    *rand.Rand
	sink   events.Sink
	cfg    Config

	failures      map[pairKey]int
	unassignedAge map[int64]int
	clustering    bool
}

func New(g *grid.Grid, finder *path.Finder, rng *rand.Rand, sink events.Sink, cfg Config) *Assigner {
	if cfg.UnassignedCeiling <= 0 {
		cfg.UnassignedCeiling = 30
	}
	return &Assigner{
		g:             g,
		finder:        finder,
		rng:           rng,
		sink:          sink,
		cfg:           cfg,
		failures:      map[pairKey]int{},
		unassignedAge: map[int64]int{},
		clustering:    true,
	}
}

// SetClustering toggles cluster pickup; disabled, robots take one nearest
// item at a time.
func (a *Assigner) SetClustering(on bool) { a.clustering = on }

// Reset clears the failure table and age counters.
func (a *Assigner) Reset() {
	a.failures = map[pairKey]int{}
	a.unassignedAge = map[int64]int{}
}

// ForgetRobot drops a deleted robot's failure entries.
func (a *Assigner) ForgetRobot(robotID int64) {
	for k := range a.failures {
		if k.robotID == robotID {
			delete(a.failures, k)
		}
	}
}

// Cycle runs one assignment pass. Returns the number of items newly bound
// to robots this tick.
func (a *Assigner) Cycle(tick int64, robots []*model.Robot, items []*model.Item, drop grid.Pos) int {
	a.deliverAtDrop(tick, robots)
	a.revalidateCarrying(tick, robots, drop)
	a.replanMoving(tick, robots)

	var idle []*model.Robot
	for _, r := range robots {
		if len(r.Path) == 0 && !r.IsCarrying() && len(r.Targets) == 0 {
			idle = append(idle, r)
		}
	}
	assigned := a.assignIdle(tick, idle, items)

	if a.rng.Float64() < a.cfg.FailureClearChance {
		a.failures = map[pairKey]int{}
	}

	unassigned := availableItems(items)
	if len(unassigned) > 0 && len(idle) >= len(unassigned) {
		a.probeUnreachable(tick, unassigned, idle)
	}
	a.ageUnassigned(tick, items)
	return assigned
}

// deliverAtDrop completes deliveries for robots standing on the drop point.
func (a *Assigner) deliverAtDrop(tick int64, robots []*model.Robot) {
	drop, ok := a.g.DropPointPos()
	if !ok {
		return
	}
	for _, r := range robots {
		if !r.IsCarrying() || r.Pos != drop {
			continue
		}
		for _, it := range r.DropAll() {
			a.sink.Publish(events.Event{Tick: tick, Type: events.ItemDelivered, Payload: map[string]any{
				"robot_id": r.ID, "item_id": it.ID,
			}})
		}
		r.Path = nil
		r.ReleaseTargets()
	}
}

// revalidateCarrying replans the drop leg for carrying robots without a
// path; the failure ceiling frees the load back to the pool.
func (a *Assigner) revalidateCarrying(tick int64, robots []*model.Robot, drop grid.Pos) {
	for _, r := range robots {
		if !r.IsCarrying() || len(r.Path) > 0 {
			continue
		}
		p := a.finder.FindPath(path.Request{
			Start: r.Pos, Goal: drop, RobotID: r.ID, CarriedWeight: r.CurrentWeight,
		})
		if len(p) > 0 {
			r.Path = p
			delete(a.failures, pairKey{r.ID, dropKey})
			continue
		}
		k := pairKey{r.ID, dropKey}
		a.failures[k]++
		if a.failures[k] >= a.cfg.FailureCeiling {
			for _, it := range r.ReleaseLoad() {
				a.restoreItem(it)
				a.sink.Publish(events.Event{Tick: tick, Type: events.ItemReleased, Payload: map[string]any{
					"robot_id": r.ID, "item_id": it.ID,
				}})
			}
			delete(a.failures, k)
		}
	}
}

// replanMoving replans robots bound to targets but missing a path; the
// failure ceiling unbinds the whole target queue.
func (a *Assigner) replanMoving(tick int64, robots []*model.Robot) {
	for _, r := range robots {
		if r.IsCarrying() || len(r.Targets) == 0 || len(r.Path) > 0 {
			continue
		}
		first := r.Targets[0]
		p := a.finder.FindPath(path.Request{Start: r.Pos, Goal: first.Pos, RobotID: r.ID})
		if len(p) > 0 {
			r.Path = p
			continue
		}
		k := pairKey{r.ID, first.ID}
		a.failures[k]++
		if a.failures[k] >= a.cfg.FailureCeiling {
			for _, it := range r.Targets {
				a.sink.Publish(events.Event{Tick: tick, Type: events.ItemReleased, Payload: map[string]any{
					"robot_id": r.ID, "item_id": it.ID,
				}})
			}
			r.ReleaseTargets()
		}
	}
}

// assignIdle hands unassigned items to idle robots, cluster by cluster.
// Assignment is transactional: items are only marked assigned once a path
// to the first pickup is confirmed.
func (a *Assigner) assignIdle(tick int64, idle []*model.Robot, items []*model.Item) int {
	assigned := 0
	pool := availableItems(items)
	for _, r := range idle {
		if len(pool) == 0 {
			break
		}
		valid := a.feasibleFor(r, pool)
		if len(valid) == 0 {
			continue
		}
		sort.Slice(valid, func(i, j int) bool {
			di, dj := grid.Manhattan(valid[i].Pos, r.Pos), grid.Manhattan(valid[j].Pos, r.Pos)
			if di != dj {
				return di < dj
			}
			return valid[i].ID < valid[j].ID
		})

		var selected []*model.Item
		if a.clustering {
			best := a.selectBestCluster(a.cluster(valid), r)
			selected = a.commit(r, best)
		} else {
			selected = a.commit(r, valid[:1])
		}
		for _, it := range selected {
			it.Assigned = true
			pool = removeItem(pool, it)
			a.sink.Publish(events.Event{Tick: tick, Type: events.ItemAssigned, Payload: map[string]any{
				"robot_id": r.ID, "item_id": it.ID,
			}})
			assigned++
		}
		if len(selected) > 0 {
			r.Targets = selected
		}
	}
	return assigned
}

// commit confirms a path to the cluster's first item, then selects the
// prefix of the cluster that fits the robot's capacity. A failed probe
// counts against the robot/item pair and commits nothing.
func (a *Assigner) commit(r *model.Robot, cluster []*model.Item) []*model.Item {
	if len(cluster) == 0 {
		return nil
	}
	first := cluster[0]
	p := a.finder.FindPath(path.Request{Start: r.Pos, Goal: first.Pos, RobotID: r.ID})
	if len(p) == 0 {
		a.failures[pairKey{r.ID, first.ID}]++
		return nil
	}
	var selected []*model.Item
	weight := 0
	for _, it := range cluster {
		if weight+it.Weight > r.Capacity {
			continue
		}
		selected = append(selected, it)
		weight += it.Weight
	}
	if len(selected) > 0 {
		r.Path = p
	}
	return selected
}

// feasibleFor filters the pool to items this robot could take: weight fits
// and the pair is not ruled out by the failure table.
func (a *Assigner) feasibleFor(r *model.Robot, pool []*model.Item) []*model.Item {
	var out []*model.Item
	for _, it := range pool {
		if it.Weight > r.Capacity {
			continue
		}
		if a.failures[pairKey{r.ID, it.ID}] >= a.cfg.FailureCeiling {
			continue
		}
		out = append(out, it)
	}
	return out
}

// cluster groups items by single-linkage proximity to a seed: the nearest
// remaining item seeds each cluster and absorbs everything within the
// radius.
func (a *Assigner) cluster(items []*model.Item) [][]*model.Item {
	var clusters [][]*model.Item
	remaining := append([]*model.Item(nil), items...)
	for len(remaining) > 0 {
		seed := remaining[0]
		cur := []*model.Item{seed}
		var rest []*model.Item
		for _, it := range remaining[1:] {
			if grid.Manhattan(it.Pos, seed.Pos) <= a.cfg.ClusterRadius {
				cur = append(cur, it)
			} else {
				rest = append(rest, it)
			}
		}
		clusters = append(clusters, cur)
		remaining = rest
	}
	return clusters
}

// selectBestCluster scores clusters by capacity utilization against travel
// to the seed and returns the best cluster's fitting items.
func (a *Assigner) selectBestCluster(clusters [][]*model.Item, r *model.Robot) []*model.Item {
	bestScore := -1.0
	var best []*model.Item
	for _, cluster := range clusters {
		weight := 0
		var fit []*model.Item
		for _, it := range cluster {
			if weight+it.Weight <= r.Capacity {
				weight += it.Weight
				fit = append(fit, it)
			}
		}
		if len(fit) == 0 {
			continue
		}
		utilization := float64(weight) / float64(r.Capacity)
		dist := float64(grid.Manhattan(cluster[0].Pos, r.Pos))
		score := utilization*100 - dist*0.5
		if score > bestScore {
			bestScore = score
			best = fit
		}
	}
	return best
}

// probeUnreachable examines items whose accumulated failures suggest no
// robot can get there. Reachable ones are bound to the best prober;
// confirmed-unreachable ones get the nearest idle robot relocated beside
// them.
func (a *Assigner) probeUnreachable(tick int64, unassigned []*model.Item, idle []*model.Robot) {
	perItem := map[int64]int{}
	for k, n := range a.failures {
		if k.itemID != dropKey {
			perItem[k.itemID] += n
		}
	}
	threshold := len(idle) * 2
	for _, it := range unassigned {
		if it.Assigned || it.Picked || perItem[it.ID] < threshold {
			continue
		}
		var best *model.Robot
		bestLen := int(^uint(0) >> 1)
		var bestPath []grid.Pos
		for _, r := range idle {
			if len(r.Targets) > 0 || r.IsCarrying() {
				continue
			}
			p := a.finder.FindPath(path.Request{Start: r.Pos, Goal: it.Pos, RobotID: r.ID})
			if len(p) > 0 && len(p) < bestLen {
				best, bestLen, bestPath = r, len(p), p
			}
		}
		if best != nil {
			it.Assigned = true
			best.Targets = []*model.Item{it}
			best.Path = bestPath
			a.sink.Publish(events.Event{Tick: tick, Type: events.ItemAssigned, Payload: map[string]any{
				"robot_id": best.ID, "item_id": it.ID, "probe": true,
			}})
			continue
		}
		a.relocateTo(tick, it, idle)
	}
}

// relocateTo moves the nearest free idle robot next to a confirmed
// unreachable item and binds it.
func (a *Assigner) relocateTo(tick int64, it *model.Item, idle []*model.Robot) {
	var closest *model.Robot
	bestDist := int(^uint(0) >> 1)
	for _, r := range idle {
		if len(r.Targets) > 0 || r.IsCarrying() {
			continue
		}
		if d := grid.Manhattan(r.Pos, it.Pos); d < bestDist {
			bestDist = d
			closest = r
		}
	}
	if closest == nil {
		return
	}
	target := it.Pos
	for radius := 1; radius <= 4; radius++ {
		found := false
		for dy := -radius; dy <= radius && !found; dy++ {
			for dx := -radius; dx <= radius; dx++ {
				if absInt(dx)+absInt(dy) != radius {
					continue
				}
				p := grid.Pos{X: it.Pos.X + dx, Y: it.Pos.Y + dy}
				if a.g.IsCellEmpty(p) {
					target = p
					found = true
					break
				}
			}
		}
		if found {
			break
		}
	}
	if !a.g.MoveEntity(closest.ID, target, grid.Robot) {
		return
	}
	closest.Pos = target
	it.Assigned = true
	closest.Targets = []*model.Item{it}
	closest.Path = a.finder.FindPath(path.Request{Start: closest.Pos, Goal: it.Pos, RobotID: closest.ID})
	a.sink.Publish(events.Event{Tick: tick, Type: events.RobotMoved, Payload: map[string]any{
		"robot_id": closest.ID, "pos": target, "relocated": true, "item_id": it.ID,
	}})
}

// ageUnassigned force-completes items that have sat unassigned beyond the
// ceiling, so a map with a walled-off item cannot deadlock the run.
func (a *Assigner) ageUnassigned(tick int64, items []*model.Item) {
	live := map[int64]bool{}
	for _, it := range items {
		if !it.Available() {
			continue
		}
		live[it.ID] = true
		a.unassignedAge[it.ID]++
		if a.unassignedAge[it.ID] > a.cfg.UnassignedCeiling {
			it.Picked = true
			a.g.UnregisterEntity(it.ID)
			a.sink.Publish(events.Event{Tick: tick, Type: events.ItemDeleted, Payload: map[string]any{
				"item_id": it.ID, "forced": true,
			}})
		}
	}
	for id := range a.unassignedAge {
		if !live[id] {
			delete(a.unassignedAge, id)
		}
	}
}

// restoreItem puts a released item back on the grid when its cell is free.
func (a *Assigner) restoreItem(it *model.Item) {
	if a.g.IsCellEmpty(it.Pos) {
		a.g.RegisterEntity(it.ID, it.Pos, grid.Item)
	}
}

func availableItems(items []*model.Item) []*model.Item {
	var out []*model.Item
	for _, it := range items {
		if it.Available() {
			out = append(out, it)
		}
	}
	return out
}

func removeItem(pool []*model.Item, it *model.Item) []*model.Item {
	for i, p := range pool {
		if p == it {
			return append(pool[:i], pool[i+1:]...)
		}
	}
	return pool
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
