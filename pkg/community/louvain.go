package community

import (
	"sort"

	"github.com/OFFIS-RIT/forge/pkg/common"
)

// moveEpsilon is the minimum modularity gain required to move a node. Gains
// below it count as ties and are not taken, which keeps detection stable on
// symmetric graphs.
const moveEpsilon = 1e-7

// louvainGraph is the weighted undirected working graph for one detection
// level. Nodes are indexed in sorted-id order so every pass is deterministic.
// self holds collapsed intra-community weight as a self-loop per node; it
// counts twice in degree and once in total, never in adj.
type louvainGraph struct {
	ids    []string
	adj    []map[int]float64
	self   []float64
	degree []float64
	total  float64
}

func buildGraph(entities []common.Entity, relationships []common.Relationship) *louvainGraph {
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.ID)
	}
	sort.Strings(ids)

	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	g := &louvainGraph{
		ids:    ids,
		adj:    make([]map[int]float64, len(ids)),
		self:   make([]float64, len(ids)),
		degree: make([]float64, len(ids)),
	}
	for i := range g.adj {
		g.adj[i] = make(map[int]float64)
	}

	for _, rel := range relationships {
		a, ok := index[rel.SourceID]
		if !ok {
			continue
		}
		b, ok := index[rel.TargetID]
		if !ok || a == b {
			continue
		}
		w := rel.Weight
		if w <= 0 {
			w = 1
		}
		g.adj[a][b] += w
		g.adj[b][a] += w
		g.degree[a] += w
		g.degree[b] += w
		g.total += w
	}

	return g
}

// localMove runs the Louvain local moving phase: every node starts in its
// own community and is greedily reassigned to the neighbor community with
// the highest modularity gain. Candidate communities are visited in order of
// their lowest member id, so equal gains always resolve to the same
// community. Returns the community assignment per node.
func (g *louvainGraph) localMove() []int {
	n := len(g.ids)
	assignment := make([]int, n)
	for i := range assignment {
		assignment[i] = i
	}

	if g.total == 0 {
		return assignment
	}

	// Running totals of weighted degree per community.
	communityDegree := make([]float64, n)
	copy(communityDegree, g.degree)

	m2 := 2 * g.total

	for moved := true; moved; {
		moved = false
		for node := 0; node < n; node++ {
			current := assignment[node]

			// Weight from node into each adjacent community.
			weightTo := make(map[int]float64)
			for neighbor, w := range g.adj[node] {
				weightTo[assignment[neighbor]] += w
			}

			communityDegree[current] -= g.degree[node]

			// Visit candidates in ascending community index. Community
			// indices are seeded from sorted node ids, so the lowest index
			// is the community whose founding node has the lowest id.
			candidates := make([]int, 0, len(weightTo)+1)
			for c := range weightTo {
				candidates = append(candidates, c)
			}
			sort.Ints(candidates)

			best := current
			bestGain := weightTo[current] - communityDegree[current]*g.degree[node]/m2
			for _, c := range candidates {
				if c == current {
					continue
				}
				gain := weightTo[c] - communityDegree[c]*g.degree[node]/m2
				if gain > bestGain+moveEpsilon {
					best = c
					bestGain = gain
				}
			}

			communityDegree[best] += g.degree[node]
			if best != current {
				assignment[node] = best
				moved = true
			}
		}
	}

	return assignment
}

// aggregate collapses a community assignment into the coarser graph for the
// next level. Returns the coarse graph and, per coarse node, the list of
// fine node indices it covers. Coarse nodes inherit the lowest member id so
// ordering stays deterministic across levels.
func (g *louvainGraph) aggregate(assignment []int) (*louvainGraph, [][]int) {
	membersByCommunity := make(map[int][]int)
	for node, c := range assignment {
		membersByCommunity[c] = append(membersByCommunity[c], node)
	}

	communities := make([]int, 0, len(membersByCommunity))
	for c := range membersByCommunity {
		communities = append(communities, c)
	}
	sort.Slice(communities, func(i, j int) bool {
		return g.ids[membersByCommunity[communities[i]][0]] < g.ids[membersByCommunity[communities[j]][0]]
	})

	coarseIndex := make(map[int]int, len(communities))
	coarse := &louvainGraph{
		ids:    make([]string, len(communities)),
		adj:    make([]map[int]float64, len(communities)),
		self:   make([]float64, len(communities)),
		degree: make([]float64, len(communities)),
	}
	members := make([][]int, len(communities))
	for i, c := range communities {
		coarseIndex[c] = i
		coarse.ids[i] = g.ids[membersByCommunity[c][0]]
		coarse.adj[i] = make(map[int]float64)
		members[i] = membersByCommunity[c]
	}

	for node := range g.adj {
		a := coarseIndex[assignment[node]]

		// Self weight of the fine node stays with its community.
		coarse.self[a] += g.self[node]
		coarse.degree[a] += 2 * g.self[node]
		coarse.total += g.self[node]

		for neighbor, w := range g.adj[node] {
			if neighbor <= node {
				continue
			}
			b := coarseIndex[assignment[neighbor]]
			if a == b {
				// Edge internal to the community collapses into the
				// coarse node's self weight.
				coarse.self[a] += w
				coarse.degree[a] += 2 * w
				coarse.total += w
				continue
			}
			coarse.adj[a][b] += w
			coarse.adj[b][a] += w
			coarse.degree[a] += w
			coarse.degree[b] += w
			coarse.total += w
		}
	}

	return coarse, members
}

// detectLevels runs hierarchical detection and returns, per level, the
// member entity ids of every community. Level 0 is the finest partition and
// covers every entity exactly once; each deeper level groups the previous
// one. Detection stops when a level no longer reduces the community count or
// maxLevels is reached.
func detectLevels(entities []common.Entity, relationships []common.Relationship, maxLevels int) [][][]string {
	g := buildGraph(entities, relationships)
	if len(g.ids) == 0 {
		return nil
	}

	// fineMembers[i] holds the original entity ids covered by current node i.
	fineMembers := make([][]string, len(g.ids))
	for i, id := range g.ids {
		fineMembers[i] = []string{id}
	}

	var levels [][][]string
	for level := 0; level < maxLevels; level++ {
		assignment := g.localMove()
		coarse, grouped := g.aggregate(assignment)

		if len(coarse.ids) == len(g.ids) && level > 0 {
			break
		}

		levelCommunities := make([][]string, len(grouped))
		nextMembers := make([][]string, len(grouped))
		for i, nodes := range grouped {
			var all []string
			for _, node := range nodes {
				all = append(all, fineMembers[node]...)
			}
			sort.Strings(all)
			levelCommunities[i] = all
			nextMembers[i] = all
		}
		levels = append(levels, levelCommunities)

		if len(coarse.ids) == len(g.ids) || len(coarse.ids) <= 1 {
			break
		}
		g = coarse
		fineMembers = nextMembers
	}

	return levels
}
