package peerservice

import (
	"sort"
	"strings"
	"sync"

	"github.com/baalimago/nexusrelay/internal/envelope"
)

const (
	// HighReputation is the score from which a peer counts as high reputation
	HighReputation = 700
	// MaxPeersPerLookup caps how many peers a get_peers returns
	MaxPeersPerLookup = 20
)

// Directory of known peers. Lookups prefer high reputation peers and count
// how often each peer is handed out, which is what routing stats are
// computed from.
type Directory struct {
	mu         sync.Mutex
	local      envelope.LocalNode
	peers      []envelope.Peer
	selections map[string]int
}

func NewDirectory(local envelope.LocalNode, peers []envelope.Peer) *Directory {
	cp := make([]envelope.Peer, len(peers))
	copy(cp, peers)
	sort.SliceStable(cp, func(i, j int) bool {
		if cp[i].Reputation != cp[j].Reputation {
			return cp[i].Reputation > cp[j].Reputation
		}
		return cp[i].PeerID < cp[j].PeerID
	})
	return &Directory{
		local:      local,
		peers:      cp,
		selections: make(map[string]int),
	}
}

// Lookup peers for targetID. An exact match of peer or device id is listed
// first, the rest follow by descending reputation.
func (d *Directory) Lookup(targetID string, limit int) []envelope.Peer {
	if limit <= 0 || limit > MaxPeersPerLookup {
		limit = MaxPeersPerLookup
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ret := make([]envelope.Peer, 0, min(limit, len(d.peers)))
	target := strings.ToLower(strings.TrimSpace(targetID))
	matched := -1
	if target != "" {
		for i, p := range d.peers {
			if strings.ToLower(p.PeerID) == target || strings.ToLower(p.DeviceID) == target {
				ret = append(ret, clonePeer(p))
				matched = i
				break
			}
		}
	}
	for i, p := range d.peers {
		if len(ret) >= limit {
			break
		}
		if i == matched {
			continue
		}
		ret = append(ret, clonePeer(p))
	}
	for _, p := range ret {
		d.selections[p.PeerID]++
	}
	return ret
}

func clonePeer(p envelope.Peer) envelope.Peer {
	p.Addresses = append([]string{}, p.Addresses...)
	return p
}

// Stats over the directory and the selections made so far
func (d *Directory) Stats() envelope.RoutingStatsPayload {
	d.mu.Lock()
	defer d.mu.Unlock()
	var highCount, lowCount, highSel, lowSel int
	for _, p := range d.peers {
		sel := d.selections[p.PeerID]
		if p.Reputation >= HighReputation {
			highCount++
			highSel += sel
		} else {
			lowCount++
			lowSel += sel
		}
	}
	var highRate, highPopulation, advantage float64
	if total := highSel + lowSel; total > 0 {
		highRate = float64(highSel) / float64(total)
	}
	if total := highCount + lowCount; total > 0 {
		highPopulation = float64(highCount) / float64(total)
	}
	if highPopulation > 0 {
		advantage = highRate / highPopulation
	}
	local := d.local
	return envelope.RoutingStatsPayload{
		LocalNode:              &local,
		TotalPeers:             len(d.peers),
		HighReputationPeers:    highCount,
		LowReputationPeers:     lowCount,
		WeightedRoutingEnabled: true,
		ExpectedAdvantage:      advantage,
		SimulationData: &envelope.SimulationData{
			HighRepSelectionRate: highRate,
			AdvantageRatio:       advantage,
		},
	}
}
