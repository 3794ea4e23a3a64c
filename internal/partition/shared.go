// Copyright 2026 The Hashcore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package partition

import (
	"go.uber.org/zap"

	"github.com/matrixorigin/hashcore/internal/hashtable"
	"github.com/matrixorigin/hashcore/internal/memtracker"
	"github.com/matrixorigin/hashcore/internal/moerr"
	"github.com/matrixorigin/hashcore/internal/obs"
	"github.com/matrixorigin/hashcore/internal/rowspool"
)

const initialHashBuckets = 1024

// core holds the machinery §4.4 describes as shared between
// GroupAggregator and EquiJoin: partition creation, spill selection,
// bulk resize-with-retry, and the depth-first spilled/output queues.
type core struct {
	cfg     Config
	tracker *memtracker.Tracker
	metrics *obs.Metrics
	logger  *zap.Logger

	// spillQueue holds spilled partitions awaiting repartition. New
	// spills are pushed to the front so the most recently (hence most
	// finely) partitioned data is processed first — spec.md §4.4's
	// "depth-first" ordering.
	spillQueue []*Partition
	// doneQueue holds resident partitions ready for output once input
	// is exhausted.
	doneQueue []*Partition

	maxLevelSeen uint32
}

func newCore(cfg Config, tracker *memtracker.Tracker) core {
	return core{
		cfg:     cfg,
		tracker: tracker,
		metrics: cfg.metrics(),
		logger:  cfg.logger(),
	}
}

// createPartitions creates FANOUT partitions for level, attempting to
// allocate a hash table for each. A partition whose table allocation
// fails is spilled immediately, unless hardFailOnSpill is set, in which
// case the allocation error is returned instead. Every current caller
// passes false; streaming pre-aggregation builds its own table and does
// not call this.
func (c *core) createPartitions(level uint32, htCfg hashtable.Config, hardFailOnSpill bool) ([]*Partition, error) {
	fanout := c.cfg.Fanout()
	partitions := make([]*Partition, fanout)
	for i := uint32(0); i < fanout; i++ {
		p := &Partition{Level: level, ID: i, Tracker: c.tracker.NewChild(0)}
		ht, err := hashtable.New(htCfg, p.Tracker, c.metrics, initialHashBuckets)
		if err != nil {
			if hardFailOnSpill {
				return nil, err
			}
			p.IsSpilled = true
			c.metrics.SpilledPartitions.Add(1)
		} else {
			p.HT = ht
		}
		partitions[i] = p
	}
	c.metrics.PartitionsCreated.Add(int64(fanout))
	if level > c.maxLevelSeen {
		c.maxLevelSeen = level
		c.metrics.SetMaxLevel(int64(level))
	}
	return partitions, nil
}

// spillPartition implements spec.md §4.4's spill_partition: pick the
// largest resident partition by footprint, close its hash table, unpin
// its spools, flip is_spilled. drain receives each slot still resident in
// the chosen partition's table before it's closed (spec.md §8 property 1:
// work already folded into a group or duplicate chain survives a spill).
// Returns MemoryLimitTooLow if none is resident.
func (c *core) spillPartition(partitions []*Partition, drain DrainFunc) (*Partition, error) {
	var largest *Partition
	var largestBytes int64 = -1
	for _, p := range partitions {
		if p == nil || !p.IsResident() {
			continue
		}
		if b := p.MemoryBytes(); b > largestBytes {
			largestBytes = b
			largest = p
		}
	}
	if largest == nil {
		return nil, moerr.NewMemoryLimitTooLow(c.tracker.Limit())
	}
	if pct := c.largestPartitionPercentOf(partitions, c.tracker.Consumed()); pct > 0 {
		c.metrics.SetLargestPartitionPercent(pct)
	}
	if err := largest.Spill(drain); err != nil {
		return nil, err
	}
	c.metrics.SpilledPartitions.Add(1)
	c.logger.Info("spilled partition",
		zap.Uint32("level", largest.Level), zap.Uint32("partition", largest.ID),
		zap.Int64("bytes", largestBytes))
	return largest, nil
}

// checkAndResizeAll implements spec.md §4.4's check_and_resize_all: ask
// every resident partition to accommodate numRows more rows; on failure
// spill a partition and retry, up to one retry per resident partition
// (a bound that's always enough, since each retry removes one resident
// partition from contention).
func (c *core) checkAndResizeAll(partitions []*Partition, numRows uint64, drain DrainFunc) error {
	maxRetries := len(partitions)
	for attempt := 0; attempt <= maxRetries; attempt++ {
		allOK := true
		for _, p := range partitions {
			if !p.IsResident() {
				continue
			}
			ok, err := p.HT.CheckAndResize(numRows)
			if err != nil {
				return err
			}
			if !ok {
				allOK = false
				break
			}
		}
		if allOK {
			return nil
		}
		if _, err := c.spillPartition(partitions, drain); err != nil {
			return err
		}
	}
	return moerr.NewMemoryLimitTooLow(c.tracker.Limit())
}

// moveHashPartitions implements spec.md §4.4's move_hash_partitions:
// after consuming input at the current level, an empty partition is
// closed, a spilled partition is pushed to the front of the spilled
// queue, and a resident partition is appended to the output queue.
func (c *core) moveHashPartitions(partitions []*Partition) {
	for _, p := range partitions {
		switch {
		case p.IsEmpty():
			p.Close()
		case p.IsSpilled:
			c.spillQueue = append([]*Partition{p}, c.spillQueue...)
		default:
			c.doneQueue = append(c.doneQueue, p)
		}
	}
}

// popSpilled pops the front (deepest/most-recent) spilled partition, or
// nil if the queue is empty.
func (c *core) popSpilled() *Partition {
	if len(c.spillQueue) == 0 {
		return nil
	}
	p := c.spillQueue[0]
	c.spillQueue = c.spillQueue[1:]
	return p
}

func (c *core) largestPartitionPercentOf(partitions []*Partition, total int64) float64 {
	if total == 0 {
		return 0
	}
	var max int64
	for _, p := range partitions {
		if b := p.MemoryBytes(); b > max {
			max = b
		}
	}
	return float64(max) / float64(total) * 100
}

func newSpool(tracker *memtracker.Tracker, spillDir string) *rowspool.Spool {
	return rowspool.New(tracker, spillDir)
}
