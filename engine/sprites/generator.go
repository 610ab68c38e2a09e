// Package sprites produces the per-object animation state of every layer and
// holds the reference expansion of object records into sprite quads.
package sprites

import (
	"fmt"
	stdmath "math"

	"golang.org/x/exp/rand"

	"github.com/spaghettifunk/spritelayers/engine/math"
	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
)

// Generator regenerates object records. The random source is re-seeded at the start of
// every layer, so output depends only on (layer, object index, time).
type Generator struct {
	seed    uint64
	rng     *rand.Rand
	scratch []metadata.ObjectRecord
}

func NewGenerator(seed uint64) *Generator {
	return &Generator{
		seed: seed,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

func (g *Generator) frand() float32 {
	return g.rng.Float32()*2 - 1
}

// Fill overwrites records with the state of layer at time t.
func (g *Generator) Fill(layer uint32, t float64, records []metadata.ObjectRecord) {
	g.rng.Seed(g.seed)
	for i := range records {
		phase := float64(layer) + float64(i) + 1.0
		r := &records[i]

		r.Position = math.NewVec4(
			float32(stdmath.Cos(float64(g.frand())*(phase+t*0.03))),
			float32(stdmath.Sin(float64(g.frand())*(phase+t*0.04))),
			0, 0)
		r.Scale = math.NewVec4(0.01+g.frand()*0.01, 0.01+g.frand()*0.01, 0, 0)
		r.Rotate = math.NewVec4(g.frand(), 0, 0, 0)
		r.Color = math.NewVec4(
			g.frand()*0.5+0.5,
			g.frand()*0.5+0.5,
			g.frand()*0.5+0.5,
			g.frand()*0.5+0.5)
		r.UVInfo = math.NewVec4(0, 0, 1, 1)
		r.Metadata = math.UVec4{1, uint32(i), 0, 0}
	}
}

// Write encodes count records of layer at time t straight into a mapped object buffer.
func (g *Generator) Write(layer uint32, t float64, count uint32, dst []byte) error {
	need := uint64(count) * metadata.ObjectRecordSize
	if uint64(len(dst)) < need {
		return fmt.Errorf("object buffer holds %d bytes, %d records need %d", len(dst), count, need)
	}
	if uint32(cap(g.scratch)) < count {
		g.scratch = make([]metadata.ObjectRecord, count)
	}
	records := g.scratch[:count]
	g.Fill(layer, t, records)
	for i := range records {
		records[i].Encode(dst[i*metadata.ObjectRecordSize:])
	}
	return nil
}
