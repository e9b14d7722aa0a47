package segment

import "github.com/MrWong99/earshot/pkg/audio"

// PreRoll is a bounded FIFO of recent blocks observed while no utterance is
// active. When speech starts, its contents are prepended to the utterance so
// that the onset that triggered detection is not clipped.
//
// The total number of retained samples never exceeds the ceiling. A block
// longer than the ceiling on its own is evicted immediately.
type PreRoll struct {
	blocks  []audio.Block
	total   int
	ceiling int
}

// NewPreRoll returns an empty pre-roll holding at most
// int(seconds*sampleRate) samples. A non-positive duration disables it.
func NewPreRoll(seconds float64, sampleRate int) *PreRoll {
	return &PreRoll{ceiling: max(int(seconds*float64(sampleRate)), 0)}
}

// Append adds blk at the back and evicts from the front until the total fits
// the ceiling.
func (p *PreRoll) Append(blk audio.Block) {
	p.blocks = append(p.blocks, blk)
	p.total += len(blk.Samples)

	evict := 0
	for p.total > p.ceiling && evict < len(p.blocks) {
		p.total -= len(p.blocks[evict].Samples)
		evict++
	}
	if evict > 0 {
		p.blocks = append(p.blocks[:0], p.blocks[evict:]...)
	}
}

// Snapshot returns a copy of the retained blocks, oldest first. The block
// sample slices are shared; blocks are immutable once delivered.
func (p *PreRoll) Snapshot() []audio.Block {
	if len(p.blocks) == 0 {
		return nil
	}
	out := make([]audio.Block, len(p.blocks))
	copy(out, p.blocks)
	return out
}

// Clear removes all retained blocks.
func (p *PreRoll) Clear() {
	clear(p.blocks)
	p.blocks = p.blocks[:0]
	p.total = 0
}

// Len returns the number of retained blocks.
func (p *PreRoll) Len() int { return len(p.blocks) }

// Samples returns the total number of retained samples.
func (p *PreRoll) Samples() int { return p.total }

// Ceiling returns the maximum number of samples the pre-roll retains.
func (p *PreRoll) Ceiling() int { return p.ceiling }
