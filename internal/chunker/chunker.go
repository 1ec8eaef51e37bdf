package chunker

import "strings"

// Segment is one timed caption cue as delivered by the transcript provider.
type Segment struct {
	Text  string
	Start float64
	End   float64
}

// Chunk is a contiguous slice of transcript text. Start and End are the
// native times of the first and last contributing segments, never estimated
// from character offsets.
type Chunk struct {
	Text  string
	Start float64
	End   float64
}

// Chunker splits timed transcript segments into overlapping text windows.
type Chunker struct {
	chunkSize int
	overlap   int
}

// New returns a chunker emitting windows of roughly chunkSize characters,
// carrying the trailing overlap characters worth of source segments into the
// next window.
func New(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}
}

// Split concatenates segment texts into a rolling buffer and emits a chunk
// whenever the buffer reaches the target length. A single segment longer than
// the target is never split; the chunk grows to hold it whole. Deterministic
// for a fixed input and policy.
func (c *Chunker) Split(segments []Segment) []Chunk {
	var chunks []Chunk
	var buf []Segment
	bufLen := 0
	fresh := false // buf holds segments not yet emitted in a chunk

	flush := func() {
		if len(buf) == 0 {
			return
		}
		chunks = append(chunks, buildChunk(buf))
		fresh = false

		// Retain the trailing segments covering the overlap so the next
		// chunk keeps timestamps anchored to real source segments.
		var carry []Segment
		carryLen := 0
		for i := len(buf) - 1; i >= 0 && carryLen < c.overlap; i-- {
			carry = append([]Segment{buf[i]}, carry...)
			carryLen += len(buf[i].Text)
		}
		// A carry spanning the whole buffer would re-emit the same chunk
		// forever; drop it and start clean.
		if len(carry) == len(buf) {
			carry = nil
			carryLen = 0
		}
		buf = carry
		bufLen = carryLen
	}

	for _, seg := range segments {
		buf = append(buf, seg)
		bufLen += len(seg.Text)
		fresh = true
		if bufLen >= c.chunkSize {
			flush()
		}
	}
	// Trailing overlap-only buffers are already covered by the previous
	// chunk; only unemitted segments warrant a final chunk.
	if fresh {
		chunks = append(chunks, buildChunk(buf))
	}
	return chunks
}

func buildChunk(segs []Segment) Chunk {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	return Chunk{
		Text:  strings.Join(parts, " "),
		Start: segs[0].Start,
		End:   segs[len(segs)-1].End,
	}
}
