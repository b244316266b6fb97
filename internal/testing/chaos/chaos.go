// Package chaos damages well-formed manifest and settings documents for
// loader robustness tests. A loader fed the output must return an error
// or whatever partial result it can stand behind; it must never panic.
package chaos

import (
	"bytes"
	"math/rand"
	"slices"
)

// A mutation damages a private copy of the document in one particular way.
type mutation func(rng *rand.Rand, doc []byte) []byte

// Corruptor produces damaged variants of a document. Output is
// deterministic for a given seed and call sequence, so a failing
// iteration can be replayed.
type Corruptor struct {
	rng  *rand.Rand
	muts []mutation
}

// NewCorruptor returns a seeded Corruptor covering both byte-level damage
// (bit flips, lost bytes, broken encoding, truncation) and the line-level
// damage peculiar to indented formats (reindented or duplicated lines,
// tab indentation, missing key separators).
func NewCorruptor(seed int64) *Corruptor {
	return &Corruptor{
		rng: rand.New(rand.NewSource(seed)),
		muts: []mutation{
			flipBit,
			dropByte,
			injectByte,
			breakEncoding,
			cutTail,
			shiftIndent,
			tabIndent,
			smudgeSeparator,
			duplicateLine,
		},
	}
}

// Corrupt returns a copy of doc with one randomly chosen mutation
// applied. The input is never modified. An empty document is replaced
// with a short run of random bytes so there is always something to feed
// the loader.
func (c *Corruptor) Corrupt(doc []byte) []byte {
	if len(doc) == 0 {
		junk := make([]byte, 1+c.rng.Intn(9))
		c.rng.Read(junk)
		return junk
	}
	m := c.muts[c.rng.Intn(len(c.muts))]
	return m(c.rng, bytes.Clone(doc))
}

// CorruptN chains n corruptions, compounding the damage.
func (c *Corruptor) CorruptN(doc []byte, n int) []byte {
	out := bytes.Clone(doc)
	for i := 0; i < n; i++ {
		out = c.Corrupt(out)
	}
	return out
}

// Corpus returns count corrupted variants of doc with varying damage
// intensity, suitable as a crude fuzz corpus.
func (c *Corruptor) Corpus(doc []byte, count int) [][]byte {
	out := make([][]byte, count)
	for i := range out {
		out[i] = c.CorruptN(doc, 1+c.rng.Intn(5))
	}
	return out
}

// flipBit inverts one bit somewhere in the document.
func flipBit(rng *rand.Rand, doc []byte) []byte {
	doc[rng.Intn(len(doc))] ^= 1 << rng.Intn(8)
	return doc
}

// dropByte removes a single byte.
func dropByte(rng *rand.Rand, doc []byte) []byte {
	if len(doc) < 2 {
		return doc
	}
	i := rng.Intn(len(doc))
	return append(doc[:i], doc[i+1:]...)
}

// injectByte inserts one random byte, printable or not.
func injectByte(rng *rand.Rand, doc []byte) []byte {
	i := rng.Intn(len(doc) + 1)
	doc = append(doc, 0)
	copy(doc[i+1:], doc[i:])
	doc[i] = byte(rng.Intn(256))
	return doc
}

// breakEncoding overwrites a byte with a dangling UTF-8 start byte so the
// document is no longer valid UTF-8.
func breakEncoding(rng *rand.Rand, doc []byte) []byte {
	doc[rng.Intn(len(doc))] = 0xC0 | byte(rng.Intn(0x1F))
	return doc
}

// cutTail truncates the document at an arbitrary point, typically mid
// mapping or mid value.
func cutTail(rng *rand.Rand, doc []byte) []byte {
	if len(doc) < 2 {
		return doc
	}
	return doc[:1+rng.Intn(len(doc)-1)]
}

// shiftIndent grows or shrinks the leading whitespace of one line. In an
// indentation-sensitive document this reparents or orphans a node.
func shiftIndent(rng *rand.Rand, doc []byte) []byte {
	lines := bytes.Split(doc, []byte("\n"))
	i := rng.Intn(len(lines))
	if rng.Intn(2) == 0 {
		lines[i] = append([]byte("  "), lines[i]...)
	} else {
		lines[i] = bytes.TrimLeft(lines[i], " ")
	}
	return bytes.Join(lines, []byte("\n"))
}

// tabIndent swaps a line's leading spaces for a tab, which YAML rejects
// outright.
func tabIndent(rng *rand.Rand, doc []byte) []byte {
	lines := bytes.Split(doc, []byte("\n"))
	i := rng.Intn(len(lines))
	lines[i] = append([]byte("\t"), bytes.TrimLeft(lines[i], " ")...)
	return bytes.Join(lines, []byte("\n"))
}

// smudgeSeparator deletes the first key separator on a random mapping
// line, turning the entry into a bare scalar.
func smudgeSeparator(rng *rand.Rand, doc []byte) []byte {
	lines := bytes.Split(doc, []byte("\n"))
	var candidates []int
	for i, line := range lines {
		if bytes.Contains(line, []byte(":")) || bytes.Contains(line, []byte("=")) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return doc
	}
	i := candidates[rng.Intn(len(candidates))]
	line := lines[i]
	if j := bytes.IndexByte(line, ':'); j >= 0 {
		lines[i] = slices.Delete(line, j, j+1)
	} else if j := bytes.IndexByte(line, '='); j >= 0 {
		lines[i] = slices.Delete(line, j, j+1)
	}
	return bytes.Join(lines, []byte("\n"))
}

// duplicateLine repeats one line verbatim, manufacturing duplicate keys.
func duplicateLine(rng *rand.Rand, doc []byte) []byte {
	lines := bytes.Split(doc, []byte("\n"))
	i := rng.Intn(len(lines))
	lines = slices.Insert(lines, i, bytes.Clone(lines[i]))
	return bytes.Join(lines, []byte("\n"))
}
