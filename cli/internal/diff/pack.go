package diff

import "unicode/utf8"

// Pack assembles files into blocks of at most cutoff characters (runes). cutoff <= 0 uses
// DefaultCutoff.
//
// Files are visited in order. A file without hunks contributes its head; a
// file with hunks contributes head plus its last hunk as one piece, then its
// remaining hunks one at a time, walking backwards through the file. Any hunk
// that opens a new block is prefixed with its file's head. A piece that does
// not fit starts a new block, so a piece larger than cutoff ends up alone in a
// block that exceeds the limit. files is not modified.
func Pack(files []FileDiff, cutoff int) []string {
	if cutoff <= 0 {
		cutoff = DefaultCutoff
	}
	p := &packer{cutoff: cutoff, blocks: []string{""}, sizes: []int{0}}
	for _, f := range files {
		if len(f.Hunks) == 0 {
			p.add(f.Head)
			continue
		}
		p.add(f.Head + f.Hunks[0])
		for _, hunk := range f.Hunks[1:] {
			if !p.add(hunk) {
				p.replaceLast(f.Head + hunk)
			}
		}
	}
	return p.blocks
}

type packer struct {
	cutoff int
	blocks []string
	// sizes[i] is the rune count of blocks[i].
	sizes []int
}

// add appends piece to the last block if it fits and reports true; otherwise
// it opens a new block holding piece and reports false. An empty last block
// always takes the piece.
func (p *packer) add(piece string) bool {
	n := utf8.RuneCountInString(piece)
	last := len(p.blocks) - 1
	if p.blocks[last] == "" || p.sizes[last]+n <= p.cutoff {
		p.blocks[last] += piece
		p.sizes[last] += n
		return true
	}
	p.blocks = append(p.blocks, piece)
	p.sizes = append(p.sizes, n)
	return false
}

func (p *packer) replaceLast(block string) {
	last := len(p.blocks) - 1
	p.blocks[last] = block
	p.sizes[last] = utf8.RuneCountInString(block)
}
