package render

// SetAfterExtractHook installs a callback run between text extraction and
// state commit, letting tests interleave overlapping renders.
func (r *Renderer) SetAfterExtractHook(f func(page int)) {
	r.afterExtract = f
}
