package engine

// ProgressUpdate represents decryption progress of one file.
type ProgressUpdate struct {
	// BytesRead is the number of input bytes processed so far.
	BytesRead  int64
	TotalBytes int64

	Fragments int
	Samples   int

	// Done is set on the last update of a run; Error is its outcome.
	Done  bool
	Error error
}

// Percent returns progress as a value between 0 and 1.
func (u ProgressUpdate) Percent() float64 {
	if u.TotalBytes <= 0 {
		return 0
	}
	p := float64(u.BytesRead) / float64(u.TotalBytes)
	if p > 1 {
		p = 1
	}
	return p
}
