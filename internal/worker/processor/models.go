package processor

// NormalizedRequest is a validated render request with defaults applied.
type NormalizedRequest struct {
	Width  int
	Height int
	FPS    int
	Slides []NormalizedSlide
}

// NormalizedSlide carries its 1-based position in the request. Every file
// name and every ordering decision downstream uses Index.
type NormalizedSlide struct {
	Index       int
	ImageURL    string
	Text        string
	DurationSec float64
}

// TotalDuration is the expected length of the rendered video in seconds.
func (r NormalizedRequest) TotalDuration() float64 {
	var total float64
	for _, s := range r.Slides {
		total += s.DurationSec
	}
	return total
}

// SlideArtifact collects the files produced for one slide. Each path is
// written by exactly one stage: ImagePath by the fetcher, TextPath by the
// overlay preparer, ClipPath by the clip synthesizer.
type SlideArtifact struct {
	Index     int
	ImagePath string
	TextPath  string
	ClipPath  string
}
