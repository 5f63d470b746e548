package v1

// RenderRequest v1: body of POST /render and of `slidecast render -f`.
// - width/height/fps: output geometry and frame rate; zero means "use the default"
// - slides: ordered list, rendered in the order given
//
// The yaml tags let request files be written in YAML; JSON files decode
// through the same tags since JSON is valid YAML.
type RenderRequest struct {
	Width  int     `json:"width,omitempty" yaml:"width,omitempty"`
	Height int     `json:"height,omitempty" yaml:"height,omitempty"`
	FPS    int     `json:"fps,omitempty" yaml:"fps,omitempty"`
	Slides []Slide `json:"slides" yaml:"slides"`
}

// Slide is one image with an optional caption and an optional duration in
// seconds. A nil or zero duration means "use the default".
type Slide struct {
	ImageURL    string   `json:"imageUrl" yaml:"imageUrl"`
	Text        string   `json:"text,omitempty" yaml:"text,omitempty"`
	DurationSec *float64 `json:"durationSec,omitempty" yaml:"durationSec,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// Error labels used in ErrorResponse.Error.
const (
	ErrSlidesRequired = "slides[] required"
	ErrInvalidRequest = "invalid_request"
	ErrRenderFailed   = "render_failed"
	ErrRenderBusy     = "render_busy"
	ErrInternal       = "internal_error"
)

// ContentType of a successful render response.
const ContentType = "video/mp4"
