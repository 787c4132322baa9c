package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
)

// VideoFilters is a linear -vf chain. Methods return the extended chain
// and ignore values that would make ffmpeg reject the graph.
type VideoFilters []string

// Scale resizes every frame to width x height
func (vf VideoFilters) Scale(width, height int) VideoFilters {
	if width <= 0 || height <= 0 {
		return vf
	}
	return append(vf, fmt.Sprintf("scale=%d:%d", width, height))
}

// FPS resamples to a constant frame rate
func (vf VideoFilters) FPS(fps float64) VideoFilters {
	if fps <= 0 {
		return vf
	}
	return append(vf, "fps="+strconv.FormatFloat(fps, 'f', -1, 64))
}

func (vf VideoFilters) String() string {
	return strings.Join(vf, ",")
}

// Args returns the -vf flag pair, or nothing for an empty chain
func (vf VideoFilters) Args() []string {
	if len(vf) == 0 {
		return nil
	}
	return []string{"-vf", vf.String()}
}
