// Package assemble downloads resolved playlist segments and renders them
// into a single speed-adjusted episode file with ffmpeg, measuring the
// true output duration with ffprobe.
package assemble
