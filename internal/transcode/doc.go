// Package transcode derives variant bytes from an asset's source bytes.
//
// Transcode is a pure function of its inputs: no I/O, no shared state, and
// identical source bytes plus an identical spec always produce byte-identical
// output. Cover art is decoded (PNG, JPEG, WebP), scaled to fit the spec's
// box without upscaling, and re-encoded. Audio tracks (WAV, MP3) are rendered
// as waveform images at the spec's exact dimensions.
//
// Failures are reported as *Error with a Kind; none of them can be fixed by
// calling Transcode again with the same inputs.
package transcode
