package main

// augmentImage writes a randomly cropped, possibly mirrored copy of src into
// dst. The crop takes an H×W window from src zero-padded by info.CropPad on
// every side; the flip mirrors columns with probability 1/2. Nothing is
// drawn from rng for a disabled transform, and with both disabled dst is a
// plain copy.
func augmentImage(dst, src []uint8, info DatasetInfo, rng *RNG) {
	pad := info.CropPad
	dx, dy := 0, 0
	if pad > 0 {
		dy = rng.IntN(2*pad+1) - pad
		dx = rng.IntN(2*pad+1) - pad
	}
	flip := info.Flip && rng.IntN(2) == 1

	h, w := info.Height, info.Width
	plane := h * w
	for c := 0; c < info.Channels; c++ {
		in, out := src[c*plane:(c+1)*plane], dst[c*plane:(c+1)*plane]
		for y := 0; y < h; y++ {
			sy := y + dy
			for x := 0; x < w; x++ {
				sx := x + dx
				if flip {
					sx = w - 1 - x + dx
				}
				if sy < 0 || sy >= h || sx < 0 || sx >= w {
					out[y*w+x] = 0
					continue
				}
				out[y*w+x] = in[sy*w+sx]
			}
		}
	}
}
