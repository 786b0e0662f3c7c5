package capture

// decodeFrame converts raw little-endian PCM16 into mono float32 in
// [-1, 1], downmixing interleaved channels by averaging.
func decodeFrame(raw []byte, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	sampleCount := len(raw) / 2
	frames := sampleCount / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			idx := (i*channels + ch) * 2
			s := int16(raw[idx]) | int16(raw[idx+1])<<8
			sum += float32(s) / 32768
		}
		out[i] = sum / float32(channels)
	}
	return out
}
