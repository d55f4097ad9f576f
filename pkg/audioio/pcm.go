package audioio

// Resample converts mono samples from one rate to another using linear
// interpolation. Good enough for speech headed to a transcriber.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	n := int(float64(len(samples)) / ratio)
	if n == 0 {
		return []int16{}
	}

	out := make([]int16, n)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(idx)
		a, b := float64(samples[idx]), float64(samples[idx+1])
		out[i] = int16(a + frac*(b-a))
	}
	return out
}

// Downmix averages interleaved frames of any channel count to mono.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	mono := make([]int16, len(samples)/channels)
	for i := range mono {
		var sum int32
		for ch := 0; ch < channels; ch++ {
			sum += int32(samples[i*channels+ch])
		}
		mono[i] = int16(sum / int32(channels))
	}
	return mono
}

// Concat joins the mono, resampled samples of chunks at rate.
// Chunks at other rates or channel counts are converted on the way.
func Concat(chunks []AudioChunk, rate int) []int16 {
	var out []int16
	for _, c := range chunks {
		if c.Empty() {
			continue
		}
		mono := Downmix(c.Samples, c.Channels)
		out = append(out, Resample(mono, c.SampleRate, rate)...)
	}
	return out
}

// Normalize converts PCM16 samples to floats in [-1, 1).
func Normalize(samples []int16, dst []float64) []float64 {
	if cap(dst) < len(samples) {
		dst = make([]float64, len(samples))
	}
	dst = dst[:len(samples)]
	for i, s := range samples {
		dst[i] = float64(s) / 32768
	}
	return dst
}
