package transport

// G.711 μ-law codec. Telephony media streams carry 8-bit μ-law samples; the
// pipeline works in 16-bit linear PCM, so every inbound payload is expanded
// and every outbound chunk is companded on the way out.

const (
	ulawBias = 0x84
	ulawClip = 32635
)

var ulawSegmentEnds = [8]int32{0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF, 0x1FFF, 0x3FFF, 0x7FFF}

// EncodeULawSample compands one 16-bit linear PCM sample to μ-law.
func EncodeULawSample(sample int16) byte {
	value := int32(sample)

	var mask int32 = 0xFF
	if value < 0 {
		value = -value
		mask = 0x7F
	}
	if value > ulawClip {
		value = ulawClip
	}
	value += ulawBias

	var segment int32
	for segment = 0; segment < 8; segment++ {
		if value <= ulawSegmentEnds[segment] {
			break
		}
	}

	uval := (segment << 4) | ((value >> (segment + 3)) & 0x0F)
	return byte(uval ^ mask)
}

// DecodeULawSample expands one μ-law sample to 16-bit linear PCM.
func DecodeULawSample(u byte) int16 {
	u = ^u

	value := ((int32(u) & 0x0F) << 3) + ulawBias
	value <<= (int32(u) & 0x70) >> 4

	if u&0x80 != 0 {
		return int16(ulawBias - value)
	}
	return int16(value - ulawBias)
}

// DecodeULaw expands a μ-law payload into 16-bit little-endian PCM.
func DecodeULaw(ulaw []byte) []byte {
	pcm := make([]byte, len(ulaw)*2)
	for i, u := range ulaw {
		sample := DecodeULawSample(u)
		pcm[i*2] = byte(sample)
		pcm[i*2+1] = byte(sample >> 8)
	}
	return pcm
}

// EncodeULaw compands 16-bit little-endian PCM into a μ-law payload.
// A trailing odd byte is ignored.
func EncodeULaw(pcm []byte) []byte {
	ulaw := make([]byte, len(pcm)/2)
	for i := range ulaw {
		sample := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		ulaw[i] = EncodeULawSample(sample)
	}
	return ulaw
}
