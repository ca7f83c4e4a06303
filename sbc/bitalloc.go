package sbc

// allocateBits fills bits from the scale factors of a frame.
// Mono and dual channel allocate each channel from its own bitpool;
// stereo and joint stereo share one bitpool over both channels.
func allocateBits(cfg Config, sf *[2][8]int, bits *[2][8]int) {
	switch cfg.Mode {
	case Mono:
		allocateChannels(cfg, sf, bits, []int{0})
	case DualChannel:
		allocateChannels(cfg, sf, bits, []int{0})
		allocateChannels(cfg, sf, bits, []int{1})
	default:
		allocateChannels(cfg, sf, bits, []int{0, 1})
	}
}

func allocateChannels(cfg Config, sf *[2][8]int, bits *[2][8]int, channels []int) {
	m := cfg.Subbands
	var bitneed [2][8]int

	maxBitneed := 0
	for _, ch := range channels {
		for sb := 0; sb < m; sb++ {
			bitneed[ch][sb] = computeBitneed(cfg, sf[ch][sb], sb)
			if bitneed[ch][sb] > maxBitneed {
				maxBitneed = bitneed[ch][sb]
			}
		}
	}

	bitcount := 0
	slicecount := 0
	bitslice := maxBitneed + 1
	for {
		bitslice--
		bitcount += slicecount
		slicecount = 0
		for _, ch := range channels {
			for sb := 0; sb < m; sb++ {
				need := bitneed[ch][sb]
				if need > bitslice+1 && need < bitslice+16 {
					slicecount++
				} else if need == bitslice+1 {
					slicecount += 2
				}
			}
		}
		if bitcount+slicecount >= cfg.Bitpool {
			break
		}
	}
	if bitcount+slicecount == cfg.Bitpool {
		bitcount += slicecount
		bitslice--
	}

	for _, ch := range channels {
		for sb := 0; sb < m; sb++ {
			if bitneed[ch][sb] < bitslice+2 {
				bits[ch][sb] = 0
			} else {
				bits[ch][sb] = min(bitneed[ch][sb]-bitslice, 16)
			}
		}
	}

	for sb := 0; sb < m && bitcount < cfg.Bitpool; sb++ {
		for _, ch := range channels {
			if bitcount >= cfg.Bitpool {
				break
			}
			if bits[ch][sb] >= 2 && bits[ch][sb] < 16 {
				bits[ch][sb]++
				bitcount++
			} else if bitneed[ch][sb] == bitslice+1 && cfg.Bitpool > bitcount+1 {
				bits[ch][sb] = 2
				bitcount += 2
			}
		}
	}

	for sb := 0; sb < m && bitcount < cfg.Bitpool; sb++ {
		for _, ch := range channels {
			if bitcount >= cfg.Bitpool {
				break
			}
			if bits[ch][sb] < 16 {
				bits[ch][sb]++
				bitcount++
			}
		}
	}
}

func computeBitneed(cfg Config, scaleFactor, sb int) int {
	if cfg.Allocation == SNR {
		return scaleFactor
	}
	if scaleFactor == 0 {
		return -5
	}
	var offset int
	if cfg.Subbands == 4 {
		offset = loudnessOffset4[cfg.Frequency][sb]
	} else {
		offset = loudnessOffset8[cfg.Frequency][sb]
	}
	loudness := scaleFactor - offset
	if loudness > 0 {
		return loudness / 2
	}
	return loudness
}
