package sbc

const (
	syncWord = 0x9c
	crcPoly  = 0x1d
	crcInit  = 0x0f
)

// bitWriter appends bits MSB first into a zeroed byte slice.
type bitWriter struct {
	buf []byte
	pos int
}

func (w *bitWriter) write(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		if v>>uint(i)&1 != 0 {
			w.buf[w.pos>>3] |= 0x80 >> uint(w.pos&7)
		}
		w.pos++
	}
}

// crc8 runs the frame check over nbits of data, MSB first, continuing from crc.
func crc8(crc uint8, data []byte, nbits int) uint8 {
	for i := 0; i < nbits; i++ {
		bit := data[i>>3] >> uint(7-i&7) & 1
		feedback := (crc>>7 ^ bit) & 1
		crc <<= 1
		if feedback != 0 {
			crc ^= crcPoly
		}
	}
	return crc
}

// headerByte packs the second header byte from the configuration.
func headerByte(cfg Config) byte {
	var b byte
	b |= byte(cfg.Frequency&0x03) << 6
	b |= byte((cfg.Blocks/4-1)&0x03) << 4
	b |= byte(cfg.Mode&0x03) << 2
	b |= byte(cfg.Allocation&0x01) << 1
	if cfg.Subbands == 8 {
		b |= 1
	}
	return b
}
