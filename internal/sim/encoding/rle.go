// Package encoding packs grid cells into compact strings for state frames.
package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"warefleet.ai/internal/sim/grid"
)

// EncodeRLE encodes a sequence of cell ids into base64(varint pairs).
// The pairs are (cell_id, run_len) repeated. Warehouse floors are mostly
// empty cells, so runs are long and the result is small.
func EncodeRLE(ids []uint16) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(ids) {
		c := ids[i]
		run := 1
		for j := i + 1; j < len(ids) && ids[j] == c && run < 1<<31; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(c))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func DecodeRLE(b64 string) ([]uint16, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	var out []uint16
	for i := 0; i < len(raw); {
		c, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if c > 0xFFFF {
			return nil, fmt.Errorf("cell id too large: %d", c)
		}
		for k := 0; k < int(run); k++ {
			out = append(out, uint16(c))
		}
	}
	return out, nil
}

// EncodeCells flattens the grid row-major and run-length encodes it.
func EncodeCells(g *grid.Grid) string {
	ids := make([]uint16, 0, g.Width*g.Height)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			ids = append(ids, uint16(g.Cell(grid.Pos{X: x, Y: y})))
		}
	}
	return EncodeRLE(ids)
}

// DecodeCells reverses EncodeCells. The encoded length must match the given
// dimensions exactly.
func DecodeCells(b64 string, width, height int) ([]grid.CellType, error) {
	ids, err := DecodeRLE(b64)
	if err != nil {
		return nil, err
	}
	if len(ids) != width*height {
		return nil, fmt.Errorf("cell count %d does not match %dx%d", len(ids), width, height)
	}
	out := make([]grid.CellType, len(ids))
	for i, c := range ids {
		if c > uint16(grid.SemiPermanentObstacle) {
			return nil, fmt.Errorf("unknown cell id %d at %d", c, i)
		}
		out[i] = grid.CellType(c)
	}
	return out, nil
}
