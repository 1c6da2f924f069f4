package gpu

import (
	"encoding/binary"
	"fmt"
)

// DrawIndexedIndirectCommandSize is the packed size of one indirect command.
const DrawIndexedIndirectCommandSize = 20

// DrawIndexedIndirectCommand matches the GPU's indexed indirect draw record.
type DrawIndexedIndirectCommand struct {
	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	VertexOffset  int32
	FirstInstance uint32
}

// Encode writes c into dst, which must hold at least 20 bytes.
func (c DrawIndexedIndirectCommand) Encode(dst []byte) {
	_ = dst[DrawIndexedIndirectCommandSize-1]
	binary.LittleEndian.PutUint32(dst[0:], c.IndexCount)
	binary.LittleEndian.PutUint32(dst[4:], c.InstanceCount)
	binary.LittleEndian.PutUint32(dst[8:], c.FirstIndex)
	binary.LittleEndian.PutUint32(dst[12:], uint32(c.VertexOffset))
	binary.LittleEndian.PutUint32(dst[16:], c.FirstInstance)
}

// DecodeDrawIndexedIndirect reads one command from src.
func DecodeDrawIndexedIndirect(src []byte) (DrawIndexedIndirectCommand, error) {
	if len(src) < DrawIndexedIndirectCommandSize {
		return DrawIndexedIndirectCommand{}, fmt.Errorf("decode indirect command: %d bytes: %w", len(src), ErrOutOfRange)
	}
	return DrawIndexedIndirectCommand{
		IndexCount:    binary.LittleEndian.Uint32(src[0:]),
		InstanceCount: binary.LittleEndian.Uint32(src[4:]),
		FirstIndex:    binary.LittleEndian.Uint32(src[8:]),
		VertexOffset:  int32(binary.LittleEndian.Uint32(src[12:])),
		FirstInstance: binary.LittleEndian.Uint32(src[16:]),
	}, nil
}

// EncodeDrawIndexedIndirect packs commands back to back.
func EncodeDrawIndexedIndirect(commands []DrawIndexedIndirectCommand) []byte {
	out := make([]byte, len(commands)*DrawIndexedIndirectCommandSize)
	for i, c := range commands {
		c.Encode(out[i*DrawIndexedIndirectCommandSize:])
	}
	return out
}
