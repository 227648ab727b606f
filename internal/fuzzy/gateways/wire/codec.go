// Package wire encodes and decodes the fuzzy storage wire protocol: a
// fixed-width binary command frame in, a short ASCII verdict out.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/haukened/fuzzystore/internal/fuzzy/common/log"
	"github.com/haukened/fuzzystore/internal/fuzzy/domain"
)

// FrameSize is the exact width of a command frame:
// cmd u8 ‖ blockSize u32 little endian ‖ pipe[64].
const FrameSize = 1 + 4 + domain.PipeSize

var (
	replyOK  = []byte("OK\r\n")
	replyErr = []byte("ERR\r\n")
)

// Codec converts between wire frames and domain commands.
type Codec interface {
	// DecodeCommand parses a complete frame. The command type is carried
	// through unvalidated; dispatch decides what an unknown type means.
	DecodeCommand(data []byte) (domain.Command, error)

	// EncodeReply renders a verdict as the client-visible reply line.
	EncodeReply(ok bool) []byte
}

// codec is the production Codec.
type codec struct {
	logger log.Logger
}

// NewCodec creates a Codec using the provided logger.
func NewCodec(logger log.Logger) Codec {
	return &codec{logger: logger}
}

func (c *codec) DecodeCommand(data []byte) (domain.Command, error) {
	if len(data) != FrameSize {
		return domain.Command{}, fmt.Errorf("invalid frame size: got %d, want %d", len(data), FrameSize)
	}

	var cmd domain.Command
	cmd.Type = domain.CommandType(data[0])
	cmd.Hash.BlockSize = binary.LittleEndian.Uint32(data[1:5])
	copy(cmd.Hash.Pipe[:], data[5:])

	c.logger.Debug(map[string]any{
		"cmd":        cmd.Type.String(),
		"block_size": cmd.Hash.BlockSize,
	}, "decoded command frame")

	return cmd, nil
}

func (c *codec) EncodeReply(ok bool) []byte {
	if ok {
		return replyOK
	}
	return replyErr
}

// EncodeCommand renders a command as a wire frame. The daemon never sends
// commands itself; this is the client half of the codec, used by tests
// and bulk-load tooling.
func EncodeCommand(cmd domain.Command) []byte {
	buf := make([]byte, FrameSize)
	buf[0] = byte(cmd.Type)
	binary.LittleEndian.PutUint32(buf[1:5], cmd.Hash.BlockSize)
	copy(buf[5:], cmd.Hash.Pipe[:])
	return buf
}
