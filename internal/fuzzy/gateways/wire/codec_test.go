package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/fuzzystore/internal/fuzzy/common/log"
	"github.com/haukened/fuzzystore/internal/fuzzy/domain"
)

func TestCodec_RoundTrip(t *testing.T) {
	c := NewCodec(log.NewNoopLogger())

	want := domain.Command{
		Type: domain.CmdWrite,
		Hash: domain.NewFuzzyHash([]byte("3:hRSGuorNFUQY8SaTLCrNF:hwGmUQYZaTurN"), 768),
	}

	frame := EncodeCommand(want)
	require.Len(t, frame, FrameSize)

	got, err := c.DecodeCommand(frame)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCodec_FrameLayout(t *testing.T) {
	cmd := domain.Command{
		Type: domain.CmdDelete,
		Hash: domain.NewFuzzyHash([]byte("ab"), 0x01020304),
	}
	frame := EncodeCommand(cmd)

	assert.Equal(t, byte(2), frame[0])
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, frame[1:5])
	assert.Equal(t, byte('a'), frame[5])
	assert.Equal(t, byte('b'), frame[6])
	assert.Equal(t, byte(0), frame[7])
}

func TestCodec_ShortFrame(t *testing.T) {
	c := NewCodec(log.NewNoopLogger())

	for _, n := range []int{0, 1, 5, FrameSize - 1, FrameSize + 1} {
		_, err := c.DecodeCommand(make([]byte, n))
		assert.Error(t, err, "frame of %d bytes must be rejected", n)
	}
}

func TestCodec_UnknownCommandPassesThrough(t *testing.T) {
	c := NewCodec(log.NewNoopLogger())

	frame := make([]byte, FrameSize)
	frame[0] = 0xFF
	cmd, err := c.DecodeCommand(frame)
	require.NoError(t, err, "decode is lenient; dispatch handles unknown types")
	assert.False(t, cmd.Type.IsValid())
}

func TestCodec_EncodeReply(t *testing.T) {
	c := NewCodec(log.NewNoopLogger())
	assert.Equal(t, []byte("OK\r\n"), c.EncodeReply(true))
	assert.Equal(t, []byte("ERR\r\n"), c.EncodeReply(false))
}
