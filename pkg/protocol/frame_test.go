package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lesyd-bridge/pkg/crc"
)

func TestCRCRoundTripReadRequests(t *testing.T) {
	starts := []uint16{0}
	counts := []uint16{80, 1, 65535}
	for _, start := range starts {
		for _, count := range counts {
			frame := BuildReadHolding(start, count)
			require.True(t, crc.VerifyCRC(frame))

			body := frame[2 : len(frame)-2]
			gotStart := uint16(body[0])<<8 | uint16(body[1])
			gotCount := uint16(body[2])<<8 | uint16(body[3])
			assert.Equal(t, start, gotStart)
			assert.Equal(t, count, gotCount)
		}
	}
}

func TestCRCRoundTripWriteRequests(t *testing.T) {
	pairs := [][2]uint16{{0, 0}, {26, 1}, {67, 1000}, {65535, 65535}}
	for _, p := range pairs {
		frame := BuildWriteSingle(p[0], p[1])
		require.True(t, crc.VerifyCRC(frame))

		parsed, err := Parse(frame)
		require.NoError(t, err)
		require.NotNil(t, parsed.WriteEcho)
		assert.Equal(t, p[0], parsed.WriteEcho.Index)
		assert.Equal(t, p[1], parsed.WriteEcho.Value)
	}
}

func TestParseFullBankHolding(t *testing.T) {
	body := make([]byte, 6+BankSize*2)
	body[0], body[1] = UnitID, FuncReadHolding
	body[2], body[3] = 0, 0  // start
	body[4], body[5] = 0, 80 // count
	for i := 0; i < BankSize; i++ {
		off := 6 + i*2
		body[off], body[off+1] = 0, byte(i)
	}
	frame := crc.AppendCRC(body)

	parsed, err := Parse(frame)
	require.NoError(t, err)
	require.NotNil(t, parsed.ReadBank)
	assert.Equal(t, uint16(13), parsed.ReadBank.Values[13])
}

func TestParsePartialBankIsError(t *testing.T) {
	// start=0, count=10 (not a full bank) with 10 values.
	body := make([]byte, 4+10*2)
	body[2], body[3] = 0, 10
	frame := append([]byte{UnitID, FuncReadInput}, body...)
	frame = crc.AppendCRC(frame)

	_, err := Parse(frame)
	require.ErrorIs(t, err, ErrPartialBank)
}

func TestParseBadCRC(t *testing.T) {
	frame := BuildReadInput(0, 80)
	frame[len(frame)-1] ^= 0xFF

	_, err := Parse(frame)
	require.ErrorIs(t, err, ErrBadCRC)
}

func TestParseBadChannel(t *testing.T) {
	frame := BuildReadInput(0, 80)
	frame[0] = 0x22
	frame = crc.AppendCRC(frame[:len(frame)-2])

	_, err := Parse(frame)
	require.ErrorIs(t, err, ErrBadChannel)
}

func TestParseUnknownFunction(t *testing.T) {
	frame := []byte{UnitID, 0x10, 0x00, 0x00}
	frame = crc.AppendCRC(frame)

	_, err := Parse(frame)
	require.ErrorIs(t, err, ErrUnknownFunction)
}

func TestParseExceptionIsSilentlyFlagged(t *testing.T) {
	frame := []byte{UnitID, FuncReadHolding | 0x80, 0x02}
	frame = crc.AppendCRC(frame)

	parsed, err := Parse(frame)
	require.NoError(t, err)
	assert.True(t, parsed.Exception)
	assert.Nil(t, parsed.ReadBank)
}
