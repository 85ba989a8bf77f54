package reftable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileHeaderRoundTripV2(t *testing.T) {
	h := fileHeader{Version: 2, BlockSize: 4096, MinUpdateIndex: 10, MaxUpdateIndex: 20, HashID: HashIDSHA256}
	buf := make([]byte, headerSize(2))
	h.encode(buf)

	got, err := parseFileHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestFileHeaderV1HasNoHashID(t *testing.T) {
	h := fileHeader{Version: 1, BlockSize: 4096, MinUpdateIndex: 1, MaxUpdateIndex: 1}
	buf := make([]byte, headerSize(1))
	h.encode(buf)

	got, err := parseFileHeader(buf)
	require.NoError(t, err)
	require.Equal(t, byte(1), got.Version)
	require.Equal(t, HashIDSHA1, got.hashIDOrDefault())
}

func TestFileHeaderBadMagic(t *testing.T) {
	buf := make([]byte, headerSize(2))
	h := fileHeader{Version: 2, HashID: HashIDSHA1}
	h.encode(buf)
	buf[0] = 'X'
	_, err := parseFileHeader(buf)
	require.Error(t, err)
}

func TestFileFooterRoundTripAndCRC(t *testing.T) {
	hdr := fileHeader{Version: 2, BlockSize: 4096, MinUpdateIndex: 1, MaxUpdateIndex: 100, HashID: HashIDSHA1}
	foot := fileFooter{
		fileHeader:      hdr,
		RefIndexOffset:  0,
		ObjOffsetPacked: packObjOffset(12345, 4),
		ObjIndexOffset:  0,
		LogOffset:       6789,
		LogIndexOffset:  0,
	}
	buf := foot.encode()

	got, err := parseFileFooter(buf, hdr)
	require.NoError(t, err)
	require.Equal(t, uint64(12345), got.ObjOffset())
	require.Equal(t, 4, got.ObjIDLen())
	require.Equal(t, uint64(6789), got.LogOffset)
}

func TestFileFooterRejectsMismatchedHeader(t *testing.T) {
	hdr := fileHeader{Version: 2, BlockSize: 4096, MinUpdateIndex: 1, MaxUpdateIndex: 100, HashID: HashIDSHA1}
	foot := fileFooter{fileHeader: hdr}
	buf := foot.encode()

	other := hdr
	other.MaxUpdateIndex = 200
	_, err := parseFileFooter(buf, other)
	require.Error(t, err)
}

func TestFileFooterRejectsCorruptCRC(t *testing.T) {
	hdr := fileHeader{Version: 2, BlockSize: 4096, MinUpdateIndex: 1, MaxUpdateIndex: 100, HashID: HashIDSHA1}
	foot := fileFooter{fileHeader: hdr}
	buf := foot.encode()
	buf[40] ^= 0xff

	_, err := parseFileFooter(buf, hdr)
	require.Error(t, err)
}
