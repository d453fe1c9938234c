// This file is part of go-mc/server project.
// Copyright (C) 2023.  Tnze
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package anvil

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSectorsNeeded(t *testing.T) {
	for _, tt := range []struct {
		n    int64
		want uint32
	}{
		{0, 0}, {1, 1}, {4095, 1}, {4096, 1}, {4097, 2}, {8192, 2}, {MaxChunkSize, MaxSectorCount},
	} {
		require.Equal(t, tt.want, SectorsNeeded(tt.n), "n = %d", tt.n)
	}
}

func TestLocation(t *testing.T) {
	v := PackLocation(2, 10)
	require.Equal(t, uint32(0x0000_0201), v)
	off, count := UnpackLocation(v)
	require.Equal(t, int64(8192), off)
	require.Equal(t, uint8(1), count)

	for _, sector := range []uint32{0, 2, 3, 0xFFFF, 0xFFFFFF} {
		for _, sectors := range []int64{1, 2, 17, 255} {
			off, count := UnpackLocation(PackLocation(sector, sectors*SectorSize))
			require.Equal(t, int64(sector)*SectorSize, off)
			require.Equal(t, uint8(sectors), count)
		}
	}
}

func TestDirectoryRoundTrip(t *testing.T) {
	var d Directory
	d.Locations[Index(Pos{0, 0})] = PackLocation(2, 100)
	d.Locations[Index(Pos{31, 31})] = PackLocation(3, 5000)
	d.Timestamps[Index(Pos{31, 31})] = 1_700_000_000

	var buf bytes.Buffer
	n, err := d.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(HeaderSize), n)
	// слот (31, 31) останній у кожній таблиці
	require.Equal(t, []byte{0, 0, 3, 2}, buf.Bytes()[SectorSize-4:SectorSize])

	got, err := ReadDirectory(&buf)
	require.NoError(t, err)
	require.Equal(t, d, *got)
}

func TestIndex(t *testing.T) {
	require.Equal(t, 0, Index(Pos{0, 0}))
	require.Equal(t, 1, Index(Pos{1, 0}))
	require.Equal(t, 32, Index(Pos{0, 1}))
	require.Equal(t, 1023, Index(Pos{31, 31}))
	for i := 0; i < Entries; i++ {
		p := PosOf(i)
		require.True(t, p.Valid())
		require.Equal(t, i, Index(p))
	}
	require.False(t, Pos{32, 0}.Valid())
	require.False(t, Pos{0, -1}.Valid())
}

func TestParseFileName(t *testing.T) {
	for _, tt := range []struct {
		name   string
		rx, rz int
	}{
		{"r.0.0.mca", 0, 0},
		{"r.-1.2.mca", -1, 2},
		{"/some/world/region/r.12.-340.mca", 12, -340},
	} {
		rx, rz, err := ParseFileName(tt.name)
		require.NoError(t, err, tt.name)
		require.Equal(t, tt.rx, rx)
		require.Equal(t, tt.rz, rz)
	}
	for _, name := range []string{"r.01.0.mca", "r.0.0.mcr", "r.a.0.mca", "r.0.mca", "x.0.0.mca", "r.0.0.mca.tmp", "r.+1.0.mca"} {
		_, _, err := ParseFileName(name)
		require.ErrorIs(t, err, ErrInvalidFileName, name)
	}
	require.Equal(t, "r.-3.7.mca", FileName(-3, 7))
}
