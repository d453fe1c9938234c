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
	"encoding/binary"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Tnze/go-mc/save/region"

	"FlowyAnvil/world/nbtree"
)

// slot - один запис, який треба покласти у штучний файл регіону
type slot struct {
	pos       Pos
	sector    uint32
	declared  uint8
	timestamp uint32
	data      []byte // сирий запис разом із заголовком
}

// buildRegion збирає файл регіону руками, не чіпаючи коду, який тестуємо
func buildRegion(slots ...slot) []byte {
	size := HeaderSize
	for _, s := range slots {
		end := int(s.sector)*SectorSize + len(s.data)
		if end > size {
			size = end
		}
	}
	size = (size + SectorSize - 1) / SectorSize * SectorSize
	buf := make([]byte, size)
	for _, s := range slots {
		i := Index(s.pos)
		binary.BigEndian.PutUint32(buf[i*4:], s.sector<<8|uint32(s.declared))
		binary.BigEndian.PutUint32(buf[SectorSize+i*4:], s.timestamp)
		copy(buf[int(s.sector)*SectorSize:], s.data)
	}
	return buf
}

func observed(level zapcore.Level) (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(core), logs
}

func TestParseSingleZlibChunk(t *testing.T) {
	raw := buildRegion(slot{
		pos:       Pos{0, 0},
		sector:    2,
		declared:  1,
		timestamp: 1_600_000_000,
		data:      record(byte(CompressionZlib), compressed(t, CompressionZlib, tinyNBT)),
	})
	log, logs := observed(zap.WarnLevel)
	r, err := Parse(bytes.NewReader(raw), "", log)
	require.NoError(t, err)
	require.Equal(t, 1, r.Len())
	require.Zero(t, logs.Len())

	c, ok := r.Get(Pos{0, 0})
	require.True(t, ok)
	require.Equal(t, uint32(1), c.SectorCount)
	require.Equal(t, uint32(1_600_000_000), c.Timestamp)
	require.Equal(t, CompressionZlib, c.Compression)
	data, err := c.Data.Marshal()
	require.NoError(t, err)
	require.Len(t, data, 10)
	require.Equal(t, tinyNBT, data)
}

// exactSectorChunk - нестиснений запис рівно на 4096 байт разом із заголовком
func exactSectorChunk(t *testing.T) []byte {
	t.Helper()
	root := nbtree.New("")
	// 3 (корінь) + 8 (заголовок ByteArray "d") + 1 (TagEnd) + 5 (заголовок запису)
	require.NoError(t, nbtree.Set(root.Tags, "d", make([]byte, SectorSize-17)))
	var buf bytes.Buffer
	_, err := NewChunk(root, CompressionNone).WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, SectorSize, buf.Len())
	return buf.Bytes()
}

func TestParseSectorCountTolerance(t *testing.T) {
	data := exactSectorChunk(t)
	for _, tt := range []struct {
		declared uint8
		warns    int
	}{
		{1, 0},
		{2, 0}, // так пише сама гра
		{3, 1},
		{0, 1},
	} {
		log, logs := observed(zap.WarnLevel)
		raw := buildRegion(slot{pos: Pos{5, 7}, sector: 2, declared: tt.declared, timestamp: 1_600_000_000, data: data})
		r, err := Parse(bytes.NewReader(raw), "", log)
		require.NoError(t, err)
		require.Equal(t, 1, r.Len(), "declared %d", tt.declared)
		require.Equal(t, tt.warns, logs.FilterMessage("Chunk sector count mismatch").Len(), "declared %d", tt.declared)

		c, _ := r.Get(Pos{5, 7})
		require.Equal(t, uint32(1), c.SectorCount)
	}
}

func TestParseSkipsBadRecords(t *testing.T) {
	good := record(byte(CompressionNone), tinyNBT)
	raw := buildRegion(
		slot{pos: Pos{0, 0}, sector: 2, declared: 1, timestamp: 1_600_000_000, data: record(0x7F, tinyNBT)},
		slot{pos: Pos{1, 0}, sector: 3, declared: 1, timestamp: 1_600_000_000, data: good},
		slot{pos: Pos{2, 0}, sector: 4, declared: 1, timestamp: 1_600_000_000, data: record(0x82, nil)},
		slot{pos: Pos{3, 0}, sector: 5, declared: 1, timestamp: 1_600_000_000, data: record(byte(CompressionZlib), []byte("not zlib"))},
		slot{pos: Pos{4, 0}, sector: 1, declared: 1, timestamp: 1_600_000_000, data: nil},
	)
	log, logs := observed(zap.WarnLevel)
	r, err := Parse(bytes.NewReader(raw), "", log)
	require.NoError(t, err)
	require.Equal(t, []Pos{{1, 0}}, r.Positions())
	require.Equal(t, 3, logs.FilterMessage("Skip unreadable chunk").Len())
	require.Equal(t, 1, logs.FilterMessage("Skip chunk inside region header").Len())

	unknown := logs.FilterMessage("Skip unreadable chunk").All()[0]
	require.Equal(t, "(0, 0)", unknown.ContextMap()["pos"])
}

func TestParseTimestampWarning(t *testing.T) {
	raw := buildRegion(slot{pos: Pos{0, 0}, sector: 2, declared: 1, timestamp: 12345, data: record(byte(CompressionNone), tinyNBT)})
	log, logs := observed(zap.WarnLevel)
	r, err := Parse(bytes.NewReader(raw), "", log)
	require.NoError(t, err)
	require.Equal(t, 1, r.Len())
	require.Equal(t, 1, logs.FilterMessage("Invalid chunk timestamp").Len())
	c, _ := r.Get(Pos{0, 0})
	require.Equal(t, uint32(12345), c.Timestamp)
}

func TestParseCorruptDirectory(t *testing.T) {
	raw := buildRegion(slot{pos: Pos{0, 0}, sector: 2, declared: 1, timestamp: 1_600_000_000, data: record(byte(CompressionNone), tinyNBT)})
	binary.BigEndian.PutUint32(raw[4:], 0xFFFFFF<<8|1)
	_, err := Parse(bytes.NewReader(raw), "", nil)
	require.ErrorIs(t, err, ErrCorruptDirectory)

	_, err = Parse(bytes.NewReader(raw[:100]), "", nil)
	require.Error(t, err)
}

func randomRegion(t *testing.T, path string, n int) *Region {
	t.Helper()
	rng := rand.New(rand.NewSource(int64(n)))
	r := New(path, nil)
	for _, i := range rng.Perm(Entries)[:n] {
		root := nbtree.New("")
		blob := make([]byte, rng.Intn(3*SectorSize))
		rng.Read(blob)
		require.NoError(t, nbtree.Set(root.Tags, "blob", blob))
		require.NoError(t, nbtree.Set(root.Tags, "i", int32(i)))
		c := NewChunk(root, []Compression{CompressionGzip, CompressionZlib, CompressionNone}[i%3])
		c.Timestamp = 1_600_000_000 + uint32(i)
		require.NoError(t, r.Set(PosOf(i), c))
	}
	return r
}

func TestRegionRoundTrip(t *testing.T) {
	for _, n := range []int{1, 7, 100, Entries} {
		path := filepath.Join(t.TempDir(), "r.-1.2.mca")
		want := randomRegion(t, path, n)
		require.True(t, want.Modified())
		require.NoError(t, want.Save(""))
		require.False(t, want.Modified())

		st, err := os.Stat(path)
		require.NoError(t, err)
		require.Zero(t, st.Size()%SectorSize)
		_, err = os.Stat(path + ".tmp")
		require.ErrorIs(t, err, fs.ErrNotExist)

		got, err := Load(path, nil)
		require.NoError(t, err)
		require.Equal(t, want.Positions(), got.Positions())
		require.False(t, got.Modified())
		require.True(t, got.HasPos)
		require.Equal(t, [2]int{-1, 2}, [2]int{got.X, got.Z})

		got.Range(func(p Pos, c *Chunk) bool {
			w, _ := want.Get(p)
			require.Equal(t, w.Timestamp, c.Timestamp)
			require.Equal(t, w.Compression, c.Compression)
			require.Equal(t, w.SectorCount, c.SectorCount)
			wb, err := w.Data.Marshal()
			require.NoError(t, err)
			gb, err := c.Data.Marshal()
			require.NoError(t, err)
			require.Equal(t, wb, gb)
			return true
		})
	}
}

func TestRegionEmptyWriteIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.0.0.mca")
	r := New(path, nil)
	require.NoError(t, r.Save(""))
	_, err := os.Stat(path)
	require.ErrorIs(t, err, fs.ErrNotExist)

	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	defer f.Close()
	n, err := r.WriteTo(f)
	require.NoError(t, err)
	require.Zero(t, n)
	st, err := f.Stat()
	require.NoError(t, err)
	require.Zero(t, st.Size())

	require.ErrorIs(t, New("", nil).Save(""), ErrNoFilename)
}

func TestRegionMapSemantics(t *testing.T) {
	r := New("", nil)
	a := NewChunk(nbtree.New(""), CompressionZlib)
	b := NewChunk(nbtree.New(""), CompressionZlib)
	require.NoError(t, r.Set(Pos{3, 1}, a))
	require.NoError(t, r.Set(Pos{3, 1}, b))
	require.NoError(t, r.Set(Pos{0, 2}, a))
	require.ErrorIs(t, r.Set(Pos{32, 0}, a), ErrInvalidPos)
	require.ErrorIs(t, r.Set(Pos{1, 1}, nil), ErrNilChunk)
	require.Equal(t, 2, r.Len())

	got, ok := r.Get(Pos{3, 1})
	require.True(t, ok)
	require.Same(t, b, got)

	require.Equal(t, []Pos{{3, 1}, {0, 2}}, r.Positions())
	r.Delete(Pos{3, 1})
	r.Delete(Pos{9, 9})
	require.Equal(t, 1, r.Len())
	_, ok = r.Get(Pos{3, 1})
	require.False(t, ok)
}

func TestRegionChunkAt(t *testing.T) {
	r := New("world/region/r.-1.2.mca", nil)
	require.True(t, r.HasPos)
	c := NewChunk(nbtree.New(""), CompressionZlib)
	require.NoError(t, r.Set(Pos{31, 0}, c))

	got, ok, err := r.ChunkAt(-1, 64)
	require.NoError(t, err)
	require.True(t, ok)
	require.Same(t, c, got)

	cx, cz, err := r.WorldPos(Pos{31, 0})
	require.NoError(t, err)
	require.Equal(t, [2]int{-1, 64}, [2]int{cx, cz})

	_, _, err = r.ChunkAt(0, 64)
	require.ErrorIs(t, err, ErrForeignChunk)

	_, _, err = New("", nil).ChunkAt(0, 0)
	require.ErrorIs(t, err, ErrNoPosition)
}

// Перевіряємо сумісність з реалізацією регіонів з go-mc в обидва боки
func TestGoMCInterop(t *testing.T) {
	dir := t.TempDir()

	ours := filepath.Join(dir, "r.0.0.mca")
	r := New(ours, nil)
	root := nbtree.New("")
	require.NoError(t, nbtree.Set(root.Tags, "ab", int8(5)))
	c := NewChunk(root, CompressionZlib)
	c.Timestamp = 1_600_000_000
	require.NoError(t, r.Set(Pos{3, 5}, c))
	require.NoError(t, r.Save(""))

	theirs, err := region.Open(ours)
	require.NoError(t, err)
	require.True(t, theirs.ExistSector(3, 5))
	require.False(t, theirs.ExistSector(5, 3))
	sector, err := theirs.ReadSector(3, 5)
	require.NoError(t, err)
	require.NoError(t, theirs.Close())
	require.Equal(t, byte(CompressionZlib), sector[0])
	data, err := CompressionZlib.decompress(sector[1:])
	require.NoError(t, err)
	require.Equal(t, tinyNBT, data)

	other := filepath.Join(dir, "r.1.0.mca")
	w, err := region.Create(other)
	require.NoError(t, err)
	require.NoError(t, w.WriteSector(7, 9, append([]byte{byte(CompressionZlib)}, compressed(t, CompressionZlib, tinyNBT)...)))
	require.NoError(t, w.Close())

	back, err := Load(other, nil)
	require.NoError(t, err)
	require.Equal(t, []Pos{{7, 9}}, back.Positions())
	got, _ := back.Get(Pos{7, 9})
	data, err = got.Data.Marshal()
	require.NoError(t, err)
	require.Equal(t, tinyNBT, data)
}
