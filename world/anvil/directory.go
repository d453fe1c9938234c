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
	"encoding/binary"
	"fmt"
	"io"
)

// GridSize - сторона регіону в чанках
const GridSize = 32

// Entries - кількість слотів у довіднику, заповнених чи ні
const Entries = GridSize * GridSize

// Pos - позиція чанку всередині регіону, обидві координати 0..31
type Pos struct {
	X, Z int
}

// Valid перевіряє що позиція влазить у сітку регіону
func (p Pos) Valid() bool {
	return p.X >= 0 && p.X < GridSize && p.Z >= 0 && p.Z < GridSize
}

func (p Pos) String() string {
	return fmt.Sprintf("(%d, %d)", p.X, p.Z)
}

// Index - номер слоту довідника для позиції
func Index(p Pos) int {
	return p.X + GridSize*p.Z
}

// PosOf - обернене до Index
func PosOf(index int) Pos {
	return Pos{X: index % GridSize, Z: index / GridSize}
}

// Directory - 8 КіБ на початку файлу: 1024 розташування і 1024 мітки часу,
// обидва масиви big-endian і в одному порядку слотів
type Directory struct {
	Locations  [Entries]uint32
	Timestamps [Entries]uint32
}

// ReadDirectory читає довідник з поточної позиції потоку
func ReadDirectory(r io.Reader) (*Directory, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	d := new(Directory)
	for i := 0; i < Entries; i++ {
		d.Locations[i] = binary.BigEndian.Uint32(buf[i*4:])
		d.Timestamps[i] = binary.BigEndian.Uint32(buf[SectorSize+i*4:])
	}
	return d, nil
}

// WriteTo записує обидві таблиці. Порожні слоти - просто нулі.
func (d *Directory) WriteTo(w io.Writer) (int64, error) {
	var buf [HeaderSize]byte
	for i := 0; i < Entries; i++ {
		binary.BigEndian.PutUint32(buf[i*4:], d.Locations[i])
		binary.BigEndian.PutUint32(buf[SectorSize+i*4:], d.Timestamps[i])
	}
	n, err := w.Write(buf[:])
	return int64(n), err
}
