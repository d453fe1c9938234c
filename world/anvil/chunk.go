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
	"errors"
	"fmt"
	"io"
	"time"

	"FlowyAnvil/world/nbtree"
)

// chunkHeaderSize - 4 байти довжини і 1 байт стиснення
const chunkHeaderSize = 5

// externalFlag - старший біт байту стиснення: дані лежать в окремому .mcc файлі
const externalFlag = 0x80

var (
	// ErrExternalChunk - чанк винесено в окремий файл, такого ми не читаємо
	ErrExternalChunk = errors.New("external chunk files are not supported")
	// ErrChunkTooLarge - чанк не влазить у 255 секторів
	ErrChunkTooLarge = errors.New("chunk too large")
	// ErrEmptyChunk - у заголовку довжина 0, навіть байту стиснення немає
	ErrEmptyChunk = errors.New("chunk has zero length")
)

// Chunk - один запис регіону: дерево NBT плюс те, що про нього знає довідник
type Chunk struct {
	Pos         Pos    // позиція в регіоні, ставить регіон
	Timestamp   uint32 // секунди від епохи, ставить регіон
	Compression Compression
	SectorCount uint32 // скільки секторів запис займав на диску
	Data        *nbtree.Root

	// відбиток дерева і стиснення на момент читання або останнього збереження
	sum     uint64
	savedAs Compression
	savedTs uint32
	saved   bool
}

// NewChunk створює новий чанк, якого ще немає на диску
func NewChunk(data *nbtree.Root, c Compression) *Chunk {
	return &Chunk{Compression: c, Data: data}
}

// ReadChunk читає один запис з поточної позиції потоку:
// заголовок, стиснені дані і дерево NBT всередині
func ReadChunk(r io.Reader) (*Chunk, error) {
	var header [chunkHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read chunk header: %w", err)
	}
	length := binary.BigEndian.Uint32(header[:4])
	if length == 0 {
		return nil, ErrEmptyChunk
	}
	tag := header[4]
	if tag&externalFlag != 0 {
		return nil, ErrExternalChunk
	}
	compression := Compression(tag &^ externalFlag)
	if !compression.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, uint8(compression))
	}

	// байт стиснення вже прочитано разом з заголовком
	size := int64(length) - 1
	if size+chunkHeaderSize > MaxChunkSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrChunkTooLarge, size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read chunk payload: %w", err)
	}
	data, err := compression.decompress(payload)
	if err != nil {
		return nil, err
	}
	root, err := nbtree.ParseBytes(data)
	if err != nil {
		return nil, err
	}
	return &Chunk{
		Compression: compression,
		SectorCount: SectorsNeeded(size + chunkHeaderSize),
		Data:        root,
		sum:         root.Sum64(),
		savedAs:     compression,
		saved:       true,
	}, nil
}

// WriteTo серіалізує дерево, стискає його і пише заголовок з даними.
// Повертає скільки байт записано разом із заголовком.
func (c *Chunk) WriteTo(w io.Writer) (int64, error) {
	if c.Data == nil {
		return 0, errors.New("chunk has no data")
	}
	raw, err := c.Data.Marshal()
	if err != nil {
		return 0, fmt.Errorf("serialize chunk: %w", err)
	}
	data, err := c.Compression.compress(raw)
	if err != nil {
		return 0, err
	}
	if int64(len(data))+chunkHeaderSize > MaxChunkSize {
		return 0, fmt.Errorf("%w: %d bytes after %v", ErrChunkTooLarge, len(data), c.Compression)
	}

	var header [chunkHeaderSize]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(data))+1)
	header[4] = byte(c.Compression)
	n, err := w.Write(header[:])
	if err != nil {
		return int64(n), err
	}
	m, err := w.Write(data)
	return int64(n + m), err
}

// Modified каже чи змінювали дерево, стиснення або мітку часу з моменту
// читання чи останнього збереження. Новий чанк завжди вважається зміненим.
func (c *Chunk) Modified() bool {
	return !c.saved || c.Compression != c.savedAs || c.Timestamp != c.savedTs ||
		c.Data.Sum64() != c.sum
}

// Touch оновлює мітку часу, після чого чанк вважається зміненим.
// Запис регіону сам час не чіпає.
func (c *Chunk) Touch(now time.Time) {
	c.Timestamp = uint32(now.Unix())
}

func (c *Chunk) markSaved() {
	c.sum = c.Data.Sum64()
	c.savedAs = c.Compression
	c.savedTs = c.Timestamp
	c.saved = true
}
