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

// Йоу, чат! Сьогодні розбираємо як майнкрафт пакує блоки в секції!
// Секція - це куб 16x16x16 = 4096 блоків. Замість того щоб зберігати
// назву кожного блоку, зберігається палітра (список різних блоків)
// і масив індексів у цю палітру. Індекси щільно запаковані в масив
// 64-бітних чисел (LongArray у NBT), кожен займає рівно стільки біт,
// скільки треба для найбільшого індексу.

package section

import (
	"errors"
	"fmt"
	"math/bits"
)

// Packing - як поля розкладені по 64-бітних словах
type Packing uint8

const (
	// PackingSpanning - старий формат (до 20w17a, DataVersion 2529):
	// бітовий потік суцільний, поле може перетинати межу двох слів
	PackingSpanning Packing = iota
	// PackingAligned - новий формат: у слово кладеться стільки цілих полів,
	// скільки влазить, а старші біти, що лишились, - просто відступ
	PackingAligned
)

func (p Packing) String() string {
	switch p {
	case PackingSpanning:
		return "spanning"
	case PackingAligned:
		return "aligned"
	}
	return fmt.Sprintf("Packing(%d)", uint8(p))
}

// Shape описує один вид запакованого масиву
type Shape struct {
	Entries int // скільки індексів у масиві
	MinBits int // мінімальна ширина поля, коли палітра має більше одного елементу
}

var (
	// BlockStates - стани блоків секції, 16x16x16 у порядку YZX
	BlockStates = Shape{Entries: 16 * 16 * 16, MinBits: 4}
	// Biomes - біоми секції (з 1.18), 4x4x4
	Biomes = Shape{Entries: 4 * 4 * 4, MinBits: 1}
)

// maxBits - ширина, яка ще влазить в uint16 індекс
const maxBits = 16

var (
	// ErrBitsMismatch - довжина масиву не відповідає ширині поля з палітри
	ErrBitsMismatch = errors.New("packed array length does not match bits per index")
	// ErrIndexOutOfRange - індекс не влазить у палітру
	ErrIndexOutOfRange = errors.New("palette index out of range")
)

// BitsPerIndex повертає ширину поля для палітри заданого розміру.
// Палітра з 0 або 1 елемента взагалі не потребує масиву.
func (s Shape) BitsPerIndex(paletteLen int) int {
	if paletteLen <= 1 {
		return 0
	}
	return max(s.MinBits, bits.Len(uint(paletteLen-1)))
}

// Words повертає скільки 64-бітних слів займає масив з такою шириною поля
func (s Shape) Words(bitsPer int, p Packing) int {
	if bitsPer <= 0 {
		return 0
	}
	if p == PackingAligned {
		perWord := 64 / bitsPer
		return (s.Entries + perWord - 1) / perWord
	}
	return (s.Entries*bitsPer + 63) / 64
}

// inferBits вгадує ширину поля з довжини масиву, коли палітри немає
func (s Shape) inferBits(words int, p Packing) (int, error) {
	if words > 0 {
		guess := words * 64 / s.Entries
		if guess > 0 && s.Words(guess, p) == words {
			return guess, nil
		}
		// у вирівняному форматі кілька ширин дають ту саму довжину
		for b := 1; b <= maxBits; b++ {
			if s.Words(b, p) == words {
				return b, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: no bit width produces %d words", ErrBitsMismatch, words)
}

// Decode розпаковує масив у Entries індексів.
//
// paletteLen < 0 означає що палітра невідома і ширину треба вивести з довжини.
// Індекс 0 лежить у молодших бітах слова 0, наступний - одразу над ним.
func (s Shape) Decode(data []uint64, paletteLen int, p Packing) ([]uint16, error) {
	switch paletteLen {
	case 0:
		return nil, nil
	case 1:
		// масиву на диску може й не бути - всі клітинки це палітра[0]
		return make([]uint16, s.Entries), nil
	}

	var bitsPer int
	if paletteLen < 0 {
		var err error
		if bitsPer, err = s.inferBits(len(data), p); err != nil {
			return nil, err
		}
	} else {
		bitsPer = s.BitsPerIndex(paletteLen)
		if want := s.Words(bitsPer, p); len(data) != want {
			return nil, fmt.Errorf("%w: palette of %d needs %d bits (%d words), got %d words",
				ErrBitsMismatch, paletteLen, bitsPer, want, len(data))
		}
	}
	if bitsPer > maxBits {
		return nil, fmt.Errorf("%w: %d bits per index", ErrBitsMismatch, bitsPer)
	}

	out := make([]uint16, s.Entries)
	mask := uint64(1)<<bitsPer - 1
	switch p {
	case PackingAligned:
		perWord := 64 / bitsPer
		for i := range out {
			shift := (i % perWord) * bitsPer
			out[i] = uint16(data[i/perWord] >> shift & mask)
		}
	case PackingSpanning:
		for i := range out {
			bit := i * bitsPer
			word, shift := bit/64, bit%64
			v := data[word] >> shift
			if shift+bitsPer > 64 {
				v |= data[word+1] << (64 - shift)
			}
			out[i] = uint16(v & mask)
		}
	default:
		return nil, fmt.Errorf("unknown packing %v", p)
	}
	return out, nil
}

// Encode пакує індекси назад. Ширина поля та сама, що й у Decode,
// тому Decode(Encode(x)) == x. Індекс поза палітрою - це помилка,
// ми нічого мовчки не обрізаємо.
func (s Shape) Encode(indices []uint16, paletteLen int, p Packing) ([]uint64, error) {
	if len(indices) == 0 && paletteLen <= 1 {
		return nil, nil
	}
	if len(indices) != s.Entries {
		return nil, fmt.Errorf("want %d indices, got %d", s.Entries, len(indices))
	}
	for i, v := range indices {
		if int(v) >= max(paletteLen, 1) {
			return nil, fmt.Errorf("%w: index %d at cell %d, palette has %d entries",
				ErrIndexOutOfRange, v, i, paletteLen)
		}
	}
	bitsPer := s.BitsPerIndex(paletteLen)
	if bitsPer == 0 {
		return nil, nil
	}
	if bitsPer > maxBits {
		return nil, fmt.Errorf("%w: %d bits per index", ErrBitsMismatch, bitsPer)
	}

	data := make([]uint64, s.Words(bitsPer, p))
	switch p {
	case PackingAligned:
		perWord := 64 / bitsPer
		for i, v := range indices {
			data[i/perWord] |= uint64(v) << ((i % perWord) * bitsPer)
		}
	case PackingSpanning:
		for i, v := range indices {
			bit := i * bitsPer
			word, shift := bit/64, bit%64
			data[word] |= uint64(v) << shift
			if shift+bitsPer > 64 {
				data[word+1] |= uint64(v) >> (64 - shift)
			}
		}
	default:
		return nil, fmt.Errorf("unknown packing %v", p)
	}
	return data, nil
}
