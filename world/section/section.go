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

// Тут секції дістаються з дерева чанку і кладуться назад.
// Кодек з storage.go нічого не знає про NBT - він працює тільки з масивами,
// а цей файл знає, під якими ключами ці масиви лежать в кожному варіанті формату.

package section

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/Tnze/go-mc/save"

	"FlowyAnvil/world/nbtree"
)

// Section - одна секція 16x16x16 з розпакованими індексами
type Section struct {
	Y       int8
	Palette []save.BlockState
	Indices []uint16 // BlockStates.Entries індексів у порядку YZX

	// Біоми є тільки у LayoutFlat
	Biomes       []save.BiomeState
	BiomeIndices []uint16
}

// Block повертає стан блоку за локальними координатами 0..15
func (s *Section) Block(x, y, z int) save.BlockState {
	return s.Palette[s.Indices[blockIndex(x, y, z)]]
}

// SetBlock ставить блок, при потребі додаючи його в палітру
func (s *Section) SetBlock(x, y, z int, b save.BlockState) {
	if s.Indices == nil {
		s.Indices = make([]uint16, BlockStates.Entries)
	}
	id := -1
	for i, v := range s.Palette {
		if sameState(v, b) {
			id = i
			break
		}
	}
	if id < 0 {
		id = len(s.Palette)
		s.Palette = append(s.Palette, b)
	}
	s.Indices[blockIndex(x, y, z)] = uint16(id)
}

func blockIndex(x, y, z int) int {
	return y<<8 | z<<4 | x
}

func sameState(a, b save.BlockState) bool {
	return a.Name == b.Name &&
		a.Properties.Type == b.Properties.Type &&
		bytes.Equal(a.Properties.Data, b.Properties.Data)
}

// Sections розпаковує всі секції чанку, відсортовані за Y.
// Секції без палітри (повітря, або формат до 1.13) пропускаються.
func Sections(root *nbtree.Root) ([]Section, Format, error) {
	f, err := DetectFormat(root)
	if err != nil {
		return nil, Format{}, err
	}
	var secs []Section
	switch f.Layout {
	case LayoutFlat:
		secs, err = readFlat(root.Tags, f)
	case LayoutLevel:
		secs, err = readLevel(root.Tags, f)
	default:
		err = fmt.Errorf("unknown layout %v", f.Layout)
	}
	if err != nil {
		return nil, f, err
	}
	sort.Slice(secs, func(i, j int) bool { return secs[i].Y < secs[j].Y })
	return secs, f, nil
}

type flatBlockStates struct {
	Palette []save.BlockState `nbt:"palette"`
	Data    []uint64          `nbt:"data"`
}

type flatBiomes struct {
	Palette []save.BiomeState `nbt:"palette"`
	Data    []uint64          `nbt:"data"`
}

func readFlat(tags nbtree.Compound, f Format) ([]Section, error) {
	var list nbtree.List
	if err := tags.Get("sections", &list); err != nil {
		return nil, err
	}
	var secs []Section
	for _, raw := range list {
		var s Section
		if err := raw.Get("Y", &s.Y); err != nil {
			return nil, err
		}
		if !raw.Has("block_states") {
			continue
		}
		var states flatBlockStates
		if err := raw.Get("block_states", &states); err != nil {
			return nil, err
		}
		if len(states.Palette) == 0 {
			continue
		}
		var err error
		s.Palette = states.Palette
		if s.Indices, err = decodeChecked(BlockStates, states.Data, len(s.Palette), f.Packing, s.Y); err != nil {
			return nil, err
		}

		if raw.Has("biomes") {
			var biomes flatBiomes
			if err := raw.Get("biomes", &biomes); err != nil {
				return nil, err
			}
			s.Biomes = biomes.Palette
			if s.BiomeIndices, err = decodeChecked(Biomes, biomes.Data, len(s.Biomes), PackingAligned, s.Y); err != nil {
				return nil, err
			}
		}
		secs = append(secs, s)
	}
	return secs, nil
}

func readLevel(tags nbtree.Compound, f Format) ([]Section, error) {
	level, err := tags.Compound("Level")
	if err != nil {
		return nil, err
	}
	var list nbtree.List
	if err := level.Get("Sections", &list); err != nil {
		return nil, err
	}
	var secs []Section
	for _, raw := range list {
		if !raw.Has("Palette") || !raw.Has("BlockStates") {
			continue
		}
		var s Section
		var data []uint64
		if err := raw.Get("Y", &s.Y); err != nil {
			return nil, err
		}
		if err := raw.Get("Palette", &s.Palette); err != nil {
			return nil, err
		}
		if err := raw.Get("BlockStates", &data); err != nil {
			return nil, err
		}
		if s.Indices, err = decodeChecked(BlockStates, data, len(s.Palette), f.Packing, s.Y); err != nil {
			return nil, err
		}
		secs = append(secs, s)
	}
	return secs, nil
}

func decodeChecked(shape Shape, data []uint64, paletteLen int, p Packing, y int8) ([]uint16, error) {
	indices, err := shape.Decode(data, paletteLen, p)
	if err != nil {
		return nil, fmt.Errorf("section %d: %w", y, err)
	}
	for i, v := range indices {
		if int(v) >= paletteLen {
			return nil, fmt.Errorf("section %d: %w: index %d at cell %d, palette has %d entries",
				y, ErrIndexOutOfRange, v, i, paletteLen)
		}
	}
	return indices, nil
}

// Put записує секцію назад у дерево чанку, замінюючи секцію з тим самим Y
// або додаючи нову. Інші ключі секції (світло тощо) лишаються як були.
func Put(root *nbtree.Root, f Format, s Section) error {
	switch f.Layout {
	case LayoutFlat:
		return putFlat(root.Tags, f, s)
	case LayoutLevel:
		return putLevel(root.Tags, f, s)
	}
	return fmt.Errorf("unknown layout %v", f.Layout)
}

func putFlat(tags nbtree.Compound, f Format, s Section) error {
	var list nbtree.List
	if tags.Has("sections") {
		if err := tags.Get("sections", &list); err != nil {
			return err
		}
	}
	raw, list, err := findSection(list, s.Y)
	if err != nil {
		return err
	}

	palette, err := paletteTags(s.Palette)
	if err != nil {
		return err
	}
	states := nbtree.Compound{}
	if err := nbtree.Set(states, "palette", palette); err != nil {
		return err
	}
	data, err := BlockStates.Encode(s.Indices, len(s.Palette), f.Packing)
	if err != nil {
		return fmt.Errorf("section %d: %w", s.Y, err)
	}
	if data != nil {
		if err := nbtree.Set(states, "data", data); err != nil {
			return err
		}
	}
	if err := nbtree.Set(raw, "block_states", states); err != nil {
		return err
	}

	if s.Biomes != nil {
		biomes := nbtree.Compound{}
		if err := nbtree.Set(biomes, "palette", s.Biomes); err != nil {
			return err
		}
		data, err := Biomes.Encode(s.BiomeIndices, len(s.Biomes), PackingAligned)
		if err != nil {
			return fmt.Errorf("section %d biomes: %w", s.Y, err)
		}
		if data != nil {
			if err := nbtree.Set(biomes, "data", data); err != nil {
				return err
			}
		}
		if err := nbtree.Set(raw, "biomes", biomes); err != nil {
			return err
		}
	}
	return nbtree.Set(tags, "sections", list)
}

func putLevel(tags nbtree.Compound, f Format, s Section) error {
	level, err := tags.Compound("Level")
	if err != nil {
		return err
	}
	var list nbtree.List
	if level.Has("Sections") {
		if err := level.Get("Sections", &list); err != nil {
			return err
		}
	}
	raw, list, err := findSection(list, s.Y)
	if err != nil {
		return err
	}

	// старий формат завжди має BlockStates, навіть для палітри з одного блоку
	data, err := BlockStates.Encode(s.Indices, max(len(s.Palette), 2), f.Packing)
	if err != nil {
		return fmt.Errorf("section %d: %w", s.Y, err)
	}
	palette, err := paletteTags(s.Palette)
	if err != nil {
		return err
	}
	if err := nbtree.Set(raw, "Palette", palette); err != nil {
		return err
	}
	if err := nbtree.Set(raw, "BlockStates", data); err != nil {
		return err
	}
	if err := nbtree.Set(level, "Sections", list); err != nil {
		return err
	}
	return nbtree.Set(tags, "Level", level)
}

// findSection шукає секцію з потрібним Y, або додає нову в кінець списку
func findSection(list nbtree.List, y int8) (nbtree.Compound, nbtree.List, error) {
	for _, raw := range list {
		var sy int8
		if err := raw.Get("Y", &sy); err != nil {
			return nil, nil, err
		}
		if sy == y {
			return raw, list, nil
		}
	}
	raw := nbtree.Compound{}
	if err := nbtree.Set(raw, "Y", y); err != nil {
		return nil, nil, err
	}
	return raw, append(list, raw), nil
}

// paletteTags перетворює палітру на компаунди.
// Properties пишемо тільки якщо вони є - порожній сирий тег записати не можна.
func paletteTags(palette []save.BlockState) (nbtree.List, error) {
	out := make(nbtree.List, len(palette))
	for i, b := range palette {
		c := nbtree.Compound{}
		if err := nbtree.Set(c, "Name", b.Name); err != nil {
			return nil, err
		}
		if b.Properties.Type != 0 {
			c["Properties"] = b.Properties
		}
		out[i] = c
	}
	return out, nil
}
