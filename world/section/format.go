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

package section

import (
	"errors"
	"fmt"

	"FlowyAnvil/world/nbtree"
)

// Layout - де в дереві чанку лежать секції і як звуться їхні ключі
type Layout uint8

const (
	// LayoutLevel - 1.13..1.17: Level.Sections[].Palette / BlockStates
	LayoutLevel Layout = iota
	// LayoutFlat - з 1.18: sections[].block_states.palette / data
	LayoutFlat
)

func (l Layout) String() string {
	switch l {
	case LayoutLevel:
		return "level"
	case LayoutFlat:
		return "flat"
	}
	return fmt.Sprintf("Layout(%d)", uint8(l))
}

// Версії даних, на яких змінювався формат
const (
	DataVersionAligned = 2529 // 20w17a: поля більше не перетинають межу слова
	DataVersionFlat    = 2844 // 21w43a: секції переїхали в корінь
)

// ErrNoSections - в чанку немає списку секцій взагалі
var ErrNoSections = errors.New("chunk has no sections")

// Format - варіант формату одного чанку.
// Визначається один раз на чанк, далі кожен варіант має свою функцію.
type Format struct {
	DataVersion int32
	Layout      Layout
	Packing     Packing
}

// DetectFormat дивиться на корінь чанку і вирішує, який варіант формату в ньому
func DetectFormat(root *nbtree.Root) (Format, error) {
	dv, err := root.DataVersion()
	if err != nil && !errors.Is(err, nbtree.ErrNoSuchTag) {
		return Format{}, err
	}
	f := Format{DataVersion: dv, Packing: PackingSpanning}
	if dv >= DataVersionAligned {
		f.Packing = PackingAligned
	}

	switch {
	case root.Tags.Has("sections"):
		f.Layout = LayoutFlat
	case root.Tags.Has("Level"):
		level, err := root.Tags.Compound("Level")
		if err != nil {
			return Format{}, err
		}
		if !level.Has("Sections") {
			return Format{}, ErrNoSections
		}
		f.Layout = LayoutLevel
	default:
		return Format{}, ErrNoSections
	}
	return f, nil
}
