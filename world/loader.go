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

// Обхід чанків по колу: спочатку центр, потім все дальші кільця.
// Так при читанні великого шматка світу найближчі чанки готові першими.

package world

import (
	"math"
	"sort"
)

// MaxRadius - найбільший радіус обходу в чанках
const MaxRadius int32 = 32

// loadList містить відносні координати чанків відносно центру (0,0),
// відсортовані за відстанню від центру - ближчі чанки йдуть першими
var loadList [][2]int32

// radiusIdx[r] - скільки перших елементів loadList лежать в радіусі r
var radiusIdx []int

func init() {
	for x := -MaxRadius; x <= MaxRadius; x++ {
		for z := -MaxRadius; z <= MaxRadius; z++ {
			pos := [2]int32{x, z}
			if distance2i(pos) <= float64(MaxRadius) {
				loadList = append(loadList, pos)
			}
		}
	}
	// стабільне сортування: при рівній відстані порядок з циклу вище
	sort.SliceStable(loadList, func(i, j int) bool {
		return distance2i(loadList[i]) < distance2i(loadList[j])
	})

	radiusIdx = make([]int, MaxRadius+1)
	i := 0
	for r := int32(0); r <= MaxRadius; r++ {
		for i < len(loadList) && distance2i(loadList[i]) <= float64(r) {
			i++
		}
		radiusIdx[r] = i
	}
}

// ChunksAround повертає позиції чанків на відстані не більше r від center,
// від ближчих до дальших. Радіус обрізається до MaxRadius.
func ChunksAround(center [2]int32, r int32) [][2]int32 {
	if r < 0 {
		return nil
	}
	r = min(r, MaxRadius)
	out := make([][2]int32, radiusIdx[r])
	for i, v := range loadList[:radiusIdx[r]] {
		out[i] = [2]int32{center[0] + v[0], center[1] + v[1]}
	}
	return out
}

// distance2i обчислює Евклідову відстань від точки до початку координат
func distance2i(pos [2]int32) float64 {
	return math.Sqrt(float64(pos[0]*pos[0]) + float64(pos[1]*pos[1]))
}
