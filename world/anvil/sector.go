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

// Йоу, чат! Сьогодні ми розберемо як влаштований .mca файл регіону!
// Файл ділиться на сектори по 4096 байт. Перші два сектори - це довідник
// (де лежить кожен чанк і коли його востаннє зберігали), а далі йдуть
// самі чанки, кожен займає ціле число секторів.

package anvil

// Розміри, з яких складається файл регіону
const (
	SectorSize     = 4096                   // один сектор
	HeaderSize     = 2 * SectorSize         // таблиця розташувань + таблиця часу
	MaxSectorCount = 255                    // кількість секторів чанку зберігається в одному байті
	MaxChunkSize   = SectorSize * MaxSectorCount
	MaxRegionSize  = MaxChunkSize * Entries // далі цього зміщення чанк лежати не може
)

// SectorsNeeded рахує скільки секторів займуть n байт (округлення вгору).
// Рівно 4096 байт - це один сектор, а не два.
func SectorsNeeded(n int64) uint32 {
	if n <= 0 {
		return 0
	}
	return uint32((n + SectorSize - 1) / SectorSize)
}

// PackLocation пакує запис довідника: старші 3 байти - номер сектору,
// молодший байт - кількість секторів
func PackLocation(sectorOffset uint32, length int64) uint32 {
	return sectorOffset<<8 | SectorsNeeded(length)&0xFF
}

// UnpackLocation розпаковує запис довідника у зміщення в байтах і кількість секторів
func UnpackLocation(v uint32) (byteOffset int64, sectorCount uint8) {
	return int64(v>>8) * SectorSize, uint8(v)
}
