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
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
)

// Ext - розширення файлів регіону
const Ext = ".mca"

// ErrInvalidFileName - ім'я файлу не схоже на r.<x>.<z>.mca
var ErrInvalidFileName = errors.New("invalid region file name")

// десяткові числа зі знаком, без провідних нулів
var fileNameRe = regexp.MustCompile(`^r\.(-?(?:0|[1-9][0-9]*))\.(-?(?:0|[1-9][0-9]*))\.mca$`)

// FileName повертає ім'я файлу регіону з координатами rx, rz
func FileName(rx, rz int) string {
	return fmt.Sprintf("r.%d.%d%s", rx, rz, Ext)
}

// ParseFileName дістає координати регіону з імені файлу.
// Шлях до каталогу відкидається.
func ParseFileName(name string) (rx, rz int, err error) {
	base := filepath.Base(name)
	m := fileNameRe.FindStringSubmatch(base)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidFileName, base)
	}
	if rx, err = strconv.Atoi(m[1]); err != nil {
		return 0, 0, fmt.Errorf("%w: %q: %v", ErrInvalidFileName, base, err)
	}
	if rz, err = strconv.Atoi(m[2]); err != nil {
		return 0, 0, fmt.Errorf("%w: %q: %v", ErrInvalidFileName, base, err)
	}
	return rx, rz, nil
}
