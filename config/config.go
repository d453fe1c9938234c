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

// Йоу, чат! Зараз розберемо конфігурацію нашої утиліти!
// Тут зберігаються всі налаштування які можна змінити

package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/time/rate"

	"FlowyAnvil/world/anvil"
)

// Config - головна структура з налаштуваннями
// Поля з тегом `toml` читаються з конфіг файлу
type Config struct {
	// Каталог світу, той самий де лежить level.dat
	WorldDir string `toml:"world-dir"`

	// Підкаталог з .mca файлами відносно світу:
	// "region" для верхнього світу, "DIM-1/region" для незеру і т.д.
	Dimension string `toml:"dimension"`

	// Яким стисненням писати чанки при перезаписі.
	// "gzip", "zlib" або "none"
	Compression anvil.Compression `toml:"compression"`

	// Чи розпаковувати блоки кожної секції (повільніше, зате з гістограмою блоків)
	DecodeBlocks bool `toml:"decode-blocks"`

	// Скільки файлів регіонів можна прочитати за раз
	RegionLoadingLimiter Limiter `toml:"region-loading-limiter"`
}

// Default - налаштування, якщо у файлі чогось немає
func Default() Config {
	return Config{
		WorldDir:    "world",
		Dimension:   "region",
		Compression: anvil.CompressionZlib,
	}
}

// RegionDir - повний шлях до каталогу з регіонами
func (c *Config) RegionDir() string {
	return filepath.Join(c.WorldDir, c.Dimension)
}

// Read читає конфіг з файлу поверх Default.
// Якщо знайдемо невідомі налаштування - повернемо помилку
func Read(path string) (Config, error) {
	c := Default()
	meta, err := toml.DecodeFile(path, &c)
	if err != nil {
		return Config{}, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		var err errUnknownConfig
		for _, key := range undecoded {
			err = append(err, key.String())
		}
		return Config{}, err
	}
	return c, nil
}

// errUnknownConfig - це список невідомих налаштувань
type errUnknownConfig []string

func (e errUnknownConfig) Error() string {
	return "unknown config keys: [" + strings.Join(e, ", ") + "]"
}

// Limiter - структура для обмеження частоти дій
// Наприклад: не більше 4 регіонів кожну секунду
type Limiter struct {
	// Як часто можна виконувати дію, наприклад "1s".
	// Нуль означає без обмежень
	Every duration `toml:"every"`

	// Скільки разів можна виконати дію за цей період
	N int
}

// Limiter перетворює наші налаштування в готовий rate.Limiter
func (l *Limiter) Limiter() *rate.Limiter {
	if l.Every.Duration <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(l.Every.Duration), l.N)
}

// duration - обгортка навколо time.Duration
// Потрібна щоб читати тривалість з конфіг файлу
type duration struct {
	time.Duration
}

// UnmarshalText перетворює текст з конфігу в time.Duration
func (d *duration) UnmarshalText(text []byte) (err error) {
	d.Duration, err = time.ParseDuration(string(text))
	return
}
