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
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// Compression - id алгоритму стиснення з заголовку чанку
type Compression uint8

const (
	CompressionGzip Compression = 1 // майже не зустрічається
	CompressionZlib Compression = 2 // те, що пише гра за замовчуванням
	CompressionNone Compression = 3
)

// ErrUnknownCompression - id стиснення, якого ми не знаємо
var ErrUnknownCompression = errors.New("unknown compression")

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZlib:
		return "zlib"
	case CompressionNone:
		return "none"
	}
	return fmt.Sprintf("Compression(%d)", uint8(c))
}

// Valid перевіряє що id один з відомих
func (c Compression) Valid() bool {
	switch c {
	case CompressionGzip, CompressionZlib, CompressionNone:
		return true
	}
	return false
}

// ParseCompression розбирає назву з конфігу
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "gzip":
		return CompressionGzip, nil
	case "zlib":
		return CompressionZlib, nil
	case "none":
		return CompressionNone, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCompression, s)
}

// UnmarshalText дозволяє писати стиснення в toml словами
func (c *Compression) UnmarshalText(text []byte) (err error) {
	*c, err = ParseCompression(string(text))
	return
}

// MarshalText - пара до UnmarshalText
func (c Compression) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, uint8(c))
	}
	return []byte(c.String()), nil
}

func (c Compression) compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser
	switch c {
	case CompressionGzip:
		w = gzip.NewWriter(&buf)
	case CompressionZlib:
		w = zlib.NewWriter(&buf)
	case CompressionNone:
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, uint8(c))
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("%v compress: %w", c, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%v compress: %w", c, err)
	}
	return buf.Bytes(), nil
}

func (c Compression) decompress(data []byte) ([]byte, error) {
	var r io.ReadCloser
	var err error
	switch c {
	case CompressionGzip:
		r, err = gzip.NewReader(bytes.NewReader(data))
	case CompressionZlib:
		r, err = zlib.NewReader(bytes.NewReader(data))
	case CompressionNone:
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, uint8(c))
	}
	if err != nil {
		return nil, fmt.Errorf("%v open reader: %w", c, err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%v decompress: %w", c, err)
	}
	if err := r.Close(); err != nil {
		return nil, fmt.Errorf("%v close reader: %w", c, err)
	}
	return out, nil
}
