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

// Пакет nbtree - тонка обгортка над NBT з go-mc.
// Ядру потрібні лише три речі від дерева: прочитати з потоку,
// записати в потік і взяти/покласти дитину за ключем.
// Діти зберігаються як nbt.RawMessage, тобто розбираються лише на вимогу,
// а все, чого ми не чіпали, записується назад байт-в-байт.

package nbtree

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/Tnze/go-mc/nbt"
)

// Типи тегів, які нам треба знати явно
const (
	tagEnd      byte = 0
	tagList     byte = 9
	tagCompound byte = 10
)

// ErrNoSuchTag повертається коли в компаунді немає запитаного ключа
var ErrNoSuchTag = errors.New("no such tag")

// ErrNotCompound повертається коли корінь або дитина не є компаундом
var ErrNotCompound = errors.New("tag is not a compound")

// Compound - NBT компаунд, діти якого лишаються в сирому вигляді.
// go-mc кодує його через MarshalNBT, тож ключі завжди йдуть по алфавіту,
// скільки б рівнів вкладеності не було.
type Compound map[string]nbt.RawMessage

// List - список компаундів (секції, палітра).
// Звичайний []Compound go-mc пише поелементно в обхід MarshalNBT.
type List []Compound

// Root - кореневий тег запису: ім'я кореня плюс його компаунд
type Root struct {
	Name string
	Tags Compound
}

// New створює порожній корінь
func New(name string) *Root {
	return &Root{Name: name, Tags: make(Compound)}
}

// Parse читає один іменований кореневий компаунд з потоку
func Parse(r io.Reader) (*Root, error) {
	var raw nbt.RawMessage
	name, err := nbt.NewDecoder(r).Decode(&raw)
	if err != nil {
		return nil, fmt.Errorf("decode nbt: %w", err)
	}
	if raw.Type != tagCompound {
		return nil, fmt.Errorf("%w: root tag type %d", ErrNotCompound, raw.Type)
	}
	tags := make(Compound)
	if err := raw.Unmarshal(&tags); err != nil {
		return nil, fmt.Errorf("decode root compound: %w", err)
	}
	return &Root{Name: name, Tags: tags}, nil
}

// ParseBytes - те саме що Parse, але з буфера
func ParseBytes(data []byte) (*Root, error) {
	return Parse(bytes.NewReader(data))
}

// WriteTo записує корінь у потік.
// Ключі пишуться в алфавітному порядку, щоб один і той самий вміст
// завжди давав однакові байти (go-mc пише мапи в порядку обходу мапи).
func (r *Root) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	buf.WriteByte(tagCompound)
	writeString(&buf, r.Name)
	if err := r.Tags.writePayload(&buf); err != nil {
		return 0, err
	}
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// Marshal повертає серіалізований корінь
func (r *Root) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := r.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Sum64 рахує відбиток дерева, який не залежить від порядку ключів.
// Використовується щоб зрозуміти, чи змінювали запис після завантаження.
func (r *Root) Sum64() uint64 {
	d := xxhash.New()
	var sum uint64
	for k, v := range r.Tags {
		d.Reset()
		_, _ = d.WriteString(k)
		_, _ = d.Write([]byte{v.Type})
		_, _ = d.Write(v.Data)
		sum += d.Sum64()
	}
	return sum ^ xxhash.Sum64String(r.Name)
}

// DataVersion повертає версію формату збереження (тег DataVersion).
// Старі чанки (до 1.9) його не мають - тоді повертаємо 0 і ErrNoSuchTag.
func (r *Root) DataVersion() (int32, error) {
	var v int32
	if err := r.Tags.Get("DataVersion", &v); err != nil {
		return 0, err
	}
	return v, nil
}

// DataRoot повертає компаунд з усіма даними.
// Якщо крім DataVersion у корені рівно одна дитина-компаунд (як "Level"
// у старих чанках), повертаємо її та її ключ, інакше сам корінь і "".
func (r *Root) DataRoot() (string, Compound, error) {
	var key string
	for k := range r.Tags {
		if k == "DataVersion" {
			continue
		}
		if key != "" {
			return "", r.Tags, nil
		}
		key = k
	}
	if key == "" || r.Tags[key].Type != tagCompound {
		return "", r.Tags, nil
	}
	c, err := r.Tags.Compound(key)
	if err != nil {
		return "", nil, err
	}
	return key, c, nil
}

// Has перевіряє наявність ключа
func (c Compound) Has(key string) bool {
	_, ok := c[key]
	return ok
}

// Get розбирає дитину за ключем у v (вказівник, як у nbt.Unmarshal)
func (c Compound) Get(key string, v any) error {
	m, ok := c[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoSuchTag, key)
	}
	if err := m.Unmarshal(v); err != nil {
		return fmt.Errorf("decode tag %q: %w", key, err)
	}
	return nil
}

// Compound повертає дитину-компаунд з сирими дітьми
func (c Compound) Compound(key string) (Compound, error) {
	m, ok := c[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchTag, key)
	}
	if m.Type != tagCompound {
		return nil, fmt.Errorf("%w: %q has type %d", ErrNotCompound, key, m.Type)
	}
	sub := make(Compound)
	if err := m.Unmarshal(&sub); err != nil {
		return nil, fmt.Errorf("decode tag %q: %w", key, err)
	}
	return sub, nil
}

// Delete видаляє дитину, якщо вона є
func (c Compound) Delete(key string) {
	delete(c, key)
}

// Set кодує v і кладе його під ключ key.
// Тип тегу визначає go-mc за типом v (int32 -> Int, []uint64 -> LongArray, ...).
func Set[T any](c Compound, key string, v T) error {
	m, err := Raw(v)
	if err != nil {
		return fmt.Errorf("encode tag %q: %w", key, err)
	}
	c[key] = m
	return nil
}

// Raw кодує значення в сирий тег
func Raw[T any](v T) (nbt.RawMessage, error) {
	var buf bytes.Buffer
	if err := nbt.NewEncoder(&buf).Encode(v, ""); err != nil {
		return nbt.RawMessage{}, err
	}
	// тип (1 байт) + порожнє ім'я (2 байти довжини) + корисне навантаження
	b := buf.Bytes()
	if len(b) < 3 {
		return nbt.RawMessage{}, fmt.Errorf("short nbt encoding: %d bytes", len(b))
	}
	return nbt.RawMessage{Type: b[0], Data: append([]byte(nil), b[3:]...)}, nil
}

// TagType реалізує nbt.Marshaler
func (c Compound) TagType() byte { return tagCompound }

// MarshalNBT реалізує nbt.Marshaler
func (c Compound) MarshalNBT(w io.Writer) error {
	var buf bytes.Buffer
	if err := c.writePayload(&buf); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// TagType реалізує nbt.Marshaler
func (l List) TagType() byte { return tagList }

// MarshalNBT реалізує nbt.Marshaler
func (l List) MarshalNBT(w io.Writer) error {
	var buf bytes.Buffer
	buf.WriteByte(tagCompound)
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(l)))
	buf.Write(n[:])
	for _, c := range l {
		if err := c.writePayload(&buf); err != nil {
			return err
		}
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func (c Compound) writePayload(buf *bytes.Buffer) error {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := c[k]
		if v.Type == tagEnd {
			return fmt.Errorf("tag %q has no type", k)
		}
		buf.WriteByte(v.Type)
		writeString(buf, k)
		buf.Write(v.Data)
	}
	buf.WriteByte(tagEnd)
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(s)))
	buf.Write(l[:])
	buf.WriteString(s)
}
