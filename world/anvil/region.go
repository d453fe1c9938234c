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
	"io"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/maps"
)

var (
	// ErrCorruptDirectory - довідник вказує кудись далеко за межі можливого файлу
	ErrCorruptDirectory = errors.New("corrupt region directory")
	// ErrNoFilename - зберігаємо, але не знаємо куди
	ErrNoFilename = errors.New("no filename specified")
	// ErrForeignChunk - чанк зі світовими координатами не з цього регіону
	ErrForeignChunk = errors.New("chunk does not belong to this region")
	// ErrNilChunk - замість чанку передали nil
	ErrNilChunk = errors.New("nil chunk")
	// ErrNoPosition - у регіону немає координат (ім'я файлу їх не дало)
	ErrNoPosition = errors.New("region has no position")
	// ErrInvalidPos - позиція за межами сітки 32x32
	ErrInvalidPos = errors.New("position out of region grid")
)

// minTimestamp - приблизно вересень 2001, раніше чанки не зберігали
const minTimestamp = 1_000_000_000

// Region - весь файл регіону в пам'яті: мапа позиція -> чанк.
// Ніяких прихованих читань чи записів: диск чіпають тільки Parse, Load, WriteTo і Save.
// Регіон не захищений від одночасного доступу, синхронізація на тому, хто його тримає.
type Region struct {
	Path string

	// координати регіону у світі, якщо ім'я файлу їх дало
	X, Z   int
	HasPos bool

	chunks map[Pos]*Chunk
	dirty  bool // додавали або видаляли чанки
	log    *zap.Logger
}

// New створює порожній регіон. Координати беруться з імені файлу, якщо воно правильне.
func New(path string, log *zap.Logger) *Region {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Region{
		Path:   path,
		chunks: make(map[Pos]*Chunk),
		log:    log.With(zap.String("region", path)),
	}
	if path != "" {
		if x, z, err := ParseFileName(path); err == nil {
			r.X, r.Z, r.HasPos = x, z, true
		}
	}
	return r
}

// Load відкриває файл, читає регіон і закриває файл на будь-якому виході
func Load(path string, log *zap.Logger) (r *Region, errRet error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func(f *os.File) {
		err2 := f.Close()
		if errRet == nil && err2 != nil {
			errRet = fmt.Errorf("close region file fail: %w", err2)
		}
	}(f)
	return Parse(f, path, log)
}

// Parse читає довідник і всі чанки, на які він вказує.
//
// Зламаний окремий чанк логується і пропускається, а от зміщення,
// якого не може бути в жодному файлі, означає зіпсований довідник,
// і тоді весь регіон повертає ErrCorruptDirectory.
func Parse(rs io.ReadSeeker, path string, log *zap.Logger) (*Region, error) {
	r := New(path, log)
	r.log.Debug("Loading region", zap.Int("x", r.X), zap.Int("z", r.Z))

	dir, err := ReadDirectory(rs)
	if err != nil {
		return nil, fmt.Errorf("read region directory: %w", err)
	}
	for i := 0; i < Entries; i++ {
		loc := dir.Locations[i]
		if loc == 0 {
			continue
		}
		pos := PosOf(i)
		offset, declared := UnpackLocation(loc)
		if offset > MaxRegionSize {
			return nil, fmt.Errorf("%w: chunk %v at byte offset %d", ErrCorruptDirectory, pos, offset)
		}
		if offset < HeaderSize {
			r.log.Error("Skip chunk inside region header", zap.Stringer("pos", pos), zap.Int64("offset", offset))
			continue
		}
		if _, err := rs.Seek(offset, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek chunk %v: %w", pos, err)
		}
		c, err := ReadChunk(rs)
		if err != nil {
			r.log.Error("Skip unreadable chunk", zap.Stringer("pos", pos), zap.Error(err))
			continue
		}

		ts := dir.Timestamps[i]
		if ts < minTimestamp {
			r.log.Warn("Invalid chunk timestamp",
				zap.Stringer("pos", pos),
				zap.Uint32("timestamp", ts),
				zap.Time("time", time.Unix(int64(ts), 0).UTC()))
		}
		// гра інколи пише на сектор більше, коли довжина рівно кратна 4096
		if d := uint32(declared); d != c.SectorCount && d != c.SectorCount+1 {
			r.log.Warn("Chunk sector count mismatch",
				zap.Stringer("pos", pos),
				zap.Uint8("declared", declared),
				zap.Uint32("required", c.SectorCount))
		}
		c.Pos = pos
		c.Timestamp = ts
		c.savedTs = ts
		r.chunks[pos] = c
	}
	r.log.Debug("Region loaded", zap.Int("chunks", len(r.chunks)))
	return r, nil
}

// Get повертає чанк за локальною позицією
func (r *Region) Get(p Pos) (*Chunk, bool) {
	c, ok := r.chunks[p]
	return c, ok
}

// Set кладе чанк на позицію, замінюючи попередній
func (r *Region) Set(p Pos, c *Chunk) error {
	if c == nil {
		return ErrNilChunk
	}
	if !p.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidPos, p)
	}
	c.Pos = p
	r.chunks[p] = c
	r.dirty = true
	return nil
}

// Delete прибирає чанк, якщо він був
func (r *Region) Delete(p Pos) {
	if _, ok := r.chunks[p]; ok {
		delete(r.chunks, p)
		r.dirty = true
	}
}

// Len - кількість чанків
func (r *Region) Len() int {
	return len(r.chunks)
}

// Positions повертає всі позиції в порядку слотів довідника
func (r *Region) Positions() []Pos {
	keys := maps.Keys(r.chunks)
	sort.Slice(keys, func(i, j int) bool { return Index(keys[i]) < Index(keys[j]) })
	return keys
}

// Range обходить чанки в порядку слотів, поки fn повертає true
func (r *Region) Range(fn func(Pos, *Chunk) bool) {
	for _, p := range r.Positions() {
		if !fn(p, r.chunks[p]) {
			return
		}
	}
}

// Modified каже чи є в регіоні щось, чого ще немає на диску
func (r *Region) Modified() bool {
	if r.dirty {
		return true
	}
	for _, c := range r.chunks {
		if c.Modified() {
			return true
		}
	}
	return false
}

// ChunkAt шукає чанк за світовими координатами чанку
func (r *Region) ChunkAt(cx, cz int) (*Chunk, bool, error) {
	p, err := r.localPos(cx, cz)
	if err != nil {
		return nil, false, err
	}
	c, ok := r.chunks[p]
	return c, ok, nil
}

// WorldPos переводить локальну позицію у світові координати чанку
func (r *Region) WorldPos(p Pos) (cx, cz int, err error) {
	if !r.HasPos {
		return 0, 0, ErrNoPosition
	}
	return r.X*GridSize + p.X, r.Z*GridSize + p.Z, nil
}

func (r *Region) localPos(cx, cz int) (Pos, error) {
	if !r.HasPos {
		return Pos{}, ErrNoPosition
	}
	p := Pos{X: cx - r.X*GridSize, Z: cz - r.Z*GridSize}
	if !p.Valid() {
		return Pos{}, fmt.Errorf("%w: chunk (%d, %d) is not in region (%d, %d)",
			ErrForeignChunk, cx, cz, r.X, r.Z)
	}
	return p, nil
}

// WriteTo переписує регіон повністю: чанки йдуть одразу після довідника
// в порядку слотів, кожен вирівняний до сектору, а довідник пишеться останнім.
// Порожній регіон нічого не пише. Якщо w довший за новий вміст, хвіст лишається як був.
func (r *Region) WriteTo(w io.WriteSeeker) (int64, error) {
	if len(r.chunks) == 0 {
		return 0, nil
	}
	var dir Directory
	if _, err := w.Seek(HeaderSize, io.SeekStart); err != nil {
		return 0, err
	}
	var written int64
	sector := uint32(HeaderSize / SectorSize)
	for _, p := range r.Positions() {
		c := r.chunks[p]
		n, err := c.WriteTo(w)
		written += n
		if err != nil {
			return written, fmt.Errorf("write chunk %v: %w", p, err)
		}
		sectors := SectorsNeeded(n)
		if pad := int64(sectors)*SectorSize - n; pad > 0 {
			m, err := w.Write(make([]byte, pad))
			written += int64(m)
			if err != nil {
				return written, fmt.Errorf("pad chunk %v: %w", p, err)
			}
		}
		i := Index(p)
		dir.Locations[i] = PackLocation(sector, n)
		dir.Timestamps[i] = c.Timestamp
		c.SectorCount = sectors
		sector += sectors
	}

	if _, err := w.Seek(0, io.SeekStart); err != nil {
		return written, err
	}
	n, err := dir.WriteTo(w)
	written += n
	if err != nil {
		return written, fmt.Errorf("write region directory: %w", err)
	}
	return written, nil
}

// Save записує регіон у path (або в r.Path, якщо path порожній).
// Спершу пишемо в тимчасовий файл поруч і лише потім перейменовуємо,
// тож обірваний запис не залишить напівфайл замість регіону.
func (r *Region) Save(path string) (errRet error) {
	if path == "" {
		path = r.Path
	}
	if path == "" {
		return ErrNoFilename
	}
	if len(r.chunks) == 0 {
		r.log.Debug("Skip saving empty region")
		return nil
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp region file: %w", err)
	}
	defer func() {
		if errRet != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()
	n, err := r.WriteTo(f)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp region file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename region file: %w", err)
	}

	for _, c := range r.chunks {
		c.markSaved()
	}
	r.dirty = false
	if path != r.Path {
		r.Path = path
		r.log = r.log.With(zap.String("saved-as", path))
	}
	r.log.Info("Region saved", zap.Int("chunks", len(r.chunks)), zap.Int64("bytes", n))
	return nil
}
