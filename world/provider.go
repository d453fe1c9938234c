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

// Йоу, чат! Сьогодні ми розберемо як знайти всі регіони виміру!
// Provider знає про кожен .mca файл у каталозі, але читає його тільки
// коли попросять явно. Кожен регіон або ще просто шлях на диску,
// або вже завантажений в пам'ять. Погнали розбиратися!

package world

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/time/rate"

	"github.com/Tnze/go-mc/save/region"

	"FlowyAnvil/world/anvil"
	"FlowyAnvil/world/nbtree"
)

var (
	// ErrReachRateLimit повертається коли перевищено ліміт завантаження регіонів
	ErrReachRateLimit = errors.New("reach rate limit")
	// ErrRegionNotExist - такого файлу регіону в каталозі немає
	ErrRegionNotExist = errors.New("region not exist")
	// ErrChunkNotExist - регіон є, а чанку в ньому немає
	ErrChunkNotExist = errors.New("chunk not exist")
)

// regionEntry - регіон в одному з двох станів
type regionEntry interface {
	path() string
}

// unloadedRegion - знаємо тільки де лежить файл
type unloadedRegion string

func (u unloadedRegion) path() string { return string(u) }

// loadedRegion - файл прочитано
type loadedRegion struct {
	*anvil.Region
}

func (l loadedRegion) path() string { return l.Path }

// Provider - всі регіони одного виміру
type Provider struct {
	dir         string
	limiter     *rate.Limiter
	compression anvil.Compression // для нових чанків
	regions     map[[2]int]regionEntry
	log         *zap.Logger
}

// NewProvider створює провайдер для каталогу з регіонами.
// limiter обмежує скільки файлів можна прочитати за одиницю часу, nil - без обмежень.
func NewProvider(dir string, limiter *rate.Limiter, compression anvil.Compression, log *zap.Logger) *Provider {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{
		dir:         dir,
		limiter:     limiter,
		compression: compression,
		regions:     make(map[[2]int]regionEntry),
		log:         log.Named("provider"),
	}
}

// Scan шукає у каталозі файли r.<x>.<z>.mca.
// Файли з неправильними іменами пропускаються з попередженням,
// вже завантажені регіони лишаються завантаженими.
func (p *Provider) Scan() error {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return fmt.Errorf("scan region dir fail: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		rx, rz, err := anvil.ParseFileName(e.Name())
		if err != nil {
			p.log.Warn("Ignore file in region dir", zap.String("name", e.Name()), zap.Error(err))
			continue
		}
		key := [2]int{rx, rz}
		if _, ok := p.regions[key].(loadedRegion); ok {
			continue
		}
		p.regions[key] = unloadedRegion(filepath.Join(p.dir, e.Name()))
	}
	p.log.Info("Regions found", zap.String("dir", p.dir), zap.Int("count", len(p.regions)))
	return nil
}

// Len - скільки регіонів знає провайдер
func (p *Provider) Len() int {
	return len(p.regions)
}

// Regions повертає координати всіх регіонів, відсортовані по z, потім по x
func (p *Provider) Regions() [][2]int {
	keys := maps.Keys(p.regions)
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][1] != keys[j][1] {
			return keys[i][1] < keys[j][1]
		}
		return keys[i][0] < keys[j][0]
	})
	return keys
}

// Lookup повертає регіон, тільки якщо він вже завантажений. Диск не чіпає.
func (p *Provider) Lookup(rx, rz int) (*anvil.Region, bool) {
	l, ok := p.regions[[2]int{rx, rz}].(loadedRegion)
	return l.Region, ok
}

// Load завантажує регіон, якщо він ще не в пам'яті.
// Кожне справжнє читання з диску витрачає токен обмежувача,
// а коли токенів немає - повертає ErrReachRateLimit.
func (p *Provider) Load(rx, rz int) (*anvil.Region, error) {
	return p.load(rx, rz, func() error {
		if !p.limiter.Allow() {
			return ErrReachRateLimit
		}
		return nil
	})
}

// LoadWait - те саме що Load, але чекає на токен обмежувача замість помилки
func (p *Provider) LoadWait(ctx context.Context, rx, rz int) (*anvil.Region, error) {
	return p.load(rx, rz, func() error {
		return p.limiter.Wait(ctx)
	})
}

func (p *Provider) load(rx, rz int, acquire func() error) (*anvil.Region, error) {
	key := [2]int{rx, rz}
	switch e := p.regions[key].(type) {
	case loadedRegion:
		return e.Region, nil
	case unloadedRegion:
		if err := acquire(); err != nil {
			return nil, err
		}
		r, err := anvil.Load(e.path(), p.log)
		if err != nil {
			return nil, fmt.Errorf("load region fail: %w", err)
		}
		p.regions[key] = loadedRegion{r}
		return r, nil
	case nil:
		return nil, fmt.Errorf("%w: %s", ErrRegionNotExist, anvil.FileName(rx, rz))
	default:
		panic(fmt.Sprintf("unknown region entry %T", e))
	}
}

// Unload забуває прочитаний регіон, лишаючи тільки шлях.
// Незбережені зміни губляться, тому спершу треба викликати Save.
func (p *Provider) Unload(rx, rz int) {
	key := [2]int{rx, rz}
	if l, ok := p.regions[key].(loadedRegion); ok {
		p.regions[key] = unloadedRegion(l.path())
	}
}

// GetChunk шукає чанк за світовими координатами чанку, завантажуючи регіон при потребі
func (p *Provider) GetChunk(pos [2]int32) (*anvil.Chunk, error) {
	return p.getChunk(pos, p.Load)
}

func (p *Provider) getChunk(pos [2]int32, load func(rx, rz int) (*anvil.Region, error)) (*anvil.Chunk, error) {
	r, err := load(region.At(int(pos[0]), int(pos[1])))
	if err != nil {
		return nil, err
	}
	x, z := region.In(int(pos[0]), int(pos[1]))
	c, ok := r.Get(anvil.Pos{X: x, Z: z})
	if !ok {
		return nil, ErrChunkNotExist
	}
	return c, nil
}

// PutChunk кладе дерево чанку на його місце. Якщо регіону ще немає,
// він створюється в пам'яті і з'явиться на диску після Save.
func (p *Provider) PutChunk(pos [2]int32, data *nbtree.Root) error {
	rx, rz := region.At(int(pos[0]), int(pos[1]))
	r, err := p.Load(rx, rz)
	if errors.Is(err, ErrRegionNotExist) {
		r = anvil.New(filepath.Join(p.dir, anvil.FileName(rx, rz)), p.log)
		p.regions[[2]int{rx, rz}] = loadedRegion{r}
	} else if err != nil {
		return err
	}

	x, z := region.In(int(pos[0]), int(pos[1]))
	local := anvil.Pos{X: x, Z: z}
	c, ok := r.Get(local)
	if ok {
		c.Data = data
	} else {
		c = anvil.NewChunk(data, p.compression)
		if err := r.Set(local, c); err != nil {
			return err
		}
	}
	c.Touch(time.Now())
	return nil
}

// Save записує всі завантажені регіони, в яких щось змінилося.
// Помилка одного регіону не зупиняє збереження інших.
func (p *Provider) Save() (err error) {
	var saved int
	for _, key := range p.Regions() {
		l, ok := p.regions[key].(loadedRegion)
		if !ok || !l.Modified() {
			continue
		}
		if err2 := l.Save(""); err2 != nil {
			err = multierr.Append(err, fmt.Errorf("save region %v fail: %w", key, err2))
			continue
		}
		saved++
	}
	p.log.Info("Regions saved", zap.Int("count", saved))
	return err
}

// Walk обходить існуючі чанки навколо center у радіусі r, від ближчих до дальших.
// Регіони читаються через LoadWait, тож обмежувач тут чекає, а не відмовляє.
// Відсутні регіони і чанки пропускаються, будь-яка інша помилка зупиняє обхід.
func (p *Provider) Walk(ctx context.Context, center [2]int32, r int32, fn func(pos [2]int32, c *anvil.Chunk) error) error {
	load := func(rx, rz int) (*anvil.Region, error) {
		return p.LoadWait(ctx, rx, rz)
	}
	for _, pos := range ChunksAround(center, r) {
		c, err := p.getChunk(pos, load)
		if errors.Is(err, ErrRegionNotExist) || errors.Is(err, ErrChunkNotExist) {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(pos, c); err != nil {
			return err
		}
	}
	return nil
}
