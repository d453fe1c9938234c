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

// create_chunk генерує маленький плаский світ для експериментів:
// level.dat і кілька регіонів з чанками навколо (0, 0).
package main

import (
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/Tnze/go-mc/nbt"
	"github.com/Tnze/go-mc/save"

	"FlowyAnvil/world"
	"FlowyAnvil/world/anvil"
	"FlowyAnvil/world/nbtree"
	"FlowyAnvil/world/section"
)

const dataVersion = 3465 // 1.20.1

var (
	worldDir = flag.String("dir", "world", "Where to create the world")
	radius   = flag.Int("radius", 2, "Radius of generated chunks around (0, 0)")
)

// шари плаского світу знизу вгору, по одному блоку кожен
var layers = []save.BlockState{
	{Name: "minecraft:bedrock"},
	{Name: "minecraft:stone"},
	{Name: "minecraft:stone"},
	{Name: "minecraft:dirt"},
	{Name: "minecraft:grass_block"},
}

func main() {
	flag.Parse()
	log := unwrap(zap.NewDevelopment())
	defer func() { _ = log.Sync() }()

	regionDir := filepath.Join(*worldDir, "region")
	if err := os.MkdirAll(regionDir, 0o755); err != nil {
		log.Fatal("Create region dir fail", zap.Error(err))
	}
	if err := writeLevel(filepath.Join(*worldDir, "level.dat")); err != nil {
		log.Fatal("Write level.dat fail", zap.Error(err))
	}

	p := world.NewProvider(regionDir, nil, anvil.CompressionZlib, log)
	if err := p.Scan(); err != nil {
		log.Fatal("Scan region dir fail", zap.Error(err))
	}
	for _, pos := range world.ChunksAround([2]int32{0, 0}, int32(*radius)) {
		root, err := flatChunk(pos)
		if err != nil {
			log.Fatal("Build chunk fail", zap.Int32s("chunk", pos[:]), zap.Error(err))
		}
		if err := p.PutChunk(pos, root); err != nil {
			log.Fatal("Put chunk fail", zap.Int32s("chunk", pos[:]), zap.Error(err))
		}
	}
	if err := p.Save(); err != nil {
		log.Fatal("Save regions fail", zap.Error(err))
	}
}

// flatChunk будує дерево чанку формату 1.18+ з однією заповненою секцією
func flatChunk(pos [2]int32) (*nbtree.Root, error) {
	root := nbtree.New("")
	for _, set := range []func() error{
		func() error { return nbtree.Set(root.Tags, "DataVersion", int32(dataVersion)) },
		func() error { return nbtree.Set(root.Tags, "xPos", pos[0]) },
		func() error { return nbtree.Set(root.Tags, "zPos", pos[1]) },
		func() error { return nbtree.Set(root.Tags, "yPos", int32(-4)) },
		func() error { return nbtree.Set(root.Tags, "Status", "minecraft:full") },
		func() error { return nbtree.Set(root.Tags, "sections", nbtree.List{}) },
	} {
		if err := set(); err != nil {
			return nil, err
		}
	}
	f, err := section.DetectFormat(root)
	if err != nil {
		return nil, err
	}

	s := section.Section{
		Y:            -4,
		Palette:      []save.BlockState{{Name: "minecraft:air"}},
		Biomes:       []save.BiomeState{"minecraft:plains"},
		BiomeIndices: make([]uint16, section.Biomes.Entries),
	}
	for y, b := range layers {
		for z := 0; z < 16; z++ {
			for x := 0; x < 16; x++ {
				s.SetBlock(x, y, z, b)
			}
		}
	}
	if err := section.Put(root, f, s); err != nil {
		return nil, err
	}
	return root, nil
}

// writeLevel пише мінімальний level.dat, щоб гра впізнала каталог як світ
func writeLevel(path string) (errRet error) {
	level := &save.Level{
		Data: save.LevelData{
			LevelName:      "FlowyAnvil",
			GameType:       1, // Creative
			LastPlayed:     time.Now().UnixMilli(),
			SpawnX:         8,
			SpawnY:         -59,
			SpawnZ:         8,
			Difficulty:     2, // Normal
			GameRules:      make(map[string]string),
			DataVersion:    dataVersion,
			Initialized:    true,
			StorageVersion: 19133,
		},
	}
	level.Data.Version.ID = dataVersion
	level.Data.Version.Name = "1.20.1"
	level.Data.Version.Series = "main"

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func(f *os.File) {
		err2 := f.Close()
		if errRet == nil && err2 != nil {
			errRet = err2
		}
	}(f)

	gw := gzip.NewWriter(f)
	if err := nbt.NewEncoder(gw).Encode(level, ""); err != nil {
		return err
	}
	return gw.Close()
}

func unwrap[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
