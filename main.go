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

// Йоу, чат! Сьогодні ми будемо розбирати як прочитати світ майнкрафту з диску!
// Ця утиліта знаходить всі .mca файли виміру, читає чанки, за бажанням
// розпаковує блоки кожної секції і перезаписує регіони з потрібним стисненням.

// Пакет main - це точка входу нашої програми, звідси все починається!
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"FlowyAnvil/config"
	"FlowyAnvil/world"
	"FlowyAnvil/world/anvil"
	"FlowyAnvil/world/section"
)

var (
	// isDebug - флаг який можна включити при запуску через -debug
	isDebug    = flag.Bool("debug", false, "Enable debug log output")
	configPath = flag.String("config", "config.toml", "Path to the config file, empty for defaults")
	saveFlag   = flag.Bool("save", false, "Rewrite modified regions with the configured compression")
	around     = flag.String("around", "", "Only walk chunks around cx,cz within radius r (\"cx,cz,r\")")
)

func main() {
	flag.Parse()

	// В дебаг режимі логи будуть детальніші, але повільніші
	var logger *zap.Logger
	if *isDebug {
		logger = unwrap(zap.NewDevelopment())
	} else {
		logger = unwrap(zap.NewProduction())
	}
	defer func(logger *zap.Logger) {
		// stderr на деяких системах не вміє Sync, це не привід падати
		_ = logger.Sync()
	}(logger)

	logger.Info("FlowyAnvil start")
	printBuildInfo(logger)
	defer logger.Info("FlowyAnvil exit")

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Read(*configPath); err != nil {
			logger.Error("Read config fail", zap.Error(err))
			return
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Error("Run fail", zap.Error(err))
	}
}

func run(ctx context.Context, logger *zap.Logger, cfg config.Config) error {
	provider := world.NewProvider(cfg.RegionDir(), cfg.RegionLoadingLimiter.Limiter(), cfg.Compression, logger)
	if err := provider.Scan(); err != nil {
		return err
	}

	s := newStats(cfg.DecodeBlocks, logger)
	visit := func(pos [2]int32, c *anvil.Chunk) error {
		s.add(pos, c)
		if *saveFlag {
			c.Compression = cfg.Compression
		}
		return ctx.Err()
	}

	if *around != "" {
		center, r, err := parseAround(*around)
		if err != nil {
			return err
		}
		if err := provider.Walk(ctx, center, r, visit); err != nil {
			return err
		}
	} else {
		for _, key := range provider.Regions() {
			r, err := provider.LoadWait(ctx, key[0], key[1])
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// зламаний регіон не зупиняє решту
				logger.Error("Skip region", zap.Ints("region", key[:]), zap.Error(err))
				continue
			}
			var visitErr error
			r.Range(func(p anvil.Pos, c *anvil.Chunk) bool {
				cx, cz, _ := r.WorldPos(p)
				visitErr = visit([2]int32{int32(cx), int32(cz)}, c)
				return visitErr == nil
			})
			if visitErr != nil {
				return visitErr
			}
		}
	}
	s.report()

	if *saveFlag {
		return provider.Save()
	}
	return nil
}

// parseAround розбирає "cx,cz,r"
func parseAround(s string) (center [2]int32, r int32, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return center, 0, fmt.Errorf("-around wants cx,cz,r, got %q", s)
	}
	var v [3]int64
	for i, p := range parts {
		if v[i], err = strconv.ParseInt(strings.TrimSpace(p), 10, 32); err != nil {
			return center, 0, fmt.Errorf("-around: %w", err)
		}
	}
	if v[2] < 0 {
		return center, 0, errors.New("-around: negative radius")
	}
	return [2]int32{int32(v[0]), int32(v[1])}, int32(v[2]), nil
}

// stats рахує що ми побачили
type stats struct {
	decode   bool
	chunks   int
	sections int
	layouts  map[string]int
	blocks   map[string]int
	logger   *zap.Logger
}

func newStats(decode bool, logger *zap.Logger) *stats {
	return &stats{
		decode:  decode,
		layouts: make(map[string]int),
		blocks:  make(map[string]int),
		logger:  logger.Named("stats"),
	}
}

func (s *stats) add(pos [2]int32, c *anvil.Chunk) {
	s.chunks++
	if !s.decode {
		return
	}
	secs, f, err := section.Sections(c.Data)
	if err != nil {
		// блоки одного чанку не розпакувались - це не кінець світу
		s.logger.Warn("Decode chunk blocks fail", zap.Int32s("chunk", pos[:]), zap.Error(err))
		return
	}
	s.layouts[f.Layout.String()+"/"+f.Packing.String()]++
	for _, sec := range secs {
		s.sections++
		for _, idx := range sec.Indices {
			s.blocks[sec.Palette[idx].Name]++
		}
	}
}

func (s *stats) report() {
	fields := []zap.Field{zap.Int("chunks", s.chunks)}
	if s.decode {
		fields = append(fields,
			zap.Int("sections", s.sections),
			zap.Any("formats", s.layouts),
			zap.Strings("top-blocks", topBlocks(s.blocks, 10)))
	}
	s.logger.Info("World summary", fields...)
}

// topBlocks повертає n найчастіших блоків у вигляді "назва=кількість"
func topBlocks(blocks map[string]int, n int) []string {
	names := make([]string, 0, len(blocks))
	for name := range blocks {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if blocks[names[i]] != blocks[names[j]] {
			return blocks[names[i]] > blocks[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > n {
		names = names[:n]
	}
	for i, name := range names {
		names[i] = name + "=" + strconv.Itoa(blocks[name])
	}
	return names
}

// printBuildInfo виводить інформацію про збірку
// Це допомагає знайти проблеми з версіями бібліотек
func printBuildInfo(logger *zap.Logger) {
	binaryInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	settings := make(map[string]string)
	for _, v := range binaryInfo.Settings {
		settings[v.Key] = v.Value
	}
	logger.Debug("Build info", zap.Any("settings", settings))
}

// unwrap - хелпер функція яка спрощує обробку помилок
// Якщо є помилка - відразу панікуємо
func unwrap[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
