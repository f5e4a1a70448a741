// Copyright 2021 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package main

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"

	"github.com/spf13/pflag"

	"github.com/bpowers/scenestore/store"
)

const namePrefix = "mesh_"

func newRand(seed int64) (*rand.Rand, int64) {
	if seed == 0 {
		var seedBytes [8]byte
		_, _ = crand.Read(seedBytes[:])
		seed = int64(binary.LittleEndian.Uint64(seedBytes[:]))
	}
	return rand.New(rand.NewSource(seed)), seed
}

func runGen(e *env, args []string) error {
	flags := pflag.NewFlagSet("gen", pflag.ContinueOnError)
	nPrims := flags.Int("prims", 1000, "number of mesh prims to generate")
	nSamples := flags.Int("samples", 0, "time samples per animated translate")
	seedFlag := flags.Int64("seed", 0, "random seed (0 picks one)")
	codecName := flags.String("codec", "lz4", "compression codec (none, lz4, zstd, snappy)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errUsage
	}
	codec, err := store.ParseCodec(*codecName)
	if err != nil {
		return err
	}

	rng, seed := newRand(*seedFlag)
	e.logger.Info("generating store", "prims", *nPrims, "seed", seed)

	w, err := store.Create(flags.Arg(0), store.WithCodec(codec), store.WithWriterLogger(e.logger))
	if err != nil {
		return err
	}
	if err := generate(w, rng, *nPrims, *nSamples); err != nil {
		_ = w.Discard()
		return err
	}
	return w.Close()
}

func generate(w *store.Writer, rng *rand.Rand, nPrims, nSamples int) error {
	world := store.MustParsePath("/World")
	err := w.AddSpec(world, store.SpecPrim, []store.Field{
		{Name: "specifier", Value: store.SpecifierDef},
		{Name: "typeName", Value: store.Token("Xform")},
	})
	if err != nil {
		return err
	}

	var times []float64
	for i := 0; i < nSamples; i++ {
		times = append(times, float64(i))
	}

	for i := 0; i < nPrims; i++ {
		var buf [8]byte
		if _, err := rng.Read(buf[:]); err != nil {
			return err
		}
		mesh, err := world.AppendChild(fmt.Sprintf("%s%05d", namePrefix, i))
		if err != nil {
			return err
		}

		nPoints := 8 + rng.Intn(248)
		points := make([]store.Vec3f, nPoints)
		for j := range points {
			points[j] = store.Vec3f{rng.Float32(), rng.Float32(), rng.Float32()}
		}
		counts := make([]int32, nPoints/4)
		for j := range counts {
			counts[j] = 4
		}

		err = w.AddSpec(mesh, store.SpecPrim, []store.Field{
			{Name: "specifier", Value: store.SpecifierDef},
			{Name: "typeName", Value: store.Token("Mesh")},
			{Name: "displayName", Value: fmt.Sprintf("%s%x", namePrefix, buf)},
			{Name: "points", Value: points},
			{Name: "faceVertexCounts", Value: counts},
		})
		if err != nil {
			return err
		}

		if nSamples == 0 {
			continue
		}
		translate, err := mesh.AppendProperty("xformOp:translate")
		if err != nil {
			return err
		}
		values := make([]any, nSamples)
		for j := range values {
			values[j] = store.Vec3d{rng.Float64(), rng.Float64(), float64(j)}
		}
		err = w.AddSpec(translate, store.SpecAttribute, []store.Field{
			{Name: "typeName", Value: store.Token("double3")},
			{Name: "timeSamples", Value: store.TimeSamples{Times: times, Values: values}},
		})
		if err != nil {
			return err
		}
	}
	return nil
}
