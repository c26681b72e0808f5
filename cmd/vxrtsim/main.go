/*
Copyright 2025 The goARRG Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"goarrg.com/debug"
	"golang.org/x/sync/errgroup"
	"golang.org/x/tools/go/packages"

	"goarrg.com/rhi/vxrt"
	"goarrg.com/rhi/vxrt/accel"
	"goarrg.com/rhi/vxrt/internal/headless"
	"goarrg.com/rhi/vxrt/managed"
	"goarrg.com/rhi/vxrt/scene"
)

var flags flag.FlagSet

type generator uint32

const (
	generatorJSON generator = iota
	generatorGO
)

func (g *generator) UnmarshalText(data []byte) error {
	switch string(data) {
	case "json":
		*g = generatorJSON
	case "go":
		*g = generatorGO
	default:
		return debug.Errorf("Invalid value: %q", data)
	}
	return nil
}

func (g generator) MarshalText() (text []byte, err error) {
	switch g {
	case generatorJSON:
		return ([]byte)("json"), nil
	case generatorGO:
		return ([]byte)("go"), nil
	default:
		return nil, debug.Errorf("Invalid value: %d", g)
	}
}

type options struct {
	workers        int
	framesInFlight int
	frames         int
	static         int
	dynamic        int
	work           int
	producers      int
	resizeEvery    int
	uploadEvery    int
	latency        time.Duration
}

func main() {
	debug.SetLevel(debug.LogLevelWarn)

	flags.Usage = help
	flags.Init("", flag.ExitOnError)

	v := flags.Bool("v", false, "Verbose - Print high level tasks")
	vv := flags.Bool("vv", false, "Very Verbose - Print everything")

	opts := options{}
	flags.IntVar(&opts.workers, "workers", 0, "Number of workers, 0 picks one per core minus the render thread.")
	flags.IntVar(&opts.framesInFlight, "frames-in-flight", 2, "Number of frames the GPU may be working on at once.")
	flags.IntVar(&opts.frames, "frames", 120, "Number of frames to render.")
	flags.IntVar(&opts.static, "static", 64, "Number of entities with static geometry.")
	flags.IntVar(&opts.dynamic, "dynamic", 8, "Number of entities with deforming geometry.")
	flags.IntVar(&opts.work, "work", 32, "Number of draw work items per producer per frame.")
	flags.IntVar(&opts.producers, "producers", 4, "Number of goroutines adding work each frame.")
	flags.IntVar(&opts.resizeEvery, "resize-every", 0, "Invalidate the surface every N frames, 0 never does.")
	flags.IntVar(&opts.uploadEvery, "upload-every", 30, "Start a texture upload gated on a timeline every N frames, 0 never does.")
	flags.DurationVar(&opts.latency, "latency", 0, "Simulated GPU time per submission.")

	outDir := flags.String("out-dir", "", "Writes the statistics to a file in this directory instead of stdout.")
	g := generator(0)
	flags.TextVar(&g, "generator", generatorJSON, "Sets the generator to use when writing statistics to -out-dir.\n"+
		"Valid values are \"json\" and \"go\".")

	err := flags.Parse(os.Args[1:])
	if err != nil {
		panic(err)
	}

	if *v {
		debug.SetLevel(debug.LogLevelInfo)
	} else if *vv {
		debug.SetLevel(debug.LogLevelVerbose)
	}

	stats, err := run(opts)
	if err != nil {
		debug.EPrintf("%v", err)
		os.Exit(1)
	}

	j, err := json.MarshalIndent(stats, "", "    ")
	if err != nil {
		panic(err)
	}

	if *outDir == "" {
		fmt.Println(string(j))
		return
	}

	err = os.MkdirAll(*outDir, 0o755)
	if err != nil {
		panic(err)
	}
	switch g {
	case generatorJSON:
		genJson(*outDir, j)
	case generatorGO:
		genGo(*outDir, j)
	}
}

func help() {
	fmt.Fprintf(os.Stderr, "vxrtsim drives the vxrt scheduler, frame loop and acceleration structure coordinator\n"+
		"against a headless device and reports what happened.\n"+
		"\n")
	args := ""
	flags.VisitAll(func(f *flag.Flag) {
		n, u := flag.UnquoteUsage(f)
		if f.DefValue != "" {
			u += "\n\nDefaults to \"" + f.DefValue + "\"."
		}
		args += "\t-" + f.Name + " " + n + "\n\t\t" + strings.ReplaceAll(strings.TrimSpace(u), "\n", "\n\t\t") + "\n"
	})
	fmt.Fprintf(os.Stderr, "Usage:\n\t%s [arguments]\n\nArguments:\n%s", filepath.Base(os.Args[0]), args)
}

func cube(size float32) ([]managed.Vertex, []uint32) {
	var vertices []managed.Vertex
	var indices []uint32
	normals := []mgl32.Vec3{{1, 0, 0}, {-1, 0, 0}, {0, 1, 0}, {0, -1, 0}, {0, 0, 1}, {0, 0, -1}}
	for _, n := range normals {
		u := mgl32.Vec3{n.Y(), n.Z(), n.X()}
		w := n.Cross(u)
		base := uint32(len(vertices))
		for _, uv := range []mgl32.Vec2{{0, 0}, {1, 0}, {1, 1}, {0, 1}} {
			p := n.Add(u.Mul(uv.X()*2 - 1)).Add(w.Mul(uv.Y()*2 - 1)).Mul(size / 2)
			vertices = append(vertices, managed.Vertex{Position: p, Normal: n, UV: uv})
		}
		indices = append(indices, base, base+1, base+2, base, base+2, base+3)
	}
	return vertices, indices
}

func buildWorld(opts options, registry *managed.Registry) *scene.World {
	world := scene.NewWorld()
	vertices, indices := cube(1)
	side := int(math.Ceil(math.Sqrt(float64(opts.static + opts.dynamic))))

	var first scene.Handle
	for i := 0; i < opts.static+opts.dynamic; i++ {
		material := uint32(registry.Textures.Push(fmt.Sprintf("material_%d", i%4)))
		e := scene.NewEntity(fmt.Sprintf("entity_%d", i), mgl32.Vec3{float32(i % side * 2), 0, float32(i / side * 2)})
		e.SetGeometry(scene.Geometry{Vertices: vertices, Indices: indices, Material: material})
		if i >= opts.static {
			e.SetAnimation(scene.Animation{Axis: mgl32.Vec3{0, 1, 0}, AngularVelocity: 1, Wobble: 0.05})
		}
		h := world.Spawn(e)
		if i == 0 {
			first = h
		} else if i%8 == 0 {
			if e, ok := world.Entity(h); ok {
				e.SetFocus(first)
			}
		}
	}
	return world
}

type drawItem struct {
	priority int
	class    vxrt.SubmitClass
	staging  *atomic.Int64
}

func (d *drawItem) Priority() int {
	return d.priority
}

func (d *drawItem) Execute(w *vxrt.Worker) error {
	cb, err := w.CommandBuffer(d.class)
	if err != nil {
		return err
	}
	set, err := w.AllocateDescriptorSet(headless.DescriptorSetLayout("material"))
	if err != nil {
		return err
	}
	cb.(*headless.CommandBuffer).Record(fmt.Sprintf("draw(%s, frame %d)", set.Layout().ID(), w.Frame()))

	d.staging.Add(1)
	w.GPUResource(vxrt.DestroyFunc(func() {
		d.staging.Add(-1)
	}))
	return nil
}

type simStats struct {
	Renderer        vxrt.RendererStats
	Accel           accel.Stats
	Submissions     int
	Recreations     int
	LiveStaging     int64
	LiveAccel       int
	UploadsReleased int
	Elapsed         string
}

func run(opts options) (*simStats, error) {
	start := time.Now()
	dev := headless.New(headless.Config{Latency: opts.latency, DescriptorLimit: 64})

	r, err := vxrt.New(dev, vxrt.Config{
		Name:                   "vxrtsim",
		MaxFramesInFlight:      int32(opts.framesInFlight),
		NumWorkers:             int32(opts.workers),
		DescriptorPoolBankSize: 128,
		RequiredFeatures:       vxrt.FeatureAccelerationStructure,
	})
	if err != nil {
		return nil, err
	}

	registry := managed.NewRegistry(managed.Config{
		Name:             "vxrtsim",
		FramesInFlight:   int32(opts.framesInFlight),
		MaxResourceIndex: int32(opts.static+opts.dynamic) + 16,
	})
	builder := headless.NewAccelBuilder()
	coordinator := accel.NewCoordinator(builder, registry, accel.Config{
		Name:           "vxrtsim",
		Priority:       100,
		FramesInFlight: int32(opts.framesInFlight),
	})
	world := buildWorld(opts, registry)
	uploads, err := vxrt.NewTimelineSemaphore(dev, "vxrtsim_uploads")
	if err != nil {
		return nil, err
	}

	classes := []vxrt.SubmitClass{vxrt.SubmitPrimaryGraphics, vxrt.SubmitShadow, vxrt.SubmitSecondaryGraphics, vxrt.SubmitParticle}
	staging := atomic.Int64{}
	released := atomic.Int64{}
	var promise *vxrt.TimelineSemaphorePromise

	for i := 0; i < opts.frames; i++ {
		if opts.resizeEvery > 0 && i > 0 && i%opts.resizeEvery == 0 {
			dev.Invalidate()
		}
		world.Update(1.0 / 60.0)

		if promise != nil {
			if err := promise.Signal(); err != nil {
				return nil, err
			}
			promise = nil
		}
		if opts.uploadEvery > 0 && i%opts.uploadEvery == 0 {
			promise = uploads.Promise()
			r.Scheduler().AddWorkAfter(uploads.WaiterForValue(promise.Value()), vxrt.WorkFunc(50, func(w *vxrt.Worker) error {
				released.Add(1)
				_, err := w.CommandBuffer(vxrt.SubmitCompute)
				return err
			}))
		}

		err := r.RenderFrame(func(f *vxrt.Frame) error {
			if err := f.AcquireSurface(); err != nil {
				return err
			}
			sched := r.Scheduler()
			sched.AddWork(coordinator.Work(world))

			g := errgroup.Group{}
			for p := 0; p < opts.producers; p++ {
				g.Go(func() error {
					for j := 0; j < opts.work; j++ {
						sched.AddWork(&drawItem{priority: j % 3, class: classes[(p+j)%len(classes)], staging: &staging})
					}
					return nil
				})
			}
			return g.Wait()
		})
		if err != nil {
			return nil, debug.ErrorWrapf(err, "Frame %d failed", i)
		}
	}

	if promise != nil {
		if err := promise.Signal(); err != nil {
			return nil, err
		}
	}
	if err := dev.WaitIdle(); err != nil {
		return nil, err
	}

	stats := &simStats{
		Renderer:    r.Stats(),
		Accel:       coordinator.Stats(),
		Submissions: len(dev.Submissions()),
		Recreations: dev.Recreations(),
	}
	coordinator.Destroy()
	if err := r.Destroy(); err != nil {
		return nil, err
	}
	uploads.Destroy()

	stats.LiveStaging = staging.Load()
	stats.LiveAccel = builder.Live()
	stats.UploadsReleased = int(released.Load())
	stats.Elapsed = time.Since(start).String()
	debug.IPrintf("Simulated %d frames in %s", opts.frames, stats.Elapsed)
	return stats, nil
}

func genJson(dir string, j []byte) {
	jsonFile := filepath.Join(dir, "vxrtsim_stats.json")
	debug.IPrintf("Writing stats to: %q", jsonFile)
	err := os.WriteFile(jsonFile, j, 0o655)
	if err != nil {
		panic(err)
	}
}

func genGo(dir string, j []byte) {
	filename := filepath.Join(dir, "zvxrtsim_stats.go")
	debug.IPrintf("Writing stats to: %q", filename)
	fOut, err := os.Create(filename)
	if err != nil {
		panic(err)
	}
	defer fOut.Close()

	{
		args := ""
		for _, arg := range os.Args[1:] {
			args += arg + " "
		}
		fmt.Fprintf(fOut, "// go run goarrg.com/rhi/vxrt/cmd/vxrtsim %s\n", args)
		fmt.Fprintf(fOut, "// Code generated by the command above; DO NOT EDIT.\n\n")
	}

	{
		p, err := packages.Load(&packages.Config{Mode: packages.NeedName}, dir)
		if err != nil {
			panic(debug.ErrorWrapf(err, "Failed to load package at %q", dir))
		}
		if len(p) == 0 {
			fmt.Fprintf(fOut, "package %s\n\n", filepath.Base(dir))
		} else if p[0].Name != "" {
			fmt.Fprintf(fOut, "package %s\n\n", filepath.Base(p[0].Name))
		} else {
			fmt.Fprintf(fOut, "package %s\n\n", filepath.Base(p[0].PkgPath))
		}
	}

	fmt.Fprintf(fOut, "func vxrtsimStats() string {\n")
	fmt.Fprintf(fOut, "\treturn %#v\n", string(j))
	fmt.Fprintf(fOut, "}\n")
}
