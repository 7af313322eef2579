// Command flipdemo is an interactive ebiten host for the pkg/fluid FLIP/PIC
// solver: it owns the obstacle set and the time-stepping loop, calling
// Solver.AddInflow/Update/ToImage once per physics substep and blitting the
// resulting RGBA buffer to the screen.
package main

import (
	"fmt"
	"log"
	"os"
	"runtime/pprof"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mmmovania/incremental-fluids/pkg/fluid"
)

// physicsSubsteps decouples the physics rate from the display rate: each
// displayed frame advances the solver this many fixed-size steps.
const physicsSubsteps = 4

type config struct {
	width, height int
	scenario      string
	rhoAir        float64
	rhoSoot       float64
	diffusion     float64
	dt            float64
	renderHeat    bool
	showVelocity  bool
	cpuprofile    string
	verbose       bool
}

// Game wires a fluid.Solver into ebiten's update/draw loop: it owns the
// obstacle set (built once from the chosen scenario), steps the solver
// physicsSubsteps times per tick, and renders the solver's own ToImage
// buffer, optionally composited with a velocity-magnitude overlay.
type Game struct {
	cfg      config
	solver   *fluid.Solver
	scenario Scenario
	bodies   []fluid.SolidBody

	simTime float64
	rgba    []byte
	img     *ebiten.Image

	panels int
}

func NewGame(cfg config) *Game {
	scenario, ok := scenarios[cfg.scenario]
	if !ok {
		log.Fatalf("flipdemo: unknown scenario %q (choose one of %s)", cfg.scenario, strings.Join(scenarioNames(), ", "))
	}

	hx := 1.0 / float64(min(cfg.width, cfg.height))
	bodies := scenario.Bodies(cfg.width, cfg.height, hx)

	g := &Game{
		cfg:      cfg,
		solver:   fluid.NewSolver(cfg.width, cfg.height, cfg.rhoAir, cfg.rhoSoot, cfg.diffusion, bodies),
		scenario: scenario,
		bodies:   bodies,
		panels:   1,
	}
	if cfg.renderHeat {
		g.panels = 2
	}
	g.rgba = make([]byte, 4*cfg.width*cfg.height*g.panels)
	g.img = ebiten.NewImage(cfg.width*g.panels, cfg.height)
	return g
}

func (g *Game) Update() error {
	if ebiten.IsKeyPressed(ebiten.KeyQ) {
		return ebiten.Termination
	}

	for i := 0; i < physicsSubsteps; i++ {
		g.scenario.Inflow(g.solver, g.simTime, g.cfg.dt)
		g.solver.Update(g.cfg.dt)
		for _, b := range g.bodies {
			b.Update(g.cfg.dt)
		}
		g.simTime += g.cfg.dt
	}
	return nil
}

func (g *Game) Draw(screen *ebiten.Image) {
	g.solver.ToImage(g.rgba, g.cfg.renderHeat)
	g.img.WritePixels(g.rgba)

	op := &ebiten.DrawImageOptions{}
	sx := float64(screen.Bounds().Dx()) / float64(g.img.Bounds().Dx())
	sy := float64(screen.Bounds().Dy()) / float64(g.img.Bounds().Dy())
	op.GeoM.Scale(sx, sy)
	screen.DrawImage(g.img, op)

	if g.cfg.showVelocity {
		g.drawVelocityOverlay(screen, sx, sy)
	}

	ebitenutil.DebugPrint(screen, fmt.Sprintf(
		"scenario: %s\nparticles: %d\nFPS: %0.1f",
		g.scenario.Name, g.solver.ParticleCount(), ebiten.ActualFPS()))
}

// drawVelocityOverlay sprinkles a handful of colour-mapped dots over the
// rendered grid, shaded by local squared velocity magnitude via getSciValue — a
// coarse diagnostic, not a substitute for a proper glyph renderer.
func (g *Game) drawVelocityOverlay(screen *ebiten.Image, sx, sy float64) {
	vf := g.solver.Velocity()
	const stride = 4
	for y := 0; y < g.cfg.height; y += stride {
		for x := 0; x < g.cfg.width; x += stride {
			u, v, err := vf.Value(x, y)
			if err != nil {
				continue
			}
			magSq := float32(u*u + v*v)
			col := getSciValue(magSq, 0.0, 4.0)
			px := (float64(x) + 0.5) * sx
			py := (float64(y) + 0.5) * sy
			screen.Set(int(px), int(py), col)
		}
	}
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return g.cfg.width * g.panels, g.cfg.height
}

func run(cfg config) error {
	if cfg.cpuprofile != "" {
		f, err := os.Create(cfg.cpuprofile)
		if err != nil {
			return fmt.Errorf("flipdemo: could not create CPU profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("flipdemo: could not start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	if cfg.verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	windowScale := 2
	game := NewGame(cfg)
	ebiten.SetWindowSize(cfg.width*game.panels*windowScale, cfg.height*windowScale)
	ebiten.SetWindowTitle("flipdemo — " + cfg.scenario)
	return ebiten.RunGame(game)
}

func newRootCmd() *cobra.Command {
	cfg := config{}

	cmd := &cobra.Command{
		Use:   "flipdemo",
		Short: "Interactive demo host for the FLIP/PIC cut-cell smoke solver.",
		Long: `flipdemo drives pkg/fluid.Solver through an ebiten window, selecting
one of the named scenarios (plume, rotating-box, static-pool) and stepping
the simulation forward each frame.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}

	bindFlags(cmd.Flags(), &cfg)

	return cmd
}

// bindFlags registers every flipdemo flag against flags, binding each
// straight into cfg's fields the way pflag.FlagSet's *Var family is meant
// to be used.
func bindFlags(flags *pflag.FlagSet, cfg *config) {
	flags.IntVar(&cfg.width, "width", 128, "grid width in cells")
	flags.IntVar(&cfg.height, "height", 128, "grid height in cells")
	flags.StringVar(&cfg.scenario, "scenario", "plume", fmt.Sprintf("scenario to run (%s)", strings.Join(scenarioNames(), ", ")))
	flags.Float64Var(&cfg.rhoAir, "density-air", 0.1, "ambient air density used for buoyancy")
	flags.Float64Var(&cfg.rhoSoot, "density-soot", 1.0, "fully-saturated soot density used for buoyancy")
	flags.Float64Var(&cfg.diffusion, "diffusion", 0.0, "heat diffusivity for the implicit diffusion solve")
	flags.Float64Var(&cfg.dt, "dt", 0.005, "physics substep duration in seconds")
	flags.BoolVar(&cfg.renderHeat, "render-heat", false, "render a second heat panel alongside density")
	flags.BoolVar(&cfg.showVelocity, "show-velocity", false, "overlay a coarse velocity-magnitude colormap")
	flags.StringVar(&cfg.cpuprofile, "cpuprofile", "", "write a CPU profile to `file`")
	flags.BoolVarP(&cfg.verbose, "verbose", "v", false, "enable debug-level logging")
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
