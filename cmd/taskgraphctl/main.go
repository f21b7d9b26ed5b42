// Command taskgraphctl loads a declarative plan file, builds a WorkGraph
// from it, and executes it against a worker service, the same role
// cmd/choo plays for the teacher's unit orchestrator.
package main

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kforge/taskgraph/cmd/taskgraphctl/internal/dashboard"
	"github.com/kforge/taskgraph/cmd/taskgraphctl/internal/plan"
	"github.com/kforge/taskgraph/internal/events"
	"github.com/kforge/taskgraph/schedpolicy"
	"github.com/kforge/taskgraph/workgraph"
	"github.com/kforge/taskgraph/workerservice"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "taskgraphctl",
		Short:         "Run and inspect dependency-graph task plans",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (%s) built %s", version, commit, date),
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newLevelsCmd())
	return root
}

type runOptions struct {
	threads    int
	noTUI      bool
	verbose    bool
	configPath string
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run <plan.yaml>",
		Short: "Execute a plan's WorkGraph to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(args[0], opts)
		},
	}
	cmd.Flags().IntVar(&opts.threads, "threads", 0, "worker thread count (0 = GOMAXPROCS)")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "disable the live dashboard even on a TTY")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every lifecycle event to stderr")
	cmd.Flags().StringVar(&opts.configPath, "config", "", "path to a worker service config YAML file (soft_failure_threshold, failure_sleep)")
	return cmd
}

func newLevelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "levels <plan.yaml>",
		Short: "Print the plan's topological levels without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printLevels(args[0])
		},
	}
}

func runPlan(path string, opts runOptions) error {
	p, err := plan.Load(path)
	if err != nil {
		return err
	}

	bus := events.NewBus()
	var unsub events.Token
	if opts.verbose {
		unsub = bus.Subscribe(events.LogHandler(events.LogConfig{Writer: os.Stderr}))
		defer bus.Unsubscribe(unsub)
	}

	cfg := workgraph.Config{Name: p.ID.String(), Bus: bus}
	pool, g, handles, err := p.Build(cfg)
	if err != nil {
		return err
	}

	svcCfg, err := workerservice.LoadServiceConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("load worker service config: %w", err)
	}

	svc := workerservice.New(opts.threads, schedpolicy.NewDirect(pool), svcCfg)
	svc.AddPool(pool)
	svc.Start()
	defer svc.Stop()

	useTUI := !opts.noTUI && isTTY(os.Stdout)
	var program *tea.Program
	var bridge *dashboard.Bridge
	done := make(chan struct{})

	if useTUI {
		model := dashboard.New(len(handles))
		program = tea.NewProgram(model)
		bridge = dashboard.NewBridge(program)
		tok := bus.Subscribe(bridge.Handler())
		defer bus.Unsubscribe(tok)

		go func() {
			for {
				select {
				case <-done:
					return
				default:
					svc.ExecuteMainThreadWork(64)
					time.Sleep(5 * time.Millisecond)
				}
			}
		}()

		go func() {
			res := g.Wait()
			close(done)
			bridge.SendDone(dashboard.DoneMsg{
				Completed: res.Completed, Failed: res.Failed,
				Cancelled: res.Cancelled, Dropped: res.Dropped,
			})
		}()

		g.Execute()
		if _, err := program.Run(); err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		return nil
	}

	g.Execute()
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				svc.ExecuteMainThreadWork(64)
				time.Sleep(5 * time.Millisecond)
			}
		}
	}()
	res := g.Wait()
	close(done)

	fmt.Printf("completed=%d failed=%d cancelled=%d dropped=%d all_completed=%v\n",
		res.Completed, res.Failed, res.Cancelled, res.Dropped, res.AllCompleted)
	if !res.AllCompleted {
		return fmt.Errorf("plan %q did not complete cleanly", path)
	}
	return nil
}

func printLevels(path string) error {
	p, err := plan.Load(path)
	if err != nil {
		return err
	}
	_, g, _, err := p.Build(workgraph.Config{})
	if err != nil {
		return err
	}
	for i, level := range g.Levels() {
		fmt.Printf("level %d:", i)
		for _, h := range level {
			fmt.Printf(" %d", h.Index())
		}
		fmt.Println()
	}
	return nil
}

func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
