package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jacentio/trellis/collection"
	"github.com/jacentio/trellis/future"
	"github.com/jacentio/trellis/reactive"
	"github.com/jacentio/trellis/remote"
	"github.com/jacentio/trellis/remote/memory"
)

const demoPath = "boards/weekly"

func newDemoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a scripted leaderboard against an in-memory source",
		Long: `Mirror the top of an in-memory leaderboard ordered by score and print it
after every step: insertion, a move, loading another page, a removal and
finally a permission error that keeps the last good collection.`,
		Args: cobra.NoArgs,
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		p := newPrinter(cmd.OutOrStdout(), getOptions(cmd).JSONOutput)
		_, err := runDemo(p, getLogger(cmd))
		return err
	}
	return cmd
}

type demoStep struct {
	name string
	run  func(b *memory.Backend, s *collection.Synchronizer) error
}

func player(name string, score int) map[string]any {
	return map[string]any{"name": name, "score": score}
}

var demoSteps = []demoStep{
	{"initial", func(*memory.Backend, *collection.Synchronizer) error { return nil }},
	{"insert", func(b *memory.Backend, _ *collection.Synchronizer) error {
		return futureErr(b.Set(demoPath+"/fay", player("Fay", 80)))
	}},
	{"move", func(b *memory.Backend, _ *collection.Synchronizer) error {
		return futureErr(b.Update(demoPath+"/bob", map[string]any{"score": 95}))
	}},
	{"more", func(_ *memory.Backend, s *collection.Synchronizer) error {
		return s.ScrollMore()
	}},
	{"remove", func(b *memory.Backend, _ *collection.Synchronizer) error {
		return futureErr(b.Remove(demoPath + "/ada"))
	}},
	{"denied", func(b *memory.Backend, _ *collection.Synchronizer) error {
		b.Deny("boards", nil)
		return nil
	}},
}

// runDemo plays the leaderboard script and returns the collection after
// every step.
func runDemo(p *printer, logger *logrus.Entry) ([]collection.Snapshot, error) {
	queue := remote.NewQueue()
	backend := memory.New(
		memory.WithDispatcher(queue),
		memory.WithLogger(logger),
		memory.WithData(map[string]any{
			"boards": map[string]any{
				"weekly": map[string]any{
					"ada": player("Ada", 90),
					"bob": player("Bob", 70),
					"cyd": player("Cyd", 50),
					"dee": player("Dee", 30),
					"eve": player("Eve", 10),
				},
			},
		}),
	)

	s, err := collection.New(collection.Config{
		Source:       backend.Source(),
		Path:         demoPath,
		OrderByChild: "score",
		LimitToLast:  3,
		PageSize:     2,
		Logger:       logger,
	}, collection.Config{})
	if err != nil {
		return nil, err
	}
	if err := s.Mount(); err != nil {
		return nil, err
	}
	defer s.Unmount()

	scheduler := reactive.NewScheduler(logger)
	leader := ""
	scheduler.Track("leader", func(t *reactive.Tracker) error {
		snap := s.Collection(t)
		if snap.Len() == 0 {
			return nil
		}
		var top struct{ Name string }
		if err := snap.Collection[snap.Len()-1].Decode(&top); err != nil {
			return err
		}
		if top.Name != leader {
			leader = top.Name
			p.line("leader: %s", leader)
		}
		return nil
	})

	var snaps []collection.Snapshot
	for _, step := range demoSteps {
		p.line("== %s", step.name)
		if err := step.run(backend, s); err != nil {
			return snaps, err
		}
		queue.Flush()
		scheduler.Flush()

		snap := s.Snapshot()
		p.snapshot(s.Path(), snap)
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// futureErr returns the error of an in-memory write, which completes
// before the call returns.
func futureErr[T any](f *future.Future[T]) error {
	_, err, _ := f.Result()
	return err
}
