// Replay drives the timeline synchronizer with a simulated or wall-clock playback position
// Prints the highlight, scroll and clear directives a player UI would receive
package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/andrewh/turnscope/pkg/session"
	"github.com/andrewh/turnscope/pkg/timeline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type replayOptions struct {
	tick     time.Duration
	realtime bool
	seek     float64
	pauseAt  []float64
	reload   time.Duration
}

func replayCmd(a *app) *cobra.Command {
	var opts replayOptions

	cmd := &cobra.Command{
		Use:   "replay <input>",
		Short: "Replay a session and print synchronizer directives",
		Long: "Replay a session against its playback timeline.\n\n" +
			"By default the playback position advances by --tick per step without waiting.\n" +
			"With --realtime the position follows the wall clock until the timeline ends\n" +
			"or the process is interrupted.",
		Args: a.inputArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.tick <= 0 {
				return fmt.Errorf("--tick must be positive, got %s", opts.tick)
			}
			if opts.seek < 0 {
				return fmt.Errorf("--seek must not be negative, got %.2f", opts.seek)
			}
			if opts.reload != 0 && !opts.realtime {
				return errors.New("--reload requires --realtime")
			}

			d, err := a.derive(cmd, args)
			if err != nil {
				return err
			}
			defer d.close()

			if opts.realtime {
				return a.replayRealtime(cmd, args, d, opts)
			}
			return a.replaySimulated(cmd, d, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.tick, "tick", 250*time.Millisecond, "playback position step")
	cmd.Flags().BoolVar(&opts.realtime, "realtime", false, "advance the position with the wall clock")
	cmd.Flags().Float64Var(&opts.seek, "seek", 0, "start position in seconds")
	cmd.Flags().Float64SliceVar(&opts.pauseAt, "pause-at", nil, "positions in seconds at which playback toggles between playing and paused")
	cmd.Flags().DurationVar(&opts.reload, "reload", 0, "re-read the input at this interval during realtime replay")

	return cmd
}

// pauseSchedule toggles the playing state as the position passes each mark.
type pauseSchedule struct {
	marks   []float64
	playing bool
}

func newPauseSchedule(marks []float64) *pauseSchedule {
	m := slices.Clone(marks)
	slices.Sort(m)
	return &pauseSchedule{marks: m, playing: true}
}

func (p *pauseSchedule) at(pos float64) bool {
	for len(p.marks) > 0 && p.marks[0] <= pos {
		p.playing = !p.playing
		p.marks = p.marks[1:]
	}
	return p.playing
}

func (a *app) replaySimulated(cmd *cobra.Command, d *derivation, opts replayOptions) error {
	player := d.engine.Player(d.snapshot.SessionID)
	schedule := newPauseSchedule(opts.pauseAt)
	total := timeline.Total(d.snapshot.Timeline)
	step := opts.tick.Seconds()

	for i := 0; ; i++ {
		pos := opts.seek + float64(i)*step
		if pos > total {
			break
		}
		ds := player.Tick(pos, schedule.at(pos))
		if err := renderDirectives(cmd.OutOrStdout(), a.cfg.Output, pos, ds); err != nil {
			return err
		}
	}
	// End of audio behaves like a pause.
	return renderDirectives(cmd.OutOrStdout(), a.cfg.Output, total, player.Tick(total, false))
}

func (a *app) replayRealtime(cmd *cobra.Command, args []string, d *derivation, opts replayOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopProfiler, err := startProfiler(a.cfg.PyroscopeServer, d.snapshot.SessionID)
	if err != nil {
		return err
	}
	defer stopProfiler()

	if opts.reload > 0 {
		reloadCtx, cancel := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Go(func() {
			a.reloadLoop(reloadCtx, args, d.engine, d.snapshot.SessionID, opts.reload)
		})
		// The engine is closed after return; no reload may still be deriving.
		defer func() {
			cancel()
			wg.Wait()
		}()
	}

	player := d.engine.Player(d.snapshot.SessionID)
	schedule := newPauseSchedule(opts.pauseAt)
	ticker := time.NewTicker(opts.tick)
	defer ticker.Stop()
	started := time.Now()

	for {
		select {
		case <-ctx.Done():
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "interrupted")
			return nil
		case now := <-ticker.C:
			pos := opts.seek + now.Sub(started).Seconds()
			total := timeline.Total(player.Entries())
			if pos > total {
				return renderDirectives(cmd.OutOrStdout(), a.cfg.Output, total, player.Tick(total, false))
			}
			if err := renderDirectives(cmd.OutOrStdout(), a.cfg.Output, pos, player.Tick(pos, schedule.at(pos))); err != nil {
				return err
			}
		}
	}
}

// reloadLoop re-derives the session at a fixed interval so the player picks
// up newer snapshots while it runs.
func (a *app) reloadLoop(ctx context.Context, args []string, engine *session.Engine, sessionID string, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b, err := a.load(ctx, args)
			if err != nil {
				a.logger.Warn("reloading session failed", zap.Error(err))
				continue
			}
			b.SessionID = sessionID
			if _, err := engine.Derive(ctx, b.Batch(0)); err != nil && !errors.Is(err, session.ErrStale) {
				a.logger.Warn("deriving reloaded session failed", zap.Error(err))
			}
		}
	}
}
