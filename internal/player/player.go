// Package player is the embeddable façade (spec §6): it wires the engine,
// orchestrator, state store, operation queue, overlay and effects
// subsystems into the verb set external callers actually use, and
// serializes playback, seek, skip, overlay, audio-session and
// configuration-update calls through one operation queue. Playlist edits
// (LoadPlaylist, ReplacePlaylist, Append), SetMasterVolume, SetRepeatMode
// and the sound-effect calls act directly and are not serialized with the
// queued operations.
package player

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"meditationplayer/internal/audioengine"
	"meditationplayer/internal/config"
	"meditationplayer/internal/effects"
	"meditationplayer/internal/errs"
	"meditationplayer/internal/events"
	"meditationplayer/internal/metrics"
	"meditationplayer/internal/opqueue"
	"meditationplayer/internal/orchestrator"
	"meditationplayer/internal/overlay"
	"meditationplayer/internal/ports"
	"meditationplayer/internal/state"
)

// DefaultSkipSeconds is the default skip_forward/skip_backward increment.
const DefaultSkipSeconds = 15 * time.Second

// autoFinishFadeOut is the fade-out duration used when the near-end
// scheduler finds nothing to advance to (repeat off, last track).
const autoFinishFadeOut = 2 * time.Second

// Player is the top-level embeddable playback core.
type Player struct {
	engine  *audioengine.Engine
	orch    *orchestrator.Orchestrator
	store   *state.Store
	queue   *opqueue.Queue
	over    *overlay.Overlay
	fx      *effects.Cache
	bus     *events.Bus
	nav     ports.PlaylistNavigator
	met     *metrics.Metrics
	session ports.AudioSession // optional; see SetAudioSession

	scheduler *opqueue.NearEndScheduler
	loadTimer *loadTimeout

	cfg config.PlayerConfiguration
}

// New builds a fully wired Player. nav may be nil, in which case an empty
// in-memory navigator is used.
func New(cfg config.PlayerConfiguration, nav ports.PlaylistNavigator, reg prometheus.Registerer) *Player {
	met := metrics.New(reg)
	engine := audioengine.NewEngine()
	bus := events.NewBus(128)
	store := state.New()
	store.SetNotifier(func(from, to state.Mode) {
		bus.Emit(events.Event{Type: events.StateChanged, Payload: to.String()})
		met.StateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	})

	if nav == nil {
		nav = ports.NewMemoryNavigator(nil)
	}

	p := &Player{
		engine:    engine,
		orch:      orchestrator.New(engine, store, bus, met),
		store:     store,
		queue:     opqueue.New(met),
		over:      overlay.New(engine),
		fx:        effects.New(engine, effects.DefaultMaxCached, met),
		bus:       bus,
		nav:       nav,
		met:       met,
		loadTimer: newLoadTimeout(),
		cfg:       cfg,
	}
	return p
}

// Events registers a new observer on the event stream.
func (p *Player) Events() (events.Handle, <-chan events.Event) {
	return p.bus.Register()
}

// Unsubscribe removes a previously registered observer.
func (p *Player) Unsubscribe(h events.Handle) {
	p.bus.Unregister(h)
}

// Configuration returns the current policy.
func (p *Player) Configuration() config.PlayerConfiguration {
	return p.cfg
}

// UpdateConfiguration validates and replaces the current policy. Rejects
// (rather than clamps) out-of-range values, per spec §3.
func (p *Player) UpdateConfiguration(cfg config.PlayerConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return p.run(opqueue.PriorityNormal, "update_configuration", func(ctx context.Context) error {
		p.cfg = cfg
		p.engine.SetMasterVolume(cfg.MasterVolume)
		return nil
	})
}

// loadWithTimeout runs load (an engine.LoadOnActive/LoadOnInactive call)
// against the adaptive bound tracked by p.loadTimer (spec §5): max(2s, 2×
// observed median). A load that finishes within the bound feeds its
// duration back into the tracker; one that doesn't emits
// events.FileLoadTimeout and returns errs.FileLoad, abandoning the decode
// goroutine to finish and be garbage-collected on its own since the
// underlying os.File read has no cancellation hook.
func (p *Player) loadWithTimeout(load func() (audioengine.Metadata, error)) (audioengine.Metadata, error) {
	bound := p.loadTimer.bound()

	type result struct {
		meta audioengine.Metadata
		err  error
	}
	ch := make(chan result, 1)
	start := time.Now()
	go func() {
		meta, err := load()
		ch <- result{meta, err}
	}()

	select {
	case r := <-ch:
		p.loadTimer.observe(time.Since(start))
		return r.meta, r.err
	case <-time.After(bound):
		p.bus.Emit(events.Event{Type: events.FileLoadTimeout, Payload: bound})
		return audioengine.Metadata{}, errs.New(errs.FileLoad, "file load exceeded adaptive timeout")
	}
}

// run enqueues an operation at the given priority and blocks for its
// result, giving the façade synchronous call semantics while every mutation
// still passes through the single serialized queue.
func (p *Player) run(pri opqueue.Priority, label string, fn func(ctx context.Context) error) error {
	op := &opqueue.Operation{Label: label, Priority: pri, Run: fn}
	return <-p.queue.Enqueue(op)
}

// LoadPlaylist replaces the playlist and resets the navigator cursor.
func (p *Player) LoadPlaylist(tracks []ports.Track) {
	p.nav.Load(tracks)
}

// ReplacePlaylist is an alias for LoadPlaylist (spec §6 distinguishes them
// only at the binding layer; both fully replace the navigator's contents).
func (p *Player) ReplacePlaylist(tracks []ports.Track) {
	p.nav.Load(tracks)
}

// Append adds one track to the end of the playlist.
func (p *Player) Append(t ports.Track) {
	p.nav.Append(t)
}

func toStateTrack(t ports.Track) *state.Track {
	return &state.Track{ID: t.ID, Locator: t.Locator, Title: t.Title, Artist: t.Artist}
}

// StartPlaying loads the navigator's current track onto the active node and
// begins playback, optionally fading in over fadeInDuration.
func (p *Player) StartPlaying(ctx context.Context, fadeInDuration time.Duration) error {
	return p.run(opqueue.PriorityNormal, "start_playing", func(ctx context.Context) error {
		track, ok := p.nav.Current()
		if !ok {
			return errs.ErrEmptyPlaylist
		}
		if err := p.store.UpdateMode(state.Preparing); err != nil {
			return err
		}
		if err := p.engine.Prepare(); err != nil {
			p.store.Fail(err)
			return err
		}
		if err := p.engine.Start(); err != nil {
			p.store.Fail(err)
			return err
		}
		if _, err := p.loadWithTimeout(func() (audioengine.Metadata, error) { return p.engine.LoadOnActive(track.Locator) }); err != nil {
			p.store.Fail(err)
			return err
		}

		st := toStateTrack(track)
		p.store.SetCurrentTrack(st)
		if err := p.store.UpdateMode(state.Playing); err != nil {
			p.store.Fail(err)
			return err
		}
		p.bus.Emit(events.Event{Type: events.TrackChanged, Payload: st})

		err := p.engine.ScheduleActive(ctx, fadeInDuration > 0, fadeInDuration, p.cfg.FadeCurve)
		if err != nil {
			p.store.Fail(err)
			return err
		}
		p.startNearEndScheduler()
		return nil
	})
}

// startNearEndScheduler (re)starts the ~10Hz poller that watches the active
// track's remaining time and enqueues an automatic_loop crossfade once it
// drops to the configured crossfade duration or below (spec §4.5). Any
// previously running scheduler (from an earlier track) is stopped first.
func (p *Player) startNearEndScheduler() {
	if p.scheduler != nil {
		p.scheduler.Stop()
	}
	p.scheduler = opqueue.NewNearEndScheduler(p.queue, p.engine.GetPosition, p.cfg.CrossfadeDuration, func() *opqueue.Operation {
		return &opqueue.Operation{Label: "automatic_loop", Priority: opqueue.PriorityNormal, Run: p.runAutomaticLoop}
	})
	p.scheduler.Start(context.Background())
}

// stopNearEndScheduler halts the poller, if running. Idempotent.
func (p *Player) stopNearEndScheduler() {
	if p.scheduler != nil {
		p.scheduler.Stop()
		p.scheduler = nil
	}
}

// runAutomaticLoop is the automatic_loop operation body the near-end
// scheduler enqueues (spec §4.5). It runs directly on the queue's worker, so
// unlike the façade's other methods it must not itself call p.run (that
// would re-enqueue and deadlock the single worker against itself).
func (p *Player) runAutomaticLoop(ctx context.Context) error {
	if p.cfg.RepeatMode == config.RepeatSingle {
		cur, ok := p.nav.Current()
		if !ok {
			return errs.ErrNoActiveTrack
		}
		return p.startCrossfadeTo(ctx, cur)
	}

	track, ok := p.nav.Next()
	if !ok {
		if p.cfg.RepeatMode == config.RepeatPlaylist {
			// Wrapping to the first track again is the navigator's call
			// (spec §6 lists playlist navigation as an external
			// collaborator); a host navigator configured for playlist
			// repeat simply returns its first track here instead of
			// ok=false. A bare (e.g. the in-memory) navigator has no next
			// track to offer, so there is nothing to do this cycle.
			return nil
		}
		return p.autoFinish(ctx)
	}
	if err := p.startCrossfadeTo(ctx, track); err != nil {
		return err
	}
	p.nav.MoveToNext()
	return nil
}

// startCrossfadeTo begins a crossfade to track, used by both the manual skip
// path and the automatic-loop path. If an earlier crossfade is still in
// flight, it is rolled back first (spec §4.3: "a manual_change while an
// earlier crossfade is still in-flight cancels the prior crossfade
// (rollback to the then-active gains), then begins the new one from
// whichever node is now active") — rollback restores the active node's gain
// to 1.0 and stops the inactive node without swapping labels, so the node
// that was active before the interruption is still active afterward, and
// the new crossfade loads onto the now-idle inactive node exactly as it
// would have if no crossfade had been in flight.
func (p *Player) startCrossfadeTo(ctx context.Context, track ports.Track) error {
	if p.orch.HasActiveCrossfade() {
		if err := p.orch.Rollback(ctx, p.cfg.RollbackDuration); err != nil {
			return err
		}
	}
	if _, err := p.loadWithTimeout(func() (audioengine.Metadata, error) { return p.engine.LoadOnInactive(track.Locator) }); err != nil {
		return err
	}
	from := p.store.CurrentTrack()
	to := toStateTrack(track)
	return p.orch.StartCrossfade(from, to, p.cfg.CrossfadeDuration, p.cfg.FadeCurve)
}

// autoFinish fades the active track out and transitions to Finished when the
// near-end scheduler finds no next track to advance to (repeat off, last
// track in the playlist).
func (p *Player) autoFinish(ctx context.Context) error {
	if p.store.Mode() == state.FadingOut {
		return nil
	}
	if err := p.store.UpdateMode(state.FadingOut); err != nil {
		return err
	}
	err := p.engine.FadeActiveMixer(ctx, p.engine.GetActiveGain(), 0, autoFinishFadeOut, p.cfg.FadeCurve)
	p.engine.FullReset()
	if err != nil {
		p.store.Fail(err)
		return err
	}
	return p.store.UpdateMode(state.Finished)
}

// Pause freezes main-track playback in place. If a crossfade is in flight,
// it is paused (not cancelled) via the resumable snapshot path.
func (p *Player) Pause() error {
	return p.run(opqueue.PriorityUserInteractive, "pause", func(ctx context.Context) error {
		if p.orch.HasActiveCrossfade() {
			from := p.store.CurrentTrack()
			to := p.store.NextTrack()
			if err := p.orch.PauseCrossfade(p.cfg.FadeCurve, p.cfg.CrossfadeDuration, p.orch.Elapsed(), from, to); err != nil {
				return err
			}
		} else {
			p.engine.PauseBothPlayersDuringCrossfade()
		}
		return p.store.UpdateMode(state.Paused)
	})
}

// Resume continues main-track playback, including resuming a paused
// crossfade via the 50%-progress quick-finish policy if one was captured.
func (p *Player) Resume() error {
	return p.run(opqueue.PriorityUserInteractive, "resume", func(ctx context.Context) error {
		if p.store.HasPausedCrossfade() {
			if err := p.orch.ResumeCrossfade(); err != nil {
				return err
			}
		} else {
			p.engine.UnpauseBoth()
		}
		return p.store.UpdateMode(state.Playing)
	})
}

// Stop fades the active track out over fadeOutDuration and transitions to
// Finished. The PlayerState table has no distinct "stopped" state, so Stop
// and Finish share one implementation (spec §3's fading-out only reaches
// finished or failed).
func (p *Player) Stop(ctx context.Context, fadeOutDuration time.Duration) error {
	return p.finishOrStop(ctx, fadeOutDuration)
}

// Finish fades the active track out over fadeOutDuration and transitions to
// Finished.
func (p *Player) Finish(ctx context.Context, fadeOutDuration time.Duration) error {
	return p.finishOrStop(ctx, fadeOutDuration)
}

func (p *Player) finishOrStop(ctx context.Context, fadeOutDuration time.Duration) error {
	return p.run(opqueue.PriorityUserInteractive, "finish", func(ctx context.Context) error {
		if p.store.Mode() == state.FadingOut {
			return errs.New(errs.InvalidState, "a finish is already in progress")
		}
		p.stopNearEndScheduler()
		p.orch.CancelActiveCrossfade()
		if err := p.store.UpdateMode(state.FadingOut); err != nil {
			return err
		}
		err := p.engine.FadeActiveMixer(ctx, p.engine.GetActiveGain(), 0, fadeOutDuration, p.cfg.FadeCurve)
		p.engine.FullReset()
		if err != nil {
			p.store.Fail(err)
			return err
		}
		return p.store.UpdateMode(state.Finished)
	})
}

// SetAudioSession wires an external audio-session collaborator (spec §6).
// The core calls EnsureActive/Deactivate around the critical events below;
// nil (the default) skips those calls entirely.
func (p *Player) SetAudioSession(session ports.AudioSession) {
	p.session = session
}

// HandleAudioSessionInterruption reacts to the audio-session collaborator
// reporting an interruption (e.g. an incoming phone call): it is a critical
// event (spec §4.5 rule 5), so it preempts everything queued or running,
// cancels any in-flight crossfade without a rollback fade (there is no time
// for one once the hardware has already been taken away), deactivates the
// session if one is wired, and leaves the main track paused so a later
// HandleAudioSessionInterruptionEnd can resume it.
func (p *Player) HandleAudioSessionInterruption(ctx context.Context) error {
	return p.run(opqueue.PriorityCritical, "audio_session_interruption", func(ctx context.Context) error {
		p.bus.Emit(events.Event{Type: events.AudioSessionInterruption, Payload: "began"})
		p.orch.CancelActiveCrossfade()
		p.engine.PauseBothPlayersDuringCrossfade()
		if p.session != nil {
			if err := p.session.Deactivate(); err != nil {
				wrapped := errs.Wrap(errs.SessionConfiguration, "deactivate on interruption failed", err)
				p.store.Fail(wrapped)
				return wrapped
			}
		}
		if p.store.Mode() == state.Playing {
			return p.store.UpdateMode(state.Paused)
		}
		return nil
	})
}

// HandleAudioSessionInterruptionEnd resumes playback after a previously
// reported interruption ends, reactivating the session collaborator first.
func (p *Player) HandleAudioSessionInterruptionEnd(ctx context.Context) error {
	return p.run(opqueue.PriorityCritical, "audio_session_interruption_end", func(ctx context.Context) error {
		if p.session != nil {
			if err := p.session.EnsureActive(); err != nil {
				wrapped := errs.Wrap(errs.SessionConfiguration, "reactivate after interruption failed", err)
				p.store.Fail(wrapped)
				return wrapped
			}
		}
		p.bus.Emit(events.Event{Type: events.AudioSessionInterruption, Payload: "ended"})
		if p.store.Mode() != state.Paused {
			return nil
		}
		p.engine.UnpauseBoth()
		return p.store.UpdateMode(state.Playing)
	})
}

// HandleRouteChange reacts to the audio-session collaborator reporting an
// output-route change (e.g. headphones unplugged). It is best-effort:
// playback continues on whatever route the OS now provides, but a session
// reconfiguration failure surfaces as route-change and fails the player.
func (p *Player) HandleRouteChange(ctx context.Context) error {
	return p.run(opqueue.PriorityCritical, "audio_session_route_change", func(ctx context.Context) error {
		p.bus.Emit(events.Event{Type: events.AudioSessionRouteChange, Payload: nil})
		if p.session == nil {
			return nil
		}
		if err := p.session.ForceReconfigure(); err != nil {
			wrapped := errs.Wrap(errs.RouteChange, "route reconfiguration failed", err)
			p.store.Fail(wrapped)
			return wrapped
		}
		return nil
	})
}

// HandleMediaServicesReset reacts to a critical media-services-reset event
// (spec §4.5 rule 5): it releases the session, forces a full engine reset,
// and returns the player to Finished (or Failed if the session release
// itself errors).
func (p *Player) HandleMediaServicesReset(ctx context.Context) error {
	return p.run(opqueue.PriorityCritical, "media_services_reset", func(ctx context.Context) error {
		p.stopNearEndScheduler()
		p.orch.CancelActiveCrossfade()
		p.over.Stop(ctx)
		p.engine.FullReset()

		if p.session != nil {
			if err := p.session.Deactivate(); err != nil {
				wrapped := errs.Wrap(errs.SessionConfiguration, "session release on media reset failed", err)
				p.store.Fail(wrapped)
				return wrapped
			}
		}

		p.store.ForceReset()
		return nil
	})
}

// SkipForward seeks seconds ahead on the active track.
func (p *Player) SkipForward(ctx context.Context, seconds time.Duration) error {
	return p.seekRelative(ctx, seconds)
}

// SkipBackward seeks seconds behind on the active track.
func (p *Player) SkipBackward(ctx context.Context, seconds time.Duration) error {
	return p.seekRelative(ctx, -seconds)
}

func (p *Player) seekRelative(ctx context.Context, delta time.Duration) error {
	return p.run(opqueue.PriorityUserInteractive, "seek_relative", func(ctx context.Context) error {
		current, total, ok := p.engine.GetPosition()
		if !ok {
			return errs.ErrNoActiveTrack
		}
		target := current + delta
		if target < 0 {
			target = 0
		}
		if target > total {
			target = total
		}
		return p.engine.Seek(ctx, target)
	})
}

// SeekTo seeks the active track to an absolute position.
func (p *Player) SeekTo(ctx context.Context, t time.Duration) error {
	return p.run(opqueue.PriorityUserInteractive, "seek_to", func(ctx context.Context) error {
		return p.engine.Seek(ctx, t)
	})
}

// SkipToNext crossfades from the active track to the navigator's next
// track, if any.
func (p *Player) SkipToNext(ctx context.Context) error {
	return p.crossfadeToNavigated(ctx, p.nav.Next, p.nav.MoveToNext)
}

// SkipToPrevious crossfades from the active track to the navigator's
// previous track, if any.
func (p *Player) SkipToPrevious(ctx context.Context) error {
	return p.crossfadeToNavigated(ctx, p.nav.Previous, p.nav.MoveToPrevious)
}

func (p *Player) crossfadeToNavigated(ctx context.Context, peek func() (ports.Track, bool), advance func() bool) error {
	return p.run(opqueue.PriorityUserInteractive, "skip_navigated", func(ctx context.Context) error {
		if p.store.Mode() == state.FadingOut {
			return errs.New(errs.InvalidState, "cannot skip while fading out")
		}
		track, ok := peek()
		if !ok {
			return errs.New(errs.InvalidPlaylistIndex, "no adjacent track")
		}
		if err := p.startCrossfadeTo(ctx, track); err != nil {
			return err
		}
		advance()
		return nil
	})
}

// SetMasterVolume sets the overall output gain, independent of crossfade
// gains.
func (p *Player) SetMasterVolume(v float64) {
	p.engine.SetMasterVolume(v)
}

// GetMasterVolume returns the overall output gain.
func (p *Player) GetMasterVolume() float64 {
	return p.engine.GetMasterVolume()
}

// SetRepeatMode sets the playlist repeat policy.
func (p *Player) SetRepeatMode(mode config.RepeatMode) {
	p.cfg.RepeatMode = mode
}

// StartOverlay begins an ambient-loop layer independent of main playback.
func (p *Player) StartOverlay(ctx context.Context, locator string, cfg config.OverlayConfiguration) error {
	return p.run(opqueue.PriorityNormal, "start_overlay", func(ctx context.Context) error {
		return p.over.Start(ctx, locator, cfg)
	})
}

// PauseOverlay freezes the overlay layer in place.
func (p *Player) PauseOverlay() error {
	return p.run(opqueue.PriorityUserInteractive, "pause_overlay", func(ctx context.Context) error {
		return p.over.Pause()
	})
}

// ResumeOverlay unfreezes the overlay layer.
func (p *Player) ResumeOverlay() error {
	return p.run(opqueue.PriorityUserInteractive, "resume_overlay", func(ctx context.Context) error {
		return p.over.Resume()
	})
}

// StopOverlay fades the overlay layer out.
func (p *Player) StopOverlay(ctx context.Context) error {
	return p.run(opqueue.PriorityNormal, "stop_overlay", func(ctx context.Context) error {
		return p.over.Stop(ctx)
	})
}

// ReplaceOverlay crossfades the overlay layer to a new locator.
func (p *Player) ReplaceOverlay(ctx context.Context, locator string, cfg config.OverlayConfiguration) error {
	return p.run(opqueue.PriorityNormal, "replace_overlay", func(ctx context.Context) error {
		return p.over.Replace(ctx, locator, cfg)
	})
}

// PreloadEffect decodes and caches a sound effect under id, with the given
// fade-in/fade-out envelope (spec §3 SoundEffect).
func (p *Player) PreloadEffect(id, locator string, fadeIn, fadeOut time.Duration) error {
	return p.fx.Preload(id, locator, fadeIn, fadeOut)
}

// PlayEffect triggers a preloaded sound effect at the given linear gain.
func (p *Player) PlayEffect(id string, gain float64) error {
	return p.fx.Play(id, gain)
}

// EvictEffect drops a preloaded sound effect from the cache.
func (p *Player) EvictEffect(id string) {
	p.fx.Evict(id)
}

// StopEffect silences every currently-triggered sound effect voice without
// perturbing the main or overlay gain schedules (spec §6 stop_effect()).
func (p *Player) StopEffect() {
	p.fx.Stop()
}

// QueueStats exposes the operation queue's activity counters for
// introspection (spec-adjacent, surfaced over /state in controlapi).
func (p *Player) QueueStats() opqueue.Stats {
	return p.queue.Stats()
}

// Snapshot returns the current state-store snapshot.
func (p *Player) Snapshot() state.Snapshot {
	return p.store.Snapshot()
}

// Close releases every owned resource: the operation queue, the event bus,
// and the audio hardware.
func (p *Player) Close() {
	p.stopNearEndScheduler()
	p.queue.Close()
	p.bus.Close()
	p.engine.Stop()
}
