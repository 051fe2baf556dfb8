// Command demo wires the embeddable playback core together behind the
// control/introspection HTTP API and walks through the end-to-end scenarios
// a host integration would exercise: auto-advance crossfade, pause/resume
// mid-crossfade, an effect fired mid-crossfade, and rapid pause/resume
// cycling.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"meditationplayer/internal/config"
	"meditationplayer/internal/controlapi"
	"meditationplayer/internal/player"
	"meditationplayer/internal/ports"
)

func main() {
	if err := godotenv.Load("../.env"); err != nil {
		if err := godotenv.Load(".env"); err != nil {
			log.Println("no .env file found, using environment variables only")
		}
	} else {
		log.Println("loaded environment from ../.env")
	}

	assetsDir := getEnvWithDefault("PLAYER_ASSETS_DIR", "assets")
	addr := getEnvWithDefault("PLAYER_LISTEN_ADDR", ":8090")

	cfg := config.FromEnv(config.DefaultPlayerConfiguration())
	reg := prometheus.NewRegistry()

	tracks := discoverTracks(assetsDir)
	nav := ports.NewMemoryNavigator(tracks)
	p := player.New(cfg, nav, reg)
	defer p.Close()

	logEvents(p)

	router := controlapi.NewRouter(controlapi.RouterConfig{
		Player:     p,
		Registerer: reg,
	})

	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		log.Printf("control API listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("control API server error: %v", err)
		}
	}()

	if len(tracks) < 2 {
		log.Printf("fewer than two tracks found under %s, skipping playback scenarios", assetsDir)
	} else {
		runScenarios(p, assetsDir)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func getEnvWithDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func logEvents(p *player.Player) {
	_, ch := p.Events()
	go func() {
		for ev := range ch {
			log.Printf("event: %s %v", ev.Type, ev.Payload)
		}
	}()
}

// runScenarios walks through the spec's named end-to-end behaviors against
// whatever tracks were discovered under the assets directory. Each scenario
// logs its outcome rather than asserting, since this is an interactive demo
// and not a test.
func runScenarios(p *player.Player, assetsDir string) {
	ctx := context.Background()

	log.Println("scenario 1: auto-advance with crossfade")
	if err := p.StartPlaying(ctx, 0); err != nil {
		log.Printf("scenario 1: start_playing failed: %v", err)
		return
	}
	time.Sleep(2 * time.Second)

	log.Println("scenario 2: pause then resume mid-crossfade")
	if err := p.SkipToNext(ctx); err != nil {
		log.Printf("scenario 2: skip_to_next failed: %v", err)
	}
	time.Sleep(500 * time.Millisecond)
	if err := p.Pause(); err != nil {
		log.Printf("scenario 2: pause failed: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if err := p.Resume(); err != nil {
		log.Printf("scenario 2: resume failed: %v", err)
	}
	time.Sleep(3 * time.Second)

	log.Println("scenario 5: sound effect mid-crossfade")
	chimePath := filepath.Join(assetsDir, "chime.wav")
	if err := p.PreloadEffect("chime", chimePath, 50*time.Millisecond, 200*time.Millisecond); err != nil {
		log.Printf("scenario 5: no %s available, skipping: %v", chimePath, err)
	} else {
		if err := p.SkipToNext(ctx); err == nil {
			time.Sleep(500 * time.Millisecond)
			if err := p.PlayEffect("chime", 1.0); err != nil {
				log.Printf("scenario 5: play_effect failed: %v", err)
			}
		}
		time.Sleep(3 * time.Second)
	}

	log.Println("scenario 6: rapid pause/resume cycles")
	for i := 0; i < 5; i++ {
		_ = p.Pause()
		_ = p.Resume()
		time.Sleep(200 * time.Millisecond)
	}

	log.Println("scenarios complete, final snapshot:", p.Snapshot().ToJSON())
}

// discoverTracks builds the navigator's initial playlist from every
// .ogg/.wav file directly under dir, sorted by name. A missing or empty
// directory yields an empty playlist, which the caller skips gracefully.
func discoverTracks(dir string) []ports.Track {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".ogg" || ext == ".wav" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	tracks := make([]ports.Track, 0, len(names))
	for _, name := range names {
		tracks = append(tracks, ports.Track{ID: name, Locator: filepath.Join(dir, name), Title: name})
	}
	return tracks
}
