// sabia: voice conversation daemon. Bridges a browser (WebRTC audio +
// REST/websocket control plane) to the Gemini Live API with persona,
// history and tool support.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sabia-ai/sabia/internal/config"
	"github.com/sabia-ai/sabia/internal/log"
	"github.com/sabia-ai/sabia/internal/observability"
	"github.com/sabia-ai/sabia/pkg/audio"
	"github.com/sabia-ai/sabia/pkg/dictionary"
	"github.com/sabia-ai/sabia/pkg/drive"
	"github.com/sabia-ai/sabia/pkg/history"
	"github.com/sabia-ai/sabia/pkg/live"
	"github.com/sabia-ai/sabia/pkg/persona"
	"github.com/sabia-ai/sabia/pkg/session"
	"github.com/sabia-ai/sabia/pkg/tools"
	"github.com/sabia-ai/sabia/pkg/web"
)

const knowledgeFolder = "Sabia Knowledge"

func main() {
	log.Init(config.LogLevel())

	apiKey := config.GeminiAPIKey()
	dataDir := config.DataDir()

	personas, err := persona.NewJSONStore(filepath.Join(dataDir, "personas.json"))
	if err != nil {
		fatal("persona store", err)
	}
	conversations, err := history.NewJSONStore(filepath.Join(dataDir, "conversations.json"))
	if err != nil {
		fatal("history store", err)
	}

	client, err := live.NewClient(apiKey)
	if err != nil {
		fatal("live client", err)
	}

	source := audio.NewWebRTCSource(audio.DefaultCaptureConfig())
	sink, err := audio.NewRTPSink(audio.DefaultPlaybackConfig(), rand.Uint32(), source.WriteRTP)
	if err != nil {
		fatal("audio sink", err)
	}

	recorder := audio.NewRecorder(source)
	streamer := audio.NewStreamer(sink)
	localRec := session.NewSessionRecorder(filepath.Join(dataDir, "recordings"))

	registry := tools.NewRegistry()
	metrics := observability.New("sabia")

	engine := session.NewEngine(client, recorder, streamer, registry,
		session.WithMetrics(metrics),
		session.WithLocalRecorder(localRec),
	)

	var driveClient *drive.Client
	if config.GoogleClientID() != "" {
		driveClient, err = drive.NewClient(drive.Config{
			ClientID:     config.GoogleClientID(),
			ClientSecret: config.GoogleClientSecret(),
			TokenPath:    filepath.Join(dataDir, "google_token.json"),
		})
		if err != nil {
			log.Warn("drive integration disabled", "err", err)
			driveClient = nil
		}
	}

	srv := web.NewServer(config.ListenAddr(), web.Deps{
		Engine:   engine,
		Source:   source,
		Personas: personas,
		History:  conversations,
		Recorder: localRec,
		Drive:    driveClient,
		Model:    config.Model(),
	})

	registerTools(registry, srv, driveClient)

	go func() {
		if err := srv.Start(); err != nil {
			fatal("web server", err)
		}
	}()
	log.Info("sabia ready", "addr", config.ListenAddr(), "model", config.Model())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	engine.Disconnect()
	_ = srv.Shutdown()
	_ = source.Close()
	_ = sink.Close()
}

// registerTools wires the built-in tool handlers. The knowledge-base
// tool is registered only when Drive credentials are configured.
func registerTools(registry *tools.Registry, srv *web.Server, driveClient *drive.Client) {
	dict := dictionary.NewClient()
	pronounce := func(audioURL string) {
		srv.Notify("pronounce", map[string]string{"url": audioURL})
	}
	mustRegister(registry, tools.NewDefineWordTool(dict, pronounce))
	mustRegister(registry, tools.NewReadWebPageTool())
	if driveClient != nil {
		mustRegister(registry, tools.NewKnowledgeBaseTool(driveClient, knowledgeFolder))
	}
}

func mustRegister(registry *tools.Registry, t tools.Tool) {
	if err := registry.Register(t); err != nil {
		fatal("tool registration", err)
	}
}

func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", what, err)
	os.Exit(1)
}
