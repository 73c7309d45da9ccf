// Package main implements the ground control station console.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/desertbit/grumble"
	"github.com/jedib0t/go-pretty/table"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dronelink/pkg/groundcontrol"
	"dronelink/pkg/metrics"
	"dronelink/pkg/protocol"
)

// CLI banner with version.
const banner = `
  ____                          _     _       _
 |  _ \ _ __ ___  _ __   ___  | |   (_)_ __ | | __
 | | | | '__/ _ \| '_ \ / _ \ | |   | | '_ \| |/ /
 | |_| | | | (_) | | | |  __/ | |___| | | | |   <
 |____/|_|  \___/|_| |_|\___| |_____|_|_| |_|_|\_\

   Drone Video Stream Ground Control (v1.0)
   ------------------------------------------

`

// Global state.
var (
	config        *groundcontrol.Config // app config
	server        *groundcontrol.Server // drone sessions
	collector     *metrics.Collector    // link counters
	selectedDrone string                // current session ID
)

// RenderDroneTable formats session information into a human-readable table.
func RenderDroneTable(sessions []*groundcontrol.DroneSession) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{
		"Session ID",
		"Drone ID",
		"Address",
		"Connected",
		"Streaming",
	})

	for _, s := range sessions {
		streaming := ""
		if s.Streaming() {
			streaming = "yes"
		}
		t.AppendRow(table.Row{
			s.ID.String(),
			s.DroneID,
			s.RemoteAddr,
			s.ConnectedAt.Format("2006-01-02 15:04:05"),
			streaming,
		})
	}

	return t.Render()
}

// selected resolves the currently selected session, logging when the
// selection is missing or stale.
func selected() *groundcontrol.DroneSession {
	if selectedDrone == "" {
		log.Warn().Msg("No drone selected. Use 'select <session-id>' first")
		return nil
	}
	session := server.Get(selectedDrone)
	if session == nil {
		log.Warn().Msg("Selected drone is gone. Use 'drones' to list sessions")
	}
	return session
}

// AddCommands registers all CLI commands with the application.
func AddCommands(app *grumble.App) {
	// Command to list connected drones
	app.AddCommand(&grumble.Command{
		Name:    "drones",
		Aliases: []string{"ls"},
		Help:    "list connected drones",
		Run: func(c *grumble.Context) error {
			sessions := server.Sessions()
			if len(sessions) == 0 {
				log.Info().Msg("No drones connected")
				return nil
			}
			c.App.Println(RenderDroneTable(sessions))
			return nil
		},
	})
	// Command to select a drone
	app.AddCommand(&grumble.Command{
		Name:    "select",
		Aliases: []string{"use"},
		Help:    "select a drone for subsequent commands",
		Args: func(a *grumble.Args) {
			a.String("session-id", "ID (or unique prefix) of the session to select")
		},
		Completer: CompleteDrones,
		Run: func(c *grumble.Context) error {
			id := c.Args.String("session-id")
			session := server.Get(id)
			if session == nil {
				log.Error().Str("session", id).Msg("No such drone session")
				return nil
			}

			selectedDrone = session.ID.String()
			log.Info().
				Str("session", selectedDrone).
				Uint32("drone_id", session.DroneID).
				Msg("Drone selected")
			c.App.SetPrompt(fmt.Sprintf("drone-%d » ", session.DroneID))
			return nil
		},
	})
	// Command to start the video stream from the selected drone
	app.AddCommand(&grumble.Command{
		Name:    "play",
		Aliases: []string{"start"},
		Help:    "start the video stream from the selected drone",
		Flags: func(f *grumble.Flags) {
			f.Uint("p", "port", 0, "UDP port for the stream (0 uses the configured default)")
		},
		Run: func(c *grumble.Context) error {
			session := selected()
			if session == nil {
				return nil
			}
			if errCode := session.Play(uint32(c.Flags.Uint("port"))); errCode != protocol.ErrNone {
				log.Error().Str("error", protocol.ErrToString[errCode]).Msg("Failed to queue play command")
			}
			return nil
		},
	})
	// Command to stop the running stream
	app.AddCommand(&grumble.Command{
		Name: "stop",
		Help: "stop the running video stream",
		Run: func(c *grumble.Context) error {
			session := selected()
			if session == nil {
				return nil
			}
			if errCode := session.Stop(); errCode != protocol.ErrNone {
				log.Error().Str("error", protocol.ErrToString[errCode]).Msg("Failed to queue stop command")
			}
			return nil
		},
	})
	// Command to disconnect the selected drone
	app.AddCommand(&grumble.Command{
		Name:    "dconn",
		Aliases: []string{"disconnect"},
		Help:    "disconnect the selected drone",
		Run: func(c *grumble.Context) error {
			session := selected()
			if session == nil {
				return nil
			}
			if errCode := session.Disconnect(); errCode != protocol.ErrNone {
				log.Error().Str("error", protocol.ErrToString[errCode]).Msg("Failed to queue disconnect")
				return nil
			}

			selectedDrone = ""
			c.App.SetPrompt("groundcontrol » ")
			log.Info().Msg("Drone disconnected")
			return nil
		},
	})
}

// CompleteDrones provides tab completion for session IDs.
func CompleteDrones(_ string, _ []string) []string {
	var completions []string
	for _, session := range server.Sessions() {
		completions = append(completions, session.ID.String())
	}
	return completions
}

// -----------------------------------------------------------------------------
// Main Application Entry
// -----------------------------------------------------------------------------

// main is the entry point for the application.
// It sets up the CLI, configuration, and command handlers.
func main() {
	configureLogging()

	app := setupCLI()

	AddCommands(app)

	if err := app.Run(); err != nil {
		log.Fatal().Msg(err.Error())
	}
}

// configureLogging sets up zerolog with appropriate formatting and level.
func configureLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
	})

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// setupCLI initializes the command-line interface with basic configuration.
// Returns a configured grumble App instance.
func setupCLI() *grumble.App {
	// Determine history file location
	var histFile string
	home, err := os.UserHomeDir()
	if err != nil {
		histFile = ".groundcontrol" // current working directory
	} else {
		histFile = filepath.Join(home, ".groundcontrol") // home directory
	}

	app := grumble.New(&grumble.Config{
		Name:        "groundcontrol",
		HistoryFile: histFile,
		Flags: func(f *grumble.Flags) {
			f.String("c", "config", "config.json", "path to configuration file")
		},
	})

	app.SetPrintASCIILogo(func(a *grumble.App) {
		fmt.Print(banner)
	})

	// Initialize configuration and bring the server up when the app starts
	app.OnInit(func(a *grumble.App, flags grumble.FlagMap) error {
		var err error
		config, err = groundcontrol.LoadConfig(flags.String("config"))
		if err != nil {
			return fmt.Errorf("failed to load configuration: %v", err)
		}

		collector = metrics.NewCollector()

		server = groundcontrol.NewServer(context.Background(), config, nil, collector)
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start server: %v", err)
		}

		if config.MetricsAddr != "" {
			go collector.Serve(server.Ctx, config.MetricsAddr)
		}

		a.OnClose(func() error {
			server.Stop()
			return nil
		})

		return nil
	})

	return app
}
