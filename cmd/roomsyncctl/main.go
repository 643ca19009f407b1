package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/matheus3301/roomsync/internal/api"
	"github.com/matheus3301/roomsync/internal/config"
	"github.com/matheus3301/roomsync/internal/daemon"
	"github.com/matheus3301/roomsync/internal/lock"
	"github.com/matheus3301/roomsync/internal/profile"
)

func main() {
	profileFlag := pflag.StringP("profile", "p", "", "profile name (overrides config default)")
	jsonFlag := pflag.Bool("json", false, "output in JSON format")
	userFlag := pflag.String("user", "", "user id (init)")
	nickFlag := pflag.String("nickname", "", "nickname (init)")
	redisFlag := pflag.String("redis", "", "redis address (init)")
	pflag.Usage = printUsage
	pflag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fatal(err)
	}

	args := pflag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "status":
		cmdStatus(name, *jsonFlag)
	case "watch":
		cmdWatch(name)
	case "profiles":
		cmdProfiles(*jsonFlag)
	case "init":
		cmdInit(name, *userFlag, *nickFlag, *redisFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: roomsyncctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status      Show daemon and connection status")
	fmt.Fprintln(os.Stderr, "  watch       Follow connection status changes")
	fmt.Fprintln(os.Stderr, "  profiles    List known profiles")
	fmt.Fprintln(os.Stderr, "  init        Create profile.toml (--user, --nickname, --redis)")
}

type statusOutput struct {
	Profile    string        `json:"profile"`
	Running    bool          `json:"running"`
	Holder     *lock.Holder  `json:"holder,omitempty"`
	Connection string        `json:"connection,omitempty"`
	Snapshot   *api.Snapshot `json:"snapshot,omitempty"`
}

func cmdStatus(name string, jsonOut bool) {
	out := statusOutput{Profile: name}
	holder, held, err := lock.Inspect(profile.Dir(name))
	if err != nil {
		fatal(err)
	}
	if held {
		out.Running = true
		out.Holder = &holder
	}

	// Only roomsyncd serves the socket; the TUI holds the lock without one.
	if held && holder.Process == daemon.DefaultProcess {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c, err := api.Dial(profile.SocketPath(name))
		if err != nil {
			fatal(err)
		}
		defer func() { _ = c.Close() }()
		st, err := c.Connection(ctx)
		if err != nil {
			fatal(fmt.Errorf("cannot reach daemon for profile %q: %w", name, err))
		}
		out.Connection = st.String()

		if cfg, err := config.LoadProfile(profile.ConfigPath(name)); err == nil && cfg.Metrics.Addr != "" {
			if snap, err := api.FetchSnapshot(ctx, cfg.Metrics.Addr); err == nil {
				out.Snapshot = &snap
			}
		}
	}

	if jsonOut {
		outputJSON(out)
		return
	}
	fmt.Printf("Profile:    %s\n", out.Profile)
	if !out.Running {
		fmt.Println("Status:     not running")
		return
	}
	fmt.Printf("Process:    %s (pid %d, since %s)\n", out.Holder.Process, out.Holder.PID, out.Holder.Since)
	if out.Connection != "" {
		fmt.Printf("Connection: %s\n", out.Connection)
	}
	if s := out.Snapshot; s != nil {
		fmt.Printf("State:      %s\n", s.State)
		fmt.Printf("User:       %s\n", s.UserID)
		fmt.Printf("Uptime:     %s\n", (time.Duration(s.UptimeMs) * time.Millisecond).Round(time.Second))
		fmt.Printf("Rooms:      %d (%d attached)\n", s.Rooms, len(s.AttachedRooms))
		fmt.Printf("Online:     %d\n", s.Online)
		fmt.Printf("Hidden:     presence=%v typing=%v\n", s.PresenceHidden, s.TypingHidden)
	}
}

func cmdWatch(name string) {
	c, err := api.Dial(profile.SocketPath(name))
	if err != nil {
		fatal(err)
	}
	defer func() { _ = c.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err = c.Watch(ctx, func(s healthpb.HealthCheckResponse_ServingStatus) {
		fmt.Printf("%s  %s\n", time.Now().Format(time.TimeOnly), s)
	})
	if err != nil {
		fatal(err)
	}
}

type profileOutput struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Running bool   `json:"running"`
	Process string `json:"process,omitempty"`
}

func cmdProfiles(jsonOut bool) {
	names, err := profile.List()
	if err != nil {
		fatal(err)
	}
	out := make([]profileOutput, 0, len(names))
	for _, n := range names {
		p := profileOutput{Name: n, Path: profile.Dir(n)}
		if h, held, err := lock.Inspect(p.Path); err == nil && held {
			p.Running, p.Process = true, h.Process
		}
		out = append(out, p)
	}
	if jsonOut {
		outputJSON(out)
		return
	}
	if len(out) == 0 {
		fmt.Println("No profiles found.")
		return
	}
	for _, p := range out {
		state := "stopped"
		if p.Running {
			state = "running: " + p.Process
		}
		fmt.Printf("%-20s %s (%s)\n", p.Name, p.Path, state)
	}
}

func cmdInit(name, user, nickname, redisAddr string) {
	path := profile.ConfigPath(name)
	if _, err := os.Stat(path); err == nil {
		fatal(fmt.Errorf("%s already exists", path))
	} else if !errors.Is(err, os.ErrNotExist) {
		fatal(err)
	}

	cfg := config.DefaultProfile()
	cfg.User.ID = user
	cfg.User.Nickname = nickname
	if redisAddr != "" {
		cfg.Redis.Addr = redisAddr
	}
	if err := cfg.Validate(); err != nil {
		fatal(fmt.Errorf("%w (pass --user)", err))
	}
	if err := profile.EnsureDir(name); err != nil {
		fatal(err)
	}
	if err := config.SaveProfile(path, &cfg); err != nil {
		fatal(err)
	}
	fmt.Printf("Wrote %s\n", path)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
