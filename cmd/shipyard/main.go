package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"golang.org/x/term"

	apiclient "github.com/splax/shipyard/pkg/api/client"
	"github.com/splax/shipyard/pkg/config"
)

var buildVersion = "dev"

// CLI is the shipyard command line.
type CLI struct {
	API     string           `help:"API base URL"`
	Socket  string           `help:"Socket server URL"`
	Version kong.VersionFlag `help:"Show version and exit"`

	Deploy DeployCmd `cmd:"" help:"Queue a build of a git repository"`
	Logs   LogsCmd   `cmd:"" help:"Stream the log of a build"`
	Status StatusCmd `cmd:"" help:"Show a recorded build"`
	List   ListCmd   `cmd:"" help:"List recent builds"`
}

// Globals is handed to every command's Run.
type Globals struct {
	Client *apiclient.Client
	Out    *printer
}

// DeployCmd queues a build.
type DeployCmd struct {
	GitURL string `arg:"" name:"gitURL" help:"Repository to build"`
	Follow bool   `short:"f" help:"Stream build logs after queueing"`
}

// Run queues the build and optionally tails it.
func (c *DeployCmd) Run(ctx context.Context, g *Globals) error {
	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	dep, err := g.Client.Dispatch(reqCtx, c.GitURL)
	cancel()
	if err != nil {
		return err
	}
	g.Out.field("slug", dep.Slug)
	g.Out.field("url", dep.URL)
	g.Out.field("status", dep.Status)
	if !c.Follow {
		return nil
	}
	return tail(ctx, g, dep.Slug)
}

// LogsCmd tails a build.
type LogsCmd struct {
	Slug string `arg:"" help:"Build slug"`
}

// Run streams until interrupted.
func (c *LogsCmd) Run(ctx context.Context, g *Globals) error {
	return tail(ctx, g, c.Slug)
}

// StatusCmd prints a recorded build.
type StatusCmd struct {
	Slug string `arg:"" help:"Build slug"`
}

// Run fetches and prints the session.
func (c *StatusCmd) Run(ctx context.Context, g *Globals) error {
	reqCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	session, err := g.Client.Session(reqCtx, c.Slug)
	if apiclient.IsNotFound(err) {
		return fmt.Errorf("no build named %q", c.Slug)
	}
	if err != nil {
		return err
	}
	g.Out.field("slug", session.Slug)
	g.Out.field("status", session.Status)
	g.Out.field("git", session.GitURL)
	g.Out.field("url", session.URL)
	g.Out.field("executor", session.Executor)
	g.Out.field("created", session.CreatedAt.Local().Format(time.RFC1123))
	return nil
}

// ListCmd prints recent builds.
type ListCmd struct {
	Limit int `short:"n" default:"20" help:"Number of builds to show"`
}

// Run prints one line per build, newest first.
func (c *ListCmd) Run(ctx context.Context, g *Globals) error {
	reqCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	sessions, err := g.Client.Recent(reqCtx, c.Limit)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		g.Out.row(s.CreatedAt.Local().Format(time.DateTime), s.Slug, s.GitURL)
	}
	return nil
}

func tail(ctx context.Context, g *Globals, slug string) error {
	return g.Client.TailLogs(ctx, slug, g.Out.logLine)
}

func main() {
	defaults := config.LoadCLIConfig()
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("shipyard"),
		kong.Description("Queue static-site builds and follow their logs."),
		kong.UsageOnError(),
		kong.Vars{"version": buildVersion},
	)

	apiBase := firstNonEmpty(cli.API, defaults.APIBaseURL)
	socket := firstNonEmpty(cli.Socket, defaults.SocketBaseURL)
	client, err := apiclient.New(apiBase, apiclient.WithSocketURL(socket))
	kctx.FatalIfErrorf(err)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	kctx.BindTo(ctx, (*context.Context)(nil))

	err = kctx.Run(&Globals{Client: client, Out: newPrinter(os.Stdout)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// printer colours output when writing to a terminal.
type printer struct {
	w     io.Writer
	color bool
}

func newPrinter(f *os.File) *printer {
	return &printer{w: f, color: term.IsTerminal(int(f.Fd()))}
}

const (
	ansiReset = "\x1b[0m"
	ansiDim   = "\x1b[2m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
	ansiBold  = "\x1b[1m"
)

func (p *printer) paint(code, s string) string {
	if !p.color {
		return s
	}
	return code + s + ansiReset
}

func (p *printer) field(name, value string) {
	fmt.Fprintf(p.w, "%s %s\n", p.paint(ansiDim, fmt.Sprintf("%-9s", name+":")), value)
}

func (p *printer) row(when, slug, gitURL string) {
	fmt.Fprintf(p.w, "%s  %s  %s\n", p.paint(ansiDim, when), p.paint(ansiBold, slug), gitURL)
}

func (p *printer) logLine(line string) {
	switch {
	case strings.HasPrefix(line, "error:"):
		line = p.paint(ansiRed, line)
	case line == "Done" || line == "Build complete":
		line = p.paint(ansiGreen, line)
	case strings.HasPrefix(line, "Joined "):
		line = p.paint(ansiBold, line)
	}
	fmt.Fprintln(p.w, line)
}
