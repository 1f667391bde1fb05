// stackvm CLI - runs bytecode programs and serves the machine
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/tliron/commonlog"

	"github.com/chazu/stackvm/config"
	"github.com/chazu/stackvm/host"
	"github.com/chazu/stackvm/server"
	"github.com/chazu/stackvm/store"
	"github.com/chazu/stackvm/vm"
	"github.com/chazu/stackvm/vm/wire"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("stackvm.cli")

// compiledExt marks files holding a CBOR-encoded program.
const compiledExt = ".sbcb"

// source is one program to process. Compiled files carry a decoded
// program and no text.
type source struct {
	name    string
	text    string
	program *vm.Program
}

func main() {
	configPath := flag.String("config", "", "Path to stackvm.toml (default: search upward from the working directory)")
	verbosity := flag.Int("v", 0, "Log verbosity (-4 to 2)")
	disasm := flag.Bool("disasm", false, "Print the assembled program instead of running it")
	check := flag.Bool("check", false, "Assemble only and report errors and unresolved labels")
	serveMode := flag.Bool("serve", false, "Start the machine service (Connect HTTP/JSON + gRPC)")
	servePort := flag.Int("port", 0, "Connect HTTP port (used with --serve, default from config)")
	grpcPort := flag.Int("grpc-port", 0, "gRPC port (used with --serve, default from config)")
	lspMode := flag.Bool("lsp", false, "Start the language server on stdio")
	remote := flag.String("remote", "", "Submit to a running server (http://host:port or grpc://host:port)")
	history := flag.Int("history", 0, "List the N most recent submissions")
	show := flag.String("show", "", "Show one recorded submission by id")
	output := flag.String("o", "", "Write the assembled program to this file ("+compiledExt+") instead of running it")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: stackvm [options] [files...]\n\n")
		fmt.Fprintf(os.Stderr, "Assembles and runs bytecode programs. With no files, reads one program from stdin.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  stackvm loop.sbc                 # Run a program\n")
		fmt.Fprintf(os.Stderr, "  stackvm -disasm loop.sbc         # Show the assembled program\n")
		fmt.Fprintf(os.Stderr, "  stackvm -check *.sbc             # Assemble only\n")
		fmt.Fprintf(os.Stderr, "  stackvm -o loop.sbcb loop.sbc    # Compile to a binary program\n")
		fmt.Fprintf(os.Stderr, "  stackvm loop.sbcb                # Run a compiled program\n")
		fmt.Fprintf(os.Stderr, "  stackvm -history 10              # Show recent submissions\n")
		fmt.Fprintf(os.Stderr, "  stackvm -show sub_...            # Show one submission with its source\n")
		fmt.Fprintf(os.Stderr, "\nServer:\n")
		fmt.Fprintf(os.Stderr, "  stackvm -serve                   # Serve on :4567 (Connect) and :4568 (gRPC)\n")
		fmt.Fprintf(os.Stderr, "  stackvm -remote http://localhost:4567 loop.sbc\n")
		fmt.Fprintf(os.Stderr, "  stackvm -remote grpc://localhost:4568 -history 5\n")
		fmt.Fprintf(os.Stderr, "  stackvm -lsp                     # Language server for editors\n")
	}
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// The -v flag wins over the config file when given.
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "v" {
			cfg.Log.Verbosity = *verbosity
		}
	})
	commonlog.Configure(cfg.Log.Verbosity, cfg.LogPath())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Start language server if requested
	if *lspMode {
		// The language server blocks on stdin; restore the default
		// interrupt handling so Ctrl-C ends the process.
		stop()
		if err := server.NewLSP().Run(); err != nil {
			fmt.Fprintf(os.Stderr, "LSP error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Talk to a running server if requested
	if *remote != "" {
		code, err := runRemote(ctx, *remote, *history, flag.Args())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(code)
	}

	// Start the machine service if requested
	if *serveMode {
		if *servePort != 0 {
			cfg.Server.Port = *servePort
		}
		if *grpcPort != 0 {
			cfg.Server.GRPCPort = *grpcPort
		}
		if err := serve(ctx, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if *show != "" {
		if err := printLocalSubmission(ctx, cfg, *show); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if *history > 0 {
		if err := printLocalHistory(ctx, cfg, *history); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	sources, err := readSources(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch {
	case *output != "":
		if err := compileSources(sources, *output); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case *check:
		os.Exit(checkSources(sources))
	case *disasm:
		os.Exit(disassembleSources(sources))
	default:
		os.Exit(runSources(ctx, cfg, sources))
	}
}

// loadConfig loads the config named by path, or searches upward from the
// working directory. Defaults apply when nothing is found.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := config.FindAndLoad(wd)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// readSources reads each named file, or stdin when there are none.
func readSources(paths []string) ([]source, error) {
	if len(paths) == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return []source{{name: "<stdin>", text: string(data)}}, nil
	}

	sources := make([]source, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", path, err)
		}
		if filepath.Ext(path) == compiledExt {
			p, err := wire.UnmarshalProgram(data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			sources = append(sources, source{name: path, program: p})
			continue
		}
		sources = append(sources, source{name: path, text: string(data)})
	}
	return sources, nil
}

// compileSources assembles a single program and writes its CBOR encoding
// to path.
func compileSources(sources []source, path string) error {
	if len(sources) != 1 {
		return fmt.Errorf("-o takes exactly one program, got %d", len(sources))
	}
	src := sources[0]

	p := src.program
	if p == nil {
		var err error
		if p, err = vm.Assemble(src.text); err != nil {
			return fmt.Errorf("%s: %w", src.name, err)
		}
	}
	data, err := wire.MarshalProgram(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	log.Infof("wrote %s (%d instructions, %d bytes)", path, p.Len(), len(data))
	return nil
}

// openHistory opens the configured history database, or returns nil when
// history is disabled.
func openHistory(cfg *config.Config) (*store.Store, error) {
	path := cfg.StorePath()
	if path == "" {
		return nil, nil
	}
	return store.Open(path)
}

// runSources runs every program through a host and prints its result.
// Returns the exit code: 1 if any program failed.
func runSources(ctx context.Context, cfg *config.Config, sources []source) int {
	out := &lineWriter{w: os.Stdout}
	opts := []host.Option{
		host.WithOutput(out),
		host.WithMachineOptions(cfg.MachineOptions()...),
	}

	hist, err := openHistory(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: history disabled: %v\n", err)
	} else if hist != nil {
		defer hist.Close()
		opts = append(opts, host.WithRecorder(hist))
	}

	h := host.New(host.NotifierFunc(func(message string) {
		out.EndLine()
		fmt.Fprintln(out, message)
	}), opts...)

	code := 0
	for _, src := range sources {
		var outcome host.Outcome
		if src.program != nil {
			outcome = h.SubmitProgram(ctx, src.program)
		} else {
			outcome = h.Submit(ctx, src.text)
		}
		if outcome.Err != nil {
			code = 1
		}
	}
	return code
}

// checkSources assembles each program and reports errors and unresolved
// labels.
func checkSources(sources []source) int {
	code := 0
	for _, src := range sources {
		if src.program != nil {
			fmt.Printf("%s: ok (%d instructions, compiled)\n", src.name, src.program.Len())
			continue
		}
		b := vm.NewBuilder()
		if err := vm.Parse(src.text, b); err != nil {
			line := 0
			var ae *vm.AssemblyError
			if errors.As(err, &ae) {
				line = ae.Line
			}
			fmt.Printf("%s:%d: %v\n", src.name, line, err)
			code = 1
			continue
		}
		b.Build()
		for _, u := range b.Unresolved() {
			fmt.Printf("%s:%d: warning: unresolved label %s\n", src.name, u.Line, u.Label)
		}
		fmt.Printf("%s: ok (%d instructions)\n", src.name, b.Len())
	}
	return code
}

// disassembleSources prints the listing of each program.
func disassembleSources(sources []source) int {
	code := 0
	for _, src := range sources {
		if src.program != nil {
			fmt.Print(src.program.DisassembleWithName(filepath.Base(src.name)))
			continue
		}
		b := vm.NewBuilder()
		if err := vm.Parse(src.text, b); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", src.name, err)
			code = 1
			continue
		}
		p := b.Build()
		fmt.Print(p.DisassembleWithLabels(filepath.Base(src.name), b.Labels()))
	}
	return code
}

// serve runs the machine service until it fails or ctx is done.
func serve(ctx context.Context, cfg *config.Config) error {
	opts := []host.Option{host.WithMachineOptions(cfg.MachineOptions()...)}
	var srvOpts []server.ServerOption

	hist, err := openHistory(cfg)
	if err != nil {
		return err
	}
	if hist != nil {
		defer hist.Close()
		opts = append(opts, host.WithRecorder(hist))
		srvOpts = append(srvOpts, server.WithHistory(hist))
	}

	h := host.New(nil, opts...)
	srv := server.New(h, srvOpts...)
	defer srv.Stop()

	return srv.ListenAndServeAll(ctx,
		fmt.Sprintf(":%d", cfg.Server.Port),
		fmt.Sprintf(":%d", cfg.Server.GRPCPort),
	)
}

// lineWriter remembers whether the last byte written ended a line, so a
// result message never runs on from PRINT output.
type lineWriter struct {
	w    io.Writer
	open bool
}

func (l *lineWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		l.open = p[len(p)-1] != '\n'
	}
	return l.w.Write(p)
}

// EndLine terminates a partial line.
func (l *lineWriter) EndLine() {
	if l.open {
		l.Write([]byte("\n"))
	}
}
