// Command corevm is a small CLI harness around the interpreter core: it
// loads a corevm.toml manifest, builds the bundled demo program, and
// drives pkg/interp against it, printing the result and any diagnostics
// to stderr the way the teacher's own mag binary drives its VM from
// flags. It can also save the demo's control block into a swapstore
// database and write a dataspace snapshot; it never loads a control
// block from a swapstore.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dgdvm/core/internal/config"
	"github.com/dgdvm/core/internal/diag"
	"github.com/dgdvm/core/pkg/dataspace"
	"github.com/dgdvm/core/pkg/interp"
	"github.com/dgdvm/core/pkg/kfun"
	"github.com/dgdvm/core/pkg/swapstore"
	"github.com/dgdvm/core/pkg/wire"
)

type cliDriver struct {
	verbose bool
}

func (d cliDriver) RuntimeError(message string, trace []string) {
	diag.ReportError(&interp.Error{Kind: interp.KindRuntime, Message: message, Trace: trace})
}

func (d cliDriver) AtomicError(message string, trace []string) {
	diag.ReportError(&interp.Error{Kind: interp.KindAtomic, Message: message, Trace: trace})
}

func (d cliDriver) RuntimeRlimits(requestedDepth int, requestedTicks int64) (int, int64) {
	return requestedDepth, requestedTicks
}

func (d cliDriver) Touch(objName, progName string) {
	if d.verbose {
		fmt.Fprintf(os.Stderr, "touch: %s referenced by %s\n", objName, progName)
	}
}

func (d cliDriver) Creator(progName string) string { return "" }

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	configDir := flag.String("config", ".", "Directory containing corevm.toml")
	swapPath := flag.String("swap", "", "Path to a swapstore database to save the demo program's control block into")
	snapshotPath := flag.String("snapshot", "", "Path to write a CBOR dataspace snapshot after running")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: corevm [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs the bundled demo program through the interpreter core.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  corevm -v                        # run the demo, verbose\n")
		fmt.Fprintf(os.Stderr, "  corevm -swap ./state.db          # also persist the demo control block\n")
	}
	flag.Parse()

	cfg, err := config.FindAndLoad(*configDir)
	if err != nil {
		diag.Errorf("loading config: %v", err)
		os.Exit(1)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if *verbose {
		fmt.Fprintf(os.Stderr, "creator: %q, max depth: %d, ticks: %d\n",
			cfg.Runtime.Creator, cfg.Rlimits.MaxDepth, cfg.Rlimits.Ticks)
	}

	kfuns := kfun.NewTable()
	prog := buildDemoProgram(kfuns)

	data := dataspace.New()
	ip := interp.New(data, kfuns, cliDriver{verbose: *verbose})
	ip.Load(prog)

	obj := data.NewObject(prog.Name, 0)
	ref := obj.ObjectRef()

	diag.Section("running demo")
	result, err := ip.CallTopLevel(prog.Name, "run", ref.Index, ref.Generation, nil, cfg.Rlimits.MaxDepth, cfg.Rlimits.Ticks)
	if err != nil {
		diag.Errorf("demo run failed: %v", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "result: %v\n", result.Int())

	if *swapPath != "" {
		store, err := swapstore.Open(*swapPath)
		if err != nil {
			diag.Errorf("opening swap store: %v", err)
			os.Exit(1)
		}
		defer store.Close()
		if err := store.SaveControl(prog); err != nil {
			diag.Errorf("saving control block: %v", err)
			os.Exit(1)
		}
		if *verbose {
			fmt.Fprintf(os.Stderr, "saved control block %q to %s\n", prog.Name, *swapPath)
		}
	}

	if *snapshotPath != "" {
		snap := wire.BuildSnapshot(data)
		out, err := wire.Marshal(snap)
		if err != nil {
			diag.Errorf("marshaling snapshot: %v", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*snapshotPath, out, 0o644); err != nil {
			diag.Errorf("writing snapshot: %v", err)
			os.Exit(1)
		}
		if *verbose {
			fmt.Fprintf(os.Stderr, "wrote %d bytes of dataspace snapshot to %s\n", len(out), *snapshotPath)
		}
	}
}
