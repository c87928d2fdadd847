// objrt CLI - loads module images into a dispatch runtime and inspects them
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chazu/objrt/manifest"
	"github.com/chazu/objrt/vm"
	"github.com/chazu/objrt/vm/loader"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

func main() {
	verbosity := flag.Int("v", 0, "Log verbosity (0 = errors only, 4 = debug)")
	configDir := flag.String("config", "", "Directory holding objrt.toml (default: search upward from cwd)")
	dtable := flag.String("dtable", "", "Override dispatch table kind: sparse or hash")
	dump := flag.Bool("dump", false, "Print the class graph and dispatch tables")
	send := flag.String("send", "", "Send a message: 'Class selector' to an instance, '+Class selector' to the class")
	stats := flag.Bool("stats", false, "Print runtime statistics")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: objrt [options] [modules...]\n\n")
		fmt.Fprintf(os.Stderr, "Loads module images (.objm) into the runtime. Without arguments the\n")
		fmt.Fprintf(os.Stderr, "modules listed in objrt.toml are loaded.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  objrt -dump                       # Load manifest modules, print classes\n")
		fmt.Fprintf(os.Stderr, "  objrt -send 'Point description'   # Send to a fresh Point instance\n")
		fmt.Fprintf(os.Stderr, "  objrt -send '+Point name' a.objm  # Send to the Point class\n")
		fmt.Fprintf(os.Stderr, "  objrt -dtable hash -stats b.objm  # Use hash dtables, print statistics\n")
	}
	flag.Parse()

	m, err := loadManifest(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	level := *verbosity
	if level == 0 {
		level = m.Log.Verbosity
	}
	logPath := m.LogPath()
	if logPath == "" {
		commonlog.Configure(level, nil)
	} else {
		commonlog.Configure(level, &logPath)
	}

	cfg := m.VMConfig()
	if *dtable != "" {
		kind, err := vm.ParseDTableKind(*dtable)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		cfg.DTable = kind
	}

	paths := flag.Args()
	if len(paths) == 0 {
		paths, err = m.ModulePaths()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	rt := vm.NewVM(cfg)
	defer rt.Close()
	ld := loader.New(rt, builtinSymbols())

	results, err := ld.LoadFiles(context.Background(), paths...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	for _, res := range results {
		for _, name := range res.Duplicates {
			fmt.Fprintf(os.Stderr, "Warning: %s: class %s already loaded\n", res.Name, name)
		}
	}
	for _, c := range rt.Unresolved() {
		fmt.Fprintf(os.Stderr, "Warning: class %s has no superclass %s\n", c.Name, c.SuperclassName())
	}

	if *send != "" {
		out, err := sendMessage(rt, *send)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(out)
	}
	if *dump {
		dumpClasses(os.Stdout, rt)
	}
	if *stats {
		printStats(os.Stdout, rt, results)
	}
}

func loadManifest(dir string) (*manifest.Manifest, error) {
	if dir != "" {
		return manifest.Load(dir)
	}
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default()
	}
	return m, nil
}

// sendMessage parses "Class selector" or "+Class selector" and sends the
// selector to a new instance or to the class.
func sendMessage(rt *vm.VM, spec string) (result string, err error) {
	fields := strings.Fields(spec)
	if len(fields) != 2 {
		return "", fmt.Errorf("send: want 'Class selector', got %q", spec)
	}
	name, classSide := strings.CutPrefix(fields[0], "+")
	c := rt.ClassNamed(name)
	if c == nil {
		return "", fmt.Errorf("send: no class named %s", name)
	}
	sel, ok := rt.Selectors.Lookup(fields[1], "")
	if !ok {
		return "", fmt.Errorf("send: %w", &vm.UnrecognizedSelectorError{Class: name, Selector: fields[1], Meta: classSide})
	}

	var recv vm.Receiver = c
	if !classSide {
		recv = rt.CreateInstance(c, 0)
	}

	defer func() {
		if r := recover(); r != nil {
			perr, ok := r.(error)
			var unrec *vm.UnrecognizedSelectorError
			var fatal *vm.FatalError
			if !ok || !(errors.As(perr, &unrec) || errors.As(perr, &fatal)) {
				panic(r)
			}
			err = fmt.Errorf("send: %w", perr)
		}
	}()
	return fmt.Sprint(rt.Send(recv, sel)), nil
}

func dumpClasses(w io.Writer, rt *vm.VM) {
	for _, c := range rt.AllClasses() {
		super := "-"
		if s := c.SuperclassName(); s != "" {
			super = s
		}
		fmt.Fprintf(w, "%s : %s [%s] v%d\n", c.Name, super, c.Flags(), c.Version())
		if ivars := rt.CopyIvarList(c); len(ivars) > 0 {
			names := make([]string, len(ivars))
			for i, iv := range ivars {
				names[i] = iv.Name
			}
			fmt.Fprintf(w, "  ivars: %s\n", strings.Join(names, " "))
		}
		if protos := rt.Protocols(c); len(protos) > 0 {
			fmt.Fprintf(w, "  protocols: %s\n", strings.Join(protos, " "))
		}
		if cats := rt.Categories(c); len(cats) > 0 {
			fmt.Fprintf(w, "  categories: %s\n", strings.Join(cats, " "))
		}
		dumpTable(w, rt, c, "-")
		dumpTable(w, rt, c.Meta(), "+")
	}
}

func dumpTable(w io.Writer, rt *vm.VM, c *vm.Class, prefix string) {
	t := c.DTable()
	state := "installed"
	if t == nil {
		if !c.IsResolved() {
			fmt.Fprintf(w, "  %s dtable: unresolved\n", prefix)
			return
		}
		t = rt.BuildDTable(c)
		state = "preview"
	}
	fmt.Fprintf(w, "  %s dtable (%s, %d entries)\n", prefix, state, t.Len())
	t.Range(func(sel vm.Selector, s *vm.Slot) bool {
		if c.IsMeta() && s.Owner() != nil && !s.Owner().IsMeta() {
			// Root instance methods reached through the root metaclass.
			return true
		}
		fmt.Fprintf(w, "    %s%s -> %s (v%d)\n", prefix, rt.Selectors.NameOf(sel), s.Owner(), s.Version())
		return true
	})
}

func printStats(w io.Writer, rt *vm.VM, results []*loader.Result) {
	retired, released := rt.Reclaimer().Totals()
	fmt.Fprintf(w, "modules:    %d\n", len(results))
	fmt.Fprintf(w, "selectors:  %d\n", rt.Selectors.Len())
	fmt.Fprintf(w, "classes:    %d (capacity %d, %d resizes)\n", rt.Classes.Len(), rt.Classes.Capacity(), rt.Classes.Resizes())
	fmt.Fprintf(w, "unresolved: %d\n", len(rt.Unresolved()))
	fmt.Fprintf(w, "reclaimer:  %d retired, %d released, %d pending\n", retired, released, rt.Reclaimer().Pending())
}
