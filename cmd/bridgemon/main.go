// Command bridgemon drives an objlink wrapper cache against a live
// native runtime, either as a scripted demo or as an interactive
// inspector.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/objlink/objlink"
	"github.com/objlink/objlink/bridge"
	"github.com/objlink/objlink/native"
	"github.com/objlink/objlink/wasmheap"
)

var (
	verbose  bool
	heapKind string
)

var rootCmd = &cobra.Command{
	Use:   "bridgemon",
	Short: "Inspect and exercise the objlink wrapper cache",
	Long: `bridgemon drives the objlink identity cache against a live native
runtime: a scripted walkthrough of the wrapper lifecycle (demo) or an
interactive terminal inspector (watch).`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger, err := zap.NewDevelopment()
			if err == nil {
				bridge.SetLogger(logger)
				wasmheap.SetLogger(logger)
			}
		}
	},
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a scripted wrapper lifecycle walkthrough",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDemo(heapKind)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Interactive cache inspector",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractive()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	demoCmd.Flags().StringVar(&heapKind, "heap", "local", "native runtime backend: local or wasm")
	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// eventPrinter logs every cache lifecycle event.
type eventPrinter struct{}

func (eventPrinter) OnCacheEvent(e bridge.Event) {
	fmt.Printf("  event: %-9s handle=0x%x seq=%d\n", e.Type, uint64(e.Handle), e.Seq)
}

func runDemo(kind string) error {
	var (
		rt     objlink.Runtime
		create func() (objlink.Handle, error)
		length func() int
	)

	switch kind {
	case "local":
		lrt := native.NewLocalRuntime()
		defer lrt.Close()
		rt = lrt
		n := 0
		create = func() (objlink.Handle, error) {
			n++
			return lrt.New(fmt.Sprintf("demo-object-%d", n)), nil
		}
		length = lrt.Len
	case "wasm":
		hp, err := wasmheap.Open(context.Background())
		if err != nil {
			return err
		}
		defer hp.Close(context.Background())
		rt = hp
		create = func() (objlink.Handle, error) { return hp.New(64) }
		length = hp.Len
	default:
		return fmt.Errorf("unknown heap kind %q (want local or wasm)", kind)
	}

	cache := bridge.New(rt, bridge.WithObserver(eventPrinter{}))

	fmt.Printf("== objlink demo (%s heap) ==\n\n", kind)

	fmt.Println("creating three native objects and wrapping them:")
	handles := make([]objlink.Handle, 3)
	wrappers := make([]*bridge.Instance, 3)
	for i := range handles {
		h, err := create()
		if err != nil {
			return err
		}
		handles[i] = h
		inst, err := cache.Wrap(h)
		if err != nil {
			return err
		}
		wrappers[i] = inst
	}

	fmt.Println("\nwrapping the first handle again (identity hit):")
	again, err := cache.Wrap(handles[0])
	if err != nil {
		return err
	}
	fmt.Printf("  same instance: %v\n", again == wrappers[0])

	fmt.Println("\nattaching a host-only attribute to the second object (escalates):")
	if err := cache.SetAttr(wrappers[1], "label", "kept"); err != nil {
		return err
	}

	fmt.Println("\nreleasing the native references:")
	for _, h := range handles {
		if err := rt.Release(h); err != nil {
			return err
		}
	}

	fmt.Println("\ndropping host references and collecting weak wrappers:")
	wrappers[0], wrappers[2], again = nil, nil, nil
	_ = again
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if length() == 0 {
			break
		}
		runtime.GC()
		time.Sleep(20 * time.Millisecond)
	}

	s := cache.Stats()
	fmt.Printf("\nfinal stats: live=%d strong=%d hits=%d misses=%d evictions=%d removals=%d escalations=%d\n",
		s.Live, s.Strong, s.Hits, s.Misses, s.Evictions, s.Removals, s.Escalations)
	fmt.Printf("native objects remaining: %d (0 means every retain was paired)\n", length())
	return nil
}
