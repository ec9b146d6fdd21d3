// Command pandos boots a simulated pandOS machine from a YAML
// configuration: it wires up the device bus, disks, flashes, a terminal and
// a printer, constructs the Kernel, creates one process per configured
// image, and drives the scheduler loop until halt.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/pandos-go/kernel/internal/bus"
	"github.com/pandos-go/kernel/internal/devices"
	"github.com/pandos-go/kernel/internal/kernel"
	"github.com/pandos-go/kernel/internal/klog"
	"github.com/pandos-go/kernel/pkg/bootcfg"
)

func main() {
	configPath := flag.String("config", "", "Path to a boot configuration YAML file (default: built-in single-disk machine)")
	debugFile := flag.String("debug-file", "", "Write the kernel's structured trace log to this file")
	interactive := flag.Bool("interactive", false, "Put the controlling terminal into raw mode while the machine runs (keystrokes are not forwarded to any simulated terminal)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "pandos boots a simulated pandOS machine.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(*configPath, *debugFile, *interactive); err != nil {
		fmt.Fprintln(os.Stderr, "pandos:", err)
		os.Exit(1)
	}
}

func run(configPath, debugFile string, interactive bool) error {
	if debugFile != "" {
		if err := klog.OpenFile(debugFile); err != nil {
			return fmt.Errorf("open debug file: %w", err)
		}
		defer klog.Close()
	}

	cfg := bootcfg.Default()
	if configPath != "" {
		loaded, err := bootcfg.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	b := bus.New()

	bar := progressbar.Default(int64(len(cfg.Disks)+len(cfg.Flashes)+cfg.Terminals+cfg.Printers), "booting pandos")

	var backing *devices.Disk
	for _, dc := range cfg.Disks {
		d, err := devices.NewDisk(b, dc.DevNum, dc.TotalSectors, devices.DiskGeometry{
			Cylinders:       dc.Cylinders,
			Heads:           dc.Heads,
			SectorsPerTrack: dc.SectorsPerTrack,
		})
		if err != nil {
			return fmt.Errorf("install disk %d: %w", dc.DevNum, err)
		}
		if dc.DevNum == 0 {
			backing = d
		}
		bar.Add(1)
	}

	var bootFlash *devices.Flash
	for _, fc := range cfg.Flashes {
		f, err := devices.NewFlash(b, fc.DevNum, fc.TotalBlocks, fc.ReservedBlocks)
		if err != nil {
			return fmt.Errorf("install flash %d: %w", fc.DevNum, err)
		}
		if fc.DevNum == 0 {
			bootFlash = f
		}
		bar.Add(1)
	}

	terminals := make([]*devices.Terminal, cfg.Terminals)
	for i := 0; i < cfg.Terminals; i++ {
		t, err := devices.NewTerminal(b, i, 80, 24)
		if err != nil {
			return fmt.Errorf("install terminal %d: %w", i, err)
		}
		terminals[i] = t
		bar.Add(1)
	}

	for i := 0; i < cfg.Printers; i++ {
		if _, err := devices.NewPrinter(b, i); err != nil {
			return fmt.Errorf("install printer %d: %w", i, err)
		}
		bar.Add(1)
	}
	bar.Finish()

	k := kernel.New(b)
	if backing != nil {
		k.SetBackingStore(backing)
	}

	if bootFlash != nil {
		if err := loadImages(k, bootFlash, cfg.Images); err != nil {
			return err
		}
	}

	if interactive && term.IsTerminal(int(os.Stdin.Fd())) {
		oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("enable raw mode: %w", err)
		}
		defer term.Restore(int(os.Stdin.Fd()), oldState)
	}

	return driveUntilHalt(k)
}

// loadImages creates one process with a fresh Support structure per
// configured image. It does not read the image's flash blocks: each process
// starts from a zero State.
func loadImages(k *kernel.Kernel, f *devices.Flash, images []bootcfg.ImageConfig) error {
	for _, img := range images {
		sup := k.AllocSupport(kernel.NoProcess)
		if sup == nil {
			return fmt.Errorf("load image %q: support-structure pool exhausted", img.Name)
		}
		var initial kernel.State
		if _, ok := k.CreateProcess(kernel.NoProcess, initial, sup); !ok {
			return fmt.Errorf("load image %q: process table full", img.Name)
		}
	}
	return nil
}

// driveUntilHalt repeatedly asks the scheduler for the next process to run.
// This binary is a boot/demo shell, not an instruction-level emulator: it
// never executes anything on a dispatched process's behalf, so a process
// Schedule hands back would otherwise sit "current" forever, never
// re-queued or terminated, until the ready queue drained and the next
// Schedule call panicked with a false deadlock. Since there is no program
// counter to run, terminate each dispatched process immediately instead —
// real workloads belong in a test harness that drives the syscalls
// directly against *kernel.Kernel, not in this CLI.
func driveUntilHalt(k *kernel.Kernel) error {
	for {
		id, err := k.Schedule()
		switch err {
		case nil:
			k.Terminate(id)
		case kernel.ErrHalt:
			return nil
		case kernel.ErrWaitForInterrupt:
			time.Sleep(time.Millisecond)
			k.HandleInterrupt()
		default:
			return err
		}
	}
}
