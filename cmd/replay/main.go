package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"

	"subair/internal/sim/tuning"
)

func main() {
	var (
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/terrain.yaml", "path to terrain.yaml the artifacts were generated with")
		seed       = flag.Uint64("seed", 0, "noise seed override (0: use the tuning file)")
		workers    = flag.Int("workers", runtime.NumCPU(), "regeneration workers")
		events     = flag.Bool("events", true, "also check digests recorded in the event log")
	)
	flag.Parse()

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}
	if *seed != 0 {
		tune.Seed = *seed
	}
	if err := tune.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "tuning:", err)
		os.Exit(1)
	}

	rep, err := verify(context.Background(), verifyConfig{
		DataDir: *dataDir,
		Tuning:  tune,
		Workers: *workers,
		Events:  *events,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	for _, m := range rep.Mismatches {
		b, _ := json.Marshal(m)
		fmt.Fprintln(os.Stderr, "mismatch:", string(b))
	}
	if !rep.OK() {
		fmt.Printf("replay FAILED: checked=%d events=%d stale=%d mismatches=%d\n", rep.Checked, rep.Events, rep.Stale, len(rep.Mismatches))
		os.Exit(1)
	}
	if rep.Checked == 0 && rep.Events == 0 {
		fmt.Fprintln(os.Stderr, "nothing to verify under", *dataDir)
		os.Exit(2)
	}
	fmt.Printf("replay ok: checked=%d artifacts events=%d stale=%d (seed=%d digest=%s)\n", rep.Checked, rep.Events, rep.Stale, tune.Seed, tune.Digest())
}
