package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "subair/internal/persistence/log"
	"subair/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "list":
			listCmd(os.Args[2:])
			return
		case "artifact":
			artifactCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "events":
			eventsCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints one header per artifact file.
func listCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	paths, err := snapshot.List(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "no artifacts under", filepath.Join(*dataDir, "chunks"))
		os.Exit(2)
	}
	for _, p := range paths {
		hdr, err := snapshot.ReadHeader(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(p), err)
			continue
		}
		printJSON(struct {
			File string `json:"file"`
			snapshot.Header
		}{File: filepath.Base(p), Header: hdr})
	}
}

// artifactCmd decodes one artifact fully and prints its summary.
func artifactCmd(args []string) {
	fs := flag.NewFlagSet("artifact", flag.ExitOnError)
	verify := fs.Bool("verify", true, "recompute the digest and compare it with the header")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: admin artifact [-verify] <path>")
		os.Exit(2)
	}

	hdr, a, err := snapshot.ReadArtifact(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read artifact:", err)
		os.Exit(1)
	}
	digest := a.Digest()
	printJSON(struct {
		snapshot.Header
		Offset         [3]float32 `json:"offset"`
		Candidates     int        `json:"candidates"`
		RemovedPercent float64    `json:"removed_percent"`
		TotalMs        float64    `json:"total_ms"`
		DigestOK       bool       `json:"digest_ok"`
	}{
		Header:         hdr,
		Offset:         [3]float32{a.Offset.X(), a.Offset.Y(), a.Offset.Z()},
		Candidates:     a.Stats.Candidates,
		RemovedPercent: a.Stats.RemovedPercent(),
		TotalMs:        float64(a.Stats.Total.Microseconds()) / 1000,
		DigestOK:       digest == hdr.Digest,
	})
	if *verify && digest != hdr.Digest {
		fmt.Fprintf(os.Stderr, "digest mismatch: header=%s computed=%s\n", hdr.Digest, digest)
		os.Exit(1)
	}
}

// eventsCmd prints the generation event log, one JSON object per line.
func eventsCmd(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	kind := fs.String("kind", "", "only print events of this kind")
	_ = fs.Parse(args)

	files, err := filepath.Glob(filepath.Join(*dataDir, "events", "events-*.jsonl.zst"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "glob:", err)
		os.Exit(1)
	}
	for _, f := range files {
		err := persistlog.ReadJSONL(f, func(line []byte) error {
			if *kind != "" {
				var e persistlog.Event
				if err := json.Unmarshal(line, &e); err != nil {
					return err
				}
				if e.Kind != *kind {
					return nil
				}
			}
			fmt.Println(string(line))
			return nil
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(f), err)
			os.Exit(1)
		}
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
