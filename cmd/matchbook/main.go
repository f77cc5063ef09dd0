package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/quantarc/matchbook/internal/book"
	"github.com/quantarc/matchbook/internal/golden"
	"github.com/quantarc/matchbook/internal/harness"
	"github.com/quantarc/matchbook/internal/wal"
	"github.com/quantarc/matchbook/internal/workload"
)

const defaultRunsDir = "runs"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: init logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	switch os.Args[1] {
	case "run":
		fail(cmdRun(os.Args[2:], logger))
	case "golden":
		fail(cmdGolden(os.Args[2:], logger))
	case "replay":
		fail(cmdReplay(os.Args[2:], logger))
	case "verify":
		fail(cmdVerify(os.Args[2:], logger))
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func fail(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadProfile resolves --profile / --profile-file with a seed.
func loadProfile(name, file string, seed int64) (*workload.Profile, error) {
	if file != "" {
		return workload.FromYAML(file, seed)
	}
	if name == "" {
		name = "calm"
	}
	p := workload.Get(name, seed)
	if p == nil {
		return nil, fmt.Errorf("unknown profile %q (have: %s)", name, strings.Join(workload.Names(), ", "))
	}
	return p, nil
}

func cmdRun(args []string, logger *zap.Logger) error {
	profile, file := "", ""
	seed := int64(42)
	outDir := defaultRunsDir
	walPath := ""
	devAsserts := false

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--profile":
			i++
			if i < len(args) {
				profile = args[i]
			}
		case "--profile-file":
			i++
			if i < len(args) {
				file = args[i]
			}
		case "--seed":
			i++
			if i < len(args) {
				fmt.Sscanf(args[i], "%d", &seed)
			}
		case "--out":
			i++
			if i < len(args) {
				outDir = args[i]
			}
		case "--wal":
			i++
			if i < len(args) {
				walPath = args[i]
			}
		case "--dev-asserts":
			devAsserts = true
		}
	}

	p, err := loadProfile(profile, file, seed)
	if err != nil {
		return err
	}

	fmt.Printf("Running profile: %s (seed=%d, ops=%d)\n", p.Name, p.Seed, p.Ops)
	res, err := harness.Run(harness.Options{
		Profile:    p,
		OutDir:     outDir,
		WALPath:    walPath,
		DevAsserts: devAsserts,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Run complete.\n")
	fmt.Printf("  Commands applied: %d\n", res.Ops)
	fmt.Printf("  Events drained:   %d\n", res.Events)
	fmt.Printf("  Wall time:        %v\n", res.Duration)
	fmt.Printf("  State hash:       %s...\n", res.StateHash[:16])
	fmt.Printf("  Output:           %s\n", res.OutputDir)
	fmt.Printf("\n%s\n", res.SnapshotLine)
	return nil
}

func cmdGolden(args []string, logger *zap.Logger) error {
	dbPath := "golden.txt"
	profile, file := "", ""
	seedList := "42"
	update := false

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--db":
			i++
			if i < len(args) {
				dbPath = args[i]
			}
		case "--profile":
			i++
			if i < len(args) {
				profile = args[i]
			}
		case "--profile-file":
			i++
			if i < len(args) {
				file = args[i]
			}
		case "--seeds":
			i++
			if i < len(args) {
				seedList = args[i]
			}
		case "--update":
			update = true
		}
	}

	db, err := golden.Load(dbPath)
	if err != nil {
		return err
	}

	mismatches := 0
	for _, field := range strings.Split(seedList, ",") {
		seed, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
		if err != nil {
			return fmt.Errorf("bad seed %q: %w", field, err)
		}
		p, err := loadProfile(profile, file, seed)
		if err != nil {
			return err
		}
		res, err := harness.Run(harness.Options{Profile: p, Logger: logger})
		if err != nil {
			return err
		}

		if update {
			if err := db.Update(res.SnapshotLine); err != nil {
				return err
			}
			fmt.Printf("seed %d: updated\n", seed)
			continue
		}

		ok, want, err := db.Check(res.SnapshotLine)
		if err != nil {
			return err
		}
		if ok {
			fmt.Printf("seed %d: ok\n", seed)
		} else {
			mismatches++
			fmt.Printf("seed %d: MISMATCH\n  want: %s\n  got:  %s\n", seed, want, res.SnapshotLine)
		}
	}

	if update {
		return db.Save(dbPath)
	}
	if mismatches > 0 {
		return fmt.Errorf("%d golden mismatch(es) against %s", mismatches, dbPath)
	}
	return nil
}

func cmdReplay(args []string, logger *zap.Logger) error {
	profile, file := "", ""
	seed := int64(42)
	walPath, snapPath := "", ""

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--profile":
			i++
			if i < len(args) {
				profile = args[i]
			}
		case "--profile-file":
			i++
			if i < len(args) {
				file = args[i]
			}
		case "--seed":
			i++
			if i < len(args) {
				fmt.Sscanf(args[i], "%d", &seed)
			}
		case "--wal":
			i++
			if i < len(args) {
				walPath = args[i]
			}
		case "--snapshot":
			i++
			if i < len(args) {
				snapPath = args[i]
			}
		}
	}
	if walPath == "" && snapPath == "" {
		return fmt.Errorf("--wal or --snapshot required")
	}

	p, err := loadProfile(profile, file, seed)
	if err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	bk, err := book.New(p.Book)
	if err != nil {
		return err
	}

	applied, err := wal.Recover(snapPath, walPath, bk, logger)
	if err != nil {
		return err
	}

	fmt.Printf("Recovered %d command(s).\n", applied)
	fmt.Printf("  State hash: %s\n", bk.ComputeStateHash())
	fmt.Printf("\n%s\n", bk.SnapshotLine(p.Seed, bk.Ops()))
	return nil
}

func cmdVerify(args []string, logger *zap.Logger) error {
	profile, file := "", ""
	seed := int64(42)

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--profile":
			i++
			if i < len(args) {
				profile = args[i]
			}
		case "--profile-file":
			i++
			if i < len(args) {
				file = args[i]
			}
		case "--seed":
			i++
			if i < len(args) {
				fmt.Sscanf(args[i], "%d", &seed)
			}
		}
	}

	p, err := loadProfile(profile, file, seed)
	if err != nil {
		return err
	}
	if err := harness.VerifyDeterministic(p, logger); err != nil {
		return err
	}
	fmt.Printf("Profile %s seed %d is deterministic.\n", p.Name, seed)
	return nil
}

func printUsage() {
	fmt.Println(`Usage: matchbook <command> [options]

Commands:
  run      Run a seeded workload through the book
  golden   Check (or --update) the per-seed golden snapshot database
  replay   Rebuild book state from a snapshot and/or WAL
  verify   Run a profile twice and compare fingerprints

Run options:
  --profile <name>       Built-in profile: calm, churn, crossheavy (default: calm)
  --profile-file <path>  YAML profile overriding the calm defaults
  --seed <n>             Workload seed (default: 42)
  --out <dir>            Artifact directory (default: runs)
  --wal <path>           Also journal accepted commands to a WAL
  --dev-asserts          Walk all book invariants after every command

Golden options:
  --db <path>            Golden database file (default: golden.txt)
  --profile <name>       Profile to run per seed
  --seeds <a,b,c>        Comma-separated seed list (default: 42)
  --update               Rewrite entries instead of checking

Replay options:
  --profile <name>       Profile supplying the book configuration
  --snapshot <path>      Snapshot to load first
  --wal <path>           WAL to apply after the snapshot

Verify options:
  --profile <name>, --seed <n>`)
}
