package main

import (
	"flag"
	"log"

	"github.com/danmuck/apdurelay/internal/config"
)

const defaultPath = "cmd/relayctl/config.toml"

func main() {
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to cmd/relayctl/config.toml)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath
		}
		cfg, err := config.Load(path)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated relay config %q at %s (peer=%s chip=%s)", cfg.Name, path, cfg.Peer.Kind, cfg.Chip.Kind)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath
	}
	if err := config.WriteTemplate(target, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote relay config template to %s", target)
}
