// Command rfcached wires a Registry, a WorkerPool, and the HTTP byte
// source together into a standalone process exposing the read-only
// inspection API. It is a reference wiring, not a required part of the
// module: every piece it assembles is usable directly from Go code
// without this binary.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/karpelesremote/rfcache"
	"github.com/karpelesremote/rfcache/config"
	"github.com/karpelesremote/rfcache/internal/httpsource"
	"github.com/karpelesremote/rfcache/registry"
)

var configPath = flag.String("config", "rfcache.yaml", "path to the YAML configuration file")

type httpOpener struct{}

func (httpOpener) Open(desc rfcache.Descriptor) (io.Reader, error) {
	if desc.ClassName != "http" {
		return nil, fmt.Errorf("rfcached: no source available for metadata class %q: %w", desc.ClassName, rfcache.ErrBadArguments)
	}
	return httpsource.New(desc.RemotePath), nil
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("rfcached: loading config: %v", err)
	}

	counter, err := registry.OpenByteCounter(cfg.AccountingDBPath)
	if err != nil {
		log.Fatalf("rfcached: opening accounting database: %v", err)
	}
	defer counter.Close()

	pool := rfcache.NewWorkerPool(cfg.Workers)
	defer pool.Shutdown()

	reg, err := registry.New(registry.Config{
		Root:           cfg.CacheRoot,
		Codecs:         rfcache.StandardCodecs(),
		Pool:           pool,
		Opener:         httpOpener{},
		FlushThreshold: cfg.FlushThresholdBytes(),
		Counter:        counter,
	})
	if err != nil {
		log.Fatalf("rfcached: constructing registry: %v", err)
	}

	if err := reg.Recover(); err != nil {
		log.Fatalf("rfcached: recovering cache root %s: %v", cfg.CacheRoot, err)
	}

	log.Printf("rfcached: serving inspection API on %s", cfg.ListenAddr)
	log.Fatal(http.ListenAndServe(cfg.ListenAddr, reg.Handler()))
}
