// Command shadowrelay runs the local UDP relay endpoint: it loads a pool of
// upstream Shadowsocks-compatible servers, continuously probes them with the
// latency-scored balancer, and forwards client UDP flows to whichever
// server currently scores best.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shadowrelay/shadowrelay/pkg/adminserver"
	"github.com/shadowrelay/shadowrelay/pkg/balancer"
	"github.com/shadowrelay/shadowrelay/pkg/config"
	"github.com/shadowrelay/shadowrelay/pkg/endpoint"
	"github.com/shadowrelay/shadowrelay/pkg/metrics"
	"github.com/shadowrelay/shadowrelay/pkg/prober"
	"github.com/shadowrelay/shadowrelay/pkg/registry"
	"github.com/shadowrelay/shadowrelay/pkg/resolver"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (overrides SHADOWRELAY_CONFIG)")
	probeKindFlag := flag.String("probe", "", "probe kind, tcp or udp (overrides the config file's probe_kind)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("shadowrelay: %v", err)
	}

	kind := prober.KindTCP
	probeKind := cfg.ProbeKind
	if *probeKindFlag != "" {
		probeKind = *probeKindFlag
	}
	if probeKind == "udp" {
		kind = prober.KindUDP
	}

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	servers := make([]*registry.Server, len(cfg.Servers))
	for i, sc := range cfg.Servers {
		servers[i] = registry.New(sc)
	}

	res := resolver.New("")
	dialer := prober.NewDefaultDialer(res)

	log.Printf("shadowrelay: electing best of %d upstream servers via %s probes...", len(servers), kind)
	bal, err := balancer.New(ctx, servers, kind, dialer)
	if err != nil {
		log.Fatalf("shadowrelay: balancer: %v", err)
	}

	ep, err := endpoint.New(cfg, bal, dialer)
	if err != nil {
		log.Fatalf("shadowrelay: endpoint: %v", err)
	}
	defer ep.Close()

	if cfg.AdminAddr != "" {
		go func() {
			log.Printf("shadowrelay: admin/metrics listening on %s", cfg.AdminAddr)
			if err := http.ListenAndServe(cfg.AdminAddr, adminserver.New(bal)); err != nil {
				log.Printf("shadowrelay: admin server stopped: %v", err)
			}
		}()
	}

	log.Printf("shadowrelay: listening on %s", cfg.LocalAddr)
	if err := ep.Run(ctx); err != nil {
		log.Fatalf("shadowrelay: %v", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadFromEnv()
}
