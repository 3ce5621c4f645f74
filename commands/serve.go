package commands

import (
	"context"
	"errors"
	"net/http"
	"pyrite/config"
	"pyrite/helper/timer"
	"pyrite/swarm/node"
	"pyrite/swarm/protocol"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

// RunServe runs a node until ctx is cancelled
func RunServe(ctx context.Context, cfg *config.Config, dashboard bool) {
	knownPeers, err := cfg.KnownPeers()
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	reg := prometheus.NewRegistry()

	n, err := node.New(cfg.Network.UDPPort, knownPeers,
		node.WithLogger(log.NewEntry(log.StandardLogger())),
		node.WithReceiveTimeout(cfg.Network.ReceiveTimeout.Duration),
		node.WithKeepAliveInterval(cfg.Network.KeepAliveInterval.Duration),
		node.WithMetrics(node.NewMetrics(reg)),
	)
	if err != nil {
		var be *node.BindError
		if errors.As(err, &be) {
			log.Fatalf("Cannot start node: %v", be)
		}
		log.Fatalf("Failed to create node: %v", err)
	}

	if err := n.Start(); err != nil {
		log.Fatalf("Failed to start node discovery: %v", err)
	}

	wg, cctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return n.Run(cctx, handleMessage)
	})

	if cfg.Metrics.ListenAddress != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.ListenAddress,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}

		wg.Go(func() error {
			log.Infof("Serving metrics on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})

		wg.Go(func() error {
			<-cctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if dashboard {
		wg.Go(func() error {
			interval := &timer.Interval{
				Duration: time.Second * 5,
				Jitter:   time.Millisecond * 0,
			}
			return timer.RunWithTicker(cctx, interval, func(ctx context.Context) error {
				printStatus(n.Status())
				return nil
			})
		})
	}

	if err := wg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Node stopped: %v", err)
	}
	log.Info("Node stopped")
}

func handleMessage(r *node.Received) {
	switch m := r.Message.(type) {
	case protocol.KeepAlive:
		log.Debugf("pong from %s", r.From)
	case protocol.PeerList:
		log.Debugf("%s knows %d peers", r.From, len(m.Addresses))
	default:
		log.Debugf("%s from %s", r.Message.Kind(), r.From)
	}
}

func printStatus(st *node.Status) {
	now := time.Now()
	log.Infof("Node %s: %d peers, last keep alive %v ago", st.LocalAddr, len(st.Peers), now.Sub(st.LastKeepAlive).Round(time.Second))
	for _, p := range st.Peers {
		log.Infof("  %-40s last seen %v ago", p.Address, now.Sub(p.LastSeenTime).Round(time.Second))
	}
}
