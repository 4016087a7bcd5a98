// Package main implements fanoutlab-replay, a terminal player for replay
// snapshots of a published message.
//
// Usage:
//
//	fanoutlab-replay -cid <correlationId> [-forced pay|inv|ship|all] [-random -rate 0.3 -dlq]
//	fanoutlab-replay -payload <share token> -auto
//
// Without -auto the player reads commands from stdin: n (next), p (previous),
// r (reset), a (toggle auto-play), q (quit).
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/fanoutlab/fanoutlab/internal/config"
	"github.com/fanoutlab/fanoutlab/internal/playback"
	"github.com/fanoutlab/fanoutlab/internal/replay"
	"github.com/fanoutlab/fanoutlab/internal/storage"
	"github.com/fanoutlab/fanoutlab/internal/trace"
)

func main() {
	var (
		configFile string
		cid        string
		token      string
		forced     string
		random     bool
		rate       float64
		toDLQ      bool
		seed       string
		auto       bool
		interval   time.Duration
	)
	flag.StringVar(&configFile, "config", "", "Path to configuration file, used to locate storage for -cid")
	flag.StringVar(&cid, "cid", "", "Correlation id whose published message is replayed")
	flag.StringVar(&token, "payload", "", "Share token of the payload to replay")
	flag.StringVar(&forced, "forced", replay.TargetNone, "Forced failure target: none, all, pay, inv, ship")
	flag.BoolVar(&random, "random", false, "Enable random failures")
	flag.Float64Var(&rate, "rate", 0.3, "Random failure rate in [0,1]")
	flag.BoolVar(&toDLQ, "dlq", false, "Route random failures to the DLQ")
	flag.StringVar(&seed, "seed", "", "Seed for reproducible random failures")
	flag.BoolVar(&auto, "auto", false, "Play to the end without waiting for input")
	flag.DurationVar(&interval, "interval", playback.DefaultInterval, "Auto-play interval")
	flag.Parse()

	payload, err := loadPayload(context.Background(), configFile, cid, token)
	if err != nil {
		log.Fatalf("Failed to load payload: %v", err)
	}
	policy := replay.Policy{
		ForcedFailureTarget:      forced,
		RandomFailureEnabled:     random,
		RandomFailureRate:        rate,
		RouteRandomFailuresToDLQ: toDLQ,
		Seed:                     seed,
	}

	p := newPlayer(os.Stdout)
	ctrl := playback.NewController(playback.NewClockScheduler(clock.RealClock{}), payload, policy,
		playback.WithListener(p.show))
	defer ctrl.Close()
	p.show(ctrl.Current())

	if auto {
		if ctrl.SetAutoPlay(true, interval) {
			<-p.done
		}
		return
	}
	if err := interact(os.Stdin, ctrl, interval); err != nil {
		log.Fatalf("Input error: %v", err)
	}
}

// loadPayload resolves the replayed payload: a share token wins over a
// correlation id; with neither a default order is generated.
func loadPayload(ctx context.Context, configFile, cid, token string) (json.RawMessage, error) {
	if token != "" {
		return replay.DecodePayload(token)
	}
	if cid == "" {
		return nil, nil
	}

	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(configFile); err != nil {
			return nil, err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Resolve()

	var store storage.ObjectStorage
	var err error
	switch cfg.Storage.Type {
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		s3Cfg.Region = cfg.Storage.S3.Region
		s3Cfg.Endpoint = cfg.Storage.S3.Endpoint
		s3Cfg.UsePathStyle = cfg.Storage.S3.UsePathStyle
		store, err = storage.NewS3Storage(ctx, cfg.Storage.S3.Bucket, s3Cfg)
	default:
		store, err = storage.NewLocalStorage(cfg.Storage.Path)
	}
	if err != nil {
		return nil, err
	}
	return trace.NewAssembler(trace.NewObjectStepStore(store)).GetPublishedPayload(ctx, cid)
}

func interact(in io.Reader, ctrl *playback.Controller, interval time.Duration) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		switch strings.TrimSpace(sc.Text()) {
		case "", "n":
			ctrl.StepForward()
		case "p":
			ctrl.StepBackward()
		case "r":
			ctrl.Reset(true)
		case "a":
			ctrl.SetAutoPlay(!ctrl.Current().AutoPlaying, interval)
		case "q":
			return nil
		default:
			fmt.Println("commands: n next, p previous, r reset, a auto-play, q quit")
		}
	}
	return sc.Err()
}

// player prints states; done closes once the last snapshot was shown.
type player struct {
	mu   sync.Mutex
	out  io.Writer
	once sync.Once
	done chan struct{}
}

func newPlayer(out io.Writer) *player {
	return &player{out: out, done: make(chan struct{})}
}

func (p *player) show(st playback.State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := st.Snapshot
	fmt.Fprintf(p.out, "\n[%d/%d] %s  %s %s\n", st.Cursor+1, st.Len, snap.State, snap.Event.EventType, snap.Event.OrderID)
	for _, c := range replay.Consumers {
		s := snap.Status(c)
		fmt.Fprintf(p.out, "  %-10s %-10s %s\n", c.Label(), s, s.Describe())
	}
	if len(snap.Log) > 0 {
		e := snap.Log[0]
		fmt.Fprintf(p.out, "  %s %s\n", e.Stamp(), e.Text)
	}
	if st.AtEnd() {
		p.once.Do(func() { close(p.done) })
	}
}
