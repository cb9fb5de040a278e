// Command paxoslog runs one role instance (acceptor, proposer, learner or
// client) of a multi-decree Paxos replicated log, per spec.md §6.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"paxoslog/internal/config"
	"paxoslog/internal/paxosrole"
	"paxoslog/internal/wire"
)

func main() {
	args := os.Args
	if len(args) != 4 {
		log.Fatalln("usage: paxoslog <config> <role> <id>")
	}
	cfgPath, roleName, idArg := args[1], args[2], args[3]

	id, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil {
		log.Fatalf("invalid id %q: %v", idArg, err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	bootstrapLogger := log.New(os.Stderr, "[bootstrap] ", log.LstdFlags)
	if dump, err := json.Marshal(cfg); err == nil {
		bootstrapLogger.Printf("loaded config: %s", dump)
	}

	self, err := cfg.Find(roleName, id)
	if err != nil {
		if errors.Is(err, config.ErrUnknownRole) {
			log.Fatalf("%v (expected one of: %s, %s, %s, %s)", err, config.Acceptor, config.Proposer, config.Learner, config.Client)
		}
		log.Fatalf("resolving self: %v", err)
	}

	logger := log.New(os.Stderr, fmt.Sprintf("[%s %d] ", roleName, id), log.LstdFlags|log.Lmicroseconds)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := wire.Listen(self.Addr.String(), logger)
	if err != nil {
		log.Fatalf("listening on %s: %v", self.Addr, err)
	}
	defer conn.Close()

	roleFuncs := map[string]func(context.Context, *config.Config, int64, *wire.Conn, *log.Logger){
		config.Acceptor: runAcceptor,
		config.Proposer: runProposer,
		config.Learner:  runLearner,
	}

	if roleName == config.Client {
		runClient(ctx, cfg, id, conn, logger)
		return
	}

	fn := roleFuncs[roleName]
	fn(ctx, cfg, id, conn, logger)
}

func runAcceptor(ctx context.Context, cfg *config.Config, id int64, conn *wire.Conn, logger *log.Logger) {
	a := paxosrole.NewAcceptor(id, conn, cfg.LearnerAddrs(), cfg.ProposerAddrs(), logger)
	a.Run(ctx)
}

func runProposer(ctx context.Context, cfg *config.Config, id int64, conn *wire.Conn, logger *log.Logger) {
	p := paxosrole.NewProposer(id, conn, cfg.AcceptorAddrs(), cfg.Quorum(), logger)
	p.Run(ctx)
}

func runLearner(ctx context.Context, cfg *config.Config, id int64, conn *wire.Conn, logger *log.Logger) {
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	l := paxosrole.NewLearner(id, conn, learnerPeerAddrs(cfg, id), cfg.Quorum(), out, logger)
	l.Run(ctx)
}

// learnerPeerAddrs returns every other configured learner's address, used
// for the catch-up protocol between peer learners (spec.md §4.3).
func learnerPeerAddrs(cfg *config.Config, selfID int64) []*net.UDPAddr {
	var peers []*net.UDPAddr
	for _, inst := range cfg.Learners {
		if inst.ID == selfID {
			continue
		}
		peers = append(peers, inst.Addr)
	}
	return peers
}

func runClient(ctx context.Context, cfg *config.Config, id int64, conn *wire.Conn, logger *log.Logger) {
	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 64*1024), 1024*1024)
	c := paxosrole.NewClient(id, conn, cfg.ProposerAddrs(), in, logger)
	if !c.Run(ctx) {
		os.Exit(1)
	}
}
