// Package config loads the static role-instance table every process in a
// Paxos deployment reads at startup, per spec.md §6: one line per role
// instance naming its network endpoint. Membership is closed once every
// process has loaded the same file.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// ErrUnknownRole is wrapped into any error reporting a role name outside
// {acceptor, proposer, learner, client}, whether encountered while parsing a
// config file or while resolving a role named on the command line — callers
// distinguish it from other config errors via errors.Is.
var ErrUnknownRole = errors.New("config: unknown role")

// Role names recognized in the config file, matching the four roles spec.md
// defines.
const (
	Acceptor = "acceptor"
	Proposer = "proposer"
	Learner  = "learner"
	Client   = "client"
)

// Instance is one named, addressed role process.
type Instance struct {
	Role string
	ID   int64
	Addr *net.UDPAddr
}

// Config is the parsed, validated role table for one deployment.
type Config struct {
	Instances []Instance

	Acceptors []Instance
	Proposers []Instance
	Learners  []Instance
	Clients   []Instance
}

// Quorum returns the majority size of the configured, static acceptor set:
// ⌊N/2⌋+1.
func (c *Config) Quorum() int {
	return len(c.Acceptors)/2 + 1
}

// Find returns the instance matching role and id. The error wraps
// ErrUnknownRole (checkable via errors.Is) when role itself isn't one of the
// four recognized roles, distinct from the case where role is valid but no
// instance with that id was configured.
func (c *Config) Find(role string, id int64) (Instance, error) {
	switch role {
	case Acceptor, Proposer, Learner, Client:
	default:
		return Instance{}, fmt.Errorf("config: %w: %q", ErrUnknownRole, role)
	}
	for _, inst := range c.Instances {
		if inst.Role == role && inst.ID == id {
			return inst, nil
		}
	}
	return Instance{}, fmt.Errorf("config: no %s with id %d", role, id)
}

func addrsOf(insts []Instance) []*net.UDPAddr {
	addrs := make([]*net.UDPAddr, len(insts))
	for i, inst := range insts {
		addrs[i] = inst.Addr
	}
	return addrs
}

// AcceptorAddrs, ProposerAddrs, LearnerAddrs return the endpoints of every
// configured instance of that role, in config-file order.
func (c *Config) AcceptorAddrs() []*net.UDPAddr { return addrsOf(c.Acceptors) }
func (c *Config) ProposerAddrs() []*net.UDPAddr { return addrsOf(c.Proposers) }
func (c *Config) LearnerAddrs() []*net.UDPAddr  { return addrsOf(c.Learners) }

// Load parses a config file of lines `<role> <id> <host> <port>`. Blank
// lines and lines starting with '#' are skipped. A malformed or ambiguous
// entry is a fatal configuration error, returned to the caller (main.go logs
// it with log.Fatalf and exits non-zero, per spec.md §7).
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	cfg := &Config{}
	seen := map[string]bool{}

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 4 {
			return nil, fmt.Errorf("config: %s:%d: expected 4 fields, got %d", path, lineNo, len(fields))
		}
		role := strings.ToLower(fields[0])
		switch role {
		case Acceptor, Proposer, Learner, Client:
		default:
			return nil, fmt.Errorf("config: %s:%d: %q: %w", path, lineNo, fields[0], ErrUnknownRole)
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: %s:%d: bad id %q: %w", path, lineNo, fields[1], err)
		}
		key := fmt.Sprintf("%s:%d", role, id)
		if seen[key] {
			return nil, fmt.Errorf("config: %s:%d: ambiguous duplicate entry for %s", path, lineNo, key)
		}
		seen[key] = true

		addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(fields[2], fields[3]))
		if err != nil {
			return nil, fmt.Errorf("config: %s:%d: bad address %s:%s: %w", path, lineNo, fields[2], fields[3], err)
		}

		inst := Instance{Role: role, ID: id, Addr: addr}
		cfg.Instances = append(cfg.Instances, inst)
		switch role {
		case Acceptor:
			cfg.Acceptors = append(cfg.Acceptors, inst)
		case Proposer:
			cfg.Proposers = append(cfg.Proposers, inst)
		case Learner:
			cfg.Learners = append(cfg.Learners, inst)
		case Client:
			cfg.Clients = append(cfg.Clients, inst)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if len(cfg.Acceptors) == 0 {
		return nil, fmt.Errorf("config: %s: no acceptors configured", path)
	}
	return cfg, nil
}
