// Package config parses the relaymitm CLI surface with the standard
// library flag package, using a repeatable-int flag.Value for
// --http-port/--https-port and a positional service argument.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
)

// Config is the fully parsed CLI surface described by spec.md §6 plus
// the SPEC_FULL additions (--cert-dir, --debug, the `sub` service).
type Config struct {
	Service string // "proxy" or "sub"

	Host string
	Port int
	Mode string // socks | transparent | http | replay

	HTTPPorts  []int
	HTTPSPorts []int

	EventsChannel string
	ViewerChannel string
	Plugins       []string

	CertDir string
	Debug   bool
}

// intList is a repeatable flag.Value: each -flag=N occurrence appends N,
// kept as distinct flag occurrences rather than one comma-separated
// string since ports are the natural unit here.
type intList struct {
	values *[]int
}

func (l intList) String() string {
	if l.values == nil {
		return ""
	}
	parts := make([]string, len(*l.values))
	for i, v := range *l.values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (l intList) Set(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", s, err)
	}
	*l.values = append(*l.values, n)
	return nil
}

// stringList is intList's string-valued counterpart, used for --plugins
// (comma-separated, per spec.md §6) via a single Set call that splits.
type stringList struct {
	values *[]string
}

func (l stringList) String() string {
	if l.values == nil {
		return ""
	}
	return strings.Join(*l.values, ",")
}

func (l stringList) Set(s string) error {
	if s == "" {
		return nil
	}
	*l.values = append(*l.values, strings.Split(s, ",")...)
	return nil
}

// Parse parses args (normally os.Args[1:]) into a Config.
func Parse(args []string) (*Config, error) {
	cfg := &Config{
		Host: "127.0.0.1",
		Port: 5580,
		Mode: "socks",
	}

	fs := flag.NewFlagSet("relaymitm", flag.ContinueOnError)
	fs.StringVar(&cfg.Host, "host", cfg.Host, "listen host")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "listen port")
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, "entry mode: socks, transparent, http, or replay")
	fs.Var(intList{&cfg.HTTPPorts}, "http-port", "additional plaintext-HTTP port (repeatable)")
	fs.Var(intList{&cfg.HTTPSPorts}, "https-port", "additional HTTPS port (repeatable)")
	fs.StringVar(&cfg.EventsChannel, "events-channel", "", "events_channel endpoint (replay request/reply)")
	fs.StringVar(&cfg.ViewerChannel, "viewer-channel", "", "viewer_channel endpoint (transaction publish)")
	fs.Var(stringList{&cfg.Plugins}, "plugins", "comma-separated plugin identifiers (repeatable)")
	fs.StringVar(&cfg.CertDir, "cert-dir", "", "CA/leaf certificate store directory")
	fs.BoolVar(&cfg.Debug, "debug", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return nil, errors.New("config: missing required positional argument: service (proxy|sub)")
	}
	cfg.Service = rest[0]

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Service {
	case "proxy", "sub":
	default:
		return fmt.Errorf("config: unknown service %q, want proxy or sub", c.Service)
	}

	if c.Service == "proxy" {
		switch c.Mode {
		case "socks", "transparent", "http", "replay":
		default:
			return fmt.Errorf("config: unknown mode %q", c.Mode)
		}
	}
	return nil
}
