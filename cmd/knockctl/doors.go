package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"doorknock/internal/config"
	"doorknock/internal/porthop"
)

type knockSource struct {
	configPath string
	role       string
	inline     config.KnockConfig
	flags      int
}

func (s *knockSource) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&s.configPath, "config", "", "Server or client config file (json, yaml, toml)")
	f.StringVar(&s.role, "role", "client", "Config role: client, server")
	f.StringVar(&s.inline.Secret, "secret", "", "Password (or set "+config.SecretEnv+")")
	f.StringVar(&s.inline.SecretDigest, "secret-digest", "", "SHA-512 hex digest of the password")
	f.IntVar(&s.inline.Ports, "ports", 0, "Doors per sequence")
	f.IntVar(&s.inline.RotateSeconds, "rotate", 0, "Rotation period in seconds")
	f.IntVar(&s.inline.InitHashPos, "init-hash-pos", 0, "Negative start position in the init hash")
	f.IntVar(&s.inline.PortRange.Min, "min", 0, "Lowest door port")
	f.IntVar(&s.inline.PortRange.Max, "max", 0, "Highest door port")
	f.StringVar(&s.inline.Protocol, "protocol", "", "Fixed protocol: tcp, udp, icmp")
	f.IntVar(&s.flags, "protocol-flags", porthop.Dynamic, "Fixed protocol flags selector")
	f.StringVar(&s.inline.Decoding, "decoding", "", "Decoding mode: compat, exact")
}

type namedKnock struct {
	Name  string
	Knock config.KnockConfig
}

// load returns the knock sections of the config file, or the inline knock
// when no file is given. Callers must Close every returned knock.
func (s *knockSource) load() ([]namedKnock, error) {
	if s.configPath == "" {
		k := s.inline
		if s.flags != porthop.Dynamic {
			flags := s.flags
			k.ProtocolFlags = &flags
		}
		if err := k.Prepare(); err != nil {
			return nil, err
		}
		return []namedKnock{{Name: "inline", Knock: k}}, nil
	}
	var out []namedKnock
	switch s.role {
	case "server":
		cfgs, err := config.LoadServerConfigs(s.configPath)
		if err != nil {
			return nil, err
		}
		for _, c := range cfgs {
			out = append(out, namedKnock{Name: c.Name, Knock: c.Knock})
		}
	case "client":
		cfgs, err := config.LoadClientConfigs(s.configPath)
		if err != nil {
			return nil, err
		}
		for _, c := range cfgs {
			out = append(out, namedKnock{Name: c.Name, Knock: c.Knock})
		}
	default:
		return nil, fmt.Errorf("unknown role %q", s.role)
	}
	return out, nil
}

type doorView struct {
	porthop.Door
	Protocol string `json:"protocol"`
	Flags    int    `json:"flags"`
}

type sequenceView struct {
	Name  string     `json:"name"`
	Slot  int64      `json:"slot"`
	Doors []doorView `json:"doors"`
}

func viewOf(name string, slot int64, doors []porthop.Door) sequenceView {
	v := sequenceView{Name: name, Slot: slot, Doors: make([]doorView, len(doors))}
	for i, d := range doors {
		v.Doors[i] = doorView{Door: d, Protocol: d.Protocol().String(), Flags: d.Flags()}
	}
	return v
}

func doorsCmd() *cobra.Command {
	var (
		src  knockSource
		at   string
		slot int64
		skew int
	)
	cmd := &cobra.Command{
		Use:   "doors",
		Short: "Print the knock sequence for a time slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			knocks, err := src.load()
			if err != nil {
				return err
			}
			defer func() {
				for i := range knocks {
					knocks[i].Knock.Close()
				}
			}()

			now := time.Now()
			if at != "" {
				if now, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("--time: %w", err)
				}
			}

			var views []sequenceView
			for _, k := range knocks {
				p := k.Knock.Params()
				center := slot
				if !cmd.Flags().Changed("slot") {
					center = porthop.StepIndex(now, p.RotateSeconds)
				}
				seqs, err := porthop.Window(k.Knock.Digest(), p, center, skew)
				if err != nil {
					return fmt.Errorf("%s: %w", k.Name, err)
				}
				first := center - int64(max(skew, 0))
				for i, doors := range seqs {
					views = append(views, viewOf(k.Name, first+int64(i), doors))
				}
			}

			if output == "json" {
				return writeJSON(cmd.OutOrStdout(), views)
			}
			return writeDoors(cmd.OutOrStdout(), views)
		},
	}
	src.bind(cmd)
	cmd.Flags().StringVar(&at, "time", "", "RFC3339 time to derive for (default now)")
	cmd.Flags().Int64Var(&slot, "slot", 0, "Explicit time slot, overrides --time")
	cmd.Flags().IntVar(&skew, "skew", 0, "Also print this many slots either side")
	return cmd
}

func checkCmd() *cobra.Command {
	var src knockSource
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a config file and print its derivation parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			knocks, err := src.load()
			if err != nil {
				return err
			}
			type paramsView struct {
				Name   string         `json:"name"`
				Params porthop.Params `json:"params"`
			}
			views := make([]paramsView, len(knocks))
			for i := range knocks {
				views[i] = paramsView{Name: knocks[i].Name, Params: knocks[i].Knock.Params()}
				knocks[i].Knock.Close()
			}
			if output == "json" {
				return writeJSON(cmd.OutOrStdout(), views)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPORTS\tRANGE\tROTATE\tPOS\tPROTO\tFLAGS\tDECODING")
			for _, v := range views {
				p := v.Params
				fmt.Fprintf(w, "%s\t%d\t%d-%d\t%ds\t%d\t%s\t%s\t%s\n",
					v.Name, p.NumPorts, p.PortMin, p.PortMax, p.RotateSeconds, p.InitHashPos,
					selector(p.Proto, func(i int) string { return porthop.Protocol(i).String() }),
					selector(p.ProtoFlags, func(i int) string { return fmt.Sprint(i) }),
					p.Decoding)
			}
			return w.Flush()
		},
	}
	src.bind(cmd)
	return cmd
}

func selector(v int, name func(int) string) string {
	if v == porthop.Dynamic {
		return "dynamic"
	}
	return name(v)
}

func writeDoors(w io.Writer, views []sequenceView) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSLOT\t#\tPROTO\tPORT\tFLAGS")
	for _, v := range views {
		for i, d := range v.Doors {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%d\t%d\n", v.Name, v.Slot, i+1, d.Protocol, d.Port, d.Flags)
		}
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
