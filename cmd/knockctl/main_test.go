package main

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"doorknock/internal/config"
	"doorknock/internal/porthop"
)

func run(t *testing.T, stdin string, args ...string) string {
	t.Helper()

	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("knockctl %v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

const abcDigest = "ddaf35a193617abacc417349ae20413112e6fa4e89a97ea20a9eeee64b55d39a" +
	"2192992a274fc1a836ba3c23a3feebbd454d4423643ce80e2a9ac94fa54ca49f"

func TestDigest(t *testing.T) {
	if got := run(t, "", "digest", "abc"); got != abcDigest+"\n" {
		t.Fatalf("got %q", got)
	}
	if got := run(t, "abc\n", "digest"); got != abcDigest+"\n" {
		t.Fatalf("stdin: got %q", got)
	}
}

func TestDoorsJSON(t *testing.T) {
	out := run(t, "", "doors", "--secret", "hunter2", "--ports", "3",
		"--min", "10000", "--max", "20000", "--slot", "57000000", "--skew", "1", "--output", "json")

	var views []struct {
		Slot  int64 `json:"slot"`
		Doors []struct {
			Port     uint16 `json:"port"`
			Protocol string `json:"protocol"`
		} `json:"doors"`
	}
	if err := json.Unmarshal([]byte(out), &views); err != nil {
		t.Fatalf("%v\n%s", err, out)
	}
	if len(views) != 3 {
		t.Fatalf("got %d sequences", len(views))
	}

	k := config.KnockConfig{Secret: "hunter2", Ports: 3, PortRange: config.PortRange{Min: 10000, Max: 20000}}
	if err := k.Prepare(); err != nil {
		t.Fatal(err)
	}
	defer k.Close()
	for i, v := range views {
		if want := int64(57000000 - 1 + i); v.Slot != want {
			t.Fatalf("view %d slot %d, want %d", i, v.Slot, want)
		}
		doors, err := porthop.Generate(k.Digest(), k.Params(), v.Slot)
		if err != nil {
			t.Fatal(err)
		}
		var got, want []string
		for j, d := range v.Doors {
			got = append(got, d.Protocol+"/"+itoa(d.Port))
			want = append(want, doors[j].Protocol().String()+"/"+itoa(doors[j].Port))
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("slot %d: got %v, want %v", v.Slot, got, want)
		}
	}
}

func TestCheckRejectsBadKnock(t *testing.T) {
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"check", "--secret", "x", "--ports", "30", "--min", "1", "--max", "2"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected capacity error")
	}
}

func TestVersion(t *testing.T) {
	if got := run(t, "", "version"); !strings.Contains(got, version) {
		t.Fatalf("got %q", got)
	}
}

func itoa(p uint16) string { return strconv.Itoa(int(p)) }
