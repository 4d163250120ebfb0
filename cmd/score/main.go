// Command score evaluates a wallet snapshot offline and prints the result.
//
// Usage:
//
//	go run ./cmd/score snapshot.json
//	cat snapshot.json | go run ./cmd/score -balance 1200
//	go run ./cmd/score -risk snapshot.json
//
// Without -balance the outstanding balance is estimated from volume.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/swipefi/swipefi/internal/activity"
	"github.com/swipefi/swipefi/internal/scoring"
)

type output struct {
	CreditScore scoring.Result       `json:"creditScore"`
	Outstanding float64              `json:"outstandingBalance"`
	Risk        *activity.Assessment `json:"risk,omitempty"`
}

func main() {
	balance := flag.Float64("balance", -1, "outstanding balance in USD (default: estimate from volume)")
	withRisk := flag.Bool("risk", false, "include the wallet risk assessment")
	flag.Parse()

	var in io.Reader = os.Stdin
	if path := flag.Arg(0); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open snapshot: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	var snap scoring.Snapshot
	if err := json.NewDecoder(in).Decode(&snap); err != nil {
		fmt.Fprintf(os.Stderr, "decode snapshot: %v\n", err)
		os.Exit(1)
	}
	snap = activity.Normalize(snap)

	out := output{Outstanding: *balance}
	if out.Outstanding < 0 {
		out.Outstanding = scoring.EstimatedBalance(snap)
	}
	out.CreditScore = scoring.EvaluateWithBalance(snap, out.Outstanding)
	if *withRisk {
		a := activity.AssessRisk(snap)
		out.Risk = &a
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
		os.Exit(1)
	}
}
