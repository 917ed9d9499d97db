package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/petrovska-petro/voting-onchain/pkg/auth"
	"github.com/petrovska-petro/voting-onchain/pkg/contracts"
	"github.com/petrovska-petro/voting-onchain/pkg/snapshot"
)

const version = "0.1.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServer

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(stdout, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return startServer(stdout, stderr)
	case "hash":
		return runHashCmd(args[2:], stdout, stderr)
	case "id":
		return runIDCmd(args[2:], stdout, stderr)
	case "token":
		return runTokenCmd(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(args[2:], stdout, stderr)
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "votebridge %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			return startServer(stdout, stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "votebridge %s\n", version)
	fmt.Fprintln(w, "Governance-gated off-chain votes signed by contract wallets.")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  votebridge <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	printCommand(w, "serve", "Run the HTTP server (default)")
	printCommand(w, "hash", "Print the canonical vote message and its hash")
	printCommand(w, "id", "Print the registry id of a proposal identifier")
	printCommand(w, "token", "Mint a bearer token for an address (needs JWT_SECRET)")
	printCommand(w, "health", "Check server health (HTTP)")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %-10s %s\n", name, desc)
}

type hashOutput struct {
	Message string      `json:"message"`
	Hash    common.Hash `json:"hash"`
}

// runHashCmd reproduces the commitment a proposer submits, from the same
// fields the API accepts.
func runHashCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		proposal  = fs.String("proposal", "", "proposal identifier")
		choice    = fs.String("choice", "", "choice index or weighted JSON object")
		timestamp = fs.Int64("timestamp", 0, "vote timestamp (unix seconds)")
		ver       = fs.String("version", "0.1.3", "snapshot client version")
		space     = fs.String("space", "", "snapshot space")
		kind      = fs.String("type", "vote", "message type")
		asJSON    = fs.Bool("json", false, "print JSON")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	c, err := contracts.ParseChoice([]byte(*choice))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	msg := snapshot.Message{
		Version:   *ver,
		Timestamp: *timestamp,
		Space:     *space,
		Type:      *kind,
		Payload: snapshot.Payload{
			Proposal: *proposal,
			Choice:   c,
			Metadata: snapshot.DefaultMetadata,
		},
	}
	if err := snapshot.Validate(msg); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	encoded, hash, err := snapshot.Hash(msg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(hashOutput{Message: string(encoded), Hash: hash})
		return 0
	}
	_, _ = fmt.Fprintln(stdout, string(encoded))
	_, _ = fmt.Fprintln(stdout, hash.Hex())
	return 0
}

func runIDCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: votebridge id <identifier>")
		return 2
	}
	_, _ = fmt.Fprintln(stdout, contracts.ProposalID(args[0]).Hex())
	return 0
}

func runTokenCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	caller := fs.String("caller", "", "address the token authenticates")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !common.IsHexAddress(*caller) {
		_, _ = fmt.Fprintln(stderr, "Error: --caller must be an address")
		return 2
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		_, _ = fmt.Fprintln(stderr, "Error: JWT_SECRET is not set")
		return 1
	}
	tok, err := auth.Issue([]byte(secret), common.HexToAddress(*caller), *ttl, time.Now())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, tok)
	return 0
}

func runHealthCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "http://localhost:8080", "server base URL")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(strings.TrimRight(*addr, "/") + "/health")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(stderr, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "OK")
	return 0
}
