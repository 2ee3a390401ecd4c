package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/verifailabs/verifai/client"
	"github.com/verifailabs/verifai/config"
	"github.com/verifailabs/verifai/models"
)

var (
	logger     *slog.Logger
	serverURL  string
	configPath string
	useRootKey bool
)

func init() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})
	logger = slog.New(handler)

	flag.StringVar(&serverURL, "server", "http://localhost:8080", "Base URL of the backend")
	flag.StringVar(&configPath, "config", "", "Server config file; required with --root to read the root key")
	flag.BoolVar(&useRootKey, "root", false, "Authenticate with the root key from the config file")
}

func getClient() (*client.Client, error) {
	var apiKey string

	if useRootKey {
		if configPath == "" {
			return nil, fmt.Errorf("--root requires --config to locate the root key")
		}
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", configPath, err)
		}
		apiKey = cfg.RootKey
	} else {
		apiKey = os.Getenv("VERIFAI_API_KEY")
	}

	if apiKey == "" {
		return nil, fmt.Errorf("no API key: set VERIFAI_API_KEY or pass --root with --config")
	}

	return client.NewClient(&client.Config{
		BaseURL: serverURL,
		ApiKey:  apiKey,
		Logger:  logger,
	})
}

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	cli, err := getClient()
	if err != nil {
		logger.Error("Failed to initialize API client", "error", err)
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "ping":
		handlePing(cli)
	case "user":
		handleUser(cli, cmdArgs)
	case "agent":
		handleAgent(cli, cmdArgs)
	case "proof":
		handleProof(cli, cmdArgs)
	case "settlement":
		handleSettlement(cli, cmdArgs)
	case "swarm":
		handleSwarm(cli, cmdArgs)
	case "rewards":
		handleRewards(cli, cmdArgs)
	case "announce":
		handleAnnounce(cli, cmdArgs)
	case "stats":
		handleStats(cli)
	case "watch":
		handleWatch(cli, cmdArgs)
	case "track":
		handleTrack(cli, cmdArgs)
	default:
		fmt.Fprintln(os.Stderr, "Unknown command:", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: verifaic [flags] <command> [args...]\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nCommands:\n")
	fmt.Fprintf(os.Stderr, "  ping\n")
	fmt.Fprintf(os.Stderr, "  user add <name>                   (root)\n")
	fmt.Fprintf(os.Stderr, "  agent add <name> [description]\n")
	fmt.Fprintf(os.Stderr, "  agent list\n")
	fmt.Fprintf(os.Stderr, "  agent heartbeat <agent_id>\n")
	fmt.Fprintf(os.Stderr, "  proof submit [proof_type] [agent_id]\n")
	fmt.Fprintf(os.Stderr, "  proof list\n")
	fmt.Fprintf(os.Stderr, "  proof get <proof_id>\n")
	fmt.Fprintf(os.Stderr, "  settlement add <title> <amount> [currency]\n")
	fmt.Fprintf(os.Stderr, "  settlement list\n")
	fmt.Fprintf(os.Stderr, "  swarm add <name>\n")
	fmt.Fprintf(os.Stderr, "  swarm join <swarm_id> <agent_id>\n")
	fmt.Fprintf(os.Stderr, "  swarm list\n")
	fmt.Fprintf(os.Stderr, "  rewards balance\n")
	fmt.Fprintf(os.Stderr, "  rewards history\n")
	fmt.Fprintf(os.Stderr, "  announce <title> <message> [priority]  (root)\n")
	fmt.Fprintf(os.Stderr, "  stats\n")
	fmt.Fprintf(os.Stderr, "  watch [topic ...]\n")
	fmt.Fprintf(os.Stderr, "  track <proof_id>\n")
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

func handlePing(c *client.Client) {
	response, err := c.Ping()
	if err != nil {
		fail(err)
	}
	fmt.Println(response["status"])
}

func handleUser(c *client.Client, args []string) {
	if len(args) != 2 || args[0] != "add" {
		fmt.Fprintln(os.Stderr, "user: requires add <name>")
		os.Exit(1)
	}
	created, err := c.CreateUser(args[1])
	if err != nil {
		fail(err)
	}
	fmt.Printf("user_id: %s\n", created.User.ID)
	fmt.Printf("api_key: %s\n", created.ApiKey)
	color.Yellow("Store the api key now; it is not retrievable later.")
}

func handleAgent(c *client.Client, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "agent: requires a subcommand")
		os.Exit(1)
	}
	switch args[0] {
	case "add":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "agent add: requires <name>")
			os.Exit(1)
		}
		req := client.AgentCreateRequest{Name: args[1]}
		if len(args) > 2 {
			req.Description = args[2]
		}
		agent, err := c.CreateAgent(req)
		if err != nil {
			fail(err)
		}
		fmt.Printf("%s  %s  %s\n", agent.ID, agent.Status, agent.Name)
	case "list":
		agents, err := c.ListAgents()
		if err != nil {
			fail(err)
		}
		for _, agent := range agents {
			fmt.Printf("%s  %-10s  %s\n", agent.ID, agent.Status, agent.Name)
		}
	case "heartbeat":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "agent heartbeat: requires <agent_id>")
			os.Exit(1)
		}
		agent, err := c.Heartbeat(args[1])
		if err != nil {
			fail(err)
		}
		fmt.Printf("%s  %s  last_heartbeat=%s\n", agent.ID, agent.Status, agent.LastHeartbeat.Format("15:04:05"))
	default:
		fmt.Fprintln(os.Stderr, "agent: unknown subcommand:", args[0])
		os.Exit(1)
	}
}

func handleProof(c *client.Client, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "proof: requires a subcommand")
		os.Exit(1)
	}
	switch args[0] {
	case "submit":
		req := client.ProofSubmitRequest{}
		if len(args) > 1 {
			req.ProofType = models.ProofType(args[1])
		}
		if len(args) > 2 {
			req.AgentID = args[2]
		}
		proof, err := c.SubmitProof(req)
		if err != nil {
			fail(err)
		}
		fmt.Printf("%s  %s  %s\n", proof.ID, proof.Status, proof.ProofType)
		fmt.Println("run 'verifaic track", proof.ID+"' to follow generation")
	case "list":
		proofs, err := c.ListProofs()
		if err != nil {
			fail(err)
		}
		for _, proof := range proofs {
			fmt.Printf("%s  %-10s  %s\n", proof.ID, proof.Status, proof.ProofType)
		}
	case "get":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "proof get: requires <proof_id>")
			os.Exit(1)
		}
		proof, err := c.GetProof(args[1])
		if err != nil {
			fail(err)
		}
		fmt.Printf("id:     %s\n", proof.ID)
		fmt.Printf("type:   %s\n", proof.ProofType)
		fmt.Printf("status: %s\n", proof.Status)
		if proof.ProofHash != "" {
			fmt.Printf("hash:   %s\n", proof.ProofHash)
		}
		if proof.ErrorMessage != "" {
			fmt.Printf("error:  %s\n", proof.ErrorMessage)
		}
	default:
		fmt.Fprintln(os.Stderr, "proof: unknown subcommand:", args[0])
		os.Exit(1)
	}
}

func handleSettlement(c *client.Client, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "settlement: requires a subcommand")
		os.Exit(1)
	}
	switch args[0] {
	case "add":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "settlement add: requires <title> <amount>")
			os.Exit(1)
		}
		var amount float64
		if _, err := fmt.Sscanf(args[2], "%f", &amount); err != nil {
			fail(fmt.Errorf("invalid amount '%s': %w", args[2], err))
		}
		req := client.SettlementCreateRequest{Title: args[1], Amount: amount}
		if len(args) > 3 {
			req.Currency = args[3]
		}
		settlement, err := c.CreateSettlement(req)
		if err != nil {
			fail(err)
		}
		fmt.Printf("%s  %s  %.2f %s\n", settlement.ID, settlement.Status, settlement.Amount, settlement.Currency)
	case "list":
		settlements, err := c.ListSettlements()
		if err != nil {
			fail(err)
		}
		for _, settlement := range settlements {
			fmt.Printf("%s  %-10s  %.2f %s  %s\n",
				settlement.ID, settlement.Status, settlement.Amount, settlement.Currency, settlement.Title)
		}
	default:
		fmt.Fprintln(os.Stderr, "settlement: unknown subcommand:", args[0])
		os.Exit(1)
	}
}

func handleSwarm(c *client.Client, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "swarm: requires a subcommand")
		os.Exit(1)
	}
	switch args[0] {
	case "add":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "swarm add: requires <name>")
			os.Exit(1)
		}
		swarm, err := c.CreateSwarm(args[1])
		if err != nil {
			fail(err)
		}
		fmt.Printf("%s  %s\n", swarm.ID, swarm.Name)
	case "join":
		if len(args) != 3 {
			fmt.Fprintln(os.Stderr, "swarm join: requires <swarm_id> <agent_id>")
			os.Exit(1)
		}
		swarm, err := c.JoinSwarm(args[1], args[2])
		if err != nil {
			fail(err)
		}
		fmt.Printf("%s  %s  agents=%d\n", swarm.ID, swarm.Name, len(swarm.AgentIDs))
	case "list":
		swarms, err := c.ListSwarms()
		if err != nil {
			fail(err)
		}
		for _, swarm := range swarms {
			fmt.Printf("%s  %-20s  agents=%d\n", swarm.ID, swarm.Name, len(swarm.AgentIDs))
		}
	default:
		fmt.Fprintln(os.Stderr, "swarm: unknown subcommand:", args[0])
		os.Exit(1)
	}
}

func handleRewards(c *client.Client, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "rewards: requires balance or history")
		os.Exit(1)
	}
	switch args[0] {
	case "balance":
		balance, err := c.RewardBalance()
		if err != nil {
			fail(err)
		}
		fmt.Printf("balance: %.2f (%d entries)\n", balance.Balance, balance.Entries)
	case "history":
		entries, err := c.RewardHistory()
		if err != nil {
			fail(err)
		}
		for _, entry := range entries {
			fmt.Printf("%s  %8.2f  %s\n", entry.CreatedAt.Format("2006-01-02 15:04"), entry.Amount, entry.Reason)
		}
	default:
		fmt.Fprintln(os.Stderr, "rewards: unknown subcommand:", args[0])
		os.Exit(1)
	}
}

func handleAnnounce(c *client.Client, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "announce: requires <title> <message> [priority]")
		os.Exit(1)
	}
	priority := ""
	if len(args) > 2 {
		priority = args[2]
	}
	if err := c.Announce(args[0], args[1], priority); err != nil {
		fail(err)
	}
	fmt.Println("OK")
}

func handleStats(c *client.Client) {
	stats, err := c.DashboardStats()
	if err != nil {
		fail(err)
	}
	for key, value := range stats {
		fmt.Printf("%-12s %v\n", key, value)
	}
}

// watchUntilInterrupt runs a realtime session, printing every event
// until ctrl-c.
func watchUntilInterrupt(run func(ctx context.Context, onEvent func(models.Event)) error, onEvent func(models.Event)) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := run(ctx, onEvent); err != nil && err != context.Canceled {
		fail(err)
	}
}

var eventColors = map[string]*color.Color{
	models.EventTypeProofProgress:      color.New(color.FgCyan),
	models.EventTypeProofComplete:      color.New(color.FgGreen),
	models.EventTypeProofError:         color.New(color.FgRed),
	models.EventTypeError:              color.New(color.FgRed),
	models.EventTypeRewardNotification: color.New(color.FgYellow),
	models.EventTypeAnnouncement:       color.New(color.FgMagenta),
}

func printEvent(event models.Event) {
	line := fmt.Sprintf("%s  %-20s  %v", event.Timestamp.Format("15:04:05"), event.Type, event.Data)
	if c, ok := eventColors[event.Type]; ok {
		c.Println(line)
		return
	}
	fmt.Println(line)
}

func handleWatch(c *client.Client, topics []string) {
	watchUntilInterrupt(func(ctx context.Context, onEvent func(models.Event)) error {
		return c.ConnectSession(ctx, onEvent, func(session *client.EventSession) {
			for _, topic := range topics {
				if err := session.Subscribe(topic); err != nil {
					logger.Error("Could not subscribe", "topic", topic, "error", err)
				}
			}
		})
	}, printEvent)
}

func handleTrack(c *client.Client, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "track: requires <proof_id>")
		os.Exit(1)
	}
	proofID := args[0]
	watchUntilInterrupt(func(ctx context.Context, onEvent func(models.Event)) error {
		return c.TrackProof(ctx, proofID, onEvent)
	}, printEvent)
}
