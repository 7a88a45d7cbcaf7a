// ABOUTME: Admin CLI for the tag game: scoreboard, residents, host properties, registry events
// ABOUTME: Talks to the lookup service and to each bailiff over gRPC

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/gotag/internal/config"
	"github.com/2389/gotag/internal/contract"
	"github.com/2389/gotag/internal/rpc"
	"github.com/2389/gotag/internal/server"
)

var (
	lookupAddr  string
	lookupHTTP  string
	timeoutFlag time.Duration
	eventsLimit int
)

var rootCmd = &cobra.Command{
	Use:           "tag-admin",
	Short:         "Inspect a running tag game",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "Show every registered bailiff and who is it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runHosts(cmd.Context())
	},
}

var residentsCmd = &cobra.Command{
	Use:   "residents <host-id>",
	Short: "List the residents of one bailiff",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResidents(cmd.Context(), args[0])
	},
}

var propertyCmd = &cobra.Command{
	Use:   "property <host-id> <key>",
	Short: "Read a property of one bailiff",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProperty(cmd.Context(), args[0], args[1])
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent lookup registry events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runEvents(cmd.Context())
	},
}

func init() {
	defaultLookup := os.Getenv("GOTAG_LOOKUP")
	if defaultLookup == "" {
		defaultLookup = config.DefaultLookupAddr
	}
	rootCmd.PersistentFlags().StringVar(&lookupAddr, "lookup", defaultLookup, "lookup service gRPC address")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 5*time.Second, "per-call timeout")
	eventsCmd.Flags().StringVar(&lookupHTTP, "http", "127.0.0.1:4180", "lookup service HTTP address")
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 20, "number of events to show")

	rootCmd.AddCommand(hostsCmd, residentsCmd, propertyCmd, eventsCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// admin holds the connections shared by one command invocation.
type admin struct {
	pool   *rpc.Pool
	lookup *rpc.LookupClient
}

func newAdmin() (*admin, error) {
	pool := rpc.NewPool()
	cc, err := pool.Get(lookupAddr)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to lookup: %w", err)
	}
	return &admin{pool: pool, lookup: rpc.NewLookupClient(cc)}, nil
}

func (a *admin) Close() {
	a.pool.Close()
}

func (a *admin) hosts(ctx context.Context) ([]*rpc.HostClient, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeoutFlag)
	defer cancel()

	eps, err := a.lookup.Query(callCtx, contract.Filter{Capability: contract.BailiffCapability}, 0)
	if err != nil {
		return nil, fmt.Errorf("querying lookup: %w", err)
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i].HostID < eps[j].HostID })

	hosts := make([]*rpc.HostClient, 0, len(eps))
	for _, ep := range eps {
		h, err := a.pool.Host(ep.HostID, ep.Addr)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return hosts, nil
}

func (a *admin) host(ctx context.Context, hostID string) (*rpc.HostClient, error) {
	hosts, err := a.hosts(ctx)
	if err != nil {
		return nil, err
	}
	for _, h := range hosts {
		if h.ID() == hostID {
			return h, nil
		}
	}
	return nil, fmt.Errorf("no bailiff registered with id %s", hostID)
}

// resident is one row of a residents listing.
type resident struct {
	id     string
	tagged bool
	gone   bool
}

func (a *admin) residents(ctx context.Context, h contract.Host) ([]resident, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeoutFlag)
	defer cancel()

	ids, err := h.ListResidentIds(callCtx)
	if err != nil {
		return nil, err
	}

	out := make([]resident, 0, len(ids))
	for _, id := range ids {
		tagged, err := h.IsTagged(callCtx, id)
		if contract.IsUnknownAgent(err) {
			out = append(out, resident{id: id, gone: true})
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, resident{id: id, tagged: tagged})
	}
	return out, nil
}

func runHosts(ctx context.Context) error {
	a, err := newAdmin()
	if err != nil {
		return err
	}
	defer a.Close()

	hosts, err := a.hosts(ctx)
	if err != nil {
		return err
	}
	if len(hosts) == 0 {
		fmt.Println("no bailiffs registered")
		return nil
	}

	bold := color.New(color.Bold)
	gray := color.New(color.FgHiBlack)
	red := color.New(color.FgRed, color.Bold)

	total, its := 0, 0
	for _, h := range hosts {
		name := h.ID()
		callCtx, cancel := context.WithTimeout(ctx, timeoutFlag)
		if v, ok, err := h.GetProperty(callCtx, "name"); err == nil && ok {
			name = v
		}
		cancel()

		bold.Printf("%s ", name)
		gray.Printf("%s %s\n", h.ID(), h.Addr())

		rs, err := a.residents(ctx, h)
		if err != nil {
			color.New(color.FgYellow).Printf("  unreachable: %v\n", err)
			continue
		}
		if len(rs) == 0 {
			gray.Println("  (empty)")
		}
		for _, r := range rs {
			total++
			fmt.Printf("  %s", r.id)
			switch {
			case r.gone:
				gray.Print(" (left)")
			case r.tagged:
				its++
				red.Print(" IT")
			}
			fmt.Println()
		}
	}

	fmt.Println()
	fmt.Printf("%d bailiffs, %d units, %d tagged\n", len(hosts), total, its)
	return nil
}

func runResidents(ctx context.Context, hostID string) error {
	a, err := newAdmin()
	if err != nil {
		return err
	}
	defer a.Close()

	h, err := a.host(ctx, hostID)
	if err != nil {
		return err
	}
	rs, err := a.residents(ctx, h)
	if err != nil {
		return fmt.Errorf("listing residents: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "UNIT\tTAGGED")
	for _, r := range rs {
		state := fmt.Sprintf("%t", r.tagged)
		if r.gone {
			state = "left"
		}
		fmt.Fprintf(w, "%s\t%s\n", r.id, state)
	}
	return w.Flush()
}

func runProperty(ctx context.Context, hostID, key string) error {
	a, err := newAdmin()
	if err != nil {
		return err
	}
	defer a.Close()

	h, err := a.host(ctx, hostID)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeoutFlag)
	defer cancel()
	v, ok, err := h.GetProperty(callCtx, key)
	if err != nil {
		return fmt.Errorf("reading property: %w", err)
	}
	if !ok {
		return fmt.Errorf("bailiff %s has no property %q", hostID, key)
	}
	fmt.Println(v)
	return nil
}

func runEvents(ctx context.Context) error {
	url := fmt.Sprintf("http://%s/api/events?limit=%d", lookupHTTP, eventsLimit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching events: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching events: status %d", resp.StatusCode)
	}

	var events []server.EventResponse
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return fmt.Errorf("decoding events: %w", err)
	}

	colors := map[string]*color.Color{
		"registered": color.New(color.FgGreen),
		"renewed":    color.New(color.FgHiBlack),
		"cancelled":  color.New(color.FgYellow),
		"expired":    color.New(color.FgRed),
	}
	for _, ev := range events {
		fmt.Printf("%s  ", ev.At.Local().Format("15:04:05"))
		c, ok := colors[ev.Kind]
		if !ok {
			c = color.New()
		}
		c.Printf("%-10s", ev.Kind)
		fmt.Printf(" %s %s\n", ev.HostID, ev.Addr)
	}
	return nil
}
