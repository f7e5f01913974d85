// Package main is the FieldServe command-line client. It wires up the API
// client from configuration and exposes auth, work-order, and diagnostic
// subcommands, with an optional Prometheus listener for long-running use.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/fieldserve/client-go/client"
	"github.com/fieldserve/client-go/internal/metrics"
)

const usage = `Usage: fieldservectl [flags] <command> [args]

Commands:
  login -email EMAIL [-password PASS]   authenticate and store the session
  logout                                invalidate and clear the session
  whoami                                print the authenticated profile
  check                                 verify (and refresh) the session
  health                                probe backend reachability
  status                                print circuit breaker states
  wo list [-status S] [-priority P]     list work orders
  wo get ID                             show one work order
  wo create -title T [-desc D] [-priority P]
  wo complete ID                        mark a work order completed
  wo delete ID                          delete a work order

Flags:
`

func main() {
	configPath := flag.String("config", "", "path to configuration file (optional)")
	baseURL := flag.String("base-url", "", "API base URL (overrides config)")
	watch := flag.Bool("watch-config", false, "hot-reload the config file on change")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c, err := client.New(client.Options{
		ConfigFile:  *configPath,
		BaseURL:     *baseURL,
		WatchConfig: *watch,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer c.Close()

	if addr, path, ok := c.MetricsEndpoint(); ok {
		metrics.Init()
		mux := http.NewServeMux()
		mux.Handle(path, metrics.Handler())
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				fmt.Fprintln(os.Stderr, "metrics listener:", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, c, args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client.Client, args []string) error {
	switch args[0] {
	case "login":
		return cmdLogin(ctx, c, args[1:])
	case "logout":
		return c.Auth.Logout(ctx)
	case "whoami":
		return cmdWhoami(ctx, c)
	case "check":
		return cmdCheck(ctx, c)
	case "health":
		return cmdHealth(ctx, c)
	case "status":
		return cmdStatus(c)
	case "wo":
		if len(args) < 2 {
			return fmt.Errorf("wo: missing subcommand")
		}
		return runWorkOrder(ctx, c, args[1], args[2:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func cmdLogin(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password (defaults to FIELDSERVE_PASSWORD, then stdin)")
	fs.Parse(args) //nolint:errcheck

	if *email == "" {
		return fmt.Errorf("login: -email is required")
	}
	pass := *password
	if pass == "" {
		pass = os.Getenv("FIELDSERVE_PASSWORD")
	}
	if pass == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		pass = strings.TrimSpace(line)
	}

	if err := c.Auth.Login(ctx, client.Credentials{Email: *email, Password: pass}); err != nil {
		return err
	}
	fmt.Println("logged in as", *email)
	return nil
}

func cmdWhoami(ctx context.Context, c *client.Client) error {
	user, err := c.Auth.CurrentUser(ctx)
	if err != nil {
		return err
	}
	return printJSON(user)
}

func cmdCheck(ctx context.Context, c *client.Client) error {
	ok, err := c.Auth.CheckAuth(ctx)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("not authenticated")
		os.Exit(1)
	}
	fmt.Println("authenticated")
	return nil
}

func cmdHealth(ctx context.Context, c *client.Client) error {
	if !c.HealthCheck(ctx) {
		fmt.Println("backend unreachable")
		os.Exit(1)
	}
	fmt.Println("backend healthy")
	return nil
}

func cmdStatus(c *client.Client) error {
	states := c.BreakerStates()
	if len(states) == 0 {
		fmt.Println("no endpoints called yet")
		return nil
	}
	keys := make([]string, 0, len(states))
	for k := range states {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%-40s %s\n", k, states[k])
	}
	return nil
}

func runWorkOrder(ctx context.Context, c *client.Client, sub string, args []string) error {
	switch sub {
	case "list":
		fs := flag.NewFlagSet("wo list", flag.ExitOnError)
		status := fs.String("status", "", "filter by status")
		priority := fs.String("priority", "", "filter by priority")
		page := fs.Int("page", 0, "page number")
		fs.Parse(args) //nolint:errcheck
		list, err := c.WorkOrders.List(ctx, client.ListFilter{
			Status:   client.Status(*status),
			Priority: client.Priority(*priority),
			Page:     *page,
		})
		if err != nil {
			return err
		}
		return printJSON(list)

	case "get":
		id, err := parseID(args)
		if err != nil {
			return err
		}
		wo, err := c.WorkOrders.Get(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(wo)

	case "create":
		fs := flag.NewFlagSet("wo create", flag.ExitOnError)
		title := fs.String("title", "", "work order title")
		desc := fs.String("desc", "", "description")
		priority := fs.String("priority", "", "priority (low/medium/high/urgent)")
		fs.Parse(args) //nolint:errcheck
		if *title == "" {
			return fmt.Errorf("wo create: -title is required")
		}
		wo, err := c.WorkOrders.Create(ctx, client.CreateWorkOrder{
			Title:       *title,
			Description: *desc,
			Priority:    client.Priority(*priority),
		})
		if err != nil {
			return err
		}
		return printJSON(wo)

	case "complete":
		id, err := parseID(args)
		if err != nil {
			return err
		}
		wo, err := c.WorkOrders.Complete(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(wo)

	case "delete":
		id, err := parseID(args)
		if err != nil {
			return err
		}
		if err := c.WorkOrders.Delete(ctx, id); err != nil {
			return err
		}
		fmt.Println("deleted", id)
		return nil

	default:
		return fmt.Errorf("unknown wo subcommand %q", sub)
	}
}

func parseID(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected exactly one work order id")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid work order id %q", args[0])
	}
	return id, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
