package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/shenzihan666/search/api/launcherpb"
	"github.com/shenzihan666/search/client"
	"github.com/shenzihan666/search/config"
	"github.com/shenzihan666/search/events"
	"github.com/shenzihan666/search/llm"
	launcherlogger "github.com/shenzihan666/search/logger"
)

const usage = `Usage: launcher [flags] <command> [args]

Commands:
  query <prompt>      print a complete answer
  stream <prompt>     print an answer as it arrives
  test [provider-id]  probe one provider, or every provider with a key
  providers           list configured providers
  key <provider-id> [key]
                      store a provider key; omit the key to clear it
  enable <provider-id>
  disable <provider-id>
                      include or exclude a provider from active resolution
  sessions            list chat sessions
  session new [title] create a session and print its id
  session prompt <session-id> [text]
                      set a session's system prompt; omit text to clear it
  session rm <session-id>
                      delete a session and its messages

Flags:
`

// notifyExcerpt bounds the desktop notification body.
const notifyExcerpt = 200

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		socketPath = flag.String("socket", "", "Unix socket path for daemon connection (overrides config)")
		tcpAddress = flag.String("tcp", "", "TCP address to connect to (e.g., localhost:50051). If set, disables Unix socket")
		providerID = flag.String("provider", "", "Provider id to ask; defaults to the active provider")
		sessionID  = flag.String("session", "", "Session id to record the exchange in (requires -provider)")
		timeout    = flag.Int("timeout", 0, "Request timeout in seconds (overrides config)")
		notify     = flag.Bool("notify", false, "Show a desktop notification when an answer completes")
	)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		return errors.New("missing command")
	}

	_ = godotenv.Load()
	logger := launcherlogger.Stderr()

	clientConfig, err := config.LoadClientConfig(config.GetClientConfigPath())
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to load client configuration, using defaults")
		clientConfig = &config.ClientConfig{Timeout: 180}
		clientConfig.Daemon.Socket = client.DefaultSocketPath
	}

	address := resolveAddress(*tcpAddress, *socketPath, clientConfig)
	requestTimeout := time.Duration(lo.Ternary(*timeout > 0, *timeout, clientConfig.Timeout)) * time.Second

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := client.ConnectWithRetry(ctx, address, client.DefaultConnectTimeout)
	if err != nil {
		logger.Error().Err(err).Str("address", address).Msg("Failed to connect to daemon")
		return fmt.Errorf("cannot connect to launcherd at %s (is the daemon running?)", address)
	}
	defer c.Close() //nolint:errcheck // No remedy for grpcClient close errors

	if requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout)
		defer cancel()
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	req := launcherpb.QueryRequest{
		Prompt:     strings.Join(args, " "),
		ProviderID: *providerID,
		SessionID:  *sessionID,
	}

	switch cmd {
	case "query":
		text, err := c.Ask(ctx, req)
		if err != nil {
			return err
		}
		fmt.Println(text)
		notifyDone(logger, *notify || clientConfig.Notify, text)
		return nil

	case "stream":
		em := events.EmitterFunc(func(name, payload string) error {
			if name == events.QueryChunk || strings.HasPrefix(name, events.QueryChunk+":") {
				_, err := fmt.Fprint(os.Stdout, payload)
				return err
			}
			return nil
		})
		text, err := c.Stream(ctx, req, em)
		fmt.Println()
		if err != nil {
			return err
		}
		notifyDone(logger, *notify || clientConfig.Notify, text)
		return nil

	case "test":
		var results map[string]llm.ConnectionTestResult
		if len(args) > 0 {
			res, err := c.TestProvider(ctx, args[0])
			if err != nil {
				return err
			}
			results = map[string]llm.ConnectionTestResult{args[0]: res}
		} else if results, err = c.TestAll(ctx); err != nil {
			return err
		}
		printResults(results)
		return nil

	case "providers":
		resp, err := c.ListProviders(ctx)
		if err != nil {
			return err
		}
		for _, p := range resp.Providers {
			marker := lo.Ternary(p.IsActive, "*", " ")
			key := lo.Ternary(p.HasAPIKey, "key", "no key")
			line := fmt.Sprintf("%s %s\t%s\t%s\t%s\t%s", marker, p.ID, p.Name, p.Type, p.ResolvedModel(), key)
			if probe, ok := resp.LastProbes[p.ID]; ok {
				line += "\t" + lo.Ternary(probe.Success, "ok", "failing")
			}
			fmt.Println(line)
		}
		return nil

	case "key":
		if len(args) == 0 || len(args) > 2 {
			return errors.New("usage: key <provider-id> [key]")
		}
		var key string
		if len(args) == 2 {
			key = args[1]
		}
		if err := c.SetAPIKey(ctx, args[0], key); err != nil {
			return err
		}
		fmt.Println(lo.Ternary(key != "", "Key stored", "Key cleared"))
		return nil

	case "enable", "disable":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s <provider-id>", cmd)
		}
		return c.SetActive(ctx, args[0], cmd == "enable")

	case "sessions":
		sessions, err := c.ListSessions(ctx)
		if err != nil {
			return err
		}
		for _, sess := range sessions {
			updated := time.UnixMilli(sess.UpdatedAt).Format(time.DateTime)
			fmt.Printf("%s\t%s\t%s\n", sess.ID, updated, sess.Title)
		}
		return nil

	case "session":
		return runSession(ctx, c, args)

	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runSession(ctx context.Context, c *client.Client, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: session new|prompt|rm ...")
	}
	switch sub, rest := args[0], args[1:]; sub {
	case "new":
		sess, err := c.CreateSession(ctx, strings.Join(rest, " "), "")
		if err != nil {
			return err
		}
		fmt.Println(sess.ID)
		return nil
	case "prompt":
		if len(rest) == 0 {
			return errors.New("usage: session prompt <session-id> [text]")
		}
		return c.SetSystemPrompt(ctx, rest[0], strings.Join(rest[1:], " "))
	case "rm":
		if len(rest) != 1 {
			return errors.New("usage: session rm <session-id>")
		}
		return c.DeleteSession(ctx, rest[0])
	default:
		return fmt.Errorf("unknown session command %q", sub)
	}
}

// resolveAddress picks the daemon address. Command line flags override the
// config file.
func resolveAddress(tcp, socket string, cfg *config.ClientConfig) string {
	switch {
	case tcp != "":
		return tcp
	case cfg.Daemon.TCP != "":
		return cfg.Daemon.TCP
	case socket != "":
		return socket
	case cfg.Daemon.Socket != "":
		return cfg.Daemon.Socket
	default:
		return client.DefaultSocketPath
	}
}

func printResults(results map[string]llm.ConnectionTestResult) {
	ids := lo.Keys(results)
	sort.Strings(ids)
	for _, id := range ids {
		r := results[id]
		status := lo.Ternary(r.Success, "ok", "FAIL")
		fmt.Printf("%s\t%s\t%dms\t%s\n", id, status, r.LatencyMS, r.Message)
	}
}

func notifyDone(logger zerolog.Logger, enabled bool, text string) {
	if !enabled {
		return
	}
	body := []rune(strings.TrimSpace(text))
	if len(body) > notifyExcerpt {
		body = append(body[:notifyExcerpt], []rune("...")...)
	}
	if err := beeep.Notify("Launcher", string(body), ""); err != nil {
		logger.Warn().Err(err).Msg("Failed to send desktop notification")
	}
}
