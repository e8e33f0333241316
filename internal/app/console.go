package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"options_go/internal/domain"
	"options_go/internal/event"
)

// ErrQuit is returned by Console.Run when the operator types quit.
var ErrQuit = errors.New("quit")

// Trader is the engine surface driven by the console.
type Trader interface {
	PlaceBuyOrder(ctx context.Context, right domain.OptionRight) (domain.Result, error)
	PlaceSellOrder(ctx context.Context, useChase bool) (domain.Result, error)
	PanicButton(ctx context.Context) (domain.PanicReport, error)
	RiskManagementStatus() domain.RiskStatus
	ActivePositions() []domain.Position
	OpenOrders() []domain.Order
	BracketOrders() []domain.BracketGroup
}

// ExpirationSwitcher applies a manual expiration. Empty target means automatic.
type ExpirationSwitcher func(ctx context.Context, target string) (domain.Result, error)

// Console maps single-key commands to engine actions.
type Console struct {
	trader           Trader
	switchExpiration ExpirationSwitcher
	quotes           chan<- event.Event // paper mode only
	in               io.Reader
	out              io.Writer
}

// NewConsole creates a console reading commands from in.
func NewConsole(trader Trader, switchExp ExpirationSwitcher, in io.Reader, out io.Writer) *Console {
	return &Console{trader: trader, switchExpiration: switchExp, in: in, out: out}
}

// WithQuoteInput enables the q/a commands that push simulated market data.
func (c *Console) WithQuoteInput(inbox chan<- event.Event) *Console {
	c.quotes = inbox
	return c
}

// Run reads lines until EOF, ctx cancellation or quit.
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c.printf("⌨️  Console ready. Type h for help.\n")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := c.Execute(ctx, line); errors.Is(err, ErrQuit) {
				return ErrQuit
			}
		}
	}
}

// Execute runs one command line. Action failures are printed, not returned.
func (c *Console) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "c", "call":
		c.result(c.trader.PlaceBuyOrder(ctx, domain.RightCall))
	case "p", "put":
		c.result(c.trader.PlaceBuyOrder(ctx, domain.RightPut))
	case "s", "sell":
		c.result(c.trader.PlaceSellOrder(ctx, true))
	case "m", "market":
		c.result(c.trader.PlaceSellOrder(ctx, false))
	case "x", "panic":
		report, err := c.trader.PanicButton(ctx)
		c.result(report.Result, err)
		c.dump(report)
	case "?", "status":
		c.dump(c.trader.RiskManagementStatus())
	case "o", "orders":
		c.dump(map[string]any{
			"positions": c.trader.ActivePositions(),
			"orders":    c.trader.OpenOrders(),
			"brackets":  c.trader.BracketOrders(),
		})
	case "e", "exp":
		target := ""
		if len(args) > 0 {
			target = args[0]
		}
		c.result(c.switchExpiration(ctx, target))
	case "q", "quote":
		return c.quote(ctx, args)
	case "a", "account":
		return c.account(ctx, args)
	case "h", "help":
		c.printf("%s", helpText)
	case "quit", "exit":
		return ErrQuit
	default:
		c.printf("Unknown command %q. Type h for help.\n", cmd)
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

const helpText = `  c | p            buy CALL | PUT (risk sized, bracketed)
  s                sell with limit chase
  m                sell at market
  x                PANIC: flatten and cancel everything
  ?                risk status
  o                positions, open orders and brackets
  e [YYYYMMDD]     pin expiration (no arg: automatic)
  q CALL|PUT bid ask [strike]   paper quote
  a value [pnl%]   paper account value
  quit
`

func (c *Console) quote(ctx context.Context, args []string) error {
	if c.quotes == nil {
		c.printf("Quotes come from the broker in this mode.\n")
		return nil
	}
	if len(args) < 3 {
		c.printf("usage: q CALL|PUT bid ask [strike]\n")
		return errors.New("quote: missing arguments")
	}
	right, err := domain.ParseOptionRight(args[0])
	if err != nil {
		c.printf("❌ %v\n", err)
		return err
	}
	nums, err := parseFloats(args[1:])
	if err != nil {
		c.printf("❌ %v\n", err)
		return err
	}
	qu := &domain.QuoteUpdate{Bid: &nums[0], Ask: &nums[1]}
	if len(nums) > 2 {
		qu.Strike = &nums[2]
	}
	var u domain.MarketUpdate
	if right == domain.RightCall {
		u.Call = qu
	} else {
		u.Put = qu
	}
	return c.push(ctx, u)
}

func (c *Console) account(ctx context.Context, args []string) error {
	if c.quotes == nil {
		c.printf("Account values come from the broker in this mode.\n")
		return nil
	}
	if len(args) < 1 {
		c.printf("usage: a value [pnl%%]\n")
		return errors.New("account: missing value")
	}
	nums, err := parseFloats(args)
	if err != nil {
		c.printf("❌ %v\n", err)
		return err
	}
	u := domain.MarketUpdate{AccountValue: &nums[0]}
	if len(nums) > 1 {
		u.DailyPnLPercent = &nums[1]
	}
	return c.push(ctx, u)
}

func (c *Console) push(ctx context.Context, u domain.MarketUpdate) error {
	ev := event.AcquireMarketUpdateEvent()
	ev.Update = u
	ev.Stamp()
	select {
	case c.quotes <- ev:
		return nil
	case <-ctx.Done():
		event.ReleaseMarketUpdateEvent(ev)
		return ctx.Err()
	}
}

func parseFloats(args []string) ([]float64, error) {
	out := make([]float64, 0, len(args))
	for _, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", a)
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *Console) result(r domain.Result, err error) {
	switch {
	case err == nil:
		c.printf("✅ %s\n", r.Message)
	case r.Informational:
		c.printf("ℹ️  %s\n", r.Message)
	default:
		c.printf("❌ %s\n", r.Message)
	}
}

func (c *Console) dump(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		slog.Error("Console dump failed", slog.Any("error", err))
		return
	}
	c.printf("%s\n", data)
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}
