package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/arafsarkar/bazarbook/internal/api"
	"github.com/arafsarkar/bazarbook/internal/budget"
	"github.com/arafsarkar/bazarbook/internal/grocery"
	"github.com/arafsarkar/bazarbook/internal/need"
	"github.com/arafsarkar/bazarbook/internal/notification"
	"github.com/arafsarkar/bazarbook/internal/push"
	"github.com/arafsarkar/bazarbook/internal/secure"
	"github.com/arafsarkar/bazarbook/internal/session"
	"github.com/arafsarkar/bazarbook/internal/user"
)

const usage = `bazarbook <command>

Commands:
  login <email> <password>            sign in
  register <name> <email> <password>  create an account and sign in
  logout                              sign out and clear the stored token
  status                              totals, budget and unread count
  list                                current grocery entries
  add -name N -price P -qty Q [-unit U] [-category C] [-date D]
  needs [add|bought|delete] ...       needed-items announcements
  notifications [read|read-all] ...   notifications
  users [add|delete] ...              household members (admin)
  watch                               follow live updates until interrupted
`

type config struct {
	apiURL  string
	wsURL   string
	dataDir string
}

func checkConfiguration() (config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, continuing with system environment variables")
	}

	cfg := config{
		apiURL:  os.Getenv("BAZARBOOK_API_URL"),
		wsURL:   os.Getenv("BAZARBOOK_WS_URL"),
		dataDir: os.Getenv("BAZARBOOK_DATA_DIR"),
	}
	if cfg.apiURL == "" {
		cfg.apiURL = "http://localhost:5008/api/v1"
	}
	if cfg.wsURL == "" {
		cfg.wsURL = "ws://localhost:5008/ws"
	}
	if cfg.dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return config{}, errors.New("no BAZARBOOK_DATA_DIR set and no home directory")
		}
		cfg.dataDir = filepath.Join(home, ".bazarbook")
	}
	return cfg, nil
}

// app is the composition root: every cache is constructed here and injected,
// none of them is a package-level singleton.
type app struct {
	store         *secure.Store
	session       *session.Session
	channel       *push.Channel
	groceries     *grocery.Service
	budget        *budget.Service
	needs         *need.Service
	notifications *notification.Service
	users         *user.Service
}

func newApp(cfg config) (*app, error) {
	store, err := secure.NewStore(cfg.dataDir)
	if err != nil {
		return nil, err
	}

	clock := clockwork.NewRealClock()
	client := api.NewClient(cfg.apiURL, store)
	sess := session.New(store, client, clock)

	a := &app{
		store:         store,
		session:       sess,
		channel:       push.NewChannel(cfg.wsURL, store),
		groceries:     grocery.NewService(client, sess, clock),
		budget:        budget.NewService(client, sess),
		needs:         need.NewService(client, sess),
		notifications: notification.NewService(client, sess),
		users:         user.NewService(client),
	}
	a.groceries.BindPush(a.channel)
	a.budget.BindPush(a.channel)
	a.needs.BindPush(a.channel)
	a.notifications.BindPush(a.channel)
	return a, nil
}

func (a *app) Close() {
	a.store.Close()
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := checkConfiguration()
	if err != nil {
		log.Fatalf("Missing configuration: %v", err)
	}

	a, err := newApp(cfg)
	if err != nil {
		log.Fatalf("Could not initialize client: %v", err)
	}
	defer a.Close()

	ctx := context.Background()
	if err := run(ctx, a, os.Args[1], os.Args[2:]); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(ctx context.Context, a *app, command string, args []string) error {
	// Resolving the stored credential transitions the session, which in turn
	// populates every cache for the commands that read them.
	if err := a.session.Load(); err != nil {
		return err
	}

	switch command {
	case "login":
		if len(args) != 2 {
			return errors.New("usage: login <email> <password>")
		}
		if err := a.session.Login(ctx, args[0], args[1]); err != nil {
			return err
		}
		u, _ := a.session.User()
		fmt.Printf("Signed in as %s\n", u.Name)
		return a.session.CompleteOnboarding()

	case "register":
		if len(args) != 3 {
			return errors.New("usage: register <name> <email> <password>")
		}
		if err := a.session.Register(ctx, args[0], args[1], args[2]); err != nil {
			return err
		}
		fmt.Println("Account created")
		return a.session.CompleteOnboarding()

	case "logout":
		return a.session.Logout()

	case "status":
		return a.printStatus()

	case "list":
		return a.printGroceries()

	case "add":
		return a.addGrocery(ctx, args)

	case "needs":
		return a.runNeeds(ctx, args)

	case "notifications":
		return a.runNotifications(ctx, args)

	case "users":
		return a.runUsers(ctx, args)

	case "watch":
		return a.watch(ctx)

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) requireAuth() error {
	if a.session.State() != session.StateAuthenticated {
		return errors.New("not signed in, run: bazarbook login <email> <password>")
	}
	return nil
}

func (a *app) printStatus() error {
	if err := a.requireAuth(); err != nil {
		return err
	}
	st := a.budget.Status()
	fmt.Printf("Today:     %s\n", a.groceries.TodayTotal())
	fmt.Printf("Month:     %s\n", a.groceries.MonthTotal())
	fmt.Printf("Budget:    %s spent of %s (%s remaining)\n", st.Spent, st.Limit, st.Remaining)
	fmt.Printf("Unread:    %d notifications\n", a.notifications.UnreadCount())
	for _, share := range a.groceries.ContributorBreakdown() {
		fmt.Printf("  %-20s %10s  %s%%\n", share.Name, share.Total, share.Percent.Round(1))
	}
	return nil
}

func (a *app) printGroceries() error {
	if err := a.requireAuth(); err != nil {
		return err
	}
	for _, item := range a.groceries.Items() {
		fmt.Printf("%s  %-24s %8s x %-6s %-12s %s\n",
			item.Date, item.ItemName, item.Price, item.Quantity, item.Category, item.AddedByName)
	}
	return nil
}

func (a *app) addGrocery(ctx context.Context, args []string) error {
	if err := a.requireAuth(); err != nil {
		return err
	}

	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	name := fs.String("name", "", "item name")
	price := fs.String("price", "", "unit price")
	qty := fs.String("qty", "1", "quantity")
	unit := fs.String("unit", "pcs", "quantity unit")
	category := fs.String("category", "other", "category")
	date := fs.String("date", "", "purchase date (YYYY-MM-DD, default today)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *price == "" {
		return errors.New("usage: add -name <item> -price <amount> [-qty N] [-unit U] [-category C] [-date D]")
	}

	priceDec, err := decimal.NewFromString(*price)
	if err != nil {
		return fmt.Errorf("invalid price %q", *price)
	}
	qtyDec, err := decimal.NewFromString(*qty)
	if err != nil {
		return fmt.Errorf("invalid quantity %q", *qty)
	}
	day := *date
	if day == "" {
		day = clockwork.NewRealClock().Now().Format("2006-01-02")
	}
	u, _ := a.session.User()

	created, err := a.groceries.Add(ctx, grocery.NewItem{
		ItemName:     *name,
		Price:        priceDec,
		Quantity:     qtyDec,
		QuantityUnit: *unit,
		Category:     *category,
		AddedByName:  u.Name,
		Date:         day,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Added %s (%s)\n", created.ItemName, created.ID)
	return nil
}

func (a *app) runNeeds(ctx context.Context, args []string) error {
	if err := a.requireAuth(); err != nil {
		return err
	}
	if len(args) == 0 {
		for _, item := range a.needs.Items() {
			mark := " "
			if item.IsBought {
				mark = "x"
			}
			fmt.Printf("[%s] %s  %-24s %g %s (%s)\n", mark, item.ID, item.ProductName, item.Quantity, item.QuantityUnit, item.AddedByName)
		}
		return nil
	}

	switch args[0] {
	case "add":
		if len(args) < 2 {
			return errors.New("usage: needs add <product> [qty] [unit]")
		}
		item := need.NewItem{ProductName: args[1], Quantity: 1, QuantityUnit: "pcs"}
		if len(args) > 2 {
			if _, err := fmt.Sscanf(args[2], "%g", &item.Quantity); err != nil {
				return fmt.Errorf("invalid quantity %q", args[2])
			}
		}
		if len(args) > 3 {
			item.QuantityUnit = args[3]
		}
		u, _ := a.session.User()
		item.AddedByName = u.Name
		created, err := a.needs.Add(ctx, item)
		if err != nil {
			return err
		}
		fmt.Printf("Posted %s (%s)\n", created.ProductName, created.ID)
		return nil
	case "bought":
		if len(args) != 2 {
			return errors.New("usage: needs bought <id>")
		}
		_, err := a.needs.MarkBought(ctx, args[1], true)
		return err
	case "delete":
		if len(args) != 2 {
			return errors.New("usage: needs delete <id>")
		}
		return a.needs.Delete(ctx, args[1])
	default:
		return fmt.Errorf("unknown needs command %q", args[0])
	}
}

func (a *app) runNotifications(ctx context.Context, args []string) error {
	if err := a.requireAuth(); err != nil {
		return err
	}
	if len(args) == 0 {
		for _, n := range a.notifications.Items() {
			mark := "*"
			if n.IsRead {
				mark = " "
			}
			fmt.Printf("[%s] %s  %s: %s\n", mark, n.ID, n.Title, n.Message)
		}
		return nil
	}

	switch args[0] {
	case "read":
		if len(args) != 2 {
			return errors.New("usage: notifications read <id>")
		}
		return a.notifications.MarkAsRead(ctx, args[1])
	case "read-all":
		return a.notifications.MarkAllAsRead(ctx)
	case "delete":
		if len(args) != 2 {
			return errors.New("usage: notifications delete <id>")
		}
		return a.notifications.Delete(ctx, args[1])
	default:
		return fmt.Errorf("unknown notifications command %q", args[0])
	}
}

func (a *app) runUsers(ctx context.Context, args []string) error {
	if err := a.requireAuth(); err != nil {
		return err
	}
	if len(args) == 0 {
		users, err := a.users.List(ctx)
		if err != nil {
			return err
		}
		for _, u := range users {
			fmt.Printf("%s  %-20s %-28s %s\n", u.ID, u.Name, u.Email, u.Role)
		}
		return nil
	}

	switch args[0] {
	case "add":
		if len(args) != 4 {
			return errors.New("usage: users add <name> <email> <password>")
		}
		created, err := a.users.Create(ctx, user.NewUser{Name: args[1], Email: args[2], Password: args[3]})
		if err != nil {
			return err
		}
		fmt.Printf("Created %s (%s)\n", created.Name, created.ID)
		return nil
	case "delete":
		if len(args) != 2 {
			return errors.New("usage: users delete <id>")
		}
		return a.users.Delete(ctx, args[1])
	default:
		return fmt.Errorf("unknown users command %q", args[0])
	}
}

// watch keeps the caches live: push events drive silent refreshes, and a
// cron fallback re-fetches everything periodically in case events were
// missed while the connection was down.
func (a *app) watch(ctx context.Context) error {
	if err := a.requireAuth(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, event := range []string{"grocery-update", "budget-update", "need-update", "notification-update"} {
		ev := event
		a.channel.Subscribe(ev, func(json.RawMessage) {
			log.Printf("Received %s, month total now %s, unread %d", ev, a.groceries.MonthTotal(), a.notifications.UnreadCount())
		})
	}

	a.channel.Connect(ctx)
	defer a.channel.Close()

	c := cron.New()
	if _, err := c.AddFunc("@every 10m", func() {
		a.groceries.Refresh(ctx, true)
		a.budget.Refresh(ctx, true)
		a.needs.Refresh(ctx, true)
		a.notifications.Refresh(ctx, true)
	}); err != nil {
		return err
	}
	c.Start()
	defer c.Stop()

	log.Println("Watching for household updates, Ctrl-C to stop...")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	return nil
}
