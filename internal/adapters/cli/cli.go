// Package cli is the operator command line over the ApplicationService.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"inventory-service/internal/app"
	"inventory-service/internal/cache"
	"inventory-service/internal/db"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

// Migrator is satisfied by db.Migrator.
type Migrator interface {
	Up() error
	Down(steps int) error
	Status() (db.MigrationStatus, error)
}

// Deps are the collaborators the commands need. Out defaults to stdout.
type Deps struct {
	Svc      app.ApplicationService
	Migrator Migrator
	Locker   *cache.Locker
	Out      io.Writer
}

const reconcileLockTTL = 5 * time.Minute

// Run executes a one-shot CLI command. args is os.Args.
func Run(ctx context.Context, d Deps, args []string) error {
	return NewApp(d).RunContext(ctx, args)
}

// NewApp builds the invctl command tree.
func NewApp(d Deps) *cli.App {
	if d.Out == nil {
		d.Out = os.Stdout
	}
	if d.Locker == nil {
		d.Locker = cache.NewLocker(nil, "")
	}
	c := &commands{Deps: d}

	return &cli.App{
		Name:           "invctl",
		Usage:          "inspect and operate the inventory ledger",
		Writer:         d.Out,
		ErrWriter:      d.Out,
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print results as JSON"},
		},
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "manage the database schema",
				Subcommands: []*cli.Command{
					{Name: "up", Usage: "apply pending migrations", Action: c.migrateUp},
					{
						Name:   "down",
						Usage:  "roll back migrations",
						Flags:  []cli.Flag{&cli.IntFlag{Name: "steps", Value: 1}},
						Action: c.migrateDown,
					},
					{Name: "status", Usage: "print the schema version", Action: c.migrateStatus},
				},
			},
			{
				Name:  "stock",
				Usage: "show stock balances",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "product", Aliases: []string{"p"}},
					&cli.Int64Flag{Name: "warehouse", Aliases: []string{"w"}},
					&cli.StringFlag{Name: "category"},
				},
				Action: c.stock,
			},
			{Name: "low-stock", Usage: "list stock at or below the low-stock threshold", Action: c.lowStock},
			{
				Name:  "ledger",
				Usage: "show ledger entries in posting order",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "product", Aliases: []string{"p"}},
					&cli.Int64Flag{Name: "warehouse", Aliases: []string{"w"}},
					&cli.Int64Flag{Name: "transaction", Aliases: []string{"t"}},
					&cli.IntFlag{Name: "limit", Value: 50},
				},
				Action: c.ledger,
			},
			{Name: "show", Usage: "show a transaction", ArgsUsage: "<id|reference>", Action: c.show},
			{Name: "validate", Aliases: []string{"val"}, Usage: "validate a ready transaction", ArgsUsage: "<id|reference>", Action: c.validate},
			{Name: "ready", Usage: "mark a draft transaction ready", ArgsUsage: "<id|reference>", Action: c.ready},
			{Name: "cancel", Usage: "cancel a draft or ready transaction", ArgsUsage: "<id|reference>", Action: c.cancel},
			{
				Name:  "adjust",
				Usage: "record a physical count",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "product", Aliases: []string{"p"}, Required: true},
					&cli.Int64Flag{Name: "warehouse", Aliases: []string{"w"}, Required: true},
					&cli.StringFlag{Name: "counted", Required: true},
					&cli.StringFlag{Name: "by", Usage: "operator name", EnvVars: []string{"USER"}},
				},
				Action: c.adjust,
			},
			{Name: "reconcile", Usage: "compare stock rows with the ledger", Action: c.reconcile},
			{Name: "kpis", Usage: "print dashboard counts", Action: c.kpis},
		},
	}
}

type commands struct {
	Deps
}

// ── migrate ──────────────────────────────────────────────────────────────────

func (c *commands) migrator() (Migrator, error) {
	if c.Migrator == nil {
		return nil, errors.New("migrations are not available in this build")
	}
	return c.Migrator, nil
}

func (c *commands) migrateUp(*cli.Context) error {
	m, err := c.migrator()
	if err != nil {
		return err
	}
	return m.Up()
}

func (c *commands) migrateDown(ctx *cli.Context) error {
	m, err := c.migrator()
	if err != nil {
		return err
	}
	return m.Down(ctx.Int("steps"))
}

func (c *commands) migrateStatus(ctx *cli.Context) error {
	m, err := c.migrator()
	if err != nil {
		return err
	}
	st, err := m.Status()
	if err != nil {
		return err
	}
	if ctx.Bool("json") {
		return c.printJSON(st)
	}
	dirty := ""
	if st.Dirty {
		dirty = " (dirty)"
	}
	fmt.Fprintf(c.Out, "schema version %d%s\n", st.Version, dirty)
	return nil
}

// ── stock & ledger ───────────────────────────────────────────────────────────

func optInt64(ctx *cli.Context, name string) *int64 {
	if !ctx.IsSet(name) {
		return nil
	}
	v := ctx.Int64(name)
	return &v
}

func optString(ctx *cli.Context, name string) *string {
	v := strings.TrimSpace(ctx.String(name))
	if v == "" {
		return nil
	}
	return &v
}

func (c *commands) stock(ctx *cli.Context) error {
	res, err := c.Svc.GetStock(ctx.Context, app.StockQuery{
		ProductID:   optInt64(ctx, "product"),
		WarehouseID: optInt64(ctx, "warehouse"),
		Category:    optString(ctx, "category"),
	})
	if err != nil {
		return err
	}
	if ctx.Bool("json") {
		return c.printJSON(res)
	}
	if res.Balance != nil {
		b := res.Balance
		fmt.Fprintf(c.Out, "product %d @ warehouse %d: on hand %s, free to use %s, unit cost %s\n",
			b.ProductID, b.WarehouseID, b.OnHand, b.FreeToUse, b.UnitCost)
		return nil
	}
	c.printLevels(res)
	return nil
}

func (c *commands) lowStock(ctx *cli.Context) error {
	res, err := c.Svc.LowStock(ctx.Context)
	if err != nil {
		return err
	}
	if ctx.Bool("json") {
		return c.printJSON(res)
	}
	c.printLevels(res)
	return nil
}

func (c *commands) printLevels(res *app.StockResult) {
	fmt.Fprintf(c.Out, "%-16s %-30s %-8s %14s %14s\n", "SKU", "PRODUCT", "WH", "ON HAND", "FREE")
	fmt.Fprintln(c.Out, strings.Repeat("-", 86))
	for _, l := range res.Levels {
		fmt.Fprintf(c.Out, "%-16s %-30s %-8s %14s %14s\n",
			l.SKU, truncate(l.ProductName, 30), l.WarehouseCode, l.OnHand.StringFixed(4), l.FreeToUse.StringFixed(4))
	}
	fmt.Fprintf(c.Out, "%d row(s)\n", len(res.Levels))
}

func (c *commands) ledger(ctx *cli.Context) error {
	res, err := c.Svc.GetLedger(ctx.Context, app.LedgerQuery{
		ProductID:     optInt64(ctx, "product"),
		WarehouseID:   optInt64(ctx, "warehouse"),
		TransactionID: optInt64(ctx, "transaction"),
		Limit:         ctx.Int("limit"),
	})
	if err != nil {
		return err
	}
	if ctx.Bool("json") {
		return c.printJSON(res)
	}
	fmt.Fprintf(c.Out, "%-8s %-20s %-18s %-14s %-16s %-8s %14s\n", "ID", "WHEN", "REFERENCE", "KIND", "SKU", "WH", "CHANGE")
	fmt.Fprintln(c.Out, strings.Repeat("-", 104))
	for _, e := range res.Entries {
		fmt.Fprintf(c.Out, "%-8d %-20s %-18s %-14s %-16s %-8s %14s\n",
			e.ID, e.CreatedAt.Format("2006-01-02 15:04:05"), e.ReferenceNumber, e.Kind, e.SKU, e.WarehouseCode,
			e.QuantityChange.StringFixed(4))
	}
	return nil
}

// ── transactions ─────────────────────────────────────────────────────────────

func refArg(ctx *cli.Context) (string, error) {
	ref := strings.TrimSpace(ctx.Args().First())
	if ref == "" {
		return "", fmt.Errorf("usage: invctl %s <id|reference>", ctx.Command.Name)
	}
	return ref, nil
}

func (c *commands) show(ctx *cli.Context) error {
	ref, err := refArg(ctx)
	if err != nil {
		return err
	}
	res, err := c.Svc.GetTransaction(ctx.Context, ref)
	if err != nil {
		return err
	}
	if ctx.Bool("json") {
		return c.printJSON(res)
	}
	c.printTransaction(res)
	return nil
}

func (c *commands) validate(ctx *cli.Context) error {
	ref, err := refArg(ctx)
	if err != nil {
		return err
	}
	res, err := c.Svc.ValidateTransaction(ctx.Context, ref)
	if err != nil {
		return err
	}
	if ctx.Bool("json") {
		return c.printJSON(res)
	}
	fmt.Fprintf(c.Out, "%s validated\n", res.Transaction.ReferenceNumber)
	for _, b := range res.Balances {
		fmt.Fprintf(c.Out, "  product %d @ warehouse %d: on hand %s\n", b.ProductID, b.WarehouseID, b.OnHand)
	}
	return nil
}

func (c *commands) ready(ctx *cli.Context) error {
	ref, err := refArg(ctx)
	if err != nil {
		return err
	}
	res, err := c.Svc.MarkTransactionReady(ctx.Context, ref)
	if err != nil {
		return err
	}
	if ctx.Bool("json") {
		return c.printJSON(res)
	}
	fmt.Fprintf(c.Out, "%s is ready\n", res.Transaction.ReferenceNumber)
	return nil
}

func (c *commands) cancel(ctx *cli.Context) error {
	ref, err := refArg(ctx)
	if err != nil {
		return err
	}
	res, err := c.Svc.CancelTransaction(ctx.Context, ref)
	if err != nil {
		return err
	}
	if ctx.Bool("json") {
		return c.printJSON(res)
	}
	fmt.Fprintf(c.Out, "%s canceled\n", res.Transaction.ReferenceNumber)
	return nil
}

func (c *commands) adjust(ctx *cli.Context) error {
	counted, err := decimal.NewFromString(strings.TrimSpace(ctx.String("counted")))
	if err != nil {
		return fmt.Errorf("invalid --counted %q: %w", ctx.String("counted"), err)
	}
	res, err := c.Svc.AdjustStock(ctx.Context, app.AdjustStockRequest{
		ProductID:   ctx.Int64("product"),
		WarehouseID: ctx.Int64("warehouse"),
		CountedQty:  counted,
		CreatedBy:   ctx.String("by"),
	})
	if err != nil {
		return err
	}
	if ctx.Bool("json") {
		return c.printJSON(res)
	}
	fmt.Fprintf(c.Out, "%s recorded count %s\n", res.Transaction.ReferenceNumber, counted)
	for _, b := range res.Balances {
		fmt.Fprintf(c.Out, "  on hand %s, free to use %s\n", b.OnHand, b.FreeToUse)
	}
	return nil
}

func (c *commands) printTransaction(res *app.TransactionResult) {
	t := res.Transaction
	fmt.Fprintln(c.Out, strings.Repeat("=", 62))
	fmt.Fprintf(c.Out, "  %s  (%s, %s)\n", t.ReferenceNumber, t.Type, t.Status)
	if t.FromWarehouseID != nil {
		fmt.Fprintf(c.Out, "  From     : warehouse %d\n", *t.FromWarehouseID)
	}
	if t.ToWarehouseID != nil {
		fmt.Fprintf(c.Out, "  To       : warehouse %d\n", *t.ToWarehouseID)
	}
	if t.CompletedAt != nil {
		fmt.Fprintf(c.Out, "  Completed: %s\n", t.CompletedAt.Format(time.RFC3339))
	}
	fmt.Fprintln(c.Out, strings.Repeat("-", 62))
	for _, l := range t.Lines {
		fmt.Fprintf(c.Out, "  product %-10d qty %14s\n", l.ProductID, l.Quantity.StringFixed(4))
	}
	fmt.Fprintln(c.Out, strings.Repeat("=", 62))
}

// ── reconcile & kpis ─────────────────────────────────────────────────────────

// reconcile holds a lock for the scan so two operators never run it at once.
func (c *commands) reconcile(ctx *cli.Context) error {
	var res *app.ReconcileResult
	err := c.Locker.WithLock(ctx.Context, "reconcile", reconcileLockTTL, func(lctx context.Context) error {
		var err error
		res, err = c.Svc.Reconcile(lctx)
		return err
	})
	if err != nil {
		if errors.Is(err, cache.ErrLocked) {
			return errors.New("another reconcile is already running")
		}
		return err
	}
	if ctx.Bool("json") {
		if err := c.printJSON(res); err != nil {
			return err
		}
	} else if res.Consistent {
		fmt.Fprintln(c.Out, "ledger and stock agree")
	} else {
		fmt.Fprintf(c.Out, "%-8s %-8s %14s %14s\n", "PRODUCT", "WH", "ON HAND", "LEDGER")
		for _, d := range res.Discrepancies {
			fmt.Fprintf(c.Out, "%-8d %-8d %14s %14s\n", d.ProductID, d.WarehouseID, d.OnHand.StringFixed(4), d.LedgerSum.StringFixed(4))
		}
	}
	if !res.Consistent {
		return cli.Exit(fmt.Sprintf("%d discrepancies found", len(res.Discrepancies)), 2)
	}
	return nil
}

func (c *commands) kpis(ctx *cli.Context) error {
	k, err := c.Svc.GetDashboardKPIs(ctx.Context)
	if err != nil {
		return err
	}
	if ctx.Bool("json") {
		return c.printJSON(k)
	}
	fmt.Fprintf(c.Out, "  %-28s %8d\n", "Products", k.TotalProducts)
	fmt.Fprintf(c.Out, "  %-28s %8d\n", "Low stock (<= "+k.LowStockThreshold.String()+")", k.LowStockItems)
	fmt.Fprintf(c.Out, "  %-28s %8d\n", "Pending receipts", k.PendingReceipts)
	fmt.Fprintf(c.Out, "  %-28s %8d\n", "Pending deliveries", k.PendingDeliveries)
	fmt.Fprintf(c.Out, "  %-28s %8d\n", "Pending internal transfers", k.PendingInternalTransfers)
	return nil
}

func (c *commands) printJSON(v any) error {
	enc := json.NewEncoder(c.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
