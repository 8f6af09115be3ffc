// Command smartmine-cli prints the console pages to a terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/tphummel/smartmine/internal/apiclient"
	"github.com/tphummel/smartmine/internal/config"
	"github.com/tphummel/smartmine/internal/derive"
	"github.com/tphummel/smartmine/internal/equipment"
	"github.com/tphummel/smartmine/internal/maintenance"
	"github.com/tphummel/smartmine/internal/models"
	"github.com/tphummel/smartmine/internal/sample"
	"github.com/tphummel/smartmine/internal/store"
	"github.com/tphummel/smartmine/internal/termview"
)

const usage = `usage: smartmine-cli [-backend URL] [-timeout D] <command> [flags]

commands:
  dashboard                      status counts and the most urgent alerts
  equipment [-q TEXT] [-status S] equipment cards, optionally filtered
  alerts                         Warning and Critical units
  maintenance                    service history, newest first
  hours ID HOURS                 record a unit's current usage hours
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// cli holds the clients a command needs.
type cli struct {
	api         *apiclient.Client
	equipment   *equipment.Client
	maintenance *maintenance.Client
	out         io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load(os.Getenv(config.EnvConfigPath))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	fs := flag.NewFlagSet("smartmine-cli", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	backend := fs.String("backend", cfg.Backend.URL, "backend base URL")
	timeout := fs.Duration("timeout", cfg.Backend.Timeout, "per-request timeout (0 for none)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	api := apiclient.NewClient(*backend, *timeout)
	c := &cli{
		api:         api,
		equipment:   equipment.NewClient(api, sampleProvider(cfg.Sample.Dir), nil),
		maintenance: maintenance.NewClient(api),
		out:         stdout,
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "dashboard":
		err = c.dashboard(ctx)
	case "equipment":
		err = c.listEquipment(ctx, rest, stderr)
	case "alerts":
		err = c.alerts(ctx)
	case "maintenance":
		err = c.history(ctx)
	case "hours":
		err = c.hours(ctx, rest)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}

	var uerr usageError
	switch {
	case errors.As(err, &uerr):
		fmt.Fprintln(stderr, uerr)
		fs.Usage()
		return 2
	case err != nil:
		fmt.Fprintln(stdout, termview.Error(cmd, err))
		return 1
	}
	return 0
}

type usageError string

func (e usageError) Error() string { return string(e) }

func sampleProvider(dir string) *sample.Provider {
	if dir == "" {
		return sample.New()
	}
	return sample.FromFS(os.DirFS(dir))
}

// dashboard asks the backend for its summary and alerts in parallel. If
// either call fails, both are derived from the equipment list instead,
// which may itself come from the sample snapshot.
func (c *cli) dashboard(ctx context.Context) error {
	var (
		sum    models.DashboardSummary
		alerts []models.Equipment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		sum, err = c.api.DashboardSummary(gctx)
		return err
	})
	g.Go(func() (err error) {
		alerts, err = c.api.ListAlerts(gctx)
		return err
	})
	if err := g.Wait(); err == nil {
		fmt.Fprintln(c.out, termview.Dashboard(sum, derive.Recent(alerts, derive.DefaultRecent), termview.Options{}))
		return nil
	}

	res, err := c.equipment.List(ctx)
	if err != nil {
		return err
	}
	opts := termview.Options{Fallback: res.Source == equipment.SourceFallback}
	fmt.Fprintln(c.out, termview.Dashboard(derive.Summary(res.Equipment), derive.Recent(res.Equipment, derive.DefaultRecent), opts))
	return nil
}

func (c *cli) listEquipment(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("equipment", flag.ContinueOnError)
	fs.SetOutput(stderr)
	query := fs.String("q", "", "match name, code, or type")
	status := fs.String("status", string(models.FilterAll), "all, Good, Warning, or Critical")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}

	res, err := c.equipment.List(ctx)
	if err != nil {
		return err
	}
	st := store.New()
	st.Replace(res.Equipment, res.Source)
	st.SetQuery(*query)
	if err := st.SetStatusFilter(models.StatusFilter(*status)); err != nil {
		return usageError(err.Error())
	}
	opts := termview.Options{Fallback: st.UsingFallback()}
	fmt.Fprintln(c.out, termview.Equipment(st.View(), st.Filter(), opts))
	return nil
}

func (c *cli) alerts(ctx context.Context) error {
	res, err := c.equipment.List(ctx)
	if err != nil {
		return err
	}
	opts := termview.Options{Fallback: res.Source == equipment.SourceFallback}
	fmt.Fprintln(c.out, termview.Alerts(derive.Alerts(res.Equipment), opts))
	return nil
}

func (c *cli) history(ctx context.Context) error {
	recs, err := c.maintenance.List(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, termview.Maintenance(recs))
	return nil
}

func (c *cli) hours(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usageError("hours needs an equipment id and a usage figure")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return usageError(fmt.Sprintf("invalid equipment id %q", args[0]))
	}
	h, err := strconv.Atoi(args[1])
	if err != nil || h < 0 {
		return usageError(fmt.Sprintf("invalid usage hours %q", args[1]))
	}

	e, err := c.equipment.UpdateHours(ctx, id, h)
	if err != nil {
		return err
	}
	// The update response omits the limit, so re-read the unit to classify it.
	list, err := c.equipment.ListLive(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "%s now at %d hours\n", e.Name, e.UsageHours)
		return nil
	}
	for _, u := range list {
		if u.ID == id {
			fmt.Fprintln(c.out, termview.Card(derive.Classify(u)))
			return nil
		}
	}
	fmt.Fprintf(c.out, "%s now at %d hours\n", e.Name, e.UsageHours)
	return nil
}
