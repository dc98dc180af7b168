package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/olekukonko/tablewriter"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xtxerr/mobility/internal/client"
	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/handler"
	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/summary"
)

// command is one shell command.
type command struct {
	name  string
	usage string
	help  string
	run   func(ctx context.Context, sh *shell, args []string) error
}

var commands = []command{
	{"help", "help", "list commands", cmdHelp},
	{"version", "version", "platform name and version", cmdVersion},
	{"auth", "auth", "request read access to every metric", cmdAuth},
	{"all", "all", "every sample of every metric", cmdAll},
	{"range", "range <start> <end>", "every metric within [start, end)", cmdRange},
	{"recent", "recent <limit>", "newest samples of every metric", cmdRecent},
	{"query", "query <keys|all> [start=T] [end=T] [limit=N] [partial]", "selected metrics", cmdQuery},
	{"type", "type <TYPE> <start> <end>", "one metric by type name", cmdType},
	{"summary", "summary [keys|all] [start=T] [end=T]", "statistics per metric", cmdSummary},
	{"call", "call <method> [json]", "raw request, prints the raw result", cmdCall},
}

// shell executes commands against one client.
type shell struct {
	c   *client.Client
	out io.Writer
	now func() time.Time
}

func newShell(c *client.Client, out io.Writer) *shell {
	return &shell{c: c, out: out, now: time.Now}
}

// exec runs one command line. Empty lines do nothing.
func (sh *shell) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	name := strings.ToLower(fields[0])
	for _, cmd := range commands {
		if cmd.name == name {
			return cmd.run(ctx, sh, fields[1:])
		}
	}
	return fmt.Errorf("unknown command %q", fields[0])
}

// complete suggests command names, then metric keys.
func (sh *shell) complete(d prompt.Document) []prompt.Suggest {
	before := d.TextBeforeCursor()
	word := d.GetWordBeforeCursor()

	if !strings.Contains(before, " ") {
		s := make([]prompt.Suggest, len(commands))
		for i, cmd := range commands {
			s[i] = prompt.Suggest{Text: cmd.name, Description: cmd.help}
		}
		return prompt.FilterHasPrefix(s, word, true)
	}

	switch strings.Fields(before)[0] {
	case "query", "summary":
		s := []prompt.Suggest{{Text: "all", Description: "every available metric"}}
		for _, k := range metric.AllKinds() {
			s = append(s, prompt.Suggest{Text: k.Key(), Description: k.Unit().String()})
		}
		return prompt.FilterHasPrefix(s, word, true)
	case "type":
		var s []prompt.Suggest
		for _, k := range metric.AllKinds() {
			s = append(s, prompt.Suggest{Text: k.TypeName(), Description: k.Key()})
		}
		return prompt.FilterHasPrefix(s, word, true)
	case "call":
		var s []prompt.Suggest
		for _, cmd := range []string{
			handler.MethodGetAllMobilityData,
			handler.MethodGetMobilityData,
			handler.MethodGetRecentMobilityData,
			handler.MethodRequestMetrics,
			handler.MethodGetMobilityDataByType,
			handler.MethodGetPlatformVersion,
			handler.MethodRequestAuthorization,
			handler.MethodGetMobilitySummary,
		} {
			s = append(s, prompt.Suggest{Text: cmd})
		}
		return prompt.FilterHasPrefix(s, word, true)
	}
	return nil
}

// =============================================================================
// Commands
// =============================================================================

func cmdHelp(_ context.Context, sh *shell, _ []string) error {
	for _, cmd := range commands {
		fmt.Fprintf(sh.out, "  %-58s %s\n", cmd.usage, cmd.help)
	}
	fmt.Fprintln(sh.out, "\nTimes: RFC 3339, YYYY-MM-DD, epoch milliseconds, or -DURATION relative to now (e.g. -24h).")
	return nil
}

func cmdVersion(ctx context.Context, sh *shell, _ []string) error {
	v, err := sh.c.GetPlatformVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(sh.out, v)
	return nil
}

func cmdAuth(ctx context.Context, sh *shell, _ []string) error {
	if err := sh.c.RequestAuthorization(ctx); err != nil {
		return err
	}
	fmt.Fprintln(sh.out, "authorized")
	return nil
}

func cmdAll(ctx context.Context, sh *shell, _ []string) error {
	rs, err := sh.c.GetAllMobilityData(ctx)
	if err != nil {
		return err
	}
	printResultSet(sh.out, rs)
	return nil
}

func cmdRange(ctx context.Context, sh *shell, args []string) error {
	if len(args) != 2 {
		return usageError("range")
	}
	start, err := parseTime(args[0], sh.now())
	if err != nil {
		return err
	}
	end, err := parseTime(args[1], sh.now())
	if err != nil {
		return err
	}
	rs, err := sh.c.GetMobilityData(ctx, start, end)
	if err != nil {
		return err
	}
	printResultSet(sh.out, rs)
	return nil
}

func cmdRecent(ctx context.Context, sh *shell, args []string) error {
	if len(args) != 1 {
		return usageError("recent")
	}
	limit, err := strconv.Atoi(args[0])
	if err != nil {
		return errors.NewInvalidArgument("limit", args[0])
	}
	rs, err := sh.c.GetRecentMobilityData(ctx, limit)
	if err != nil {
		return err
	}
	printResultSet(sh.out, rs)
	return nil
}

func cmdQuery(ctx context.Context, sh *shell, args []string) error {
	if len(args) == 0 {
		return usageError("query")
	}
	q, partial, err := parseQuery(args, sh.now())
	if err != nil {
		return err
	}

	if !partial {
		rs, err := sh.c.RequestMetrics(ctx, q)
		if err != nil {
			return err
		}
		printResultSet(sh.out, rs)
		return nil
	}

	p, err := sh.c.RequestMetricsPartial(ctx, q)
	if err != nil {
		return err
	}
	printResultSet(sh.out, p.Results)
	if len(p.Errors) > 0 {
		fmt.Fprintln(sh.out)
		keys := make([]string, 0, len(p.Errors))
		for k := range p.Errors {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(sh.out, "%s failed: %v\n", k, p.Errors[k])
		}
	}
	return nil
}

func cmdType(ctx context.Context, sh *shell, args []string) error {
	if len(args) != 3 {
		return usageError("type")
	}
	start, err := parseTime(args[1], sh.now())
	if err != nil {
		return err
	}
	end, err := parseTime(args[2], sh.now())
	if err != nil {
		return err
	}
	samples, err := sh.c.GetMobilityDataByType(ctx, args[0], start, end)
	if err != nil {
		return err
	}
	printResultSet(sh.out, map[string][]metric.Sample{args[0]: samples})
	return nil
}

func cmdSummary(ctx context.Context, sh *shell, args []string) error {
	var q client.Query
	if len(args) > 0 {
		var err error
		q, _, err = parseQuery(args, sh.now())
		if err != nil {
			return err
		}
	}
	stats, err := sh.c.GetMobilitySummary(ctx, q)
	if err != nil {
		return err
	}
	printSummary(sh.out, stats)
	return nil
}

func cmdCall(ctx context.Context, sh *shell, args []string) error {
	if len(args) == 0 {
		return usageError("call")
	}

	var params map[string]any
	if len(args) > 1 {
		s := &structpb.Struct{}
		if err := protojson.Unmarshal([]byte(strings.Join(args[1:], " ")), s); err != nil {
			return errors.NewInvalidArgument("json", err.Error())
		}
		params = s.AsMap()
	}

	res, err := sh.c.Call(ctx, args[0], params)
	if err != nil {
		return err
	}
	v, err := structpb.NewValue(res)
	if err != nil {
		return err
	}
	b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Fprintln(sh.out, string(b))
	return nil
}

func usageError(name string) error {
	for _, cmd := range commands {
		if cmd.name == name {
			return fmt.Errorf("usage: %s", cmd.usage)
		}
	}
	return fmt.Errorf("unknown command %q", name)
}

// =============================================================================
// Argument Parsing
// =============================================================================

// parseQuery parses "<keys> [start=T] [end=T] [limit=N] [partial]".
func parseQuery(args []string, now time.Time) (client.Query, bool, error) {
	var q client.Query
	partial := false

	if keys := args[0]; keys != "all" && !strings.Contains(keys, "=") && keys != "partial" {
		q.Keys = strings.Split(keys, ",")
		args = args[1:]
	} else if keys == "all" {
		args = args[1:]
	}

	for _, arg := range args {
		if arg == "partial" {
			partial = true
			continue
		}

		name, value, ok := strings.Cut(arg, "=")
		if !ok {
			return q, false, errors.NewInvalidArgument("argument", arg)
		}

		var err error
		switch name {
		case "start":
			q.Start, err = parseTime(value, now)
		case "end":
			q.End, err = parseTime(value, now)
		case "limit":
			q.Limit, err = strconv.Atoi(value)
			if err != nil {
				err = errors.NewInvalidArgument("limit", value)
			}
		default:
			err = errors.NewInvalidArgument("argument", name)
		}
		if err != nil {
			return q, false, err
		}
	}
	return q, partial, nil
}

// parseTime accepts RFC 3339, a date, epoch milliseconds, or a negative
// duration relative to now.
func parseTime(s string, now time.Time) (time.Time, error) {
	if strings.HasPrefix(s, "-") && len(s) > 1 && !isDigits(s[1:]) {
		d, err := time.ParseDuration(s[1:])
		if err != nil {
			return time.Time{}, errors.NewInvalidArgument("time", s)
		}
		return now.Add(-d), nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}
	return time.Time{}, errors.NewInvalidArgument("time", s)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// =============================================================================
// Output
// =============================================================================

func printResultSet(w io.Writer, rs map[string][]metric.Sample) {
	keys := make([]string, 0, len(rs))
	for k := range rs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Start", "End", "Value", "Unit"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, k := range keys {
		unit := ""
		if kind, err := metric.ParseKind(k); err == nil {
			unit = kind.Unit().String()
		}
		if len(rs[k]) == 0 {
			table.Append([]string{k, "-", "-", "-", unit})
			continue
		}
		for _, s := range rs[k] {
			table.Append([]string{
				k,
				s.StartTime().Format(time.RFC3339),
				s.EndTime().Format(time.RFC3339),
				strconv.FormatFloat(s.Value, 'f', -1, 64),
				unit,
			})
		}
	}
	table.Render()
}

func printSummary(w io.Writer, stats map[string]summary.Stats) {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Unit", "Count", "Min", "Mean", "P50", "P95", "Max"})
	table.SetBorder(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)

	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) }
	for _, k := range keys {
		s := stats[k]
		if s.Count == 0 {
			table.Append([]string{k, s.Unit, "0", "-", "-", "-", "-", "-"})
			continue
		}
		table.Append([]string{k, s.Unit, strconv.FormatInt(s.Count, 10), f(s.Min), f(s.Mean), f(s.P50), f(s.P95), f(s.Max)})
	}
	table.Render()
}
