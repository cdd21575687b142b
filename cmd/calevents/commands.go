package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"calevents/internal/agenda"
	"calevents/internal/ics"
	appLog "calevents/internal/log"
	"calevents/internal/model"
	"calevents/internal/recur"
	"calevents/internal/schedule"
)

var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04", time.DateOnly}

// parseTime accepts RFC 3339 or a local date / date-time in loc.
func parseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("cannot parse time %q (want YYYY-MM-DD, YYYY-MM-DDTHH:MM or RFC 3339)", s)
}

func periodKind(s string) (schedule.Kind, error) {
	switch strings.ToLower(s) {
	case "day":
		return schedule.Day, nil
	case "week":
		return schedule.Week, nil
	case "month":
		return schedule.Month, nil
	case "year":
		return schedule.Year, nil
	}
	return schedule.Custom, errors.Errorf("unknown period %q (want day, week, month or year)", s)
}

var classNames = map[schedule.Class]string{
	schedule.StartsInside: "starts",
	schedule.Inside:       "inside",
	schedule.Spans:        "spans",
	schedule.EndsInside:   "ends",
}

func newOccurrencesCmd(a *app) *cobra.Command {
	var from, to, period, date string

	cmd := &cobra.Command{
		Use:   "occurrences",
		Short: "List occurrences in a window or calendar period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc := a.cfg.Location()
			sc, err := a.scope(cmd.Context())
			if err != nil {
				return err
			}

			var p *schedule.Period
			if from != "" || to != "" {
				start, err := parseTime(from, loc)
				if err != nil {
					return err
				}
				end, err := parseTime(to, loc)
				if err != nil {
					return err
				}
				p = schedule.NewPeriod(sc.events, sc.persisted, start, end, a.opts)
			} else {
				kind, err := periodKind(period)
				if err != nil {
					return err
				}
				anchor := time.Now().In(loc)
				if date != "" {
					if anchor, err = parseTime(date, loc); err != nil {
						return err
					}
				}
				p = newPeriod(kind, sc, anchor, a.opts)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "ID\tSTART\tEND\tTITLE\tPLACE\tFLAGS\n")
			for _, c := range p.Partials(cliUser{}) {
				occ := c.Occurrence
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					schedule.EncodeID(occ),
					formatTime(occ.Start, occ.AllDay, loc),
					formatTime(occ.End, occ.AllDay, loc),
					occ.Summary(),
					classNames[c.Class],
					flags(c))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start")
	cmd.Flags().StringVar(&to, "to", "", "window end (exclusive)")
	cmd.Flags().StringVar(&period, "period", "week", "day, week, month or year")
	cmd.Flags().StringVar(&date, "date", "", "date inside the period (default: today)")
	return cmd
}

func newPeriod(kind schedule.Kind, sc *scope, anchor time.Time, opts schedule.Options) *schedule.Period {
	switch kind {
	case schedule.Day:
		return schedule.NewDay(sc.events, sc.persisted, anchor, opts)
	case schedule.Month:
		return schedule.NewMonth(sc.events, sc.persisted, anchor, opts)
	case schedule.Year:
		return schedule.NewYear(sc.events, sc.persisted, anchor, opts)
	default:
		return schedule.NewWeek(sc.events, sc.persisted, anchor, opts)
	}
}

func flags(c schedule.Classification) string {
	out := make([]string, 0, 4)
	if c.Recurring {
		out = append(out, "recurring")
	}
	if c.Persisted {
		out = append(out, "persisted")
	}
	if c.Occurrence.Moved() {
		out = append(out, "moved")
	}
	if c.Cancelled {
		out = append(out, "cancelled")
	}
	if c.ReadOnly {
		out = append(out, "read-only")
	}
	return strings.Join(out, ",")
}

func formatTime(t time.Time, allDay bool, loc *time.Location) string {
	if allDay {
		return t.In(loc).Format(time.DateOnly)
	}
	return t.In(loc).Format("2006-01-02 15:04")
}

func newNextCmd(a *app) *cobra.Command {
	var count int
	var after string

	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show the next occurrences across all events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc := a.cfg.Location()
			sc, err := a.scope(cmd.Context())
			if err != nil {
				return err
			}
			since := time.Now().In(loc)
			if after != "" {
				if since, err = parseTime(after, loc); err != nil {
					return err
				}
			}

			merged := schedule.NewEventList(sc.events, sc.persisted, a.opts).OccurrencesAfter(since)
			return printOccurrences(cmd.OutOrStdout(), merged.Take(count), loc)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 10, "how many occurrences")
	cmd.Flags().StringVar(&after, "after", "", "list occurrences not ended by this time (default: now)")
	return cmd
}

func printOccurrences(out io.Writer, occs []*model.Occurrence, loc *time.Location) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tSTART\tEND\tTITLE\n")
	for _, occ := range occs {
		title := occ.Summary()
		if occ.Cancelled {
			title += " (cancelled)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			schedule.EncodeID(occ), formatTime(occ.Start, occ.AllDay, loc), formatTime(occ.End, occ.AllDay, loc), title)
	}
	return w.Flush()
}

func newRulesCmd(a *app) *cobra.Command {
	var loadDefaults bool

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List recurrence rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if loadDefaults {
				added, err := a.store.LoadDefaultRules()
				if err != nil {
					return err
				}
				if err := a.store.Save(); err != nil {
					return err
				}
				appLog.Info("default rules loaded", "added", added)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "ID\tNAME\tFREQUENCY\tPARAMS\tDEFAULT\n")
			for _, r := range a.store.Rules() {
				def := ""
				if r.ID == a.cfg.DefaultRuleID {
					def = "*"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.Frequency, recur.ParseParams(r.Params), def)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&loadDefaults, "load-defaults", false, "add the bundled rules that are missing")
	return cmd
}

func newCalendarsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendars",
		Short: "List calendars",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "ID\tSLUG\tNAME\n")
			for _, c := range a.store.Calendars() {
				fmt.Fprintf(w, "%d\t%s\t%s\n", c.ID, c.Slug, c.Name)
			}
			return w.Flush()
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <slug> <name>",
		Short: "Create a calendar",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cal := &model.Calendar{Slug: args[0], Name: args[1]}
			if err := a.store.AddCalendar(cal); err != nil {
				return err
			}
			if err := a.store.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "calendar %d %s\n", cal.ID, cal.Slug)
			return nil
		},
	})
	return cmd
}

func newAddCmd(a *app) *cobra.Command {
	var (
		title, description string
		start, end, until  string
		rule               string
		allDay, once       bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !a.opts.CanEditEvent(nil, nil, cliUser{}) {
				return errors.New("not allowed to add events")
			}
			loc := a.cfg.Location()
			ev := &model.Event{Title: title, Description: description, AllDay: allDay}

			var err error
			if ev.Start, err = parseTime(start, loc); err != nil {
				return err
			}
			switch {
			case end != "":
				if ev.End, err = parseTime(end, loc); err != nil {
					return err
				}
			case allDay:
				ev.End = ev.Start.AddDate(0, 0, 1)
			default:
				ev.End = ev.Start.Add(time.Hour)
			}

			if a.calendar != "" {
				cal, err := a.store.Calendar(a.calendar)
				if err != nil {
					return err
				}
				ev.CalendarID = cal.ID
			}

			if r, err := a.pickRule(rule, once); err != nil {
				return err
			} else if r != nil {
				id := r.ID
				ev.RuleID = &id
			}
			if until != "" {
				u, err := parseTime(until, loc)
				if err != nil {
					return err
				}
				ev.EndRecurringPeriod = &u
			}

			if err := a.store.AddEvent(ev); err != nil {
				return err
			}
			if err := a.store.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "event %d %q\n", ev.ID, ev.Title)
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "event title")
	cmd.Flags().StringVar(&description, "description", "", "event description")
	cmd.Flags().StringVar(&start, "start", "", "start time")
	cmd.Flags().StringVar(&end, "end", "", "end time (default: start + 1h, or next day when --all-day)")
	cmd.Flags().BoolVar(&allDay, "all-day", false, "all-day event")
	cmd.Flags().StringVar(&rule, "rule", "", "rule name or id (default: default_rule_id)")
	cmd.Flags().BoolVar(&once, "once", false, "one-off event, ignore default_rule_id")
	cmd.Flags().StringVar(&until, "until", "", "end of the recurring period")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

// pickRule resolves --rule by name or id, falling back to default_rule_id
// when it names an existing rule.
func (a *app) pickRule(name string, once bool) (*model.Rule, error) {
	if once {
		return nil, nil
	}
	if name != "" {
		if id, err := strconv.ParseInt(name, 10, 64); err == nil {
			return a.store.Rule(id)
		}
		return a.store.RuleByName(name)
	}
	if a.cfg.DefaultRuleID > 0 {
		if r, err := a.store.Rule(a.cfg.DefaultRuleID); err == nil {
			return r, nil
		}
	}
	return nil, nil
}

// resolveOccurrence turns an occurrence id back into an occurrence that can
// be edited and saved.
func (a *app) resolveOccurrence(cmd *cobra.Command, id string) (*model.Occurrence, error) {
	ref, ok := schedule.DecodeID(id)
	if !ok {
		return nil, errors.Errorf("malformed occurrence id %q", id)
	}
	ev, err := a.store.Event(ref.EventID)
	if err != nil {
		return nil, err
	}
	persisted, err := a.store.PersistedOccurrences(cmd.Context(), []*model.Event{ev})
	if err != nil {
		return nil, err
	}
	occ, found := schedule.Resolve(ref, []*model.Event{ev}, persisted)
	if !found {
		return nil, errors.Errorf("event %d has no occurrence %q", ref.EventID, id)
	}
	if !a.opts.CanEditEvent(ev, nil, cliUser{}) {
		return nil, errors.Errorf("not allowed to edit occurrence %q", id)
	}
	return occ, nil
}

func newCancelCmd(a *app) *cobra.Command {
	var undo bool

	cmd := &cobra.Command{
		Use:   "cancel <occurrence-id>",
		Short: "Cancel (or restore) a single occurrence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			occ, err := a.resolveOccurrence(cmd, args[0])
			if err != nil {
				return err
			}
			if undo {
				occ.Uncancel()
			} else {
				occ.Cancel()
			}
			if err := a.store.SaveOccurrence(occ); err != nil {
				return err
			}
			if err := a.store.Save(); err != nil {
				return err
			}

			state := "cancelled"
			if undo {
				state = "restored"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", schedule.EncodeID(occ), state)
			if a.cfg.OccurrenceCancelRedirect != "" && !undo {
				fmt.Fprintf(cmd.OutOrStdout(), "next: %s\n", a.cfg.OccurrenceCancelRedirect)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "restore a cancelled occurrence")
	return cmd
}

func newMoveCmd(a *app) *cobra.Command {
	var start, end, title string

	cmd := &cobra.Command{
		Use:   "move <occurrence-id>",
		Short: "Reschedule or retitle a single occurrence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			occ, err := a.resolveOccurrence(cmd, args[0])
			if err != nil {
				return err
			}
			loc := a.cfg.Location()

			newStart, newEnd := occ.Start, occ.End
			if start != "" {
				if newStart, err = parseTime(start, loc); err != nil {
					return err
				}
				newEnd = newStart.Add(occ.End.Sub(occ.Start))
			}
			if end != "" {
				if newEnd, err = parseTime(end, loc); err != nil {
					return err
				}
			}
			if newEnd.Before(newStart) || (!occ.AllDay && !newEnd.After(newStart)) {
				return errors.New("end must be after start")
			}
			occ.Move(newStart, newEnd)
			if title != "" {
				occ.Title = title
			}

			if err := a.store.SaveOccurrence(occ); err != nil {
				return err
			}
			if err := a.store.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s moved to %s\n", schedule.EncodeID(occ), formatTime(occ.Start, occ.AllDay, loc))
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "new start (keeps the duration unless --end is given)")
	cmd.Flags().StringVar(&end, "end", "", "new end")
	cmd.Flags().StringVar(&title, "title", "", "new title for this occurrence only")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var from, to, output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write occurrences as an iCalendar feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc := a.cfg.Location()
			sc, err := a.scope(cmd.Context())
			if err != nil {
				return err
			}

			now := time.Now().In(loc)
			start, end := now.AddDate(0, -1, 0), now.AddDate(0, 6, 0)
			if from != "" {
				if start, err = parseTime(from, loc); err != nil {
					return err
				}
			}
			if to != "" {
				if end, err = parseTime(to, loc); err != nil {
					return err
				}
			}

			name := "calevents"
			if a.calendar != "" {
				if cal, err := a.store.Calendar(a.calendar); err == nil {
					name = cal.Name
				}
			}
			occs := schedule.Occurrences(sc.events, sc.persisted, start, end, a.opts)
			feed := ics.Export(name, occs, now)

			if output == "" || output == "-" {
				_, err := io.WriteString(cmd.OutOrStdout(), feed)
				return err
			}
			if err := os.WriteFile(output, []byte(feed), 0o644); err != nil {
				return errors.Wrapf(err, "write %s", output)
			}
			appLog.Info("feed exported", "path", output, "occurrences", len(occs))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start (default: one month ago)")
	cmd.Flags().StringVar(&to, "to", "", "window end (default: six months ahead)")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var urls []string
	var cacheDir string

	cmd := &cobra.Command{
		Use:   "import [file.ics...]",
		Short: "Import events and overrides from iCalendar files or URLs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(urls) == 0 {
				return errors.New("nothing to import: pass files or --url")
			}
			var calendarID int64
			if a.calendar != "" {
				cal, err := a.store.Calendar(a.calendar)
				if err != nil {
					return err
				}
				calendarID = cal.ID
			}

			bodies := make([]ics.FetchResult, 0, len(args)+len(urls))
			for _, path := range args {
				body, err := os.ReadFile(path)
				if err != nil {
					return errors.Wrapf(err, "read %s", path)
				}
				bodies = append(bodies, ics.FetchResult{Source: ics.Source{ID: filepath.Base(path)}, Body: body})
			}
			if len(urls) > 0 {
				sources := make([]ics.Source, 0, len(urls))
				for i, u := range urls {
					sources = append(sources, ics.Source{ID: fmt.Sprintf("url-%d", i+1), URL: u})
				}
				if cacheDir == "" {
					cacheDir = filepath.Join(filepath.Dir(a.cfg.DataFile), "ics-cache")
				}
				fetched, errs := ics.NewFetcher(cacheDir, nil).FetchAll(cmd.Context(), sources)
				if len(errs) > 0 && len(fetched) == 0 {
					return errs[0]
				}
				bodies = append(bodies, fetched...)
			}

			events, overrides := 0, 0
			for _, res := range bodies {
				imported, err := ics.Parse(res.Source, res.Body, a.cfg.Location())
				if err != nil {
					return err
				}
				for _, imp := range imported {
					imp.Event.CalendarID = calendarID
					if err := a.store.AddEvent(imp.Event); err != nil {
						appLog.Error("import: event skipped", err, "uid", imp.UID)
						continue
					}
					events++
					for _, occ := range imp.Overrides {
						occ.EventID = imp.Event.ID
						if err := a.store.SaveOccurrence(occ); err != nil {
							appLog.Error("import: override skipped", err, "uid", imp.UID)
							continue
						}
						overrides++
					}
				}
			}
			if err := a.store.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d events, %d overrides\n", events, overrides)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&urls, "url", nil, "feed URL (repeatable)")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "HTTP cache directory (default: next to data file)")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the upcoming agenda fresh on the configured cron schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc := a.cfg.Location()
			ag, err := agenda.New(a.store, agenda.Config{
				Spec:     a.cfg.Agenda.Refresh,
				Calendar: a.calendar,
				Upcoming: a.cfg.Agenda.Upcoming,
				Location: loc,
				Options:  a.opts,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ag.OnRefresh = func(s agenda.Snapshot) {
				fmt.Fprintf(out, "-- %s\n", s.RefreshedAt.Format(time.RFC3339))
				_ = printOccurrences(out, s.Occurrences, loc)
			}
			return ag.Run(cmd.Context())
		},
	}
}
