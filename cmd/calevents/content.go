package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"calevents/internal/model"
	"calevents/internal/relation"
)

// registry allows the configured relation models. The objects themselves
// live in other applications, so each resolves to its reference.
func (a *app) registry() *relation.Registry {
	reg := relation.NewRegistry(a.cfg.EventRelationModels, a.cfg.CalendarRelationModels)
	tags := append(append([]string{}, a.cfg.EventRelationModels...), a.cfg.CalendarRelationModels...)
	for _, tag := range tags {
		reg.Register(tag, refResolver(tag))
	}
	return reg
}

func refResolver(tag string) relation.ResolverFunc {
	return func(_ context.Context, id int64) (any, error) {
		return model.ObjectRef{Type: tag, ID: id}, nil
	}
}

func newContentCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "content",
		Short: "Attach content to events and calendars, and list what is scheduled",
	}
	cmd.AddCommand(
		newContentAttachCmd(a),
		newContentAttachCalendarCmd(a),
		newContentListCmd(a),
		newContentCalendarCmd(a),
	)
	return cmd
}

func newContentAttachCmd(a *app) *cobra.Command {
	var typeTag, distinction string
	var objectID int64

	cmd := &cobra.Command{
		Use:   "attach <event-id>",
		Short: "Relate an object to an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eventID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return errors.Errorf("malformed event id %q", args[0])
			}
			if !a.registry().EventModelAllowed(typeTag) {
				return errors.Wrapf(relation.ErrNotAllowed, "event relation %q", typeTag)
			}

			rel := &model.EventRelation{
				EventID:     eventID,
				Object:      model.ObjectRef{Type: typeTag, ID: objectID},
				Distinction: distinction,
			}
			if err := a.store.AddEventRelation(rel); err != nil {
				return err
			}
			if err := a.store.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "relation %d: event %d -> %s#%d\n", rel.ID, eventID, typeTag, objectID)
			return nil
		},
	}
	cmd.Flags().StringVar(&typeTag, "type", "", `object type as "app.model"`)
	cmd.Flags().Int64Var(&objectID, "id", 0, "object id")
	cmd.Flags().StringVar(&distinction, "distinction", "", "optional label for the relation")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newContentAttachCalendarCmd(a *app) *cobra.Command {
	var typeTag, distinction string
	var objectID int64
	var inheritable bool

	cmd := &cobra.Command{
		Use:   "attach-calendar <slug>",
		Short: "Relate an object to a calendar",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.registry().CalendarModelAllowed(typeTag) {
				return errors.Wrapf(relation.ErrNotAllowed, "calendar relation %q", typeTag)
			}
			cal, err := a.store.Calendar(args[0])
			if err != nil {
				return err
			}

			rel := &model.CalendarRelation{
				CalendarID:  cal.ID,
				Object:      model.ObjectRef{Type: typeTag, ID: objectID},
				Distinction: distinction,
				Inheritable: inheritable,
			}
			if err := a.store.AddCalendarRelation(rel); err != nil {
				return err
			}
			if err := a.store.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "relation %d: calendar %s -> %s#%d\n", rel.ID, cal.Slug, typeTag, objectID)
			return nil
		},
	}
	cmd.Flags().StringVar(&typeTag, "type", "", `object type as "app.model"`)
	cmd.Flags().Int64Var(&objectID, "id", 0, "object id")
	cmd.Flags().StringVar(&distinction, "distinction", "", "optional label for the relation")
	cmd.Flags().BoolVar(&inheritable, "inheritable", true, "events of the calendar inherit the relation")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newContentListCmd(a *app) *cobra.Command {
	var typeTag, date string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List objects of a type whose events occur on a day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc := a.cfg.Location()
			day := time.Now().In(loc)
			if date != "" {
				var err error
				if day, err = parseTime(date, loc); err != nil {
					return err
				}
			}
			sc, err := a.scope(cmd.Context())
			if err != nil {
				return err
			}

			content, err := a.registry().ScheduledContent(cmd.Context(), day, typeTag,
				sc.events, sc.persisted, a.store.AllEventRelations(), a.opts)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "EVENT\tOBJECT\tDISTINCTION\n")
			for _, c := range content {
				fmt.Fprintf(w, "%d\t%s\t%s\n", c.Relation.EventID, objectLabel(c.Object), c.Relation.Distinction)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&typeTag, "type", "", `object type as "app.model"`)
	cmd.Flags().StringVar(&date, "date", "", "day to look at (default: today)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newContentCalendarCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "calendar <slug>",
		Short: "List objects related to a calendar",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cal, err := a.store.Calendar(args[0])
			if err != nil {
				return err
			}
			reg := a.registry()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "ID\tOBJECT\tDISTINCTION\tINHERITABLE\n")
			for _, rel := range a.store.CalendarRelations(cal.ID) {
				obj, err := reg.ResolveCalendar(cmd.Context(), rel)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%t\n", rel.ID, objectLabel(obj), rel.Distinction, rel.Inheritable)
			}
			return w.Flush()
		},
	}
}

func objectLabel(obj any) string {
	if ref, ok := obj.(model.ObjectRef); ok {
		return fmt.Sprintf("%s#%d", ref.Type, ref.ID)
	}
	return fmt.Sprint(obj)
}
