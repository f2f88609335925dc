package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/nainya/entityversion/internal/config"
	"github.com/nainya/entityversion/pkg/metadata"
	"github.com/nainya/entityversion/pkg/storage"
	"github.com/nainya/entityversion/pkg/version"
)

var (
	errColor    = color.New(color.FgRed, color.Bold)
	commitColor = color.New(color.FgYellow)
	addColor    = color.New(color.FgGreen)
	delColor    = color.New(color.FgRed)
	faintColor  = color.New(color.Faint)
	actionColor = map[version.Action]*color.Color{
		version.ActionInsert: addColor,
		version.ActionUpdate: color.New(color.FgCyan),
		version.ActionUpsert: color.New(color.FgCyan),
		version.ActionDelete: delColor,
		version.ActionClone:  faintColor,
	}
)

func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs, registerCommon(fs)
}

func withApp(common *commonFlags, stderr io.Writer, fn func(ctx context.Context, a *app) error) int {
	ctx := context.Background()

	a, err := openApp(ctx, common, stderr)
	if err != nil {
		errColor.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	if err := fn(ctx, a); err != nil {
		errColor.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func required(stderr io.Writer, values map[string]string) bool {
	var missing []string
	for name, v := range values {
		if v == "" {
			missing = append(missing, "-"+name)
		}
	}
	if len(missing) == 0 {
		return true
	}
	fmt.Fprintf(stderr, "Error: %s required\n", strings.Join(missing, ", "))
	return false
}

// forkCmd handles the fork command.
func forkCmd(args []string, stdout, stderr io.Writer) int {
	fs, common := newFlagSet("fork", stderr)
	definition := fs.String("definition", "", "Entity definition")
	id := fs.String("id", "", "Live entity id")
	name := fs.String("name", "", "Version name")
	versionID := fs.String("version-id", "", "Id for the new version")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if !required(stderr, map[string]string{"definition": *definition, "id": *id}) {
		return 1
	}

	return withApp(common, stderr, func(ctx context.Context, a *app) error {
		var opts []version.ForkOption
		if *name != "" {
			opts = append(opts, version.WithName(*name))
		}
		if *versionID != "" {
			opts = append(opts, version.WithVersionID(*versionID))
		}

		v, err := a.manager.CreateVersion(ctx, *definition, *id, common.writeContext(storage.LiveVersion), opts...)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, v)
		return nil
	})
}

// mergeCmd handles the merge command.
func mergeCmd(args []string, stdout, stderr io.Writer) int {
	fs, common := newFlagSet("merge", stderr)
	versionID := fs.String("version", "", "Version to merge into live")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if !required(stderr, map[string]string{"version": *versionID}) {
		return 1
	}

	return withApp(common, stderr, func(ctx context.Context, a *app) error {
		if err := a.manager.Merge(ctx, *versionID, common.writeContext(storage.LiveVersion)); err != nil {
			return err
		}
		addColor.Fprintf(stdout, "Merged %s into live\n", *versionID)
		return nil
	})
}

// historyCmd handles the history command.
func historyCmd(args []string, stdout, stderr io.Writer) int {
	fs, common := newFlagSet("history", stderr)
	versionID := fs.String("version", storage.LiveVersion, "Version to list")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	return withApp(common, stderr, func(ctx context.Context, a *app) error {
		commits, err := a.manager.Commits(ctx, *versionID, common.writeContext(storage.LiveVersion))
		if err != nil {
			return err
		}
		if len(commits) == 0 {
			fmt.Fprintf(stdout, "No commits in %s\n", *versionID)
			return nil
		}
		for _, c := range commits {
			printCommit(stdout, c)
		}
		return nil
	})
}

func printCommit(w io.Writer, c version.Commit) {
	header := "commit " + c.ID
	if c.IsMerge {
		header += " (merge)"
	}
	commitColor.Fprintln(w, header)

	user := "anonymous"
	if c.UserID != nil {
		user = *c.UserID
	}
	fmt.Fprintf(w, "Author: %s\nDate:   %s\n", user, c.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	if c.Message != "" {
		fmt.Fprintf(w, "\n    %s\n", c.Message)
	}
	fmt.Fprintln(w)

	for _, d := range c.Data {
		key, _ := json.Marshal(d.EntityID)
		ac, ok := actionColor[d.Action]
		if !ok {
			ac = faintColor
		}
		ac.Fprintf(w, "    %-7s", d.Action)
		fmt.Fprintf(w, " %s %s\n", d.EntityName, key)
	}
	fmt.Fprintln(w)
}

// diffCmd handles the diff command.
func diffCmd(args []string, stdout, stderr io.Writer) int {
	fs, common := newFlagSet("diff", stderr)
	definition := fs.String("definition", "", "Entity definition")
	id := fs.String("id", "", "Entity id")
	versionID := fs.String("version", "", "Version to compare against live")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if !required(stderr, map[string]string{"definition": *definition, "id": *id, "version": *versionID}) {
		return 1
	}

	return withApp(common, stderr, func(ctx context.Context, a *app) error {
		wc := common.writeContext(storage.LiveVersion)
		live, err := a.manager.ReadEntity(ctx, *definition, *id, storage.LiveVersion, wc)
		if err != nil && !errors.Is(err, version.ErrEntityNotFound) {
			return err
		}
		forked, err := a.manager.ReadEntity(ctx, *definition, *id, *versionID, wc)
		if err != nil {
			return err
		}

		from, err := render(live)
		if err != nil {
			return err
		}
		to, err := render(forked)
		if err != nil {
			return err
		}

		fmt.Fprintf(stdout, "--- %s %s (live)\n+++ %s %s (%s)\n", *definition, *id, *definition, *id, *versionID)
		printDiff(stdout, from, to)
		return nil
	})
}

// render formats a payload as indented JSON with sorted keys.
func render(m map[string]any) (string, error) {
	if m == nil {
		return "", nil
	}
	out, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out) + "\n", nil
}

func printDiff(w io.Writer, from, to string) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(from, to)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	for _, d := range diffs {
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				addColor.Fprint(w, "+"+line)
			case diffmatchpatch.DiffDelete:
				delColor.Fprint(w, "-"+line)
			default:
				fmt.Fprint(w, " "+line)
			}
		}
	}
}

// writeCmd handles the write command.
func writeCmd(args []string, stdout, stderr io.Writer) int {
	fs, common := newFlagSet("write", stderr)
	definition := fs.String("definition", "", "Entity definition")
	file := fs.String("file", "", "JSON file holding a row or a list of rows")
	action := fs.String("action", string(version.ActionUpsert), "Write action: insert, update, upsert")
	versionID := fs.String("version", storage.LiveVersion, "Version to write into")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if !required(stderr, map[string]string{"definition": *definition, "file": *file}) {
		return 1
	}

	rows, err := readRows(*file)
	if err != nil {
		errColor.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	return withApp(common, stderr, func(ctx context.Context, a *app) error {
		wc := common.writeContext(*versionID)

		var events storage.WrittenEvents
		var err error
		switch version.Action(*action) {
		case version.ActionInsert:
			events, err = a.manager.Insert(ctx, *definition, rows, wc)
		case version.ActionUpdate:
			events, err = a.manager.Update(ctx, *definition, rows, wc)
		case version.ActionUpsert:
			events, err = a.manager.Upsert(ctx, *definition, rows, wc)
		default:
			return fmt.Errorf("unknown write action %q", *action)
		}
		if err != nil {
			return err
		}
		printEvents(stdout, *action, events)
		return nil
	})
}

func readRows(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err == nil {
		return rows, nil
	}
	var row map[string]any
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return []map[string]any{row}, nil
}

func printEvents(w io.Writer, action string, events storage.WrittenEvents) {
	for _, ev := range events {
		fmt.Fprintf(w, "%s %s: %d\n", action, ev.Definition, len(ev.Items))
	}
}

// deleteCmd handles the delete command.
func deleteCmd(args []string, stdout, stderr io.Writer) int {
	fs, common := newFlagSet("delete", stderr)
	definition := fs.String("definition", "", "Entity definition")
	id := fs.String("id", "", "Entity id")
	versionID := fs.String("version", storage.LiveVersion, "Version to delete from")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if !required(stderr, map[string]string{"definition": *definition, "id": *id}) {
		return 1
	}

	return withApp(common, stderr, func(ctx context.Context, a *app) error {
		events, err := a.manager.Delete(ctx, *definition, []map[string]any{{"id": *id}}, common.writeContext(*versionID))
		if err != nil {
			return err
		}
		if events.Len() == 0 {
			fmt.Fprintf(stdout, "%s %s not found in %s\n", *definition, *id, *versionID)
			return nil
		}
		printEvents(stdout, string(version.ActionDelete), events)
		return nil
	})
}

// definitionsCmd handles the definitions command. It needs no store.
func definitionsCmd(args []string, stdout, stderr io.Writer) int {
	fs, common := newFlagSet("definitions", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := common.config()
	if err == nil {
		err = printDefinitions(stdout, cfg)
	}
	if err != nil {
		errColor.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printDefinitions(w io.Writer, cfg *config.Config) error {
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	for _, name := range reg.Names() {
		def, err := reg.Get(name)
		if err != nil {
			return err
		}
		header := name
		if def.Versionable() {
			header += " (versionable)"
		}
		commitColor.Fprintln(w, header)
		fmt.Fprintf(w, "  fields:  %s\n", strings.Join(metadata.Names(def.Fields), ", "))
		if cascade := def.Filter(metadata.IsCascadeAssociation); len(cascade) > 0 {
			fmt.Fprintf(w, "  cascade: %s\n", strings.Join(metadata.Names(cascade), ", "))
		}
	}
	return nil
}
