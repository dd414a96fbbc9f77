package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Facely1er/EduSolucePlus-sub000/internal/offline/network"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/offline/reconcile"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/progress"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/record"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/result"
)

var errUsage = errors.New(strings.TrimSpace(usage))

// syncHook what the progress and result hooks have in common
type syncHook[R any] interface {
	FetchAll(ctx context.Context, userID string) reconcile.Result[R]
	Save(ctx context.Context, userID string, records ...R) reconcile.Result[R]
	Update(ctx context.Context, userID, key string, fields map[string]interface{}) reconcile.Result[R]
	SyncToServer(ctx context.Context) reconcile.Result[R]
	Get(key string) (R, bool)
	State() reconcile.State[R]
}

type progressHook interface {
	syncHook[progress.Record]
	Start(ctx context.Context, userID, moduleID, title string) reconcile.Result[progress.Record]
	Complete(ctx context.Context, userID, moduleID, title string) reconcile.Result[progress.Record]
}

type cli struct {
	userID   string
	progress progressHook
	results  syncHook[result.Record]
	monitor  *network.Monitor
	out      io.Writer
	probe    func(ctx context.Context)
}

func (c *cli) run(ctx context.Context, args []string) error {
	cmd, args := args[0], args[1:]
	switch cmd {
	case "fetch":
		return onKind(args, 1,
			func() error { return printResult(c.out, c.progress.FetchAll(ctx, c.userID)) },
			func() error { return printResult(c.out, c.results.FetchAll(ctx, c.userID)) })
	case "get":
		return onKind(args, 2,
			func() error { return get(c.out, c.progress, args[1]) },
			func() error { return get(c.out, c.results, args[1]) })
	case "update":
		if len(args) < 3 {
			return errUsage
		}
		fields, err := parseFields(args[2:])
		if err != nil {
			return err
		}
		return onKind(args, 3,
			func() error { return printResult(c.out, c.progress.Update(ctx, c.userID, args[1], fields)) },
			func() error { return printResult(c.out, c.results.Update(ctx, c.userID, args[1], fields)) })
	case "save":
		return onKind(args, 2, func() error {
			rec, err := newRecord(progress.Record{ModuleID: args[1]}, args[2:])
			if err != nil {
				return err
			}
			return printResult(c.out, c.progress.Save(ctx, c.userID, rec))
		}, func() error {
			if len(args) < 3 {
				return errUsage
			}
			rec, err := newRecord(result.Record{AssessmentID: args[1], AreaID: args[2]}, args[3:])
			if err != nil {
				return err
			}
			return printResult(c.out, c.results.Save(ctx, c.userID, rec))
		})
	case "start", "complete":
		if len(args) < 1 {
			return errUsage
		}
		title := strings.Join(args[1:], " ")
		c.progress.FetchAll(ctx, c.userID)
		if cmd == "start" {
			return printResult(c.out, c.progress.Start(ctx, c.userID, args[0], title))
		}
		return printResult(c.out, c.progress.Complete(ctx, c.userID, args[0], title))
	case "sync":
		if err := printResult(c.out, c.progress.SyncToServer(ctx)); err != nil {
			return err
		}
		return printResult(c.out, c.results.SyncToServer(ctx))
	case "watch":
		return c.watch(ctx)
	}
	return errUsage
}

// watch keeps the probe running and prints every status change until ctx is done
func (c *cli) watch(ctx context.Context) error {
	unsubscribe := c.monitor.OnChange(func(online bool) {
		fmt.Fprintf(c.out, "online=%t\n", online)
	})
	defer unsubscribe()

	c.progress.FetchAll(ctx, c.userID)
	c.results.FetchAll(ctx, c.userID)
	c.printState()
	c.probe(ctx)

	<-ctx.Done()
	c.printState()
	return nil
}

func (c *cli) printState() {
	ps, rs := c.progress.State(), c.results.State()
	fmt.Fprintf(c.out, "online=%t progress=%d results=%d", c.monitor.IsOnline(), len(ps.Records), len(rs.Records))
	if !ps.LastSync.IsZero() {
		fmt.Fprintf(c.out, " last_sync=%s", ps.LastSync.Format("2006-01-02T15:04:05Z07:00"))
	}
	fmt.Fprintln(c.out)
}

func printResult[R any](w io.Writer, res reconcile.Result[R]) error {
	if !res.Success {
		return res.Err
	}
	if res.Data == nil {
		res.Data = []R{}
	}
	return printJSON(w, res.Data)
}

func get[R any](w io.Writer, h syncHook[R], key string) error {
	rec, ok := h.Get(key)
	if !ok {
		return fmt.Errorf("%s: not cached", key)
	}
	return printJSON(w, rec)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// onKind dispatches on args[0], which must be progress or results, after checking
// that at least min arguments were given
func onKind(args []string, min int, onProgress, onResults func() error) error {
	if len(args) < min {
		return errUsage
	}
	switch args[0] {
	case progress.Kind:
		return onProgress()
	case result.Kind:
		return onResults()
	}
	return fmt.Errorf("unknown record kind %q, expected %s or %s", args[0], progress.Kind, result.Kind)
}

// parseFields reads field=value pairs, values are JSON when they parse as such
// (numbers, booleans, null) and strings otherwise
func parseFields(pairs []string) (map[string]interface{}, error) {
	fields := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid field %q, expected field=value", pair)
		}
		var value interface{}
		if err := json.Unmarshal([]byte(v), &value); err != nil {
			value = v
		}
		fields[k] = value
	}
	return fields, nil
}

func newRecord[R any](base R, pairs []string) (R, error) {
	fields, err := parseFields(pairs)
	if err != nil {
		return base, err
	}
	return record.Merge(base, fields)
}
