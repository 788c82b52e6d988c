package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/gozephyr/tagcache"
	"github.com/gozephyr/tagcache/errors"
)

// run executes one command against c and writes its result to out
func run(ctx context.Context, c *tagcache.Cache, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("missing command")
	}
	cmd, args := args[0], args[1:]

	switch cmd {
	case "save":
		return runSave(ctx, c, args)
	case "load":
		id, err := oneArg(cmd, args)
		if err != nil {
			return err
		}
		payload, err := c.Load(ctx, id)
		if errors.IsKeyNotFound(err) {
			return fmt.Errorf("%s: not found", id)
		}
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%s\n", payload)
		return err
	case "meta":
		id, err := oneArg(cmd, args)
		if err != nil {
			return err
		}
		md, err := c.Metadata(ctx, id)
		if err != nil {
			return err
		}
		return writeJSON(out, md)
	case "remove":
		id, err := oneArg(cmd, args)
		if err != nil {
			return err
		}
		existed, err := c.Remove(ctx, id)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, existed)
		return err
	case "clean":
		if len(args) == 0 {
			return fmt.Errorf("clean: missing mode")
		}
		mode, err := tagcache.ParseCleaningMode(args[0])
		if err != nil {
			return err
		}
		return c.Clean(ctx, mode, args[1:]...)
	case "ids":
		return c.EachID(ctx, func(id string) bool {
			_, err := fmt.Fprintln(out, id)
			return err == nil
		})
	case "tags":
		registered, err := c.Tags(ctx)
		if err != nil {
			return err
		}
		return writeLines(out, registered)
	case "match":
		return runMatch(ctx, c, args, out)
	case "fill":
		percent, err := c.FillingPercentage(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%.2f\n", percent)
		return err
	case "lock":
		return runLock(ctx, c, args, out)
	case "unlock":
		key, err := oneArg(cmd, args)
		if err != nil {
			return err
		}
		released, err := c.Unlock(ctx, key)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, released)
		return err
	case "caps":
		return writeJSON(out, c.Capabilities())
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runSave(ctx context.Context, c *tagcache.Cache, args []string) error {
	fs := flag.NewFlagSet("save", flag.ContinueOnError)
	tagList := fs.String("tags", "", "Comma separated tags")
	lifetime := fs.Duration("ttl", -1, "Lifetime; 0 never expires (default: configured lifetime)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("save: expected ID VALUE")
	}

	var tags []string
	if *tagList != "" {
		tags = strings.Split(*tagList, ",")
	}
	var override []time.Duration
	if *lifetime >= 0 {
		override = append(override, *lifetime)
	}
	return c.Save(ctx, fs.Arg(0), []byte(fs.Arg(1)), tags, override...)
}

func runMatch(ctx context.Context, c *tagcache.Cache, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("match", flag.ContinueOnError)
	anyTag := fs.Bool("any", false, "Match ids carrying any of the tags")
	notTag := fs.Bool("not", false, "Match tagged ids carrying none of the tags")
	if err := fs.Parse(args); err != nil {
		return err
	}

	query := c.IDsMatchingTags
	switch {
	case *anyTag && *notTag:
		return fmt.Errorf("match: -any and -not are exclusive")
	case *anyTag:
		query = c.IDsMatchingAnyTags
	case *notTag:
		query = c.IDsNotMatchingTags
	}
	ids, err := query(ctx, fs.Args()...)
	if err != nil {
		return err
	}
	return writeLines(out, ids)
}

func runLock(ctx context.Context, c *tagcache.Cache, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	wait := fs.Duration("wait", 0, "Retry interval; 0 makes a single attempt")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("lock: expected KEY")
	}

	if *wait > 0 {
		if err := c.Lock(ctx, fs.Arg(0), *wait); err != nil {
			return err
		}
		_, err := fmt.Fprintln(out, true)
		return err
	}
	ok, err := c.TryLock(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, ok)
	return err
}

func oneArg(cmd string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s: expected exactly one argument", cmd)
	}
	return args[0], nil
}

func writeLines(out io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
