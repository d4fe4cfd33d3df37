package test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quay/claircore/toolkit/log"
)

// The default logger is swapped for one that looks up the real handler in the
// Context. This lets parallel tests each write to their own output.
var install = sync.OnceFunc(func() {
	slog.SetDefault(slog.New(routed(nil)))
})

var (
	wd = sync.OnceValue(func() string {
		dir, err := os.Getwd()
		if err != nil {
			panic(err)
		}
		return dir
	})
	module = sync.OnceValue(func() string {
		if info, ok := debug.ReadBuildInfo(); ok {
			return info.Main.Path + "/"
		}
		return ""
	})
)

type handlerKey struct{}

// Routed is a [slog.Handler] that forwards records to the handler stored in
// the Context, replaying any WithAttrs and WithGroup calls first.
type routed []func(slog.Handler) slog.Handler

var _ slog.Handler = routed(nil)

func target(ctx context.Context) slog.Handler {
	h, _ := ctx.Value(handlerKey{}).(slog.Handler)
	return h
}

// Enabled implements [slog.Handler].
func (r routed) Enabled(ctx context.Context, l slog.Level) bool {
	h := target(ctx)
	return h != nil && h.Enabled(ctx, l)
}

// Handle implements [slog.Handler].
func (r routed) Handle(ctx context.Context, rec slog.Record) error {
	h := target(ctx)
	if h == nil {
		return nil
	}
	for _, f := range r {
		h = f(h)
	}
	if v, ok := ctx.Value(log.AttrsKey).(slog.Value); ok {
		rec.AddAttrs(v.Group()...)
	}
	return h.Handle(ctx, rec)
}

// WithAttrs implements [slog.Handler].
func (r routed) WithAttrs(attrs []slog.Attr) slog.Handler {
	return append(r[:len(r):len(r)], func(h slog.Handler) slog.Handler {
		return h.WithAttrs(attrs)
	})
}

// WithGroup implements [slog.Handler].
func (r routed) WithGroup(name string) slog.Handler {
	return append(r[:len(r):len(r)], func(h slog.Handler) slog.Handler {
		return h.WithGroup(name)
	})
}

// Logging returns a Context that directs the default [slog.Logger] to the
// output of "t".
//
// If a parent is provided, it's used instead of [context.Background].
func Logging(t testing.TB, parent ...context.Context) context.Context {
	install()
	ctx := context.Background()
	if len(parent) > 0 {
		ctx = parent[0]
	}
	start := time.Now()
	h := slog.NewTextHandler(t.Output(), &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
		ReplaceAttr: func(g []string, a slog.Attr) slog.Attr {
			if g != nil {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.String(slog.TimeKey, "+"+time.Since(start).String())
			case slog.SourceKey:
				return slog.String(slog.SourceKey, shortSource(a.Value.Any().(*slog.Source)))
			}
			return a
		},
	})
	return context.WithValue(ctx, handlerKey{}, h)
}

func shortSource(src *slog.Source) string {
	if src.Function != "" {
		return strings.TrimPrefix(src.Function, module())
	}
	f := src.File
	if rel, err := filepath.Rel(wd(), f); err == nil && rel != "" {
		f = rel
	}
	return fmt.Sprintf("%s:%d", f, src.Line)
}
