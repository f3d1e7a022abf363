package utils

import (
	"log/slog"

	"github.com/go-kit/log"
	slgk "github.com/tjhop/slog-gokit"
)

// SlogFromGoKit bridges a go-kit logger into the slog API for callers that
// only accept *slog.Logger. Level filtering stays on the go-kit side, so
// the bridge passes every level through.
func SlogFromGoKit(logger log.Logger) *slog.Logger {
	lvl := slog.LevelVar{}
	lvl.Set(slog.LevelDebug)
	return slog.New(slgk.NewGoKitHandler(logger, &lvl))
}
