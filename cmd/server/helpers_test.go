package main

import (
    "io"
    "log/slog"
)

func discardLogger() *slog.Logger {
    return slog.New(slog.NewTextHandler(io.Discard, nil))
}
