package badger

import (
	"context"
	"strings"

	"github.com/projecteru2/core/log"
)

// logger forwards Badger's internal warnings and errors to the process
// logger. Info and debug chatter is dropped.
type logger struct{}

func (logger) Errorf(format string, args ...any) {
	log.WithFunc("registry.badger").Warnf(context.Background(), strings.TrimSpace(format), args...)
}

func (logger) Warningf(format string, args ...any) {
	log.WithFunc("registry.badger").Warnf(context.Background(), strings.TrimSpace(format), args...)
}

func (logger) Infof(string, ...any)  {}
func (logger) Debugf(string, ...any) {}
