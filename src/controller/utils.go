package controller

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"time"

	logger "github.com/sirupsen/logrus"

	"positionguard/src/model"
)

type ExceptionStore interface {
	Create(ctx context.Context, exc *model.Exception) error
}

// Exception identifies where a captured failure happened.
type Exception struct {
	Service string
	Module  string
	Method  string
	Ticker  string
	Level   string
	// Stack overrides the capturing goroutine's stack, e.g. one taken in recover.
	Stack string
}

// Capture records a system exception, logs it locally, and persists it
// when a store is configured.
func Capture(
	ctx context.Context,
	repo ExceptionStore,
	where Exception,
	err error,
	contextData map[string]interface{},
) {
	if err == nil {
		return
	}

	var ctxJSON string
	if contextData != nil {
		if b, e := json.Marshal(contextData); e == nil {
			ctxJSON = string(b)
		}
	}

	stack := where.Stack
	if stack == "" {
		stack = string(debug.Stack())
	}

	exc := &model.Exception{
		Service:   where.Service,
		Module:    where.Module,
		Method:    where.Method,
		Ticker:    where.Ticker,
		Message:   err.Error(),
		Stack:     stack,
		Level:     where.Level,
		Context:   ctxJSON,
		CreatedAt: time.Now(),
	}

	logger.WithFields(map[string]interface{}{
		"service": where.Service,
		"module":  where.Module,
		"method":  where.Method,
		"ticker":  where.Ticker,
		"level":   where.Level,
	}).WithError(err).Error("System exception captured")

	if repo != nil {
		if e := repo.Create(ctx, exc); e != nil {
			logger.WithError(e).Error("Failed to persist exception")
		}
	}
}
