// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package authstore

import (
	"context"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// hooks instruments every auth-store query with timing via sqlhooks.
type hooks struct{}

type ctxKey string

const ctxKeyStartTime ctxKey = "authstore-query-start"

func (h *hooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	return context.WithValue(ctx, ctxKeyStartTime, time.Now()), nil
}

func (h *hooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(ctxKeyStartTime).(time.Time); ok {
		if elapsed := time.Since(begin); elapsed > 100*time.Millisecond {
			cclog.Warnf("[AUTHSTORE]> slow query (%s): %s", elapsed, query)
		} else {
			cclog.Debugf("[AUTHSTORE]> query took %s: %s", elapsed, query)
		}
	}
	return ctx, nil
}
