// Package pdf renders payout statements. The renderer is pure: callers
// pass display-ready strings and get a document back, so currency and
// date formatting stay with the domain that owns them.
package pdf

import (
	"context"
	"io"
)

type Provider interface {
	GenerateStatement(ctx context.Context, data StatementData) (io.Reader, error)
}
