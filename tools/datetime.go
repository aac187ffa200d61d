package tools

import (
	"context"
	"encoding/json"
	"time"
)

const dateTimeLayout = "1/2/2006, 3:04:05 PM"

type dateTimeArgs struct{}

func NewDateTime(now func() time.Time) Tool {
	if now == nil {
		now = time.Now
	}
	return NewFuncTool(
		DateTime,
		"Report the current local date and time.",
		SchemaFor[dateTimeArgs](),
		func(ctx context.Context, args json.RawMessage) (string, error) {
			_ = ctx
			return "Current date and time: " + now().Local().Format(dateTimeLayout), nil
		},
	)
}
