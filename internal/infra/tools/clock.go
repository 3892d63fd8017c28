package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ClockArgs are the arguments of current_time.
type ClockArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA zone name such as Asia/Shanghai; defaults to UTC"`
}

// ClockTool reports the current time, which models otherwise guess.
type ClockTool struct {
	now func() time.Time
}

// NewClockTool returns a current_time tool.
func NewClockTool() *ClockTool {
	return &ClockTool{now: time.Now}
}

func (t *ClockTool) Name() string { return "current_time" }

func (t *ClockTool) Description() string {
	return "Return the current date and time in the requested timezone."
}

func (t *ClockTool) Parameters() map[string]any { return SchemaFor[ClockArgs]() }

func (t *ClockTool) Call(_ context.Context, raw json.RawMessage) (string, error) {
	args, err := decodeArgs[ClockArgs](raw)
	if err != nil {
		return "", err
	}
	loc := time.UTC
	if args.Timezone != "" {
		loc, err = time.LoadLocation(args.Timezone)
		if err != nil {
			return "", fmt.Errorf("current_time: unknown timezone %q", args.Timezone)
		}
	}
	return t.now().In(loc).Format(time.RFC3339), nil
}
