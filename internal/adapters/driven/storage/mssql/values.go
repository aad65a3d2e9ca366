package mssql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/keystone-data/storekit/internal/core/domain"
)

func marshalValue(value map[string]any) (string, error) {
	if value == nil {
		value = map[string]any{}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("%w: value is not serializable: %v", domain.ErrData, err)
	}
	return string(data), nil
}

func unmarshalValue(data string) (map[string]any, error) {
	var value map[string]any
	if err := json.Unmarshal([]byte(data), &value); err != nil {
		return nil, fmt.Errorf("%w: decoding stored value: %v", domain.ErrData, err)
	}
	return value, nil
}

// wrapExecErr classifies a database error: context expiry means the
// operation timed out (a connection-kind failure), everything else is a
// data-kind failure.
func wrapExecErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %v", domain.ErrConnection, op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrData, op, err)
}
