// Copyright 2023 The iodisco Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"

	"iodisco.dev/iodisco/pkg/catalog"
	"iodisco.dev/iodisco/pkg/gpuerr"
)

// Backoff bounds for RetryReadOnly.
var (
	retryInitialInterval = 10 * time.Millisecond
	retryMaxInterval     = 500 * time.Millisecond
)

// RetryReadOnly dispatches desc up to attempts times while it fails with
// Timeout or DeviceError, backing off exponentially. A handle that is
// closed or invalidated is not retried. Only ReadOnlyQuery operations are
// retried; anything else is refused without a call.
func (d *Dispatcher) RetryReadOnly(ctx context.Context, h Handle, desc catalog.Descriptor, args catalog.Args, attempts int) Result {
	if desc.Tier != catalog.ReadOnlyQuery {
		return Result{
			Name:   desc.Name,
			Opcode: desc.Opcode,
			Tier:   desc.Tier,
			Err:    gpuerr.New(gpuerr.ModeViolation, "retry", "only %v operations may be retried", catalog.ReadOnlyQuery).WithName(desc.String()),
		}
	}
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = 0

	var res Result
	op := func() error {
		res = d.Dispatch(ctx, h, desc, args)
		switch gpuerr.KindOf(res.Err) {
		case 0:
			return nil
		case gpuerr.Timeout, gpuerr.DeviceError:
			var e *gpuerr.Error
			if ctx.Err() != nil || h.Err() != nil || (errors.As(res.Err, &e) && classify(e.Errno).invalidates) {
				return backoff.Permanent(res.Err)
			}
			return res.Err
		default:
			return backoff.Permanent(res.Err)
		}
	}
	// The last Result carries the outcome.
	_ = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx))
	return res
}
