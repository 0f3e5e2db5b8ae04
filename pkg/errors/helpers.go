// Copyright 2025 Tom Barlow
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

package errors

import (
	"context"
	"errors"
	"fmt"
)

// IsAbort reports whether err represents cooperative cancellation, either the
// engine's ErrAborted sentinel or a context cancellation that leaked through.
func IsAbort(err error) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled)
}

// IsUserStop reports whether err represents a user-initiated stop.
func IsUserStop(err error) bool {
	return errors.Is(err, ErrUserStop)
}

// IsValidation reports whether err is a ValidationError anywhere in its chain.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsMissingPrompt reports whether err is a MissingPromptError anywhere in its
// chain.
func IsMissingPrompt(err error) bool {
	var me *MissingPromptError
	return errors.As(err, &me)
}

// AsEngineError coerces err into an *EngineError. Aborts pass through
// untouched; an existing EngineError in the chain is returned as-is; anything
// else is wrapped. This is the normalization applied at the runner boundary.
func AsEngineError(engineID string, err error) error {
	if err == nil {
		return nil
	}
	if IsAbort(err) || IsUserStop(err) {
		return err
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	return &EngineError{Engine: engineID, Message: err.Error(), Cause: err}
}

// Wrap annotates err with a message while preserving the chain.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}
