// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package spineerr classifies every failure the coordinator can surface
// into one of six kinds, mirroring connectors/base.ConnectorError's wrap
// pattern (Error()/Unwrap() over a Cause).
package spineerr

import (
	"errors"
	"fmt"
)

// Kind is one of the six error classes the dispatcher distinguishes.
type Kind string

const (
	PolicyDenied   Kind = "PolicyDenied"
	NotAvailable   Kind = "NotAvailable"
	Timeout        Kind = "Timeout"
	ValidationErr  Kind = "ValidationError"
	StorageError   Kind = "StorageError"
	InternalError  Kind = "InternalError"
)

// SpineError is the structured error type threaded through Governance,
// Turnstile, Limb and Ledger calls.
type SpineError struct {
	Kind      Kind
	Component string
	Operation string
	Message   string
	Cause     error
}

func (e *SpineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s.%s: %s (cause: %s)", e.Component, e.Operation, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s.%s: %s", e.Component, e.Operation, e.Message)
}

func (e *SpineError) Unwrap() error {
	return e.Cause
}

// New builds a SpineError without a wrapped cause.
func New(kind Kind, component, operation, message string) *SpineError {
	return &SpineError{Kind: kind, Component: component, Operation: operation, Message: message}
}

// Wrap builds a SpineError around an existing error.
func Wrap(kind Kind, component, operation, message string, cause error) *SpineError {
	return &SpineError{Kind: kind, Component: component, Operation: operation, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *SpineError; otherwise returns InternalError as the conservative default.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *SpineError
	if errors.As(err, &se) {
		return se.Kind
	}
	return InternalError
}
