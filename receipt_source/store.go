/***************************************************************
 *
 * Copyright (C) 2026, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package receipt_source

import "context"

// ObjectOutcome tags the result of a single object store call.  Missing
// objects are an expected outcome, not an error.
type ObjectOutcome int

const (
	ObjectFound ObjectOutcome = iota
	ObjectNotFound
	ObjectFailed
)

type (
	// ObjectResult is what the transport reports back for a HEAD or GET on one
	// key.  Body is only populated by Get; Err only when Outcome is
	// ObjectFailed.
	ObjectResult struct {
		Outcome   ObjectOutcome
		ETag      string
		VersionID string
		Body      []byte
		Err       error
	}

	// ObjectStore is the minimal key/value transport the adapter needs.
	ObjectStore interface {
		Head(ctx context.Context, key string) ObjectResult
		Get(ctx context.Context, key string) ObjectResult
	}
)

func (o ObjectOutcome) String() string {
	switch o {
	case ObjectFound:
		return "found"
	case ObjectNotFound:
		return "not_found"
	case ObjectFailed:
		return "failed"
	}
	return "unknown"
}

func found(etag, versionID string, body []byte) ObjectResult {
	return ObjectResult{Outcome: ObjectFound, ETag: etag, VersionID: versionID, Body: body}
}

func notFound() ObjectResult {
	return ObjectResult{Outcome: ObjectNotFound}
}

func failed(err error) ObjectResult {
	return ObjectResult{Outcome: ObjectFailed, Err: err}
}
