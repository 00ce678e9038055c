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

// Package cuil normalizes Argentine CUIL/CUIT identifiers.
//
// Every component keys its state on the digits-only form so that the
// dashed and plain spellings of the same identifier never diverge.
package cuil

import "strings"

// Length of a complete CUIL, in digits
const Length = 11

// Normalize strips everything but ASCII digits
func Normalize(value string) string {
	var sb strings.Builder
	sb.Grow(len(value))
	for _, r := range value {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Dashed formats an 11-digit CUIL as xx-xxxxxxxx-x.  Any other input is
// returned unchanged.
func Dashed(digits string) string {
	if len(digits) != Length {
		return digits
	}
	return digits[:2] + "-" + digits[2:10] + "-" + digits[10:]
}

// IsComplete reports whether the value normalizes to a full 11-digit CUIL.
func IsComplete(value string) bool {
	return len(Normalize(value)) == Length
}
