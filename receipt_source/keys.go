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

import (
	"fmt"
	"strings"

	"github.com/saedplatform/portal/cuil"
)

// CandidateKeys expands a key template into every object key a receipt for
// the period may be stored under.
//
// Supported tokens, matched case-insensitively:
//
//	{cuil}          digits-only or dashed CUIL, one key per variant
//	{cuil_digits}   always the digits-only CUIL
//	{period}        YYYYMM or YYYY-MM, one key per variant
//	{period_token}  same as {period}
//	{period_id}     always YYYY-MM
//	{period_folder} YYYYMM or YYYY-MM, one key per variant
//
// Keys are returned in a stable order (identity variant, then period token,
// then period folder) with case-insensitive duplicates removed.
func CandidateKeys(template, prefix, digits string, year, month int) []string {
	periodToken := fmt.Sprintf("%04d%02d", year, month)
	periodID := fmt.Sprintf("%04d-%02d", year, month)

	identities := dedupFold([]string{digits, cuil.Dashed(digits)})
	tokens := dedupFold([]string{periodToken, periodID})
	folders := tokens

	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")

	keys := make([]string, 0, len(identities)*len(tokens)*len(folders))
	for _, identity := range identities {
		for _, token := range tokens {
			for _, folder := range folders {
				rel := template
				rel = replaceFold(rel, "{cuil}", identity)
				rel = replaceFold(rel, "{cuil_digits}", digits)
				rel = replaceFold(rel, "{period}", token)
				rel = replaceFold(rel, "{period_token}", token)
				rel = replaceFold(rel, "{period_id}", periodID)
				rel = replaceFold(rel, "{period_folder}", folder)

				rel = strings.TrimLeft(rel, "/")
				key := rel
				if prefix != "" {
					key = prefix + "/" + rel
				}
				if strings.TrimSpace(key) != "" {
					keys = append(keys, key)
				}
			}
		}
	}
	return dedupFold(keys)
}

// replaceFold replaces every ASCII case-insensitive occurrence of token.
func replaceFold(s, token, value string) string {
	if token == "" || len(s) < len(token) {
		return s
	}
	var sb strings.Builder
	i := 0
	for i <= len(s)-len(token) {
		if strings.EqualFold(s[i:i+len(token)], token) {
			sb.WriteString(value)
			i += len(token)
			continue
		}
		sb.WriteByte(s[i])
		i++
	}
	sb.WriteString(s[i:])
	return sb.String()
}

func dedupFold(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		if strings.TrimSpace(value) == "" {
			continue
		}
		folded := strings.ToLower(value)
		if _, ok := seen[folded]; ok {
			continue
		}
		seen[folded] = struct{}{}
		result = append(result, value)
	}
	return result
}
