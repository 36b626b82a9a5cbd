/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package conversationsummary

import (
	"context"
	"fmt"

	"kgqa_agent/internal/common"

	"github.com/pkoukk/tiktoken-go"
)

// defaultCounterToken counts each round's question and answer with the cl100k_base encoding.
func defaultCounterToken(ctx context.Context, rounds []common.Exchange) (tokenNum []int64, err error) {
	const encoding = "cl100k_base"
	tkt, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("get encoding failed, encoding=%v, err=%w", encoding, err)
	}

	tokenNum = make([]int64, len(rounds))
	for i, r := range rounds {
		text := r.Question + "\n" + r.Answer
		tokenNum[i] = int64(len(tkt.Encode(text, nil, nil)))
	}
	return tokenNum, nil
}
