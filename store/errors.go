// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import "fmt"

// DuplicateGroupError is returned by CreateGroup when the requested id or
// label is already taken.
type DuplicateGroupError struct {
	ID    int64
	Label string
}

func (e *DuplicateGroupError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("sample group %d already exists", e.ID)
	}
	return fmt.Sprintf("sample group labeled %q already exists", e.Label)
}

// DuplicateInferenceRunError is returned when results for a group pair would
// be written twice. Transcripts lists the transcripts that already have
// posterior rows, if any; it is empty when the inference row itself exists
// and a new one was required.
type DuplicateInferenceRunError struct {
	Group1, Group2 int64
	Inference      int64
	Transcripts    []int
}

func (e *DuplicateInferenceRunError) Error() string {
	if len(e.Transcripts) == 0 {
		return fmt.Sprintf("inference %d for groups (%d, %d) already exists",
			e.Inference, e.Group1, e.Group2)
	}
	return fmt.Sprintf("inference %d for groups (%d, %d) already has posteriors for transcripts %v",
		e.Inference, e.Group1, e.Group2, e.Transcripts)
}
