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

/*
bio-rnaseq loads RNA-seq alignments into a relational store, partitions the
transcript catalog into independent subproblems, and drives posterior
inference for pairs of sample groups.

A typical job:

  bio-rnaseq run -store=rnaseq.db -manifest=jobs.tsv -sampler=./sampler > summary.tsv

or, step by step:

  bio-rnaseq group -store=rnaseq.db -control wt
  bio-rnaseq group -store=rnaseq.db ko
  bio-rnaseq load -store=rnaseq.db -group=wt wt1.bam wt2.bam
  bio-rnaseq load -store=rnaseq.db -group=ko ko1.bam
  bio-rnaseq subproblems -store=rnaseq.db
  bio-rnaseq infer -store=rnaseq.db -sampler=./sampler wt ko 0,1,4
  bio-rnaseq summarize -store=rnaseq.db
*/
package main

import "github.com/grailbio/rnaseq/cmd/bio-rnaseq/cmd"

func main() {
	cmd.Run()
}
