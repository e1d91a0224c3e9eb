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

package cmd

import (
	"fmt"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/rnaseq/load"
	"v.io/x/lib/cmdline"
)

func newCmdGroup() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "group",
		Short:    "Create a sample group, or list the groups",
		ArgsName: "[label]",
		Long: `
With a label, group creates a sample group and prints it. Without arguments,
it lists every group of the store as TSV.`,
	}
	flags := groupFlags{}
	flags.common.register(&cmd.Flags)
	cmd.Flags.BoolVar(&flags.control, "control", false, "The group is a control group")
	cmd.Flags.Int64Var(&flags.id, "id", 0, "Group id; 0 assigns the next free id")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) > 1 {
			return fmt.Errorf("group takes at most one label, but got %v", argv)
		}
		label := ""
		if len(argv) == 1 {
			label = argv[0]
		}
		return group(vcontext.Background(), env.Stdout, flags, label)
	})
	return cmd
}

func newCmdLoad() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "load",
		Short:    "Load alignment files into the store",
		ArgsName: "path...",
		Long: `
load ingests name-sorted BAM, SAM, or gzipped SAM files. Each file becomes one
sample and is loaded in its own transaction. Either -group names the group of
every file argument, or -manifest lists groups and files.`,
	}
	flags := loadFlags{}
	flags.common.register(&cmd.Flags)
	cmd.Flags.StringVar(&flags.group, "group", "", "Label or id of the group the files belong to")
	cmd.Flags.StringVar(&flags.manifest, "manifest", "", "TSV manifest with columns group, control, path")
	cmd.Flags.IntVar(&flags.readLength, "read-length", load.DefaultOpts.ReadLength, "Read length the transcript lengths of the alignment header are padded by")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		return loadFiles(vcontext.Background(), flags, argv)
	})
	return cmd
}

func newCmdSubproblems() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "subproblems",
		Short: "Print the independent subproblems of the store",
		Long: `
subproblems prints one line per subproblem, listing its transcript ids separated
by commas. With -check, it instead verifies that the given transcripts form a
complete subproblem.`,
	}
	flags := subproblemFlags{}
	flags.common.register(&cmd.Flags)
	cmd.Flags.StringVar(&flags.check, "check", "", "Comma-separated transcript ids to check for completeness")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 0 {
			return fmt.Errorf("subproblems takes no arguments, but got %v", argv)
		}
		return subproblems(vcontext.Background(), env.Stdout, flags)
	})
	return cmd
}

func newCmdInfer() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "infer",
		Short:    "Run inference for one subproblem and one pair of groups",
		ArgsName: "group1 group2 transcripts",
		Long: `
infer runs the sampler on the given comma-separated transcript ids, which must
form a complete subproblem, for two groups given by label or id. The draws are
stored under the pair's inference run, or written to -artifact-dir.`,
	}
	flags := inferCmdFlags{}
	flags.common.register(&cmd.Flags)
	flags.sampler.register(&cmd.Flags)
	flags.infer.register(&cmd.Flags)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 3 {
			return fmt.Errorf("infer takes group1 group2 transcripts, but got %v", argv)
		}
		return infer(vcontext.Background(), flags, argv[0], argv[1], argv[2])
	})
	return cmd
}

func newCmdMerge() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "merge",
		Short:    "Merge inference artifacts into the store",
		ArgsName: "artifact...",
	}
	flags := commonFlags{}
	flags.register(&cmd.Flags)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		return merge(vcontext.Background(), flags, argv)
	})
	return cmd
}

func newCmdRun() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "run",
		Short: "Load a manifest and run inference for every subproblem and group pair",
		Long: `
run registers the groups of -manifest, loads their files, and runs the sampler
for every subproblem and every group pair chosen by -policy. Unless
-artifact-dir is set, it then writes the posterior summaries as TSV.`,
	}
	flags := runFlags{}
	flags.common.register(&cmd.Flags)
	flags.sampler.register(&cmd.Flags)
	flags.infer.register(&cmd.Flags)
	cmd.Flags.StringVar(&flags.manifest, "manifest", "", "TSV manifest with columns group, control, path")
	cmd.Flags.IntVar(&flags.readLength, "read-length", load.DefaultOpts.ReadLength, "Read length the transcript lengths of the alignment header are padded by")
	cmd.Flags.StringVar(&flags.summary, "summary", "", "Summary output path; stdout if empty")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 0 {
			return fmt.Errorf("run takes no arguments, but got %v", argv)
		}
		return runJob(vcontext.Background(), env.Stdout, flags)
	})
	return cmd
}

func newCmdSummarize() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "summarize",
		Short: "Print posterior means and 95% intervals of every inference",
	}
	flags := summarizeFlags{}
	flags.common.register(&cmd.Flags)
	cmd.Flags.StringVar(&flags.out, "out", "", "Output path; stdout if empty")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 0 {
			return fmt.Errorf("summarize takes no arguments, but got %v", argv)
		}
		return summarize(vcontext.Background(), env.Stdout, flags)
	})
	return cmd
}

// Run is the entry point of bio-rnaseq.
func Run() {
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(
		&cmdline.Command{
			Name:     "bio-rnaseq",
			Short:    "Load RNA-seq alignments and run differential expression inference",
			LookPath: false,
			Children: []*cmdline.Command{
				newCmdGroup(),
				newCmdLoad(),
				newCmdSubproblems(),
				newCmdInfer(),
				newCmdMerge(),
				newCmdRun(),
				newCmdSummarize(),
			},
		})
}
