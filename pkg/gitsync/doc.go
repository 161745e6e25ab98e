// Package gitsync synchronizes a dataset repository with its upstream for
// library users.
//
// Sync drives the git and git-lfs command line tools in a local working copy:
// clone the upstream when the working copy does not exist yet, register the
// upstream and target remotes, fetch and merge the upstream branch with an
// explicit conflict policy, commit the result when anything changed and
// force-push it to the target.
//
// The credential is checked before git is invoked for the first time: an empty
// or placeholder credential fails with a *ConfigurationError and leaves
// the working copy untouched. For http(s) targets the credential is embedded in
// the target URL; it never appears in errors or log output.
//
// Example usage:
//
//	import "github.com/datasetsync/hfsync/pkg/gitsync"
//
//	report, err := gitsync.Sync(ctx,
//	    "https://huggingface.co/datasets/org/data",
//	    "https://huggingface.co/datasets/alice/data",
//	    os.Getenv("HF_TOKEN"),
//	    "main",
//	    gitsync.WithDir("./data"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(report.After)
//
// Thread Safety: Sync may be called concurrently for different working
// directories. Calls sharing a working directory must not overlap.
package gitsync
