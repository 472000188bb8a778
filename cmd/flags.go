// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package cmd

import (
	"strings"

	"github.com/spf13/pflag"
)

// repeatedStringFlag is a pflag.Value that accumulates repeated
// occurrences of a flag, used for -t/--tag.
type repeatedStringFlag struct {
	v []string
}

func (f *repeatedStringFlag) Type() string { return "string" }

func (f *repeatedStringFlag) String() string { return strings.Join(f.v, ",") }

func (f *repeatedStringFlag) Set(s string) error {
	f.v = append(f.v, s)
	return nil
}

func addTagFlag(fs *pflag.FlagSet, tags *repeatedStringFlag) {
	fs.VarP(tags, "tag", "t", "tag(s) to try, left-most first. This flag can be repeated.")
}

func addTagFlagSingle(fs *pflag.FlagSet, tag *string) {
	fs.StringVarP(tag, "tag", "t", "", "tag to assign to the declared version")
}

func addDatabaseFlag(fs *pflag.FlagSet, path *string) {
	fs.StringVarP(path, "database", "Z", "", "colon-separated list of paths to extra backend databases")
}

func addNoUserFlag(fs *pflag.FlagSet, noUser *bool) {
	fs.BoolVarP(noUser, "nouser", "U", false, "disable the two user-scoped database backends")
}

func addNoSysFlag(fs *pflag.FlagSet, noSys *bool) {
	fs.BoolVarP(noSys, "nosys", "S", false, "disable the two environment-variable-driven database backends")
}

func addJustFlag(fs *pflag.FlagSet, just *bool) {
	fs.BoolVarP(just, "just", "j", false, "set up just this product, without dependencies")
}

func addFromPathFlag(fs *pflag.FlagSet, path *string) {
	fs.StringVarP(path, "from-path", "r", "", "activate directly from a table file path")
}

func addProductDirFlag(fs *pflag.FlagSet, path *string) {
	fs.StringVarP(path, "product-dir", "r", "", "path to the product's installed directory")
}

func addKeepFlag(fs *pflag.FlagSet, keep *bool) {
	fs.BoolVarP(keep, "keep", "k", false, "preserve any pre-existing *_DIR bindings")
}

func addInexactFlag(fs *pflag.FlagSet, inexact *bool) {
	fs.BoolVarP(inexact, "inexact", "E", false, "resolve dependencies by tag rather than recorded exact version")
}

func addShortFlag(fs *pflag.FlagSet, short *bool) {
	fs.BoolVarP(short, "short", "s", false, "short listing")
}

func addLongFlag(fs *pflag.FlagSet, long *bool) {
	fs.BoolVarP(long, "long", "l", false, "long listing")
}

func addOnlyTagsFlag(fs *pflag.FlagSet, onlyTags *bool) {
	fs.BoolVar(onlyTags, "onlyTags", false, "list only tags, one product per line")
}

func addOnlyVersFlag(fs *pflag.FlagSet, onlyVers *bool) {
	fs.BoolVar(onlyVers, "onlyVers", false, "list only versions, one product per line")
}

func addSourcesFlag(fs *pflag.FlagSet, sources *bool) {
	fs.BoolVar(sources, "sources", false, "list the configured backend sources instead of products")
}

func addSourceNameFlag(fs *pflag.FlagSet, source *string) {
	fs.StringVar(source, "source", "", "explicit target backend id for declare")
}

func addIdentFlag(fs *pflag.FlagSet, ident *string) {
	fs.StringVar(ident, "ident", "", "explicit identity token for declare")
}

func addRelativeFlag(fs *pflag.FlagSet, relative *bool) {
	fs.BoolVar(relative, "relative", false, "interpret the product directory as relative to the target backend's parent dir")
}
