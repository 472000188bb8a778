// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package cmd

import (
	"github.com/natelust/reups/internal/config"
	"github.com/natelust/reups/internal/overlay"
	"github.com/sirupsen/logrus"
)

// buildDatabase assembles the overlay database for the current
// invocation from the global -Z/-U/-S flags.
func buildDatabase(log *logrus.Logger) (*overlay.Database, error) {
	settings := config.Settings{
		ExtraPaths: config.SplitPathList(globalFlags.database),
		NoUser:     globalFlags.noUser,
		NoSys:      globalFlags.noSys,
	}
	return overlay.NewBuilder(settings, log).Build()
}
