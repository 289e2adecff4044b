// Package context holds the state shared by the app and cli packages while a
// command runs: I/O, filesystem, configuration, and the open database driver.
package context

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/schemer/app/config"
	"go.hackfix.me/schemer/driver/types"
)

// Context contains common objects used by the application. It is passed around
// the application to avoid direct dependencies on external systems, and make
// testing easier.
type Context struct {
	Ctx     context.Context  // global context
	FS      vfs.FileSystem   // filesystem
	Env     Environment      // process environment
	Logger  *slog.Logger     // global logger
	TimeNow func() time.Time // current time
	Config  *config.Config

	// Driver is a connection to the target database. If it's nil, commands
	// open a connection based on the configuration.
	Driver types.Driver

	// Standard streams
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Metadata
	Version *VersionInfo
}

// Environment reads and writes process environment variables. Tests replace it
// to inject SCHEMER_* variables.
type Environment interface {
	Get(key string) string
	Set(key, val string) error
}
