package commands

import (
	"context"
	"os"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"nexuslang/internal/container"
	"nexuslang/internal/vm"
)

// Exec deserializes a compiled artifact and executes it, skipping the
// whole front end.
func Exec(ctx context.Context, args []string, logger *zap.Logger) error {
	if len(args) != 1 {
		return usageError("usage: nexus exec <artifact" + ArtifactExt + ">")
	}
	path := args[0]

	data, err := os.ReadFile(path)
	if err != nil {
		return pkgerrors.Wrapf(err, "read %s", path)
	}

	unit, derr := container.Deserialize(data)
	if derr != nil {
		return derr
	}
	logger.Debug("artifact loaded",
		zap.String("path", path),
		zap.Int("code_bytes", len(unit.Code)),
		zap.Int("constants", len(unit.Constants)))

	rt, err := buildRuntime(ctx, logger)
	if err != nil {
		return err
	}
	defer rt.finish(ctx)

	machine := vm.New(append(rt.opts, vm.WithOutput(os.Stdout))...)
	return machine.Run(ctx, unit)
}
